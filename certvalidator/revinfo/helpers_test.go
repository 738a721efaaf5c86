package revinfo

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/goades/certvalidator"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	tok  *certvalidator.CertificateToken
}

func generateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// newTestCA creates a self-signed CA with the given key usage.
func newTestCA(t *testing.T, cn string, usage x509.KeyUsage) *testCA {
	t.Helper()

	key := generateKey(t)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test Org"}, CommonName: cn},
		NotBefore:             baseTime.Add(-365 * 24 * time.Hour),
		NotAfter:              baseTime.Add(365 * 24 * time.Hour),
		KeyUsage:              usage,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	tok := certvalidator.MustCertificateToken(cert)
	require.NoError(t, tok.LinkIssuer(tok))
	return &testCA{cert: cert, key: key, tok: tok}
}

func newDefaultCA(t *testing.T, cn string) *testCA {
	return newTestCA(t, cn, x509.KeyUsageCertSign|x509.KeyUsageCRLSign|x509.KeyUsageDigitalSignature)
}

// issue creates a certificate with the given serial, linked to the CA.
func (ca *testCA) issue(t *testing.T, serial int64) *certvalidator.CertificateToken {
	t.Helper()
	tok := ca.issueUnlinked(t, serial, nil)
	require.NoError(t, tok.LinkIssuer(ca.tok))
	return tok
}

func (ca *testCA) issueUnlinked(t *testing.T, serial int64, modify func(*x509.Certificate)) *certvalidator.CertificateToken {
	t.Helper()

	key := generateKey(t)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{Organization: []string{"Test Org"}, CommonName: "Leaf " + big.NewInt(serial).String()},
		NotBefore:    baseTime.Add(-30 * 24 * time.Hour),
		NotAfter:     baseTime.Add(30 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	if modify != nil {
		modify(template)
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return certvalidator.MustCertificateToken(cert)
}

// responder issues a delegated OCSP responder certificate.
func (ca *testCA) responder(t *testing.T, withEKU bool) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key := generateKey(t)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1000),
		Subject:      pkix.Name{Organization: []string{"Test Org"}, CommonName: "OCSP Responder"},
		NotBefore:    baseTime.Add(-30 * 24 * time.Hour),
		NotAfter:     baseTime.Add(30 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	if withEKU {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

type crlOptions struct {
	number  int64
	entries []x509.RevocationListEntry
	exts    []pkix.Extension
	// signAs overrides the issuer certificate template, e.g. to sign with a
	// certificate lacking cRLSign
	signAs *x509.Certificate
}

func revoked(serial int64, at time.Time, reason RevocationReason) x509.RevocationListEntry {
	return x509.RevocationListEntry{
		SerialNumber:   big.NewInt(serial),
		RevocationTime: at,
		ReasonCode:     int(reason),
	}
}

// crl issues a CRL with the given thisUpdate.
func (ca *testCA) crl(t *testing.T, thisUpdate time.Time, entries ...x509.RevocationListEntry) *CRLEvidence {
	t.Helper()
	return ca.crlWith(t, thisUpdate, crlOptions{entries: entries})
}

func (ca *testCA) crlWith(t *testing.T, thisUpdate time.Time, opts crlOptions) *CRLEvidence {
	t.Helper()

	number := opts.number
	if number == 0 {
		number = thisUpdate.Unix()
	}
	template := &x509.RevocationList{
		Number:                    big.NewInt(number),
		ThisUpdate:                thisUpdate,
		NextUpdate:                thisUpdate.Add(24 * time.Hour),
		RevokedCertificateEntries: opts.entries,
		ExtraExtensions:           opts.exts,
	}

	issuer := ca.cert
	if opts.signAs != nil {
		issuer = opts.signAs
	} else if ca.cert.KeyUsage&x509.KeyUsageCRLSign == 0 {
		relaxed := *ca.cert
		relaxed.KeyUsage |= x509.KeyUsageCRLSign
		issuer = &relaxed
	}

	der, err := x509.CreateRevocationList(rand.Reader, template, issuer, ca.key)
	require.NoError(t, err)
	ev, err := ParseCRL(der)
	require.NoError(t, err)
	return ev
}

// tamper returns a copy of der with the last signature byte flipped.
func tamper(der []byte) []byte {
	out := append([]byte(nil), der...)
	out[len(out)-1] ^= 0xff
	return out
}

type ocspOptions struct {
	status     int
	revokedAt  time.Time
	reason     RevocationReason
	hash       crypto.Hash
	responder  *x509.Certificate
	signerKey  crypto.Signer
	embedCerts bool
}

// ocspResponse creates a single-response OCSP response for leaf.
func (ca *testCA) ocspResponse(t *testing.T, leaf *certvalidator.CertificateToken, thisUpdate time.Time, opts ocspOptions) *OCSPEvidence {
	t.Helper()

	template := ocsp.Response{
		Status:           opts.status,
		SerialNumber:     leaf.SerialNumber(),
		ThisUpdate:       thisUpdate,
		NextUpdate:       thisUpdate.Add(24 * time.Hour),
		RevokedAt:        opts.revokedAt,
		RevocationReason: int(opts.reason),
		IssuerHash:       opts.hash,
	}
	responder := ca.cert
	var key crypto.Signer = ca.key
	if opts.responder != nil {
		responder = opts.responder
		key = opts.signerKey
		if opts.embedCerts {
			template.Certificate = opts.responder
		}
	}

	der, err := ocsp.CreateResponse(ca.cert, responder, template, key)
	require.NoError(t, err)
	ev, err := ParseOCSPResponse(der)
	require.NoError(t, err)
	return ev
}

type testSingle struct {
	serial     int64
	good       bool
	unknown    bool
	revokedAt  time.Time
	reason     RevocationReason
	thisUpdate time.Time
}

// multiResponse builds a basic OCSP response signed by the CA holding one
// single response per entry.
func (ca *testCA) multiResponse(t *testing.T, singles ...testSingle) *OCSPEvidence {
	t.Helper()

	var spki subjectPublicKeyInfo
	_, err := asn1.Unmarshal(ca.cert.RawSubjectPublicKeyInfo, &spki)
	require.NoError(t, err)
	nameHash := sha256.Sum256(ca.cert.RawSubject)
	keyHash := sha256.Sum256(spki.PublicKey.RightAlign())

	var responses []singleResponse
	for _, s := range singles {
		r := singleResponse{
			CertID: certID{
				HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: hashOIDs[crypto.SHA256], Parameters: asn1.NullRawValue},
				NameHash:      nameHash[:],
				IssuerKeyHash: keyHash[:],
				SerialNumber:  big.NewInt(s.serial),
			},
			ThisUpdate: s.thisUpdate,
			NextUpdate: s.thisUpdate.Add(24 * time.Hour),
		}
		switch {
		case s.good:
			r.Good = true
		case s.unknown:
			r.Unknown = true
		default:
			r.Revoked = revokedInfo{RevocationTime: s.revokedAt, Reason: asn1.Enumerated(s.reason)}
		}
		responses = append(responses, r)
	}

	tbs, err := asn1.Marshal(responseData{
		RawResponderID: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: ca.cert.RawSubject},
		ProducedAt:     baseTime,
		Responses:      responses,
	})
	require.NoError(t, err)

	digest := sha256.Sum256(tbs)
	sig, err := ecdsa.SignASN1(rand.Reader, ca.key, digest[:])
	require.NoError(t, err)

	basic, err := asn1.Marshal(struct {
		TBSResponseData    asn1.RawValue
		SignatureAlgorithm pkix.AlgorithmIdentifier
		Signature          asn1.BitString
	}{
		TBSResponseData:    asn1.RawValue{FullBytes: tbs},
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}},
		Signature:          asn1.BitString{Bytes: sig, BitLength: len(sig) * 8},
	})
	require.NoError(t, err)

	der, err := asn1.Marshal(ocspResponseASN1{
		Status:   0,
		Response: responseBytes{ResponseType: oidOCSPBasic, Response: basic},
	})
	require.NoError(t, err)

	ev, err := ParseOCSPResponse(der)
	require.NoError(t, err)
	return ev
}
