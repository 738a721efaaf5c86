package revinfo

import (
	"bytes"
	"crypto"
	_ "crypto/sha1" // registers SHA-1 for CertID hashing
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/goades/certvalidator"
)

var oidOCSPBasic = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 1}

// ASN.1 structures of RFC 6960. They follow the layout used by
// golang.org/x/crypto/ocsp, which only exposes the first single response.

type ocspResponseASN1 struct {
	Status   asn1.Enumerated
	Response responseBytes `asn1:"explicit,tag:0,optional"`
}

type responseBytes struct {
	ResponseType asn1.ObjectIdentifier
	Response     []byte
}

type basicResponse struct {
	TBSResponseData    responseData
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
	Certificates       []asn1.RawValue `asn1:"explicit,tag:0,optional"`
}

type responseData struct {
	Raw            asn1.RawContent
	Version        int `asn1:"optional,default:0,explicit,tag:0"`
	RawResponderID asn1.RawValue
	ProducedAt     time.Time `asn1:"generalized"`
	Responses      []singleResponse
}

type singleResponse struct {
	CertID           certID
	Good             asn1.Flag        `asn1:"tag:0,optional"`
	Revoked          revokedInfo      `asn1:"tag:1,optional"`
	Unknown          asn1.Flag        `asn1:"tag:2,optional"`
	ThisUpdate       time.Time        `asn1:"generalized"`
	NextUpdate       time.Time        `asn1:"generalized,explicit,tag:0,optional"`
	SingleExtensions []pkix.Extension `asn1:"explicit,tag:1,optional"`
}

type revokedInfo struct {
	RevocationTime time.Time       `asn1:"generalized"`
	Reason         asn1.Enumerated `asn1:"explicit,tag:0,optional"`
}

type certID struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	NameHash      []byte
	IssuerKeyHash []byte
	SerialNumber  *big.Int
}

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   {1, 3, 14, 3, 2, 26},
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

func hashFromOID(oid asn1.ObjectIdentifier) crypto.Hash {
	for h, o := range hashOIDs {
		if o.Equal(oid) {
			return h
		}
	}
	return 0
}

var signatureAlgorithmOIDs = []struct {
	oid  asn1.ObjectIdentifier
	algo x509.SignatureAlgorithm
}{
	{asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}, x509.SHA1WithRSA},
	{asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}, x509.SHA256WithRSA},
	{asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}, x509.SHA384WithRSA},
	{asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}, x509.SHA512WithRSA},
	{asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}, x509.ECDSAWithSHA1},
	{asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}, x509.ECDSAWithSHA256},
	{asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}, x509.ECDSAWithSHA384},
	{asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}, x509.ECDSAWithSHA512},
	{asn1.ObjectIdentifier{1, 3, 101, 112}, x509.PureEd25519},
}

func signatureAlgorithmFromOID(oid asn1.ObjectIdentifier) x509.SignatureAlgorithm {
	for _, entry := range signatureAlgorithmOIDs {
		if entry.oid.Equal(oid) {
			return entry.algo
		}
	}
	return x509.UnknownSignatureAlgorithm
}

// CertID identifies the certificate a single OCSP response is about.
type CertID struct {
	HashAlgorithm  crypto.Hash
	IssuerNameHash []byte
	IssuerKeyHash  []byte
	SerialNumber   *big.Int
}

// NewCertID computes the CertID of cert issued by issuer with hash h.
func NewCertID(cert, issuer *x509.Certificate, h crypto.Hash) (CertID, error) {
	if _, ok := hashOIDs[h]; !ok || !h.Available() {
		return CertID{}, fmt.Errorf("%w: hash %v", ErrUnsupportedAlgo, h)
	}
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(issuer.RawSubjectPublicKeyInfo, &spki); err != nil {
		return CertID{}, fmt.Errorf("failed to parse issuer public key: %w", err)
	}

	nameHash := h.New()
	nameHash.Write(issuer.RawSubject)
	keyHash := h.New()
	keyHash.Write(spki.PublicKey.RightAlign())

	return CertID{
		HashAlgorithm:  h,
		IssuerNameHash: nameHash.Sum(nil),
		IssuerKeyHash:  keyHash.Sum(nil),
		SerialNumber:   cert.SerialNumber,
	}, nil
}

// Equal reports whether both ids use the same hash and carry the same values.
func (id CertID) Equal(other CertID) bool {
	return id.HashAlgorithm == other.HashAlgorithm &&
		bytes.Equal(id.IssuerNameHash, other.IssuerNameHash) &&
		bytes.Equal(id.IssuerKeyHash, other.IssuerKeyHash) &&
		id.SerialNumber != nil && other.SerialNumber != nil &&
		id.SerialNumber.Cmp(other.SerialNumber) == 0
}

// SingleResponse is one entry of a basic OCSP response.
type SingleResponse struct {
	CertID CertID
	// CertStatus is ocsp.Good, ocsp.Revoked or ocsp.Unknown
	CertStatus     int
	ThisUpdate     time.Time
	NextUpdate     *time.Time
	RevokedAt      time.Time
	RevocationCode RevocationReason
}

// Status maps the OCSP cert status onto RevocationStatus.
func (r SingleResponse) Status() RevocationStatus {
	switch r.CertStatus {
	case ocsp.Good:
		return StatusGood
	case ocsp.Revoked:
		return StatusRevoked
	default:
		return StatusUnknown
	}
}

// OCSPEvidence is a parsed basic OCSP response.
type OCSPEvidence struct {
	id  string
	raw []byte

	producedAt       time.Time
	rawResponderName []byte
	responderKeyHash []byte

	tbs       []byte
	sigAlgo   x509.SignatureAlgorithm
	signature []byte

	certificates []*x509.Certificate
	responses    []SingleResponse
}

// ParseOCSPResponse parses a DER or PEM encoded OCSPResponse. A bare
// BasicOCSPResponse, as embedded in CAdES revocation values, is accepted as
// well.
func ParseOCSPResponse(data []byte) (*OCSPEvidence, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}

	var resp ocspResponseASN1
	rest, err := asn1.Unmarshal(der, &resp)
	if err == nil && len(rest) == 0 && resp.Response.ResponseType != nil {
		if status := ocsp.ResponseStatus(resp.Status); status != ocsp.Success {
			return nil, ocsp.ResponseError{Status: status}
		}
		if !resp.Response.ResponseType.Equal(oidOCSPBasic) {
			return nil, fmt.Errorf("%w: unsupported OCSP response type %v", ErrMalformedEvidence, resp.Response.ResponseType)
		}
		return parseBasicResponse(der, resp.Response.Response)
	}
	if err == nil && len(rest) == 0 && ocsp.ResponseStatus(resp.Status) != ocsp.Success {
		return nil, ocsp.ResponseError{Status: ocsp.ResponseStatus(resp.Status)}
	}

	return parseBasicResponse(der, der)
}

func parseBasicResponse(raw, basicDER []byte) (*OCSPEvidence, error) {
	var basic basicResponse
	rest, err := asn1.Unmarshal(basicDER, &basic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvidence, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data in OCSP response", ErrMalformedEvidence)
	}
	if len(basic.TBSResponseData.Responses) == 0 {
		return nil, fmt.Errorf("%w: OCSP response contains no single responses", ErrMalformedEvidence)
	}

	ev := &OCSPEvidence{
		id:         evidenceID(raw),
		raw:        raw,
		producedAt: basic.TBSResponseData.ProducedAt,
		tbs:        basic.TBSResponseData.Raw,
		sigAlgo:    signatureAlgorithmFromOID(basic.SignatureAlgorithm.Algorithm),
		signature:  basic.Signature.RightAlign(),
	}

	responderID := basic.TBSResponseData.RawResponderID
	switch responderID.Tag {
	case 1:
		ev.rawResponderName = responderID.Bytes
	case 2:
		if _, err := asn1.Unmarshal(responderID.Bytes, &ev.responderKeyHash); err != nil {
			return nil, fmt.Errorf("%w: invalid responder key hash", ErrMalformedEvidence)
		}
	default:
		return nil, fmt.Errorf("%w: invalid responder id", ErrMalformedEvidence)
	}

	for _, rawCert := range basic.Certificates {
		cert, err := x509.ParseCertificate(rawCert.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: embedded certificate: %v", ErrMalformedEvidence, err)
		}
		ev.certificates = append(ev.certificates, cert)
	}

	for _, single := range basic.TBSResponseData.Responses {
		r := SingleResponse{
			CertID: CertID{
				HashAlgorithm:  hashFromOID(single.CertID.HashAlgorithm.Algorithm),
				IssuerNameHash: single.CertID.NameHash,
				IssuerKeyHash:  single.CertID.IssuerKeyHash,
				SerialNumber:   single.CertID.SerialNumber,
			},
			ThisUpdate: single.ThisUpdate,
		}
		if !single.NextUpdate.IsZero() {
			next := single.NextUpdate
			r.NextUpdate = &next
		}
		switch {
		case bool(single.Good):
			r.CertStatus = ocsp.Good
		case bool(single.Unknown):
			r.CertStatus = ocsp.Unknown
		default:
			r.CertStatus = ocsp.Revoked
			r.RevokedAt = single.Revoked.RevocationTime
			r.RevocationCode = RevocationReason(single.Revoked.Reason)
		}
		ev.responses = append(ev.responses, r)
	}
	return ev, nil
}

func (o *OCSPEvidence) sealed() {}

// ID returns the evidence identifier.
func (o *OCSPEvidence) ID() string { return o.id }

// Kind returns KindOCSP.
func (o *OCSPEvidence) Kind() Kind { return KindOCSP }

// Raw returns the encoding the evidence was parsed from.
func (o *OCSPEvidence) Raw() []byte { return o.raw }

// ThisUpdate returns the latest thisUpdate among the single responses.
func (o *OCSPEvidence) ThisUpdate() time.Time {
	return o.latest().ThisUpdate
}

// NextUpdate returns the nextUpdate of the latest single response.
func (o *OCSPEvidence) NextUpdate() *time.Time {
	return o.latest().NextUpdate
}

func (o *OCSPEvidence) latest() SingleResponse {
	best := o.responses[0]
	for _, r := range o.responses[1:] {
		if r.ThisUpdate.After(best.ThisUpdate) {
			best = r
		}
	}
	return best
}

// ProducedAt returns the producedAt time of the response.
func (o *OCSPEvidence) ProducedAt() time.Time { return o.producedAt }

// Responses returns all single responses in encoding order.
func (o *OCSPEvidence) Responses() []SingleResponse {
	out := make([]SingleResponse, len(o.responses))
	copy(out, o.responses)
	return out
}

// Certificates returns the certificates embedded in the response.
func (o *OCSPEvidence) Certificates() []*x509.Certificate { return o.certificates }

// RawResponderName returns the responder name when the responder is
// identified by name.
func (o *OCSPEvidence) RawResponderName() []byte { return o.rawResponderName }

// ResponderKeyHash returns the responder key hash when the responder is
// identified by key.
func (o *OCSPEvidence) ResponderKeyHash() []byte { return o.responderKeyHash }

// SignatureAlgorithm returns the algorithm the response is signed with.
func (o *OCSPEvidence) SignatureAlgorithm() x509.SignatureAlgorithm { return o.sigAlgo }

// HashAlgorithms returns the distinct CertID hash algorithms used by the
// single responses.
func (o *OCSPEvidence) HashAlgorithms() []crypto.Hash {
	var hashes []crypto.Hash
	seen := make(map[crypto.Hash]bool)
	for _, r := range o.responses {
		if r.CertID.HashAlgorithm != 0 && !seen[r.CertID.HashAlgorithm] {
			seen[r.CertID.HashAlgorithm] = true
			hashes = append(hashes, r.CertID.HashAlgorithm)
		}
	}
	return hashes
}

// Match returns the single response with the latest thisUpdate whose CertID
// matches one of ids. Entries with unknown status are skipped. Ties keep the
// first encountered response.
func (o *OCSPEvidence) Match(ids ...CertID) (SingleResponse, bool) {
	var best SingleResponse
	found := false
	for _, r := range o.responses {
		if r.Status() == StatusUnknown {
			continue
		}
		for _, id := range ids {
			if !r.CertID.Equal(id) {
				continue
			}
			if !found || r.ThisUpdate.After(best.ThisUpdate) {
				best = r
				found = true
			}
			break
		}
	}
	return best, found
}

// matchesUnknown reports whether an entry with unknown status matches one
// of ids.
func (o *OCSPEvidence) matchesUnknown(ids ...CertID) bool {
	for _, r := range o.responses {
		if r.Status() != StatusUnknown {
			continue
		}
		for _, id := range ids {
			if r.CertID.Equal(id) {
				return true
			}
		}
	}
	return false
}

// IdentifiesResponder reports whether the responder id of the response
// designates cert.
func (o *OCSPEvidence) IdentifiesResponder(cert *x509.Certificate) bool {
	if o.rawResponderName != nil {
		return certvalidator.NamesEqualRaw(o.rawResponderName, cert.RawSubject)
	}
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return false
	}
	h := crypto.SHA1.New()
	h.Write(spki.PublicKey.RightAlign())
	return bytes.Equal(h.Sum(nil), o.responderKeyHash)
}

// checkSignature verifies the response signature with the key of signer.
func (o *OCSPEvidence) checkSignature(signer *x509.Certificate) error {
	if o.sigAlgo == x509.UnknownSignatureAlgorithm {
		return ErrUnsupportedAlgo
	}
	if err := signer.CheckSignature(o.sigAlgo, o.tbs, o.signature); err != nil {
		var insecure x509.InsecureAlgorithmError
		if errors.As(err, &insecure) {
			return fmt.Errorf("%w: %v", ErrUnsupportedAlgo, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
