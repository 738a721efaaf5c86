// Package certvalidator provides certificate tokens and issuer linking used
// by revocation and chain validation.
package certvalidator

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// CertificateToken wraps a parsed X.509 certificate together with the link
// to its issuer. The issuer link is set at most once.
type CertificateToken struct {
	cert *x509.Certificate
	id   string

	mu     sync.RWMutex
	issuer *CertificateToken
}

// NewCertificateToken creates a token for cert.
func NewCertificateToken(cert *x509.Certificate) (*CertificateToken, error) {
	if cert == nil || len(cert.Raw) == 0 {
		return nil, ErrEmptyCertificate
	}
	sum := sha256.Sum256(cert.Raw)
	return &CertificateToken{
		cert: cert,
		id:   "C-" + strings.ToUpper(hex.EncodeToString(sum[:])),
	}, nil
}

// ParseCertificateToken parses DER bytes into a token.
func ParseCertificateToken(der []byte) (*CertificateToken, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return NewCertificateToken(cert)
}

// MustCertificateToken is like NewCertificateToken but panics on error.
// It is intended for tests and static fixtures.
func MustCertificateToken(cert *x509.Certificate) *CertificateToken {
	tok, err := NewCertificateToken(cert)
	if err != nil {
		panic(err)
	}
	return tok
}

// ID returns the token identifier, "C-" followed by the upper-case hex
// SHA-256 digest of the DER encoding.
func (t *CertificateToken) ID() string { return t.id }

// Certificate returns the wrapped certificate.
func (t *CertificateToken) Certificate() *x509.Certificate { return t.cert }

// Raw returns the DER encoding of the certificate.
func (t *CertificateToken) Raw() []byte { return t.cert.Raw }

// Subject returns the subject name.
func (t *CertificateToken) Subject() pkix.Name { return t.cert.Subject }

// RawSubject returns the DER encoded subject name.
func (t *CertificateToken) RawSubject() []byte { return t.cert.RawSubject }

// RawIssuer returns the DER encoded issuer name.
func (t *CertificateToken) RawIssuer() []byte { return t.cert.RawIssuer }

// SerialNumber returns the certificate serial number.
func (t *CertificateToken) SerialNumber() *big.Int { return t.cert.SerialNumber }

// NotBefore returns the start of the validity period.
func (t *CertificateToken) NotBefore() time.Time { return t.cert.NotBefore }

// NotAfter returns the end of the validity period.
func (t *CertificateToken) NotAfter() time.Time { return t.cert.NotAfter }

// PublicKey returns the subject public key.
func (t *CertificateToken) PublicKey() crypto.PublicKey { return t.cert.PublicKey }

// IsSelfIssued reports whether subject and issuer names are equal.
func (t *CertificateToken) IsSelfIssued() bool {
	return NamesEqualRaw(t.cert.RawSubject, t.cert.RawIssuer)
}

// Equal reports whether both tokens wrap the same encoded certificate.
func (t *CertificateToken) Equal(other *CertificateToken) bool {
	if t == nil || other == nil {
		return t == other
	}
	return bytes.Equal(t.cert.Raw, other.cert.Raw)
}

// Issuer returns the linked issuer token. The second return value is false
// while the issuer is unknown.
func (t *CertificateToken) Issuer() (*CertificateToken, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.issuer, t.issuer != nil
}

// LinkIssuer records issuer as the issuer of t. Linking the same issuer twice
// is a no-op; linking a different one fails with ErrIssuerAlreadyLinked.
// The issuer's name must match the certificate's issuer field.
func (t *CertificateToken) LinkIssuer(issuer *CertificateToken) error {
	if issuer == nil {
		return ErrEmptyCertificate
	}
	if !NamesEqualRaw(t.cert.RawIssuer, issuer.cert.RawSubject) {
		return &IssuerLinkError{
			Subject: t.cert.Subject.String(),
			Issuer:  issuer.cert.Subject.String(),
			Err:     ErrIssuerNameMismatch,
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.issuer != nil {
		if t.issuer.Equal(issuer) {
			return nil
		}
		return &IssuerLinkError{
			Subject: t.cert.Subject.String(),
			Issuer:  issuer.cert.Subject.String(),
			Err:     ErrIssuerAlreadyLinked,
		}
	}
	t.issuer = issuer
	return nil
}

// IsSignedBy reports whether the certificate signature verifies with the
// public key of candidate.
func (t *CertificateToken) IsSignedBy(candidate *CertificateToken) bool {
	if candidate == nil {
		return false
	}
	return candidate.cert.CheckSignature(t.cert.SignatureAlgorithm, t.cert.RawTBSCertificate, t.cert.Signature) == nil
}

// String returns a short human readable description.
func (t *CertificateToken) String() string {
	return fmt.Sprintf("%s (serial %s)", t.cert.Subject.String(), t.cert.SerialNumber.String())
}
