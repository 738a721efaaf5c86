// Package revinfo resolves the revocation status of certificates against
// offline revocation evidence (CRLs and OCSP responses).
package revinfo

import (
	"fmt"
	"time"
)

// RevocationReason represents the reason for certificate revocation, using
// the RFC 5280 CRLReason codes.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

// String returns the string representation of a revocation reason.
func (r RevocationReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "cACompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Valid reports whether r is one of the defined reason codes.
func (r RevocationReason) Valid() bool {
	switch r {
	case ReasonUnspecified, ReasonKeyCompromise, ReasonCACompromise,
		ReasonAffiliationChanged, ReasonSuperseded, ReasonCessationOfOperation,
		ReasonCertificateHold, ReasonRemoveFromCRL, ReasonPrivilegeWithdrawn,
		ReasonAACompromise:
		return true
	}
	return false
}

// RevocationStatus represents the revocation status of a certificate.
type RevocationStatus int

const (
	StatusUnknown RevocationStatus = iota
	StatusGood
	StatusRevoked
)

// String returns the string representation of a revocation status.
func (s RevocationStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RevocationToken is the resolved revocation status of one certificate.
type RevocationToken struct {
	// CertificateID is the id of the certificate the status applies to
	CertificateID string
	// Status is revoked or good; unknown is never stored in a token
	Status RevocationStatus
	// RevocationDate is set when the certificate is revoked
	RevocationDate *time.Time
	// Reason is set when the certificate is revoked
	Reason *RevocationReason
	// Evidence is the CRL or OCSP response the status was derived from
	Evidence Evidence
	// Validity is the verdict on the evidence itself
	Validity Validity
	// ThisUpdate of the evidence entry used
	ThisUpdate time.Time
	// NextUpdate of the evidence entry used, if any
	NextUpdate *time.Time
	// ValidationTime is the time the status was resolved at
	ValidationTime time.Time
}

// Revoked reports whether the certificate is revoked.
func (t *RevocationToken) Revoked() bool {
	return t.Status == StatusRevoked
}

// IsValid checks whether at lies within [ThisUpdate, NextUpdate].
func (t *RevocationToken) IsValid(at time.Time) bool {
	if at.Before(t.ThisUpdate) {
		return false
	}
	if t.NextUpdate != nil && at.After(*t.NextUpdate) {
		return false
	}
	return true
}

// Fresh reports whether the evidence was current at ValidationTime.
func (t *RevocationToken) Fresh() bool {
	return t.IsValid(t.ValidationTime)
}

// EvidenceID returns the identifier of the source evidence.
func (t *RevocationToken) EvidenceID() string {
	if t.Evidence == nil {
		return ""
	}
	return t.Evidence.ID()
}

// Abbreviation returns a short label for reports: the issuer id of the
// evidence and its thisUpdate.
func (t *RevocationToken) Abbreviation() string {
	issuer := "?"
	if t.Validity.Issuer != nil {
		issuer = t.Validity.Issuer.ID()
	}
	return fmt.Sprintf("%s @ %s", issuer, t.ThisUpdate.UTC().Format(time.RFC3339))
}
