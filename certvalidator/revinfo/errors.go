package revinfo

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrIssuerUnknown     = errors.New("cannot validate revocation of certificate whose issuer is unknown")
	ErrIssuerMismatch    = errors.New("issuer mismatch")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrKeyUsage          = errors.New("issuer key usage does not allow signing revocation data")
	ErrNotAuthorized     = errors.New("responder is not authorized by the certificate issuer")
	ErrUnsupportedAlgo   = errors.New("unsupported signature algorithm")
	ErrMalformedEvidence = errors.New("malformed revocation data")
)

// ConfigurationError reports a caller contract violation, such as asking for
// the revocation status of a certificate whose issuer has not been resolved.
type ConfigurationError struct {
	CertificateID string
	Err           error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %v", e.CertificateID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// EvidenceAttributionError occurs when revocation evidence cannot be
// attributed to the issuer of the certificate being checked.
type EvidenceAttributionError struct {
	EvidenceID     string
	EvidenceIssuer string
	CertIssuer     string
}

func (e *EvidenceAttributionError) Error() string {
	return fmt.Sprintf("evidence %s issued by %q cannot be attributed to %q", e.EvidenceID, e.EvidenceIssuer, e.CertIssuer)
}

func (e *EvidenceAttributionError) Unwrap() error {
	return ErrIssuerMismatch
}
