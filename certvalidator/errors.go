package certvalidator

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrEmptyCertificate    = errors.New("certificate is empty")
	ErrIssuerNameMismatch  = errors.New("issuer name does not match certificate issuer")
	ErrIssuerAlreadyLinked = errors.New("certificate is already linked to a different issuer")
	ErrIssuerNotFound      = errors.New("issuer certificate not found")
)

// IssuerLinkError occurs when a certificate cannot be linked to an issuer.
type IssuerLinkError struct {
	Subject string
	Issuer  string
	Err     error
}

func (e *IssuerLinkError) Error() string {
	return fmt.Sprintf("cannot link %q to issuer %q: %v", e.Subject, e.Issuer, e.Err)
}

func (e *IssuerLinkError) Unwrap() error {
	return e.Err
}
