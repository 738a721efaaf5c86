package revinfo

import (
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/georgepadayatti/goades/certvalidator"
)

// Validity is the verdict on a piece of revocation evidence: whether it was
// signed by the candidate issuer and whether that issuer may sign it.
type Validity struct {
	// Valid is SignatureIntact && KeyUsageOK
	Valid bool
	// Issuer is the certificate the evidence was checked against
	Issuer *certvalidator.CertificateToken
	// SignatureIntact reports a successful signature verification
	SignatureIntact bool
	// KeyUsageOK reports that the issuer is allowed to sign the evidence
	KeyUsageOK bool
	// InvalidityReason is empty when Valid is true
	InvalidityReason string
}

func (v Validity) String() string {
	if v.Valid {
		return "valid"
	}
	if v.SignatureIntact {
		return "signature intact, not valid: " + v.InvalidityReason
	}
	return "not valid: " + v.InvalidityReason
}

func invalid(issuer *certvalidator.CertificateToken, err error) Validity {
	return Validity{Issuer: issuer, InvalidityReason: err.Error()}
}

// CheckCRLValidity verifies the signature of crl with the key of issuer and
// checks that issuer carries the cRLSign key usage. Failures are reported in
// the returned verdict, never as errors or panics.
func CheckCRLValidity(crl *CRLEvidence, issuer *certvalidator.CertificateToken) (v Validity) {
	if issuer == nil {
		return Validity{InvalidityReason: certvalidator.ErrIssuerNotFound.Error()}
	}
	defer func() {
		if r := recover(); r != nil {
			v = invalid(issuer, fmt.Errorf("%w: %v", ErrInvalidSignature, r))
		}
	}()

	v.Issuer = issuer
	cert := issuer.Certificate()
	list := crl.RevocationList()

	var reasons []error
	if !certvalidator.NamesEqualRaw(list.RawIssuer, cert.RawSubject) {
		reasons = append(reasons, ErrIssuerMismatch)
	}
	if err := cert.CheckSignature(list.SignatureAlgorithm, list.RawTBSRevocationList, list.Signature); err != nil {
		reasons = append(reasons, fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	} else {
		v.SignatureIntact = true
	}
	switch {
	case cert.KeyUsage&x509.KeyUsageCRLSign != 0:
		v.KeyUsageOK = true
	case cert.KeyUsage == 0 && cert.BasicConstraintsValid && cert.IsCA:
		// legacy CA without a KeyUsage extension
		v.KeyUsageOK = true
	default:
		reasons = append(reasons, fmt.Errorf("%w: cRLSign missing", ErrKeyUsage))
	}

	v.Valid = len(reasons) == 0
	if !v.Valid {
		v.InvalidityReason = joinReasons(reasons)
	}
	return v
}

// CheckOCSPValidity verifies resp against signer. The signer is either the
// certificate issuer ca itself or a delegated responder issued by ca and
// carrying id-kp-OCSPSigning. Failures are reported in the returned
// verdict, never as errors or panics.
func CheckOCSPValidity(resp *OCSPEvidence, ca, signer *certvalidator.CertificateToken) (v Validity) {
	if signer == nil || ca == nil {
		return Validity{Issuer: signer, InvalidityReason: certvalidator.ErrIssuerNotFound.Error()}
	}
	defer func() {
		if r := recover(); r != nil {
			v = invalid(signer, fmt.Errorf("%w: %v", ErrInvalidSignature, r))
		}
	}()

	v.Issuer = signer
	cert := signer.Certificate()

	var reasons []error
	if err := resp.checkSignature(cert); err != nil {
		reasons = append(reasons, err)
	} else {
		v.SignatureIntact = true
	}

	usageOK := true
	if cert.KeyUsage != 0 && cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		usageOK = false
		reasons = append(reasons, fmt.Errorf("%w: digitalSignature missing", ErrKeyUsage))
	}
	if !signer.Equal(ca) {
		if !hasOCSPSigning(cert) {
			usageOK = false
			reasons = append(reasons, fmt.Errorf("%w: id-kp-OCSPSigning missing", ErrNotAuthorized))
		}
		if !signer.IsSignedBy(ca) {
			usageOK = false
			reasons = append(reasons, fmt.Errorf("%w: responder certificate not issued by %s", ErrNotAuthorized, ca.Subject().String()))
		}
	}
	v.KeyUsageOK = usageOK

	v.Valid = len(reasons) == 0
	if !v.Valid {
		v.InvalidityReason = joinReasons(reasons)
	}
	return v
}

func hasOCSPSigning(cert *x509.Certificate) bool {
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageOCSPSigning {
			return true
		}
	}
	return false
}

func joinReasons(reasons []error) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = r.Error()
	}
	return strings.Join(parts, "; ")
}
