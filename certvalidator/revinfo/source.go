package revinfo

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// OIDRevocationInfoArchival is the Adobe adbe-revocationInfoArchival signed
// attribute used by PAdES-style signatures.
var OIDRevocationInfoArchival = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}

// EvidenceSet collects the certificates, CRLs and OCSP responses available
// to a validation run. Items are deduplicated by encoding and kept in the
// order they were first added.
type EvidenceSet struct {
	certs []*x509.Certificate
	crls  []*CRLEvidence
	ocsps []*OCSPEvidence
	seen  map[string]bool
}

// NewEvidenceSet creates an empty set.
func NewEvidenceSet() *EvidenceSet {
	return &EvidenceSet{seen: make(map[string]bool)}
}

// AddCertificate adds a certificate.
func (s *EvidenceSet) AddCertificate(cert *x509.Certificate) {
	key := "C:" + string(cert.Raw)
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.certs = append(s.certs, cert)
}

// AddCRL adds a parsed CRL.
func (s *EvidenceSet) AddCRL(crl *CRLEvidence) {
	if s.seen[crl.ID()] {
		return
	}
	s.seen[crl.ID()] = true
	s.crls = append(s.crls, crl)
}

// AddOCSP adds a parsed OCSP response.
func (s *EvidenceSet) AddOCSP(resp *OCSPEvidence) {
	if s.seen[resp.ID()] {
		return
	}
	s.seen[resp.ID()] = true
	s.ocsps = append(s.ocsps, resp)
}

// Add adds evidence of either kind.
func (s *EvidenceSet) Add(ev Evidence) {
	switch e := ev.(type) {
	case *CRLEvidence:
		s.AddCRL(e)
	case *OCSPEvidence:
		s.AddOCSP(e)
	}
}

// AddRawCRL parses and adds a DER or PEM encoded CRL.
func (s *EvidenceSet) AddRawCRL(data []byte) error {
	crl, err := ParseCRL(data)
	if err != nil {
		return err
	}
	s.AddCRL(crl)
	return nil
}

// AddRawOCSP parses and adds a DER or PEM encoded OCSP response.
func (s *EvidenceSet) AddRawOCSP(data []byte) error {
	resp, err := ParseOCSPResponse(data)
	if err != nil {
		return err
	}
	s.AddOCSP(resp)
	return nil
}

// Merge adds everything in other to s.
func (s *EvidenceSet) Merge(other *EvidenceSet) {
	for _, cert := range other.certs {
		s.AddCertificate(cert)
	}
	for _, crl := range other.crls {
		s.AddCRL(crl)
	}
	for _, resp := range other.ocsps {
		s.AddOCSP(resp)
	}
}

// Certificates returns the certificates in insertion order.
func (s *EvidenceSet) Certificates() []*x509.Certificate { return append([]*x509.Certificate(nil), s.certs...) }

// CRLs returns the CRLs in insertion order.
func (s *EvidenceSet) CRLs() []*CRLEvidence { return append([]*CRLEvidence(nil), s.crls...) }

// OCSPResponses returns the OCSP responses in insertion order.
func (s *EvidenceSet) OCSPResponses() []*OCSPEvidence { return append([]*OCSPEvidence(nil), s.ocsps...) }

// Len returns the number of CRLs and OCSP responses.
func (s *EvidenceSet) Len() int { return len(s.crls) + len(s.ocsps) }

// RevocationInfoArchival is the value of the adbe-revocationInfoArchival
// attribute.
type RevocationInfoArchival struct {
	CRL   []asn1.RawValue `asn1:"tag:0,optional,explicit"`
	OCSP  []asn1.RawValue `asn1:"tag:1,optional,explicit"`
	Other []asn1.RawValue `asn1:"tag:2,optional,explicit"`
}

// ParseRevocationInfoArchival decodes an adbe-revocationInfoArchival value
// into a set. Entries that fail to parse are skipped and reported in the
// returned error, joined; the set contains everything that did parse.
func ParseRevocationInfoArchival(der []byte) (*EvidenceSet, error) {
	var archival RevocationInfoArchival
	if _, err := asn1.Unmarshal(der, &archival); err != nil {
		return nil, fmt.Errorf("%w: revocation info archival: %v", ErrMalformedEvidence, err)
	}
	return archival.evidence()
}

func (a RevocationInfoArchival) evidence() (*EvidenceSet, error) {
	set := NewEvidenceSet()
	var errs []error
	for _, raw := range a.CRL {
		if err := set.AddRawCRL(raw.FullBytes); err != nil {
			errs = append(errs, err)
		}
	}
	for _, raw := range a.OCSP {
		if err := set.AddRawOCSP(raw.FullBytes); err != nil {
			errs = append(errs, err)
		}
	}
	return set, errors.Join(errs...)
}

// EvidenceFromCMS extracts the certificates and CRLs of a PKCS#7/CMS
// SignedData structure together with the contents of a signed
// adbe-revocationInfoArchival attribute, if present.
func EvidenceFromCMS(der []byte) (*EvidenceSet, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CMS signed data: %w", err)
	}

	set := NewEvidenceSet()
	for _, cert := range p7.Certificates {
		set.AddCertificate(cert)
	}

	var errs []error
	for _, list := range p7.CRLs {
		raw, err := asn1.Marshal(list)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: embedded CRL: %v", ErrMalformedEvidence, err))
			continue
		}
		if err := set.AddRawCRL(raw); err != nil {
			errs = append(errs, err)
		}
	}

	var archival RevocationInfoArchival
	if err := p7.UnmarshalSignedAttribute(OIDRevocationInfoArchival, &archival); err == nil {
		embedded, err := archival.evidence()
		set.Merge(embedded)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return set, errors.Join(errs...)
}
