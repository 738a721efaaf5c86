package revinfo

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

var (
	oidCRLNumber          = asn1.ObjectIdentifier{2, 5, 29, 20}
	oidDeltaCRLIndicator  = asn1.ObjectIdentifier{2, 5, 29, 27}
	oidIssuingDistPoint   = asn1.ObjectIdentifier{2, 5, 29, 28}
	pemTypeX509CRL        = "X509 CRL"
	pemTypeCRLAlternative = "CRL"
)

// CRLEvidence is a parsed certificate revocation list.
type CRLEvidence struct {
	id  string
	raw []byte
	crl *x509.RevocationList

	isDelta       bool
	baseCRLNumber *big.Int
	crlNumber     *big.Int
	indirect      bool
}

// ParseCRL parses a DER or PEM encoded CRL.
func ParseCRL(data []byte) (*CRLEvidence, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != pemTypeX509CRL && block.Type != pemTypeCRLAlternative {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrMalformedEvidence, block.Type)
		}
		der = block.Bytes
	}

	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("%w: CRL: %v", ErrMalformedEvidence, err)
	}
	return NewCRLEvidence(crl), nil
}

// NewCRLEvidence wraps an already parsed CRL.
func NewCRLEvidence(crl *x509.RevocationList) *CRLEvidence {
	ev := &CRLEvidence{
		id:        evidenceID(crl.Raw),
		raw:       crl.Raw,
		crl:       crl,
		crlNumber: crl.Number,
	}

	for _, ext := range crl.Extensions {
		switch {
		case ext.Id.Equal(oidDeltaCRLIndicator):
			ev.isDelta = true
			var base big.Int
			if _, err := asn1.Unmarshal(ext.Value, &base); err == nil {
				ev.baseCRLNumber = &base
			}
		case ext.Id.Equal(oidCRLNumber) && ev.crlNumber == nil:
			var num big.Int
			if _, err := asn1.Unmarshal(ext.Value, &num); err == nil {
				ev.crlNumber = &num
			}
		case ext.Id.Equal(oidIssuingDistPoint):
			ev.indirect = issuingDistPointIndirect(ext.Value)
		}
	}
	return ev
}

func (c *CRLEvidence) sealed() {}

// ID returns the evidence identifier.
func (c *CRLEvidence) ID() string { return c.id }

// Kind returns KindCRL.
func (c *CRLEvidence) Kind() Kind { return KindCRL }

// Raw returns the DER encoding of the CRL.
func (c *CRLEvidence) Raw() []byte { return c.raw }

// ThisUpdate returns the CRL thisUpdate time.
func (c *CRLEvidence) ThisUpdate() time.Time { return c.crl.ThisUpdate }

// NextUpdate returns the CRL nextUpdate time, or nil when absent.
func (c *CRLEvidence) NextUpdate() *time.Time {
	if c.crl.NextUpdate.IsZero() {
		return nil
	}
	next := c.crl.NextUpdate
	return &next
}

// RevocationList returns the parsed CRL.
func (c *CRLEvidence) RevocationList() *x509.RevocationList { return c.crl }

// RawIssuer returns the DER encoded issuer name of the CRL.
func (c *CRLEvidence) RawIssuer() []byte { return c.crl.RawIssuer }

// SignatureAlgorithm returns the algorithm the CRL is signed with.
func (c *CRLEvidence) SignatureAlgorithm() x509.SignatureAlgorithm { return c.crl.SignatureAlgorithm }

// CRLNumber returns the CRL number, or nil when absent.
func (c *CRLEvidence) CRLNumber() *big.Int { return c.crlNumber }

// IsDelta reports whether this is a delta CRL.
func (c *CRLEvidence) IsDelta() bool { return c.isDelta }

// BaseCRLNumber returns the base CRL number of a delta CRL.
func (c *CRLEvidence) BaseCRLNumber() *big.Int { return c.baseCRLNumber }

// IsIndirect reports whether the issuing distribution point marks the CRL
// as indirect.
func (c *CRLEvidence) IsIndirect() bool { return c.indirect }

// CRLEntry is the revocation entry of one serial number.
type CRLEntry struct {
	SerialNumber   *big.Int
	RevocationTime time.Time
	Reason         RevocationReason
}

// Lookup returns the revoked entry for serial, if the CRL lists it.
func (c *CRLEvidence) Lookup(serial *big.Int) (CRLEntry, bool) {
	for _, entry := range c.crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(serial) == 0 {
			return CRLEntry{
				SerialNumber:   entry.SerialNumber,
				RevocationTime: entry.RevocationTime,
				Reason:         RevocationReason(entry.ReasonCode),
			}, true
		}
	}
	return CRLEntry{}, false
}

// Entries returns all revoked entries.
func (c *CRLEvidence) Entries() []CRLEntry {
	entries := make([]CRLEntry, 0, len(c.crl.RevokedCertificateEntries))
	for _, entry := range c.crl.RevokedCertificateEntries {
		entries = append(entries, CRLEntry{
			SerialNumber:   entry.SerialNumber,
			RevocationTime: entry.RevocationTime,
			Reason:         RevocationReason(entry.ReasonCode),
		})
	}
	return entries
}

// issuingDistributionPoint mirrors the RFC 5280 extension. Only the
// indirectCRL flag is used.
type issuingDistributionPoint struct {
	DistributionPoint          asn1.RawValue  `asn1:"optional,tag:0"`
	OnlyContainsUserCerts      bool           `asn1:"optional,tag:1"`
	OnlyContainsCACerts        bool           `asn1:"optional,tag:2"`
	OnlySomeReasons            asn1.BitString `asn1:"optional,tag:3"`
	IndirectCRL                bool           `asn1:"optional,tag:4"`
	OnlyContainsAttributeCerts bool           `asn1:"optional,tag:5"`
}

func issuingDistPointIndirect(value []byte) bool {
	var idp issuingDistributionPoint
	if _, err := asn1.Unmarshal(value, &idp); err != nil {
		return false
	}
	return idp.IndirectCRL
}
