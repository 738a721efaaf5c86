package revinfo

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Kind tags the variant of a piece of revocation evidence.
type Kind int

const (
	KindCRL Kind = iota + 1
	KindOCSP
)

// String returns "CRL" or "OCSP".
func (k Kind) String() string {
	switch k {
	case KindCRL:
		return "CRL"
	case KindOCSP:
		return "OCSP"
	default:
		return "unknown"
	}
}

// Evidence is a CRL or an OCSP response considered as a source of
// revocation status. It is implemented only by *CRLEvidence and
// *OCSPEvidence; operations specific to one variant live on the concrete
// types.
type Evidence interface {
	// ID identifies the evidence by the digest of its encoding.
	ID() string
	// Kind tells which variant the evidence is.
	Kind() Kind
	// Raw returns the DER encoding.
	Raw() []byte
	// ThisUpdate is the issuance time of the evidence. For OCSP responses
	// holding several single responses this is the latest one.
	ThisUpdate() time.Time
	// NextUpdate is the time by which newer evidence is expected.
	NextUpdate() *time.Time

	sealed()
}

func evidenceID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "R-" + strings.ToUpper(hex.EncodeToString(sum[:]))
}
