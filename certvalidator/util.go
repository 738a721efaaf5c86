package certvalidator

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NamesEqual compares two names after normalizing attribute values:
// NFKC normalization, case folding and whitespace collapsing.
func NamesEqual(a, b pkix.Name) bool {
	return canonicalNameString(a) == canonicalNameString(b)
}

// NamesEqualRaw compares two DER encoded names. Identical encodings match
// directly; otherwise both are decoded and compared as NamesEqual does.
func NamesEqualRaw(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	na, err := parseName(a)
	if err != nil {
		return false
	}
	nb, err := parseName(b)
	if err != nil {
		return false
	}
	return NamesEqual(na, nb)
}

func parseName(der []byte) (pkix.Name, error) {
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdns)
	if err != nil {
		return pkix.Name{}, err
	}
	if len(rest) > 0 {
		return pkix.Name{}, fmt.Errorf("trailing data after name")
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdns)
	return name, nil
}

func canonicalNameString(name pkix.Name) string {
	atvs := name.Names
	if len(atvs) == 0 {
		for _, rdn := range name.ToRDNSequence() {
			atvs = append(atvs, rdn...)
		}
	}

	parts := make([]string, 0, len(atvs))
	for _, atv := range atvs {
		parts = append(parts, fmt.Sprintf("%s=%s", atv.Type.String(), normalizeRDNValue(atv.Value)))
	}
	return strings.Join(parts, ",")
}

func normalizeRDNValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return cases.Fold().String(strings.Join(strings.Fields(norm.NFKC.String(v)), " "))
	default:
		return fmt.Sprint(v)
	}
}
