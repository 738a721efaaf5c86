package revinfo

import (
	"fmt"
	"sort"

	zx509 "github.com/zmap/zcrypto/x509"
	"github.com/zmap/zlint/v3"
	"github.com/zmap/zlint/v3/lint"
)

// LintFinding is a failed structural check on a CRL.
type LintFinding struct {
	Name    string
	Status  string
	Details string
}

func (f LintFinding) String() string {
	if f.Details == "" {
		return fmt.Sprintf("%s (%s)", f.Name, f.Status)
	}
	return fmt.Sprintf("%s (%s): %s", f.Name, f.Status, f.Details)
}

// LintCRL runs the RFC 5280 and CA/B Forum CRL lints over crl and returns
// the findings at notice level or above, sorted by lint name. Findings are
// diagnostics only and never affect evidence selection.
func LintCRL(crl *CRLEvidence) ([]LintFinding, error) {
	parsed, err := zx509.ParseRevocationList(crl.Raw())
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL for linting: %w", err)
	}

	results := zlint.LintRevocationList(parsed)
	var findings []LintFinding
	for name, result := range results.Results {
		if result == nil || result.Status <= lint.Pass {
			continue
		}
		findings = append(findings, LintFinding{
			Name:    name,
			Status:  result.Status.String(),
			Details: result.Details,
		})
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Name < findings[j].Name })
	return findings, nil
}
