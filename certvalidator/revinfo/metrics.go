package revinfo

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are shared by the CRL and OCSP pools and the resolver of a
// session. Create them once per registerer; a nil registerer produces
// unregistered collectors.
type Metrics struct {
	validityChecks *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	exclusions     *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
}

// NewMetrics creates the revocation metrics and registers them with stats.
func NewMetrics(stats prometheus.Registerer) *Metrics {
	m := &Metrics{
		validityChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revinfo_validity_checks_total",
				Help: "Number of revocation evidence validity checks, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revinfo_cache_lookups_total",
				Help: "Number of revocation cache lookups, by cache and result",
			},
			[]string{"cache", "result"},
		),
		exclusions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revinfo_evidence_exclusions_total",
				Help: "Number of evidence candidates excluded from selection, by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revinfo_resolutions_total",
				Help: "Number of certificate revocation resolutions, by terminal state",
			},
			[]string{"state"},
		),
	}
	if stats != nil {
		stats.MustRegister(m.validityChecks, m.cacheLookups, m.exclusions, m.resolutions)
	}
	return m
}

func (m *Metrics) cacheResult(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) validity(kind Kind, v Validity) {
	outcome := "valid"
	switch {
	case !v.Valid && v.SignatureIntact:
		outcome = "intact_not_valid"
	case !v.Valid:
		outcome = "invalid"
	}
	m.validityChecks.WithLabelValues(kind.String(), outcome).Inc()
}
