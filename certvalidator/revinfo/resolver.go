package revinfo

import (
	"context"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/georgepadayatti/goades/certvalidator"
)

// Resolver determines the revocation status of certificates from the
// evidence of a CRL pool and an OCSP pool. Each certificate resolves to
// exactly one terminal state per resolver: revoked, not revoked, or no
// evidence (a nil token).
type Resolver struct {
	crls       *CRLPool
	ocsps      *OCSPPool
	preferOCSP bool

	results *memo[*RevocationToken]

	clk     clock.Clock
	log     *slog.Logger
	metrics *Metrics
}

// NewResolver creates a resolver over the given pools. Either pool may be
// nil.
func NewResolver(crls *CRLPool, ocsps *OCSPPool, cfg Config) *Resolver {
	cfg = cfg.withDefaults()
	return &Resolver{
		crls:       crls,
		ocsps:      ocsps,
		preferOCSP: cfg.PreferOCSP,
		results:    newMemo[*RevocationToken](),
		clk:        cfg.Clock,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Resolve returns the revocation status of cert. A nil token with a nil
// error means no valid revocation evidence was found. Resolving a
// certificate whose issuer is not linked fails with a *ConfigurationError.
// Repeated calls for the same certificate return the same token.
func (r *Resolver) Resolve(ctx context.Context, cert *certvalidator.CertificateToken) (*RevocationToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	issuer, ok := cert.Issuer()
	if !ok {
		r.metrics.resolutions.WithLabelValues("configuration_error").Inc()
		return nil, &ConfigurationError{CertificateID: cert.ID(), Err: ErrIssuerUnknown}
	}

	tok, hit, err := r.results.getOrCompute(cert.ID(), func() (*RevocationToken, error) {
		return r.resolve(cert, issuer)
	})
	r.metrics.cacheResult("resolution", hit)
	if err != nil {
		r.metrics.resolutions.WithLabelValues("error").Inc()
		return nil, err
	}
	if !hit {
		r.metrics.resolutions.WithLabelValues(terminalState(tok)).Inc()
		r.log.InfoContext(ctx, "resolved revocation status",
			"certificate", cert.ID(),
			"subject", cert.Subject().String(),
			"state", terminalState(tok))
	}
	return tok, nil
}

func terminalState(tok *RevocationToken) string {
	switch {
	case tok == nil:
		return "no_evidence"
	case tok.Revoked():
		return "revoked"
	default:
		return "not_revoked"
	}
}

func (r *Resolver) resolve(cert, issuer *certvalidator.CertificateToken) (*RevocationToken, error) {
	lookups := []func() (*RevocationToken, error){
		func() (*RevocationToken, error) { return r.fromCRL(cert, issuer) },
		func() (*RevocationToken, error) { return r.fromOCSP(cert, issuer) },
	}
	if r.preferOCSP {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}

	for _, lookup := range lookups {
		tok, err := lookup()
		if err != nil || tok != nil {
			return tok, err
		}
	}
	return nil, nil
}

func (r *Resolver) fromCRL(cert, issuer *certvalidator.CertificateToken) (*RevocationToken, error) {
	if r.crls == nil {
		return nil, nil
	}
	res, err := r.crls.FindEvidence(cert)
	if err != nil || res == nil {
		return nil, err
	}
	if err := checkCRLAttribution(res.CRL, issuer.RawSubject()); err != nil {
		return nil, err
	}

	tok := &RevocationToken{
		CertificateID:  cert.ID(),
		Status:         res.Status,
		Evidence:       res.CRL,
		Validity:       res.Validity,
		ThisUpdate:     res.CRL.ThisUpdate(),
		NextUpdate:     res.CRL.NextUpdate(),
		ValidationTime: r.clk.Now(),
	}
	if res.Entry != nil {
		date := res.Entry.RevocationTime
		reason := res.Entry.Reason
		tok.RevocationDate = &date
		tok.Reason = &reason
	}
	return tok, nil
}

func (r *Resolver) fromOCSP(cert, issuer *certvalidator.CertificateToken) (*RevocationToken, error) {
	if r.ocsps == nil {
		return nil, nil
	}
	res, err := r.ocsps.FindEvidence(cert, issuer)
	if err != nil || res == nil {
		return nil, err
	}
	if err := checkOCSPAttribution(res.Response, res.Single, cert, issuer); err != nil {
		return nil, err
	}

	tok := &RevocationToken{
		CertificateID:  cert.ID(),
		Status:         res.Status(),
		Evidence:       res.Response,
		Validity:       res.Validity,
		ThisUpdate:     res.Single.ThisUpdate,
		NextUpdate:     res.Single.NextUpdate,
		ValidationTime: r.clk.Now(),
	}
	if tok.Status == StatusRevoked {
		date := res.Single.RevokedAt
		reason := res.Single.RevocationCode
		tok.RevocationDate = &date
		tok.Reason = &reason
	}
	return tok, nil
}

// Session bundles the pools and resolver of one validation run.
type Session struct {
	ID       uuid.UUID
	CRLs     *CRLPool
	OCSPs    *OCSPPool
	Resolver *Resolver
}

// NewSession creates the pools and resolver over the evidence in set. The
// session id is attached to every log record.
func NewSession(set *EvidenceSet, cfg Config) *Session {
	cfg = cfg.withDefaults()
	id := uuid.New()
	cfg.Logger = cfg.Logger.With("session", id.String())

	crls := NewCRLPool(set.CRLs(), cfg)
	ocsps := NewOCSPPool(set.OCSPResponses(), cfg)
	cfg.Logger.Info("created revocation session",
		"crls", len(set.CRLs()),
		"ocsp_responses", len(set.OCSPResponses()))

	return &Session{
		ID:       id,
		CRLs:     crls,
		OCSPs:    ocsps,
		Resolver: NewResolver(crls, ocsps, cfg),
	}
}

func nameString(raw []byte) string {
	var rdns pkix.RDNSequence
	if _, err := asn1.Unmarshal(raw, &rdns); err != nil {
		return fmt.Sprintf("%x", raw)
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdns)
	return name.String()
}
