package revinfo

import (
	"crypto"
	"fmt"
	"log/slog"

	"github.com/jmhodges/clock"

	"github.com/georgepadayatti/goades/certvalidator"
)

// Config configures pools and resolvers. The zero value is usable.
type Config struct {
	// Logger receives selection diagnostics; nil discards them
	Logger *slog.Logger
	// Metrics are shared between the pools and resolver of a session
	Metrics *Metrics
	// Clock supplies the validation time; nil means the system clock
	Clock clock.Clock
	// PreferOCSP makes the resolver consult OCSP responses before CRLs
	PreferOCSP bool
	// IncludeDeltaCRLs lets delta CRLs compete as stand-alone evidence
	IncludeDeltaCRLs bool
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// CRLResult is the best CRL found for a certificate and the status it
// gives the certificate.
type CRLResult struct {
	CRL      *CRLEvidence
	Validity Validity
	Status   RevocationStatus
	// Entry is set when the CRL revokes the certificate
	Entry *CRLEntry
}

// CRLPool is the offline CRL source of a validation session. Its list of
// CRLs is fixed at construction.
type CRLPool struct {
	crls         []*CRLEvidence
	includeDelta bool

	validity *memo[Validity]
	results  *memo[*CRLResult]

	log     *slog.Logger
	metrics *Metrics
}

// NewCRLPool creates a pool over crls. Iteration order, and therefore the
// tie-break between CRLs with equal thisUpdate, is the order of crls.
func NewCRLPool(crls []*CRLEvidence, cfg Config) *CRLPool {
	cfg = cfg.withDefaults()
	list := make([]*CRLEvidence, len(crls))
	copy(list, crls)
	return &CRLPool{
		crls:         list,
		includeDelta: cfg.IncludeDeltaCRLs,
		validity:     newMemo[Validity](),
		results:      newMemo[*CRLResult](),
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// CRLs returns the CRLs of the pool in load order.
func (p *CRLPool) CRLs() []*CRLEvidence {
	out := make([]*CRLEvidence, len(p.crls))
	copy(out, p.crls)
	return out
}

// FindEvidence returns the best CRL for cert, or nil when no CRL issued by
// the certificate's issuer is valid. cert must have a linked issuer.
//
// Among the valid CRLs of the issuer the one with the latest thisUpdate
// wins; on equal thisUpdate the first one in load order is kept. The result
// is computed once per certificate.
func (p *CRLPool) FindEvidence(cert *certvalidator.CertificateToken) (*CRLResult, error) {
	issuer, ok := cert.Issuer()
	if !ok {
		return nil, &ConfigurationError{CertificateID: cert.ID(), Err: ErrIssuerUnknown}
	}

	res, hit, err := p.results.getOrCompute(cert.ID(), func() (*CRLResult, error) {
		return p.selectBest(cert, issuer), nil
	})
	p.metrics.cacheResult("crl_result", hit)
	return res, err
}

func (p *CRLPool) selectBest(cert, issuer *certvalidator.CertificateToken) *CRLResult {
	var best *CRLEvidence
	var bestValidity Validity

	for _, crl := range p.crls {
		if crl.IsDelta() && !p.includeDelta {
			p.exclude(crl, cert, "delta")
			continue
		}
		if err := checkCRLAttribution(crl, cert.RawIssuer()); err != nil {
			p.exclude(crl, cert, "issuer_mismatch", "error", err)
			continue
		}
		v := p.Validity(crl, issuer)
		if !v.Valid {
			p.exclude(crl, cert, "invalid", "error", v.InvalidityReason)
			continue
		}
		if best == nil || crl.ThisUpdate().After(best.ThisUpdate()) {
			best = crl
			bestValidity = v
		}
	}

	if best == nil {
		return nil
	}

	res := &CRLResult{CRL: best, Validity: bestValidity, Status: StatusGood}
	if entry, ok := best.Lookup(cert.SerialNumber()); ok && entry.Reason != ReasonRemoveFromCRL {
		res.Status = StatusRevoked
		res.Entry = &entry
	}
	p.log.Debug("selected CRL",
		"certificate", cert.ID(),
		"crl", best.ID(),
		"this_update", best.ThisUpdate(),
		"status", res.Status.String())
	return res
}

// Validity returns the verdict on crl checked against issuer, computing it
// on first use.
func (p *CRLPool) Validity(crl *CRLEvidence, issuer *certvalidator.CertificateToken) Validity {
	v, hit, _ := p.validity.getOrCompute(crl.ID()+"|"+issuer.ID(), func() (Validity, error) {
		v := CheckCRLValidity(crl, issuer)
		p.metrics.validity(KindCRL, v)
		return v, nil
	})
	p.metrics.cacheResult("crl_validity", hit)
	return v
}

func (p *CRLPool) exclude(crl *CRLEvidence, cert *certvalidator.CertificateToken, reason string, attrs ...any) {
	p.metrics.exclusions.WithLabelValues(KindCRL.String(), reason).Inc()
	p.log.Debug("excluding CRL",
		append([]any{"certificate", cert.ID(), "crl", crl.ID(), "reason", reason}, attrs...)...)
}

func checkCRLAttribution(crl *CRLEvidence, rawIssuer []byte) error {
	if certvalidator.NamesEqualRaw(crl.RawIssuer(), rawIssuer) {
		return nil
	}
	return &EvidenceAttributionError{
		EvidenceID:     crl.ID(),
		EvidenceIssuer: nameString(crl.RawIssuer()),
		CertIssuer:     nameString(rawIssuer),
	}
}

// OCSPResult is the best OCSP single response found for a certificate.
type OCSPResult struct {
	Response *OCSPEvidence
	Single   SingleResponse
	Validity Validity
}

// Status returns the certificate status given by the single response.
func (r *OCSPResult) Status() RevocationStatus {
	return r.Single.Status()
}

// OCSPPool is the offline OCSP source of a validation session. Its list of
// responses is fixed at construction.
type OCSPPool struct {
	responses []*OCSPEvidence
	hashes    []crypto.Hash

	validity *memo[Validity]
	results  *memo[*OCSPResult]

	log     *slog.Logger
	metrics *Metrics
}

// NewOCSPPool creates a pool over responses. Iteration order is the order
// of responses.
func NewOCSPPool(responses []*OCSPEvidence, cfg Config) *OCSPPool {
	cfg = cfg.withDefaults()
	list := make([]*OCSPEvidence, len(responses))
	copy(list, responses)

	var hashes []crypto.Hash
	seen := make(map[crypto.Hash]bool)
	for _, resp := range list {
		for _, h := range resp.HashAlgorithms() {
			if !seen[h] {
				seen[h] = true
				hashes = append(hashes, h)
			}
		}
	}

	return &OCSPPool{
		responses: list,
		hashes:    hashes,
		validity:  newMemo[Validity](),
		results:   newMemo[*OCSPResult](),
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Responses returns the responses of the pool in load order.
func (p *OCSPPool) Responses() []*OCSPEvidence {
	out := make([]*OCSPEvidence, len(p.responses))
	copy(out, p.responses)
	return out
}

// FindEvidence returns the single response with the latest thisUpdate
// among the valid responses whose CertID designates cert issued by issuer,
// or nil when there is none. Ties keep the first response in load order.
func (p *OCSPPool) FindEvidence(cert, issuer *certvalidator.CertificateToken) (*OCSPResult, error) {
	if issuer == nil {
		return nil, &ConfigurationError{CertificateID: cert.ID(), Err: ErrIssuerUnknown}
	}

	res, hit, err := p.results.getOrCompute(cert.ID()+"|"+issuer.ID(), func() (*OCSPResult, error) {
		return p.selectBest(cert, issuer)
	})
	p.metrics.cacheResult("ocsp_result", hit)
	return res, err
}

func (p *OCSPPool) selectBest(cert, issuer *certvalidator.CertificateToken) (*OCSPResult, error) {
	ids := make([]CertID, 0, len(p.hashes))
	for _, h := range p.hashes {
		id, err := NewCertID(cert.Certificate(), issuer.Certificate(), h)
		if err != nil {
			return nil, fmt.Errorf("failed to compute OCSP CertID: %w", err)
		}
		ids = append(ids, id)
	}

	var best *OCSPResult
	for _, resp := range p.responses {
		single, ok := resp.Match(ids...)
		if !ok {
			if resp.matchesUnknown(ids...) {
				p.exclude(resp, cert, "unknown_status")
			}
			continue
		}
		signer := p.signerFor(resp, issuer)
		if signer == nil {
			p.exclude(resp, cert, "no_signer")
			continue
		}
		v := p.Validity(resp, issuer, signer)
		if !v.Valid {
			p.exclude(resp, cert, "invalid", "error", v.InvalidityReason)
			continue
		}
		if best == nil || single.ThisUpdate.After(best.Single.ThisUpdate) {
			best = &OCSPResult{Response: resp, Single: single, Validity: v}
		}
	}

	if best != nil {
		p.log.Debug("selected OCSP response",
			"certificate", cert.ID(),
			"response", best.Response.ID(),
			"this_update", best.Single.ThisUpdate,
			"status", best.Status().String())
	}
	return best, nil
}

// signerFor returns the certificate designated by the responder id: the CA
// itself or one of the certificates embedded in the response.
func (p *OCSPPool) signerFor(resp *OCSPEvidence, ca *certvalidator.CertificateToken) *certvalidator.CertificateToken {
	if resp.IdentifiesResponder(ca.Certificate()) {
		return ca
	}
	for _, cert := range resp.Certificates() {
		if !resp.IdentifiesResponder(cert) {
			continue
		}
		tok, err := certvalidator.NewCertificateToken(cert)
		if err != nil {
			continue
		}
		// A failed link leaves the responder without issuer; the validity
		// check reports why.
		_ = tok.LinkIssuer(ca)
		return tok
	}
	return nil
}

// Validity returns the verdict on resp signed by signer on behalf of ca,
// computing it on first use.
func (p *OCSPPool) Validity(resp *OCSPEvidence, ca, signer *certvalidator.CertificateToken) Validity {
	key := resp.ID() + "|" + signer.ID() + "|" + ca.ID()
	v, hit, _ := p.validity.getOrCompute(key, func() (Validity, error) {
		v := CheckOCSPValidity(resp, ca, signer)
		p.metrics.validity(KindOCSP, v)
		return v, nil
	})
	p.metrics.cacheResult("ocsp_validity", hit)
	return v
}

func (p *OCSPPool) exclude(resp *OCSPEvidence, cert *certvalidator.CertificateToken, reason string, attrs ...any) {
	p.metrics.exclusions.WithLabelValues(KindOCSP.String(), reason).Inc()
	p.log.Debug("excluding OCSP response",
		append([]any{"certificate", cert.ID(), "response", resp.ID(), "reason", reason}, attrs...)...)
}

func checkOCSPAttribution(resp *OCSPEvidence, single SingleResponse, cert, issuer *certvalidator.CertificateToken) error {
	id, err := NewCertID(cert.Certificate(), issuer.Certificate(), single.CertID.HashAlgorithm)
	if err == nil && id.Equal(single.CertID) {
		return nil
	}
	return &EvidenceAttributionError{
		EvidenceID:     resp.ID(),
		EvidenceIssuer: fmt.Sprintf("name hash %x", single.CertID.IssuerNameHash),
		CertIssuer:     issuer.Subject().String(),
	}
}
