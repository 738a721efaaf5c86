package certvalidator

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"sync"
)

// Registry holds the certificates known to a validation run and links each
// of them to its issuer when the issuer is present.
type Registry struct {
	mu sync.RWMutex

	// Tokens in registration order
	tokens []*CertificateToken

	// Index by token id
	byID map[string]*CertificateToken

	// Index by subject name hash for issuer lookups
	subjectMap map[[32]byte][]*CertificateToken

	// Index by subject key identifier
	keyIDMap map[string][]*CertificateToken
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]*CertificateToken),
		subjectMap: make(map[[32]byte][]*CertificateToken),
		keyIDMap:   make(map[string][]*CertificateToken),
	}
}

// BuildRegistry creates a registry with the given certificates and links
// issuers among them.
func BuildRegistry(certs []*x509.Certificate) (*Registry, error) {
	r := NewRegistry()
	for _, cert := range certs {
		if _, err := r.Register(cert); err != nil {
			return nil, err
		}
	}
	r.LinkIssuers()
	return r, nil
}

// Register adds a certificate and returns its token. Registering the same
// certificate again returns the existing token.
func (r *Registry) Register(cert *x509.Certificate) (*CertificateToken, error) {
	tok, err := NewCertificateToken(cert)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[tok.ID()]; ok {
		return existing, nil
	}
	r.tokens = append(r.tokens, tok)
	r.byID[tok.ID()] = tok

	key := subjectHashKey(cert)
	r.subjectMap[key] = append(r.subjectMap[key], tok)
	if len(cert.SubjectKeyId) > 0 {
		r.keyIDMap[string(cert.SubjectKeyId)] = append(r.keyIDMap[string(cert.SubjectKeyId)], tok)
	}
	return tok, nil
}

// Get returns the token with the given id.
func (r *Registry) Get(id string) (*CertificateToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.byID[id]
	return tok, ok
}

// TokenFor returns the registered token wrapping cert.
func (r *Registry) TokenFor(cert *x509.Certificate) (*CertificateToken, bool) {
	tok, err := NewCertificateToken(cert)
	if err != nil {
		return nil, false
	}
	return r.Get(tok.ID())
}

// All returns all tokens in registration order.
func (r *Registry) All() []*CertificateToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*CertificateToken, len(r.tokens))
	copy(result, r.tokens)
	return result
}

// Count returns the number of registered certificates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// FindPotentialIssuers returns the registered certificates that could have
// issued tok, in registration order. Key identifier matches are preferred
// over name matches.
func (r *Registry) FindPotentialIssuers(tok *CertificateToken) []*CertificateToken {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cert := tok.Certificate()
	if len(cert.AuthorityKeyId) > 0 {
		var issuers []*CertificateToken
		for _, candidate := range r.keyIDMap[string(cert.AuthorityKeyId)] {
			if NamesEqualRaw(cert.RawIssuer, candidate.RawSubject()) {
				issuers = append(issuers, candidate)
			}
		}
		if len(issuers) > 0 {
			return issuers
		}
	}

	var issuers []*CertificateToken
	for _, candidate := range r.subjectMap[sha256.Sum256(cert.RawIssuer)] {
		if isPotentialIssuer(candidate, tok) {
			issuers = append(issuers, candidate)
		}
	}
	if len(issuers) > 0 {
		return issuers
	}

	// Encodings may differ while the names are equal.
	for _, candidate := range r.tokens {
		if isPotentialIssuer(candidate, tok) {
			issuers = append(issuers, candidate)
		}
	}
	return issuers
}

// LinkIssuers links every registered token whose issuer is not yet known to
// the first potential issuer whose key verifies the certificate signature.
// It returns the number of tokens that remain without issuer.
func (r *Registry) LinkIssuers() int {
	unresolved := 0
	for _, tok := range r.All() {
		if _, ok := tok.Issuer(); ok {
			continue
		}
		if err := r.LinkIssuer(tok); err != nil {
			unresolved++
		}
	}
	return unresolved
}

// LinkIssuer resolves and links the issuer of a single token.
func (r *Registry) LinkIssuer(tok *CertificateToken) error {
	if _, ok := tok.Issuer(); ok {
		return nil
	}
	for _, candidate := range r.FindPotentialIssuers(tok) {
		if tok.IsSignedBy(candidate) {
			return tok.LinkIssuer(candidate)
		}
	}
	return &IssuerLinkError{
		Subject: tok.Subject().String(),
		Issuer:  tok.Certificate().Issuer.String(),
		Err:     ErrIssuerNotFound,
	}
}

func isPotentialIssuer(issuer, tok *CertificateToken) bool {
	cert := tok.Certificate()
	if len(cert.AuthorityKeyId) > 0 && len(issuer.Certificate().SubjectKeyId) > 0 &&
		!bytes.Equal(cert.AuthorityKeyId, issuer.Certificate().SubjectKeyId) {
		return false
	}
	return NamesEqualRaw(cert.RawIssuer, issuer.RawSubject())
}

func subjectHashKey(cert *x509.Certificate) [32]byte {
	return sha256.Sum256(cert.RawSubject)
}
