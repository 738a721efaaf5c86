package certvalidator

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"
)

// createTestCA creates a test CA certificate and key.
func createTestCA(commonName string) (*x509.Certificate, *ecdsa.PrivateKey) {
	privateKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	certDER, _ := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	cert, _ := x509.ParseCertificate(certDER)

	return cert, privateKey
}

// createTestIntermediate creates an intermediate CA certificate.
func createTestIntermediate(commonName string, parent *x509.Certificate, parentKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey) {
	privateKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	certDER, _ := x509.CreateCertificate(rand.Reader, template, parent, &privateKey.PublicKey, parentKey)
	cert, _ := x509.ParseCertificate(certDER)

	return cert, privateKey
}

// createTestLeaf creates a leaf certificate.
func createTestLeaf(commonName string, serial int64, parent *x509.Certificate, parentKey *ecdsa.PrivateKey) *x509.Certificate {
	privateKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature,
	}

	certDER, _ := x509.CreateCertificate(rand.Reader, template, parent, &privateKey.PublicKey, parentKey)
	cert, _ := x509.ParseCertificate(certDER)

	return cert
}

func TestRegistry(t *testing.T) {
	ca, _ := createTestCA("Test CA")

	t.Run("NewRegistry", func(t *testing.T) {
		r := NewRegistry()
		if r.Count() != 0 {
			t.Errorf("expected 0, got %d", r.Count())
		}
	})

	t.Run("Register", func(t *testing.T) {
		r := NewRegistry()
		tok, err := r.Register(ca)
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if r.Count() != 1 {
			t.Errorf("expected 1, got %d", r.Count())
		}
		got, ok := r.Get(tok.ID())
		if !ok || got != tok {
			t.Error("expected to get the registered token back")
		}
	})

	t.Run("Register duplicate", func(t *testing.T) {
		r := NewRegistry()
		first, _ := r.Register(ca)
		second, _ := r.Register(ca)
		if first != second {
			t.Error("expected the existing token for a duplicate")
		}
		if r.Count() != 1 {
			t.Errorf("expected 1, got %d", r.Count())
		}
	})

	t.Run("Register nil", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.Register(nil); !errors.Is(err, ErrEmptyCertificate) {
			t.Errorf("expected ErrEmptyCertificate, got %v", err)
		}
	})

	t.Run("TokenFor", func(t *testing.T) {
		r := NewRegistry()
		tok, _ := r.Register(ca)
		got, ok := r.TokenFor(ca)
		if !ok || got != tok {
			t.Error("expected TokenFor to find the registered token")
		}
		other, _ := createTestCA("Other CA")
		if _, ok := r.TokenFor(other); ok {
			t.Error("expected no token for an unregistered certificate")
		}
	})
}

func TestBuildRegistryLinksChain(t *testing.T) {
	root, rootKey := createTestCA("Root CA")
	intermediate, intKey := createTestIntermediate("Intermediate CA", root, rootKey)
	leaf := createTestLeaf("Leaf", 42, intermediate, intKey)

	r, err := BuildRegistry([]*x509.Certificate{leaf, intermediate, root})
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	leafTok, _ := r.TokenFor(leaf)
	intTok, _ := r.TokenFor(intermediate)
	rootTok, _ := r.TokenFor(root)

	if issuer, ok := leafTok.Issuer(); !ok || issuer != intTok {
		t.Error("expected leaf to be linked to the intermediate")
	}
	if issuer, ok := intTok.Issuer(); !ok || issuer != rootTok {
		t.Error("expected intermediate to be linked to the root")
	}
	if issuer, ok := rootTok.Issuer(); !ok || issuer != rootTok {
		t.Error("expected root to be linked to itself")
	}
}

func TestLinkIssuersReportsUnresolved(t *testing.T) {
	root, rootKey := createTestCA("Root CA")
	intermediate, intKey := createTestIntermediate("Intermediate CA", root, rootKey)
	leaf := createTestLeaf("Leaf", 42, intermediate, intKey)

	r := NewRegistry()
	leafTok, _ := r.Register(leaf)
	r.Register(root)

	if n := r.LinkIssuers(); n != 1 {
		t.Errorf("expected 1 unresolved token, got %d", n)
	}
	if _, ok := leafTok.Issuer(); ok {
		t.Error("expected leaf issuer to remain unknown")
	}

	var linkErr *IssuerLinkError
	err := r.LinkIssuer(leafTok)
	if !errors.As(err, &linkErr) || !errors.Is(err, ErrIssuerNotFound) {
		t.Fatalf("expected IssuerLinkError wrapping ErrIssuerNotFound, got %v", err)
	}

	r.Register(intermediate)
	if n := r.LinkIssuers(); n != 0 {
		t.Errorf("expected all tokens resolved, got %d unresolved", n)
	}
	if _, ok := leafTok.Issuer(); !ok {
		t.Error("expected leaf to be linked after adding the intermediate")
	}
}

func TestFindPotentialIssuersSameName(t *testing.T) {
	// Two CAs with the same subject but different keys.
	ca1, key1 := createTestCA("Shared CA")
	ca2, _ := createTestCA("Shared CA")
	leaf := createTestLeaf("Leaf", 7, ca1, key1)

	r := NewRegistry()
	leafTok, _ := r.Register(leaf)
	r.Register(ca2)
	tok1, _ := r.Register(ca1)

	candidates := r.FindPotentialIssuers(leafTok)
	if len(candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}

	if err := r.LinkIssuer(leafTok); err != nil {
		t.Fatalf("LinkIssuer failed: %v", err)
	}
	if issuer, _ := leafTok.Issuer(); issuer != tok1 {
		t.Error("expected the issuer whose key verifies the signature")
	}
}

func TestRegistryAllPreservesOrder(t *testing.T) {
	a, _ := createTestCA("A")
	b, _ := createTestCA("B")
	c, _ := createTestCA("C")

	r := NewRegistry()
	for _, cert := range []*x509.Certificate{c, a, b} {
		r.Register(cert)
	}

	all := r.All()
	want := []string{"C", "A", "B"}
	for i, tok := range all {
		if tok.Subject().CommonName != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], tok.Subject().CommonName)
		}
	}
}
