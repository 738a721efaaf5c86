// Package pemder loads certificates and revocation data from PEM or DER
// encoded files.
package pemder

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/georgepadayatti/goades/certvalidator"
)

// PEM block types
const (
	TypeCertificate  = "CERTIFICATE"
	TypeCRL          = "X509 CRL"
	TypeCRLShort     = "CRL"
	TypeOCSPResponse = "OCSP RESPONSE"
	TypePKCS7        = "PKCS7"
	TypeCMS          = "CMS"
)

// Common errors
var (
	ErrNoBlockFound  = errors.New("no matching PEM block found")
	ErrNoCertFound   = errors.New("no certificate found in data")
	ErrMultipleCerts = errors.New("expected exactly one certificate")
)

// IsPEM reports whether data appears to be PEM encoded.
func IsPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// Blocks returns the payloads of the PEM blocks in data whose type is one of
// types, in file order. DER input is returned as a single payload.
func Blocks(data []byte, types ...string) ([][]byte, error) {
	if !IsPEM(data) {
		if len(data) == 0 {
			return nil, ErrNoBlockFound
		}
		return [][]byte{data}, nil
	}

	var out [][]byte
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if slices.Contains(types, block.Type) {
			out = append(out, block.Bytes)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: want one of %v", ErrNoBlockFound, types)
	}
	return out, nil
}

// ReadBlocks reads filename and returns its blocks of the given types.
func ReadBlocks(filename string, types ...string) ([][]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	blocks, err := Blocks(data, types...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return blocks, nil
}

// ParseCertificates parses every certificate in PEM or DER encoded data.
// DER input may hold several concatenated certificates.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	blocks, err := Blocks(data, TypeCertificate)
	if err != nil {
		if errors.Is(err, ErrNoBlockFound) {
			return nil, ErrNoCertFound
		}
		return nil, err
	}

	var certs []*x509.Certificate
	for _, der := range blocks {
		parsed, err := x509.ParseCertificates(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, parsed...)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertificates loads every certificate in a PEM or DER encoded file.
func LoadCertificates(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	certs, err := ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return certs, nil
}

// LoadCertificate loads a file holding exactly one certificate.
func LoadCertificate(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertificates(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertificateFiles loads certificates from multiple files.
func LoadCertificateFiles(filenames []string) ([]*x509.Certificate, error) {
	var all []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertificates(filename)
		if err != nil {
			return nil, err
		}
		all = append(all, certs...)
	}
	return all, nil
}

// CertificateChain is a certificate path ordered from the end entity
// towards the root.
type CertificateChain struct {
	EndEntity     *x509.Certificate
	Intermediates []*x509.Certificate

	// Root is set when the last certificate is self-issued.
	Root *x509.Certificate
}

// All returns the chain's certificates, end entity first.
func (c *CertificateChain) All() []*x509.Certificate {
	out := []*x509.Certificate{c.EndEntity}
	out = append(out, c.Intermediates...)
	if c.Root != nil {
		out = append(out, c.Root)
	}
	return out
}

// LoadCertificateChain loads a chain from files. The first certificate read
// is the end entity.
func LoadCertificateChain(filenames []string) (*CertificateChain, error) {
	if len(filenames) == 0 {
		return nil, errors.New("no certificate files provided")
	}
	certs, err := LoadCertificateFiles(filenames)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}

	chain := &CertificateChain{EndEntity: certs[0]}
	if len(certs) > 1 {
		chain.Intermediates = certs[1:]
		last := certs[len(certs)-1]
		if isSelfIssued(last) {
			chain.Root = last
			chain.Intermediates = certs[1 : len(certs)-1]
		}
	}
	return chain, nil
}

func isSelfIssued(cert *x509.Certificate) bool {
	return certvalidator.NamesEqualRaw(cert.RawSubject, cert.RawIssuer)
}
