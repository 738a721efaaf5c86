package store

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/georgepadayatti/goades/certvalidator/revinfo"
	"github.com/georgepadayatti/goades/pemder"
)

// ErrUnsupportedFile is returned by AddFile for files whose kind cannot be
// told from the extension or content.
var ErrUnsupportedFile = errors.New("unsupported evidence file")

// DirectoryStore reads evidence files from a directory tree. Files are read
// in lexical order, so the load order is stable between runs.
//
// The kind of each file is taken from its extension:
//
//	.crl            CRLs
//	.ocsp, .ors     OCSP responses
//	.crt, .cer      certificates
//	.p7s, .p7m, .p7b  CMS signed data
//	.pem            by PEM block type
//	.der            content sniffing
//
// Other files are skipped.
type DirectoryStore struct {
	Path   string
	Logger *slog.Logger
}

// Load walks the directory and returns the evidence found.
func (s *DirectoryStore) Load(ctx context.Context) (*revinfo.EvidenceSet, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	set := revinfo.NewEvidenceSet()
	var errs []error
	err := filepath.WalkDir(s.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := AddFile(set, path); err != nil {
			if errors.Is(err, ErrUnsupportedFile) {
				logger.Debug("skipping file", "path", path)
				return nil
			}
			logger.Warn("failed to load evidence file", "path", path, "error", err)
			errs = append(errs, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", s.Path, err)
	}

	logger.Info("loaded evidence directory",
		"path", s.Path,
		"certificates", len(set.Certificates()),
		"crls", len(set.CRLs()),
		"ocsp_responses", len(set.OCSPResponses()))
	return set, errors.Join(errs...)
}

// Close is a no-op.
func (s *DirectoryStore) Close() error { return nil }

// AddFile reads path and adds its contents to set according to the file
// extension.
func AddFile(set *revinfo.EvidenceSet, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".crl", ".ocsp", ".ors", ".crt", ".cer", ".p7s", ".p7m", ".p7b", ".pem", ".der":
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if err := addData(set, ext, data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func addData(set *revinfo.EvidenceSet, ext string, data []byte) error {
	switch ext {
	case ".crl":
		return addBlocks(data, set.AddRawCRL, pemder.TypeCRL, pemder.TypeCRLShort)
	case ".ocsp", ".ors":
		return addBlocks(data, set.AddRawOCSP, pemder.TypeOCSPResponse)
	case ".crt", ".cer":
		return addCertificates(set, data)
	case ".p7s", ".p7m", ".p7b":
		return addBlocks(data, func(der []byte) error {
			embedded, err := revinfo.EvidenceFromCMS(der)
			if embedded != nil {
				set.Merge(embedded)
			}
			return err
		}, pemder.TypePKCS7, pemder.TypeCMS)
	case ".pem":
		return addPEM(set, data)
	case ".der":
		return addDER(set, data)
	}
	return ErrUnsupportedFile
}

func addBlocks(data []byte, add func([]byte) error, types ...string) error {
	blocks, err := pemder.Blocks(data, types...)
	if err != nil {
		return err
	}
	var errs []error
	for _, der := range blocks {
		if err := add(der); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func addCertificates(set *revinfo.EvidenceSet, data []byte) error {
	certs, err := pemder.ParseCertificates(data)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		set.AddCertificate(cert)
	}
	return nil
}

// addPEM dispatches each block of a mixed PEM bundle on its type.
func addPEM(set *revinfo.EvidenceSet, data []byte) error {
	var errs []error
	found := false
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		var err error
		switch block.Type {
		case pemder.TypeCertificate:
			err = addCertificates(set, block.Bytes)
		case pemder.TypeCRL, pemder.TypeCRLShort:
			err = set.AddRawCRL(block.Bytes)
		case pemder.TypeOCSPResponse:
			err = set.AddRawOCSP(block.Bytes)
		case pemder.TypePKCS7, pemder.TypeCMS:
			err = addData(set, ".p7s", block.Bytes)
		default:
			continue
		}
		found = true
		if err != nil {
			errs = append(errs, err)
		}
	}
	if !found {
		return fmt.Errorf("%w: no evidence blocks", ErrUnsupportedFile)
	}
	return errors.Join(errs...)
}

// addDER tries each kind of evidence in turn.
func addDER(set *revinfo.EvidenceSet, data []byte) error {
	if err := set.AddRawCRL(data); err == nil {
		return nil
	}
	if err := set.AddRawOCSP(data); err == nil {
		return nil
	}
	if err := addCertificates(set, data); err == nil {
		return nil
	}
	return fmt.Errorf("%w: not a certificate, CRL or OCSP response", revinfo.ErrMalformedEvidence)
}
