package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/georgepadayatti/goades/certvalidator"
	"github.com/georgepadayatti/goades/certvalidator/revinfo"
	"github.com/georgepadayatti/goades/config"
	"github.com/georgepadayatti/goades/logging"
	"github.com/georgepadayatti/goades/pemder"
	"github.com/georgepadayatti/goades/store"
)

// Exit codes of the revocation command
const (
	ExitNotRevoked = 0
	ExitError      = 1
	ExitRevoked    = 2
	ExitNoEvidence = 3
)

// Resolution states reported in command output
const (
	StateRevoked    = "REVOKED"
	StateNotRevoked = "NOT_REVOKED"
	StateNoEvidence = "NO_EVIDENCE"
)

// ReasonNoEvidence is reported when no valid CRL or OCSP response covers
// the certificate.
const ReasonNoEvidence = "no valid revocation data found"


// RevocationOptions contains options for the revocation command.
type RevocationOptions struct {
	ConfigFile    string
	Cert          string
	Chain         fileList
	CRLs          fileList
	OCSPResponses fileList
	CMS           fileList
	Evidence      fileList
	At            string
	JSON          bool
	Metrics       bool

	// Overrides of the configuration file; nil keeps the configured value.
	PreferOCSP       *bool
	IncludeDeltaCRLs *bool
	Lint             *bool
}

// RevocationCommand implements the 'revocation' command.
func RevocationCommand(args []string) {
	fs := flag.NewFlagSet("revocation", flag.ExitOnError)

	var opts RevocationOptions
	var preferOCSP, includeDelta, lint bool

	fs.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&opts.Cert, "cert", "", "Certificate to check (PEM or DER)")
	fs.Var(&opts.Chain, "chain", "Issuer certificate file, repeatable")
	fs.Var(&opts.CRLs, "crl", "CRL file, repeatable")
	fs.Var(&opts.OCSPResponses, "ocsp", "OCSP response file, repeatable")
	fs.Var(&opts.CMS, "cms", "CMS signed data carrying certificates and revocation info, repeatable")
	fs.Var(&opts.Evidence, "evidence", "Evidence file of any supported kind, repeatable")
	fs.StringVar(&opts.At, "at", "", "Validation time (RFC 3339), defaults to now")
	fs.BoolVar(&preferOCSP, "prefer-ocsp", true, "Consult OCSP responses before CRLs")
	fs.BoolVar(&includeDelta, "include-delta-crls", false, "Let delta CRLs compete as stand-alone evidence")
	fs.BoolVar(&lint, "lint", false, "Lint every loaded CRL")
	fs.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	fs.BoolVar(&opts.Metrics, "metrics", false, "Print collected metrics to stderr")

	fs.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s revocation [options] -cert <cert.pem>\n\n", os.Args[0])
		fmt.Fprintln(stdout, "Determine the revocation status of a certificate from offline CRLs and OCSP responses.")
		fmt.Fprintln(stdout, "")
		fmt.Fprintln(stdout, "Options:")
		fs.SetOutput(stdout)
		fs.PrintDefaults()
		fmt.Fprintln(stdout, "")
		fmt.Fprintln(stdout, "Exit status:")
		fmt.Fprintln(stdout, "  0  not revoked")
		fmt.Fprintln(stdout, "  1  error")
		fmt.Fprintln(stdout, "  2  revoked")
		fmt.Fprintln(stdout, "  3  no valid evidence")
		fmt.Fprintln(stdout, "")
		fmt.Fprintln(stdout, "Examples:")
		fmt.Fprintf(stdout, "  %s revocation -cert leaf.pem -chain ca.pem -crl ca.crl\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s revocation -cert leaf.pem -chain ca.pem -ocsp leaf.ocsp -prefer-ocsp=false\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s revocation -config goades.yaml -at 2024-06-01T00:00:00Z -cert leaf.pem\n", os.Args[0])
	}

	if err := fs.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(ExitError)
		return
	}
	if flagSet(fs, "prefer-ocsp") {
		opts.PreferOCSP = &preferOCSP
	}
	if flagSet(fs, "include-delta-crls") {
		opts.IncludeDeltaCRLs = &includeDelta
	}
	if flagSet(fs, "lint") {
		opts.Lint = &lint
	}

	if opts.Cert == "" {
		if fs.NArg() < 1 {
			fs.Usage()
			osExit(ExitError)
			return
		}
		opts.Cert = fs.Arg(0)
	}

	output, registry, err := checkRevocation(context.Background(), &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(ExitError)
		return
	}

	if opts.JSON {
		if err := outputJSON(stdout, output); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			osExit(ExitError)
			return
		}
	} else {
		outputText(stdout, output)
	}
	if opts.Metrics {
		if err := writeMetrics(os.Stderr, registry); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing metrics: %v\n", err)
		}
	}

	osExit(output.ExitCode())
}

// RevocationOutput is the JSON-serializable result of the revocation command.
type RevocationOutput struct {
	Session        string           `json:"session"`
	ValidationTime string           `json:"validation_time"`
	Certificate    *CertificateInfo `json:"certificate"`
	State          string           `json:"state"`
	Status         string           `json:"revocation_status"`
	RevocationDate string           `json:"revocation_date,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Evidence       *EvidenceInfo    `json:"evidence,omitempty"`
	Loaded         EvidenceCounts   `json:"loaded"`
	Lint           []CRLLintResult  `json:"lint,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// ExitCode maps the resolved state to the command exit status.
func (o *RevocationOutput) ExitCode() int {
	switch o.State {
	case StateRevoked:
		return ExitRevoked
	case StateNotRevoked:
		return ExitNotRevoked
	default:
		return ExitNoEvidence
	}
}

// CertificateInfo contains certificate information for JSON output.
type CertificateInfo struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
	IssuerID  string `json:"issuer_id,omitempty"`
}

// EvidenceInfo describes the evidence a status was derived from.
type EvidenceInfo struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Source       string `json:"source"`
	ThisUpdate   string `json:"this_update"`
	NextUpdate   string `json:"next_update,omitempty"`
	Fresh        bool   `json:"fresh"`
	Validity     string `json:"validity"`
	SignedBy     string `json:"signed_by,omitempty"`
	Abbreviation string `json:"abbreviation"`
}

// EvidenceCounts counts the loaded evidence.
type EvidenceCounts struct {
	Certificates  int `json:"certificates"`
	CRLs          int `json:"crls"`
	OCSPResponses int `json:"ocsp_responses"`
}

// CRLLintResult holds the lint findings of one CRL.
type CRLLintResult struct {
	CRL      string   `json:"crl"`
	Issuer   string   `json:"issuer"`
	Findings []string `json:"findings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// loadConfig reads the configuration file, if any, and applies the
// command-line overrides.
func loadConfig(opts *RevocationOptions) (*config.AppConfig, error) {
	conf := config.DefaultAppConfig()
	if opts.ConfigFile != "" {
		var err error
		if conf, err = config.LoadAppConfig(opts.ConfigFile); err != nil {
			return nil, err
		}
	}
	if opts.PreferOCSP != nil {
		conf.Revocation.PreferOCSP = opts.PreferOCSP
	}
	if opts.IncludeDeltaCRLs != nil {
		conf.Revocation.IncludeDeltaCRLs = *opts.IncludeDeltaCRLs
	}
	if opts.Lint != nil {
		conf.Revocation.Lint = *opts.Lint
	}
	return conf, nil
}

// newRegistry returns the metrics registry and the registerer the
// revocation metrics are created on.
func newRegistry(conf *config.MetricsConfig) (*prometheus.Registry, prometheus.Registerer) {
	registry := prometheus.NewRegistry()
	if conf == nil || conf.Namespace == "" {
		return registry, registry
	}
	return registry, prometheus.WrapRegistererWithPrefix(conf.Namespace+"_", registry)
}

func validationClock(at string) (clock.Clock, error) {
	if at == "" {
		return clock.New(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return nil, fmt.Errorf("invalid validation time %q: %w", at, err)
	}
	fake := clock.NewFake()
	fake.Set(t)
	return fake, nil
}

// checkRevocation runs the revocation command without printing anything.
func checkRevocation(ctx context.Context, opts *RevocationOptions) (*RevocationOutput, *prometheus.Registry, error) {
	conf, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	clk, err := validationClock(opts.At)
	if err != nil {
		return nil, nil, err
	}

	logger, closer, err := logging.New(conf.Logging)
	if err != nil {
		return nil, nil, err
	}
	defer closer.Close()

	registry, registerer := newRegistry(conf.Metrics)
	metrics := revinfo.NewMetrics(registerer)

	chain, err := pemder.LoadCertificateChain(append([]string{opts.Cert}, opts.Chain...))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	set, warnings, err := gatherEvidence(ctx, conf, opts, logger)
	if err != nil {
		return nil, nil, err
	}

	extra, err := pemder.LoadCertificateFiles(conf.Revocation.Certs)
	if err != nil {
		return nil, nil, err
	}
	certs := append(chain.All(), extra...)
	certs = append(certs, set.Certificates()...)
	certRegistry, err := certvalidator.BuildRegistry(certs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register certificates: %w", err)
	}
	target, ok := certRegistry.TokenFor(chain.EndEntity)
	if !ok {
		return nil, nil, errors.New("target certificate was not registered")
	}

	session := revinfo.NewSession(set, revinfo.Config{
		Logger:           logger,
		Metrics:          metrics,
		Clock:            clk,
		PreferOCSP:       conf.Revocation.PreferOCSPEnabled(),
		IncludeDeltaCRLs: conf.Revocation.IncludeDeltaCRLs,
	})

	tok, err := session.Resolver.Resolve(ctx, target)
	if err != nil {
		return nil, nil, err
	}

	output := &RevocationOutput{
		Session:        session.ID.String(),
		ValidationTime: clk.Now().UTC().Format(time.RFC3339),
		Certificate:    certificateInfo(target),
		Loaded: EvidenceCounts{
			Certificates:  certRegistry.Count(),
			CRLs:          len(set.CRLs()),
			OCSPResponses: len(set.OCSPResponses()),
		},
		Warnings: warnings,
	}
	fillResolution(output, tok)

	if conf.Revocation.Lint {
		output.Lint = lintCRLs(set.CRLs())
	}
	return output, registry, nil
}

// gatherEvidence loads every CRL, OCSP response and CMS structure named by
// the configuration and the command line, then the configured store.
// Explicitly named files must parse; partial failures inside CMS
// structures and stores are returned as warnings.
func gatherEvidence(ctx context.Context, conf *config.AppConfig, opts *RevocationOptions, logger *slog.Logger) (*revinfo.EvidenceSet, []string, error) {
	set := revinfo.NewEvidenceSet()
	var warnings []string

	crlFiles := append(append([]string{}, conf.Revocation.CRLs...), opts.CRLs...)
	for _, name := range crlFiles {
		if err := addFileBlocks(name, set.AddRawCRL, pemder.TypeCRL, pemder.TypeCRLShort); err != nil {
			return nil, nil, err
		}
	}

	ocspFiles := append(append([]string{}, conf.Revocation.OCSPResponses...), opts.OCSPResponses...)
	for _, name := range ocspFiles {
		if err := addFileBlocks(name, set.AddRawOCSP, pemder.TypeOCSPResponse); err != nil {
			return nil, nil, err
		}
	}

	for _, name := range opts.CMS {
		err := addFileBlocks(name, func(der []byte) error {
			embedded, err := revinfo.EvidenceFromCMS(der)
			if embedded == nil {
				return err
			}
			set.Merge(embedded)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", name, err))
			}
			return nil
		}, pemder.TypePKCS7, pemder.TypeCMS)
		if err != nil {
			return nil, nil, err
		}
	}

	for _, name := range opts.Evidence {
		if err := store.AddFile(set, name); err != nil {
			return nil, nil, err
		}
	}

	s, err := store.Open(ctx, conf.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	if s != nil {
		defer s.Close()
		stored, err := s.Load(ctx)
		if stored == nil {
			return nil, nil, fmt.Errorf("failed to load evidence store: %w", err)
		}
		set.Merge(stored)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("evidence store: %v", err))
		}
	}

	return set, warnings, nil
}

func addFileBlocks(name string, add func([]byte) error, types ...string) error {
	blocks, err := pemder.ReadBlocks(name, types...)
	if err != nil {
		return err
	}
	for _, der := range blocks {
		if err := add(der); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func certificateInfo(tok *certvalidator.CertificateToken) *CertificateInfo {
	cert := tok.Certificate()
	info := &CertificateInfo{
		ID:        tok.ID(),
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		Serial:    fmt.Sprintf("%X", cert.SerialNumber),
		NotBefore: cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:  cert.NotAfter.UTC().Format(time.RFC3339),
	}
	if issuer, ok := tok.Issuer(); ok {
		info.IssuerID = issuer.ID()
	}
	return info
}

func fillResolution(output *RevocationOutput, tok *revinfo.RevocationToken) {
	if tok == nil {
		output.State = StateNoEvidence
		output.Status = revinfo.StatusUnknown.String()
		output.Reason = ReasonNoEvidence
		return
	}

	output.State = StateNotRevoked
	output.Status = tok.Status.String()
	if tok.Revoked() {
		output.State = StateRevoked
		if tok.RevocationDate != nil {
			output.RevocationDate = tok.RevocationDate.UTC().Format(time.RFC3339)
		}
		if tok.Reason != nil {
			output.Reason = tok.Reason.String()
		}
	}

	ev := &EvidenceInfo{
		ID:           tok.EvidenceID(),
		ThisUpdate:   tok.ThisUpdate.UTC().Format(time.RFC3339),
		Fresh:        tok.Fresh(),
		Validity:     tok.Validity.String(),
		Abbreviation: tok.Abbreviation(),
	}
	if tok.Evidence != nil {
		ev.Kind = tok.Evidence.Kind().String()
	}
	if tok.NextUpdate != nil {
		ev.NextUpdate = tok.NextUpdate.UTC().Format(time.RFC3339)
	}
	if tok.Validity.Issuer != nil {
		ev.Source = tok.Validity.Issuer.Subject().String()
		ev.SignedBy = tok.Validity.Issuer.ID()
	}
	output.Evidence = ev
}

func lintCRLs(crls []*revinfo.CRLEvidence) []CRLLintResult {
	results := make([]CRLLintResult, 0, len(crls))
	for _, crl := range crls {
		result := CRLLintResult{
			CRL:    crl.ID(),
			Issuer: crl.RevocationList().Issuer.String(),
		}
		findings, err := revinfo.LintCRL(crl)
		if err != nil {
			result.Error = err.Error()
		}
		for _, f := range findings {
			result.Findings = append(result.Findings, f.String())
		}
		results = append(results, result)
	}
	return results
}

func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// outputJSON outputs the results in JSON format.
func outputJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// outputText outputs the results in human-readable text format.
func outputText(w io.Writer, output *RevocationOutput) {
	fmt.Fprintf(w, "Revocation Check Results\n")
	fmt.Fprintf(w, "========================\n\n")

	cert := output.Certificate
	fmt.Fprintf(w, "Certificate\n")
	fmt.Fprintf(w, "-----------\n")
	fmt.Fprintf(w, "  Subject: %s\n", cert.Subject)
	fmt.Fprintf(w, "  Issuer: %s\n", cert.Issuer)
	fmt.Fprintf(w, "  Serial: %s\n", cert.Serial)
	fmt.Fprintf(w, "  ID: %s\n", cert.ID)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Loaded %d certificate(s), %d CRL(s), %d OCSP response(s)\n\n",
		output.Loaded.Certificates, output.Loaded.CRLs, output.Loaded.OCSPResponses)

	fmt.Fprintf(w, "Status: %s\n", output.State)
	fmt.Fprintf(w, "  Revocation status: %s\n", output.Status)
	fmt.Fprintf(w, "  Validation time: %s\n", output.ValidationTime)
	if output.RevocationDate != "" {
		fmt.Fprintf(w, "  Revoked at: %s\n", output.RevocationDate)
	}
	if output.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", output.Reason)
	}

	if ev := output.Evidence; ev != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Evidence\n")
		fmt.Fprintf(w, "--------\n")
		fmt.Fprintf(w, "  %s %s\n", ev.Kind, ev.ID)
		fmt.Fprintf(w, "  Source: %s\n", ev.Source)
		fmt.Fprintf(w, "  This update: %s\n", ev.ThisUpdate)
		if ev.NextUpdate != "" {
			fmt.Fprintf(w, "  Next update: %s\n", ev.NextUpdate)
		}
		fmt.Fprintf(w, "  Fresh: %v\n", ev.Fresh)
		fmt.Fprintf(w, "  Validity: %s\n", ev.Validity)
	}

	if len(output.Lint) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "CRL Lint\n")
		fmt.Fprintf(w, "--------\n")
		for _, result := range output.Lint {
			writeLintResult(w, result)
		}
	}

	if len(output.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Warnings:\n")
		for _, warning := range output.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

func writeLintResult(w io.Writer, result CRLLintResult) {
	fmt.Fprintf(w, "  %s (%s)\n", result.Issuer, result.CRL)
	if result.Error != "" {
		fmt.Fprintf(w, "    error: %s\n", result.Error)
		return
	}
	if len(result.Findings) == 0 {
		fmt.Fprintf(w, "    no findings\n")
	}
	for _, f := range result.Findings {
		fmt.Fprintf(w, "    %s\n", f)
	}
}
