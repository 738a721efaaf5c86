// Package config loads the YAML configuration of the goades tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnexpectedField      = errors.New("unexpected field in configuration")
	ErrInvalidValue         = errors.New("invalid value")
)

// identifierRegex matches SQL identifiers optionally qualified by a schema,
// like "revocation_evidence" or "pki.revocation_evidence".
var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var namespaceRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store types
const (
	StoreTypeNone      = ""
	StoreTypeDirectory = "directory"
	StoreTypePostgres  = "postgres"
)

// DefaultEvidenceTable is the table read by the postgres store.
const DefaultEvidenceTable = "revocation_evidence"

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// RevocationConfig controls how revocation evidence is selected.
type RevocationConfig struct {
	// PreferOCSP makes OCSP responses take precedence over CRLs. Defaults
	// to true.
	PreferOCSP *bool `yaml:"prefer-ocsp" json:"prefer_ocsp,omitempty"`

	// IncludeDeltaCRLs lets delta CRLs compete as stand-alone evidence.
	IncludeDeltaCRLs bool `yaml:"include-delta-crls" json:"include_delta_crls"`

	// Lint runs the CRL lints over every loaded CRL.
	Lint bool `yaml:"lint" json:"lint"`

	// Certs are paths to certificate files used for issuer linking.
	Certs []string `yaml:"certs" json:"certs,omitempty"`

	// CRLs are paths to CRL files.
	CRLs []string `yaml:"crls" json:"crls,omitempty"`

	// OCSPResponses are paths to OCSP response files.
	OCSPResponses []string `yaml:"ocsp-responses" json:"ocsp_responses,omitempty"`
}

// SetDefaults sets default values for revocation configuration.
func (c *RevocationConfig) SetDefaults() {
	if c.PreferOCSP == nil {
		prefer := true
		c.PreferOCSP = &prefer
	}
}

// PreferOCSPEnabled reports the effective OCSP preference.
func (c *RevocationConfig) PreferOCSPEnabled() bool {
	return c.PreferOCSP == nil || *c.PreferOCSP
}

// StoreConfig selects an additional source of revocation evidence.
type StoreConfig struct {
	// Type is "directory", "postgres" or empty for none.
	Type string `yaml:"type" json:"type,omitempty"`

	// Path is the evidence directory (directory store).
	Path string `yaml:"path" json:"path,omitempty"`

	// DSN is the connection string (postgres store).
	DSN string `yaml:"dsn" json:"dsn,omitempty"`

	// Table is the evidence table (postgres store).
	Table string `yaml:"table" json:"table,omitempty"`

	// Timeout is the load timeout in seconds.
	Timeout int `yaml:"timeout" json:"timeout,omitempty"`
}

// SetDefaults sets default values for store configuration.
func (c *StoreConfig) SetDefaults() {
	if c.Type == StoreTypePostgres && c.Table == "" {
		c.Table = DefaultEvidenceTable
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Type {
	case StoreTypeNone:
		return nil
	case StoreTypeDirectory:
		if c.Path == "" {
			return &ConfigError{Field: "store.path", Message: "required for directory store", Err: ErrMissingRequiredField}
		}
	case StoreTypePostgres:
		if c.DSN == "" {
			return &ConfigError{Field: "store.dsn", Message: "required for postgres store", Err: ErrMissingRequiredField}
		}
		if c.Table != "" && !identifierRegex.MatchString(c.Table) {
			return &ConfigError{Field: "store.table", Message: fmt.Sprintf("'%s' is not a valid table name", c.Table), Err: ErrInvalidValue}
		}
	default:
		return &ConfigError{Field: "store.type", Message: fmt.Sprintf("unknown store type '%s'", c.Type), Err: ErrInvalidValue}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "store.timeout", Message: "must not be negative", Err: ErrInvalidValue}
	}
	return nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "logging.level", Message: fmt.Sprintf("unknown level '%s'", c.Level), Err: ErrInvalidValue}
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format '%s'", c.Format), Err: ErrInvalidValue}
	}
	return nil
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" json:"namespace,omitempty"`
}

// Validate validates the metrics configuration.
func (c *MetricsConfig) Validate() error {
	if c.Namespace != "" && !namespaceRegex.MatchString(c.Namespace) {
		return &ConfigError{Field: "metrics.namespace", Message: fmt.Sprintf("'%s' is not a valid metric namespace", c.Namespace), Err: ErrInvalidValue}
	}
	return nil
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Revocation contains evidence selection settings.
	Revocation *RevocationConfig `yaml:"revocation" json:"revocation,omitempty"`

	// Store contains the evidence store settings.
	Store *StoreConfig `yaml:"store" json:"store,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`

	// Metrics contains metrics configuration.
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics,omitempty"`
}

// DefaultAppConfig returns a configuration with all defaults applied.
func DefaultAppConfig() *AppConfig {
	config := &AppConfig{}
	config.SetDefaults()
	return config
}

// SetDefaults fills in missing sections and default values.
func (c *AppConfig) SetDefaults() {
	if c.Revocation == nil {
		c.Revocation = &RevocationConfig{}
	}
	c.Revocation.SetDefaults()
	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	c.Store.SetDefaults()
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
}

// Validate validates every section.
func (c *AppConfig) Validate() error {
	if c.Store != nil {
		if err := c.Store.Validate(); err != nil {
			return err
		}
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadAppConfig loads the complete application configuration from a file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseAppConfig(data)
}

// ParseAppConfig parses configuration from YAML data, applies defaults and
// validates the result. Unknown keys are rejected.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedField, err)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
