package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/georgepadayatti/goades/certvalidator"
	"github.com/georgepadayatti/goades/certvalidator/revinfo"
)

// Row kinds of the evidence table.
const (
	RowKindCertificate = "cert"
	RowKindCRL         = "crl"
	RowKindOCSP        = "ocsp"
)

// querier is the subset of *pgxpool.Pool used by PostgresStore.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore keeps evidence in a table of the form
//
//	CREATE TABLE revocation_evidence (
//	    seq         BIGSERIAL,
//	    evidence_id TEXT PRIMARY KEY,
//	    kind        TEXT NOT NULL,
//	    data        BYTEA NOT NULL
//	);
//
// Rows load in seq order.
type PostgresStore struct {
	db      querier
	pool    *pgxpool.Pool
	table   string
	timeout time.Duration
	log     *slog.Logger
}

// NewPostgresStore connects to the database at dsn.
func NewPostgresStore(ctx context.Context, dsn, table string, timeout time.Duration, logger *slog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := newPostgresStore(pool, table, timeout, logger)
	s.pool = pool
	return s, nil
}

func newPostgresStore(db querier, table string, timeout time.Duration, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:      db,
		table:   quoteTable(table),
		timeout: timeout,
		log:     logger,
	}
}

// quoteTable quotes a possibly schema-qualified table name.
func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// EnsureSchema creates the evidence table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL,
	evidence_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	data BYTEA NOT NULL
)`, s.table)
	if _, err := s.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create evidence table: %w", err)
	}
	return nil
}

// Load reads every row of the evidence table.
func (s *PostgresStore) Load(ctx context.Context) (*revinfo.EvidenceSet, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT kind, data FROM %s ORDER BY seq", s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	set := revinfo.NewEvidenceSet()
	var errs []error
	for rows.Next() {
		var kind string
		var data []byte
		if err := rows.Scan(&kind, &data); err != nil {
			return nil, fmt.Errorf("failed to scan evidence row: %w", err)
		}
		if err := addRow(set, kind, data); err != nil {
			s.log.Warn("skipping evidence row", "kind", kind, "error", err)
			errs = append(errs, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read evidence rows: %w", err)
	}

	s.log.Info("loaded evidence table",
		"table", s.table,
		"certificates", len(set.Certificates()),
		"crls", len(set.CRLs()),
		"ocsp_responses", len(set.OCSPResponses()))
	return set, errors.Join(errs...)
}

func addRow(set *revinfo.EvidenceSet, kind string, data []byte) error {
	switch kind {
	case RowKindCRL:
		return set.AddRawCRL(data)
	case RowKindOCSP:
		return set.AddRawOCSP(data)
	case RowKindCertificate:
		tok, err := certvalidator.ParseCertificateToken(data)
		if err != nil {
			return err
		}
		set.AddCertificate(tok.Certificate())
		return nil
	default:
		return fmt.Errorf("unknown evidence kind %q", kind)
	}
}

// Save inserts everything in set. Rows already present are left alone.
func (s *PostgresStore) Save(ctx context.Context, set *revinfo.EvidenceSet) error {
	batch, err := s.saveBatch(set)
	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	results := s.db.SendBatch(ctx, batch)
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to save evidence: %w", err)
	}
	s.log.Info("saved evidence", "table", s.table, "rows", batch.Len())
	return nil
}

func (s *PostgresStore) saveBatch(set *revinfo.EvidenceSet) (*pgx.Batch, error) {
	sql := fmt.Sprintf("INSERT INTO %s (evidence_id, kind, data) VALUES ($1, $2, $3) ON CONFLICT (evidence_id) DO NOTHING", s.table)

	batch := &pgx.Batch{}
	for _, cert := range set.Certificates() {
		tok, err := certvalidator.NewCertificateToken(cert)
		if err != nil {
			return nil, err
		}
		batch.Queue(sql, tok.ID(), RowKindCertificate, cert.Raw)
	}
	for _, crl := range set.CRLs() {
		batch.Queue(sql, crl.ID(), RowKindCRL, crl.Raw())
	}
	for _, resp := range set.OCSPResponses() {
		batch.Queue(sql, resp.ID(), RowKindOCSP, resp.Raw())
	}
	return batch, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
