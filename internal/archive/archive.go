// Package archive stores analysis runs in SQLite or PostgreSQL so earlier
// results can be listed, fetched again, or matched by input fingerprint.
package archive

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/lawnchairsociety/balancelab/internal/logger"
)

// DefaultListLimit is used by ListRuns when no positive limit is given.
const DefaultListLimit = 20

// ErrRunNotFound is returned when a run lookup fails.
var ErrRunNotFound = errors.New("run not found")

// Run is one archived analysis.
type Run struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Fingerprint string          `json:"fingerprint"`
	Input       json.RawMessage `json:"input"`
	Result      json.RawMessage `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Archive wraps the database connection.
type Archive struct {
	db      *sql.DB
	dialect Dialect
	qb      *QueryBuilder
}

// Open connects to the archive described by cfg and creates the schema if
// needed.
func Open(cfg Config) (*Archive, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case DialectSQLite, "":
		db, err = openSQLite(cfg)
	case DialectPostgres:
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	dialect := NewDialect(cfg.Driver)
	for _, stmt := range dialect.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", stmt, err)
		}
	}

	a := &Archive{db: db, dialect: dialect, qb: NewQueryBuilder(dialect)}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Archive opened", "driver", dialect.DriverName())
	return a, nil
}

func openSQLite(cfg Config) (*sql.DB, error) {
	path := cfg.SQLitePath
	if cfg.DSN != "" {
		path = cfg.DSN
	}
	if path == "" {
		return nil, errors.New("sqlite archive requires a path")
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	// PRAGMAs apply per connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Postgres.connString()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if cfg.Postgres.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	}
	if cfg.Postgres.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	}
	if cfg.Postgres.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to archive: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Dialect returns the SQL dialect in use.
func (a *Archive) Dialect() Dialect {
	return a.dialect
}

func (a *Archive) migrate() error {
	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			input %[1]s NOT NULL,
			result %[1]s NOT NULL,
			created_at %[2]s NOT NULL
		)`, a.dialect.JSONType(), a.dialect.TimestampType()),
		`CREATE INDEX IF NOT EXISTS idx_runs_kind_fingerprint ON runs(kind, fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}

	for _, m := range migrations {
		if _, err := a.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint returns the hex blake2b-256 digest of kind and the JSON form of
// input. Equal inputs of the same kind always share a fingerprint.
func Fingerprint(kind string, input any) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode input: %w", err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SaveRun archives one analysis and returns the stored run.
func (a *Archive) SaveRun(kind string, input, result any) (*Run, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, errors.New("run kind cannot be empty")
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	fp, err := Fingerprint(kind, input)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:          uuid.New().String(),
		Kind:        kind,
		Fingerprint: fp,
		Input:       inputJSON,
		Result:      resultJSON,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = a.db.Exec(
		a.qb.Build("INSERT INTO runs (id, kind, fingerprint, input, result, created_at) VALUES (?, ?, ?, ?, ?, ?)"),
		run.ID, run.Kind, run.Fingerprint, string(run.Input), string(run.Result), run.CreatedAt,
	)
	if err != nil {
		if a.dialect.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("run %s already archived: %w", run.ID, err)
		}
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	logger.Debug("Run archived", "id", run.ID, "kind", kind, "fingerprint", fp)
	return run, nil
}

const runColumns = "id, kind, fingerprint, input, result, created_at"

// GetRun returns the run with the given ID, or ErrRunNotFound.
func (a *Archive) GetRun(id string) (*Run, error) {
	row := a.db.QueryRow(a.qb.Build("SELECT "+runColumns+" FROM runs WHERE id = ?"), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// FindByFingerprint returns the most recent run of kind with the given
// fingerprint, or ErrRunNotFound.
func (a *Archive) FindByFingerprint(kind, fingerprint string) (*Run, error) {
	row := a.db.QueryRow(
		a.qb.Build("SELECT "+runColumns+" FROM runs WHERE kind = ? AND fingerprint = ? ORDER BY created_at DESC LIMIT 1"),
		kind, fingerprint,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. An empty kind lists every
// kind.
func (a *Archive) ListRuns(kind string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := "SELECT " + runColumns + " FROM runs"
	args := []any{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.Query(a.qb.Build(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run           Run
		input, result []byte
	)
	if err := s.Scan(&run.ID, &run.Kind, &run.Fingerprint, &input, &result, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Input = json.RawMessage(input)
	run.Result = json.RawMessage(result)
	return &run, nil
}
