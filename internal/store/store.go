package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/attest/internal/ledger"
)

//go:embed schema.sql
var schemaSQL string

//go:embed schema_postgres.sql
var schemaPostgresSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added party lookup index on index_entries and record_key index for FK checks
const currentSchemaVersion = 1

// Dialect selects SQL placeholder style and schema.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// String returns the driver name for the dialect.
func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// Store is a SQL-backed ledger.Backend.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ ledger.Backend = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &Store{db: db, dialect: SQLite}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// OpenPostgres connects to a PostgreSQL database and applies the schema.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dialect: Postgres}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// New wraps an existing connection without touching its schema.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func (s *Store) applySchema() error {
	ddl := schemaSQL
	if s.dialect == Postgres {
		ddl = schemaPostgresSQL
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on the stored
// schema version (PRAGMA user_version on SQLite, attest_schema on Postgres).
func (s *Store) runMigrations() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		if err := migrateToV1(s.db); err != nil {
			return err
		}
	}

	return s.setSchemaVersion(currentSchemaVersion)
}

func (s *Store) schemaVersion() (int, error) {
	var version int
	if s.dialect == Postgres {
		err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM attest_schema").Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("get schema version: %w", err)
		}
		return version, nil
	}
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(version int) error {
	if s.dialect == Postgres {
		if _, err := s.db.Exec("DELETE FROM attest_schema"); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO attest_schema (version) VALUES ($1)", version); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the lookup indexes used by List and by foreign key checks.
// CREATE INDEX IF NOT EXISTS is a no-op on databases that already have them.
func migrateToV1(db *sql.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_index_entries_party
		 ON index_entries(ledger, party)`,
		`CREATE INDEX IF NOT EXISTS idx_index_entries_record
		 ON index_entries(ledger, record_key)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Update implements ledger.Backend. fn runs inside one SQL transaction that
// is committed only if fn returns nil.
func (s *Store) Update(ctx context.Context, name string, fn func(tx ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{store: s, ctx: ctx, q: sqlTx, ledger: name}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View implements ledger.Backend.
func (s *Store) View(ctx context.Context, name string, fn func(r ledger.Reader) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&tx{store: s, ctx: ctx, q: sqlTx, ledger: name})
}
