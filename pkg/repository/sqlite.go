package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/atelier/pkg/interfaces"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// InMemory can be passed to NewSQLite as dataDir to keep every namespace in
// an in-memory database
const InMemory = ":memory:"

// SQLite stores each namespace in its own database file under dataDir
type SQLite struct {
	dataDir string

	mu  sync.Mutex
	dbs map[string]*sqliteNamespace
}

var _ interfaces.Opener = (*SQLite)(nil)

// NewSQLite creates a SQLite backend. Databases are created lazily by Open.
func NewSQLite(dataDir string) *SQLite {
	return &SQLite{
		dataDir: dataDir,
		dbs:     make(map[string]*sqliteNamespace),
	}
}

// Open opens (or creates) the database of namespace and applies pending
// migrations. The same handle is returned for repeated calls.
func (s *SQLite) Open(ctx context.Context, namespace string) (interfaces.Persistence, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, ok := s.dbs[namespace]; ok {
		return ns, nil
	}

	dsn, err := s.dsn(namespace)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.T(model.TagStorage), goerr.V("dsn", dsn))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to ping database", goerr.T(model.TagStorage), goerr.V("dsn", dsn))
	}

	// A single connection keeps one in-memory database per namespace and
	// avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to set busy timeout", goerr.T(model.TagStorage))
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to migrate database", goerr.T(model.TagStorage), goerr.V("namespace", namespace))
	}

	ns := &sqliteNamespace{db: db}
	s.dbs[namespace] = ns
	return ns, nil
}

func (s *SQLite) dsn(namespace string) (string, error) {
	if s.dataDir == InMemory {
		return InMemory, nil
	}
	if s.dataDir == "" {
		return "", goerr.New("data directory is not configured", goerr.T(model.TagUnsupported))
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return "", goerr.Wrap(err, "data directory can not be created", goerr.T(model.TagUnsupported),
			goerr.V("dir", s.dataDir))
	}
	return filepath.Join(s.dataDir, namespace+".db"), nil
}

// Close closes every opened database
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, ns := range s.dbs {
		if err := ns.db.Close(); err != nil {
			errs = append(errs, goerr.Wrap(err, "failed to close database", goerr.T(model.TagStorage), goerr.V("namespace", name)))
		}
	}
	s.dbs = make(map[string]*sqliteNamespace)
	return errors.Join(errs...)
}

// migrate applies embedded migrations that are not recorded in
// schema_version yet
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return goerr.Wrap(err, "failed to create schema_version table")
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return goerr.Wrap(err, "failed to read migrations directory")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return goerr.Wrap(err, "failed to parse migration version", goerr.V("file", entry.Name()))
		}

		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return goerr.Wrap(err, "failed to check migration", goerr.V("version", version))
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return goerr.Wrap(err, "failed to read migration", goerr.V("file", entry.Name()))
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return goerr.Wrap(err, "failed to begin migration transaction", goerr.V("version", version))
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return goerr.Wrap(err, "failed to apply migration", goerr.V("version", version))
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return goerr.Wrap(err, "failed to record migration", goerr.V("version", version))
		}
		if err := tx.Commit(); err != nil {
			return goerr.Wrap(err, "failed to commit migration", goerr.V("version", version))
		}
	}

	return nil
}

type sqliteNamespace struct {
	db *sql.DB
}

// SchemaVersions returns the applied migration versions in ascending order
func (n *sqliteNamespace) SchemaVersions(ctx context.Context) ([]int, error) {
	rows, err := n.db.QueryContext(ctx, "SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query schema versions", goerr.T(model.TagStorage))
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, goerr.Wrap(err, "failed to scan schema version", goerr.T(model.TagStorage))
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate schema versions", goerr.T(model.TagStorage))
	}
	return versions, nil
}

func (n *sqliteNamespace) Put(ctx context.Context, row *model.Row) error {
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO records (id, timestamp, payload) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET timestamp = excluded.timestamp, payload = excluded.payload`,
		row.ID, row.Timestamp, row.Payload,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to put row", goerr.T(model.TagStorage), goerr.V("id", row.ID))
	}
	return nil
}

func (n *sqliteNamespace) Get(ctx context.Context, id string) (*model.Row, error) {
	var row model.Row
	err := n.db.QueryRowContext(ctx, "SELECT id, timestamp, payload FROM records WHERE id = ?", id).
		Scan(&row.ID, &row.Timestamp, &row.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.New("row not found", goerr.T(model.TagNotFound), goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get row", goerr.T(model.TagStorage), goerr.V("id", id))
	}
	return &row, nil
}

func (n *sqliteNamespace) List(ctx context.Context) ([]*model.Row, error) {
	rows, err := n.db.QueryContext(ctx, "SELECT id, timestamp, payload FROM records ORDER BY timestamp DESC, id ASC")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list rows", goerr.T(model.TagStorage))
	}
	defer rows.Close()

	var result []*model.Row
	for rows.Next() {
		var row model.Row
		if err := rows.Scan(&row.ID, &row.Timestamp, &row.Payload); err != nil {
			return nil, goerr.Wrap(err, "failed to scan row", goerr.T(model.TagStorage))
		}
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate rows", goerr.T(model.TagStorage))
	}
	return result, nil
}

func (n *sqliteNamespace) Delete(ctx context.Context, id string) error {
	if _, err := n.db.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id); err != nil {
		return goerr.Wrap(err, "failed to delete row", goerr.T(model.TagStorage), goerr.V("id", id))
	}
	return nil
}

func (n *sqliteNamespace) Clear(ctx context.Context) error {
	if _, err := n.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return goerr.Wrap(err, "failed to clear rows", goerr.T(model.TagStorage))
	}
	return nil
}

func (n *sqliteNamespace) Count(ctx context.Context) (int, error) {
	var count int
	if err := n.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, goerr.Wrap(err, "failed to count rows", goerr.T(model.TagStorage))
	}
	return count, nil
}
