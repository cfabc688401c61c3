// Package requestlog persists a history of proxied requests to SQLite so
// long fault-injection sessions can be inspected after the fact.
// Writes are asynchronous; the proxy hot path never blocks on the
// database.
package requestlog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/frayproxy/fray/internal/proxy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repo wraps the history database.
type Repo struct {
	db *sql.DB
}

// OpenRepo opens (creating if needed) the history database at path and
// applies pending migrations.
func OpenRepo(path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("requestlog: open %s: %w", path, err)
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func migrateDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("requestlog: init migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("requestlog: init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("requestlog: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("requestlog: migrate up: %w", err)
	}
	return nil
}

// InsertBatch writes entries in one transaction.
func (r *Repo) InsertBatch(entries []proxy.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("requestlog: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO request_history
		(id, task_id, ts_ns, client_ip, http_method, target_host, target_url,
		 is_connect, faulted, fault_kind, http_status, duration_ns, bytes_down, bytes_up, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("requestlog: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(
			uuid.NewString(), uint64(e.TaskID), e.StartedAtNs, e.ClientIP, e.Method,
			e.TargetHost, e.TargetURL, boolInt(e.IsConnect), boolInt(e.Faulted),
			e.FaultKind, e.HTTPStatus, e.DurationNs, e.BytesDown, e.BytesUp, e.Error,
		); err != nil {
			return fmt.Errorf("requestlog: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored entries.
func (r *Repo) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM request_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("requestlog: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (r *Repo) Close() error { return r.db.Close() }

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
