package offline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the agent's sqlite database. It holds cache generations and,
// with the sqlite queue driver, the offline queue.
type Store struct {
	db *sql.DB
}

// FileDSN is the sqlite DSN for a database file. Connection pragmas go in the
// DSN so every pooled connection gets them.
func FileDSN(path string) string {
	return "file:" + path + "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
}

// OpenStore opens (creating when needed) the database at dsn and applies
// migrations.
func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, WrapError(ErrorStorage, "open database", err)
	}
	// Each in-memory connection is its own database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, WrapError(ErrorStorage, "enable foreign keys", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, WrapError(ErrorStorage, "migrate database", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cache_generations (
			name TEXT PRIMARY KEY,
			active INTEGER NOT NULL DEFAULT 0,
			installed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			generation TEXT NOT NULL,
			url TEXT NOT NULL,
			status INTEGER NOT NULL,
			headers TEXT,
			body BLOB,
			stored_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (generation, url),
			FOREIGN KEY (generation) REFERENCES cache_generations(name) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS offline_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			source TEXT,
			captured_at DATETIME NOT NULL,
			payload TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
