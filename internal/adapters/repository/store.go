// Package repository implements the single-file relational stores backing
// the two leaderboard generations, the incremental builder that merges
// harvested records into them, and the read-only query layer.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/okian/gridwatch/internal/domain/model"
)

// Store wraps one generation file. A Store-level mutex serializes builds
// and queries against the same file; cross-generation ordering is owned by
// the generation manager.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens (or creates) a generation file and ensures the info table
// exists. Category tables are created lazily by the builder, which drops
// and recreates them once per harvest pass.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenStore, path, err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS info (
		event_id INTEGER NOT NULL,
		schema_version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenStore, path, err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the file backing this store.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing store %s: %w", s.path, err)
	}
	return nil
}

// Info returns the store's metadata row. The second return is false when
// the store has never been prepared; exactly one row exists otherwise.
func (s *Store) Info(ctx context.Context) (model.StoreInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readInfo(ctx)
}

func (s *Store) readInfo(ctx context.Context) (model.StoreInfo, bool, error) {
	var info model.StoreInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id, schema_version, updated_at FROM info LIMIT 1`,
	).Scan(&info.EventID, &info.SchemaVersion, &info.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.StoreInfo{}, false, nil
	}
	if err != nil {
		return model.StoreInfo{}, false, fmt.Errorf("reading info row: %w", err)
	}
	return info, true, nil
}

// Prepare stamps the store for an event: it clears any foreign or stale
// content and writes a fresh info row at the current schema version. Used
// on rotation and on first contact with a new event; an incompatible or
// corrupt file is rebuilt from scratch here rather than rejected.
func (s *Store) Prepare(ctx context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok, err := s.readInfo(ctx)
	if err != nil {
		// Corrupt info table: rebuild it.
		if _, derr := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS info`); derr != nil {
			return fmt.Errorf("rebuilding info table: %w", derr)
		}
		if _, cerr := s.db.ExecContext(ctx, `CREATE TABLE info (
			event_id INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`); cerr != nil {
			return fmt.Errorf("rebuilding info table: %w", cerr)
		}
		ok = false
	}
	if ok && info.EventID == eventID {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("preparing store: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"crews", "players"} {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("preparing store: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM info`); err != nil {
		return fmt.Errorf("preparing store: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO info (event_id, schema_version, updated_at) VALUES (?, ?, 0)`,
		eventID, model.SchemaVersion,
	); err != nil {
		return fmt.Errorf("preparing store: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("preparing store: %w", err)
	}
	return nil
}

// hasTable reports whether the named table exists in this file.
func (s *Store) hasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return n > 0, nil
}
