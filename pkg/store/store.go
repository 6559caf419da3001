// Package store provides the durable thread/session store: delegation-shaped
// conversation threads, per-thread message logs, thread-scoped environment
// data, usage rollups and transcript export, backed by SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/loomlab/loom/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned for unknown threads, messages or env keys
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for malformed arguments
	ErrInvalid = errors.New("invalid argument")
)

// Store is the durable thread/session store
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// New opens (and migrates) the store at the given path
func New(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrInvalid)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets concurrent readers proceed while a writer appends; the busy
	// timeout makes contending writers wait bounded time instead of failing
	// immediately with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Thread store opened")

	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
