package store

import "fmt"

// migration is one incremental schema step. Migrations are applied in order
// inside a transaction; schema_version records the last applied version.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				owning_agent TEXT NOT NULL,
				parent_thread_id TEXT,
				parent_message_id INTEGER,
				parent_agent TEXT,
				thread_type TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				source TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				metadata TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_thread_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(owning_agent)`,
			`CREATE TABLE IF NOT EXISTS messages (
				thread_id TEXT NOT NULL,
				sequence_id INTEGER NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				from_agent TEXT NOT NULL DEFAULT '',
				tool_calls TEXT,
				tool_results TEXT,
				usage TEXT,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (thread_id, sequence_id),
				FOREIGN KEY (thread_id) REFERENCES sessions(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp INTEGER NOT NULL,
				from_id TEXT NOT NULL,
				to_id TEXT NOT NULL,
				message TEXT NOT NULL,
				summary TEXT NOT NULL DEFAULT ''
			)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS env_data (
				root_thread_id TEXT NOT NULL,
				key TEXT NOT NULL,
				short_description TEXT NOT NULL DEFAULT '',
				value TEXT,
				stored_by TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (root_thread_id, key)
			)`,
		},
	},
}

// migrate applies pending migrations incrementally
func (s *Store) migrate() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	); err != nil {
		return err
	}

	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}

		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		s.logger.Info().Int("version", m.version).Msg("Schema migration applied")
	}

	return nil
}

// SchemaVersion returns the current schema version
func (s *Store) SchemaVersion() (int, error) {
	var version int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
