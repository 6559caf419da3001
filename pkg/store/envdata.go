package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loomlab/loom/internal/observability"
)

// EnvEntry is one thread-scoped shared data entry. Entries are keyed by the
// resolved root thread, so every thread in one delegation tree sees the same
// data and unrelated conversations never do.
type EnvEntry struct {
	RootThreadID string      `json:"root_thread_id"`
	Key          string      `json:"key"`
	Description  string      `json:"short_description"`
	Value        interface{} `json:"value"`
	StoredBy     string      `json:"stored_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// EnvSummary is the discovery shape: key and description only, values are
// deliberately omitted so listing stays cheap.
type EnvSummary struct {
	Key         string `json:"key"`
	Description string `json:"short_description"`
	StoredBy    string `json:"stored_by"`
}

// StoreEnvData creates or replaces the entry for (root thread, key)
func (s *Store) StoreEnvData(ctx context.Context, threadID, key, description string, value interface{}, storedBy string) error {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("store_env_data", time.Since(start))
	}()

	if key == "" {
		return fmt.Errorf("%w: env key is required", ErrInvalid)
	}

	rootID, err := s.ResolveRootThread(ctx, threadID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: unserializable value: %v", ErrInvalid, err)
	}

	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO env_data
			(root_thread_id, key, short_description, value, stored_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (root_thread_id, key) DO UPDATE SET
			short_description = excluded.short_description,
			value = excluded.value,
			stored_by = excluded.stored_by,
			updated_at = excluded.updated_at`,
		rootID, key, description, string(data), storedBy, now, now)
	if err != nil {
		return fmt.Errorf("failed to store env data: %w", err)
	}

	s.logger.Debug().
		Str("root_thread_id", rootID).
		Str("key", key).
		Str("stored_by", storedBy).
		Msg("Env data stored")

	return nil
}

// GetEnvData loads the entry for (root thread of threadID, key)
func (s *Store) GetEnvData(ctx context.Context, threadID, key string) (*EnvEntry, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("get_env_data", time.Since(start))
	}()

	rootID, err := s.ResolveRootThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT root_thread_id, key, short_description, value, stored_by, created_at, updated_at
		 FROM env_data WHERE root_thread_id = ? AND key = ?`, rootID, key)

	var (
		entry     EnvEntry
		value     sql.NullString
		createdAt int64
		updatedAt int64
	)
	err = row.Scan(&entry.RootThreadID, &entry.Key, &entry.Description,
		&value, &entry.StoredBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: env key %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load env data: %w", err)
	}

	entry.CreatedAt = time.UnixMilli(createdAt)
	entry.UpdatedAt = time.UnixMilli(updatedAt)

	if value.Valid && value.String != "" {
		if err := json.Unmarshal([]byte(value.String), &entry.Value); err != nil {
			return nil, fmt.Errorf("corrupt env value: %w", err)
		}
	}

	return &entry, nil
}

// ListEnvData returns keys and short descriptions visible from a thread
func (s *Store) ListEnvData(ctx context.Context, threadID string) ([]EnvSummary, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("list_env_data", time.Since(start))
	}()

	rootID, err := s.ResolveRootThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, short_description, stored_by FROM env_data
		 WHERE root_thread_id = ? ORDER BY key`, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to list env data: %w", err)
	}
	defer rows.Close()

	var summaries []EnvSummary
	for rows.Next() {
		var s EnvSummary
		if err := rows.Scan(&s.Key, &s.Description, &s.StoredBy); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// UpdateEnvData replaces the value of an existing key. Unlike StoreEnvData
// it fails with ErrNotFound when the key is absent.
func (s *Store) UpdateEnvData(ctx context.Context, threadID, key string, value interface{}, storedBy string) error {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("update_env_data", time.Since(start))
	}()

	rootID, err := s.ResolveRootThread(ctx, threadID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: unserializable value: %v", ErrInvalid, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE env_data SET value = ?, stored_by = ?, updated_at = ?
		 WHERE root_thread_id = ? AND key = ?`,
		string(data), storedBy, time.Now().UnixMilli(), rootID, key)
	if err != nil {
		return fmt.Errorf("failed to update env data: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: env key %q", ErrNotFound, key)
	}

	return nil
}

// DeleteEnvData removes a key from the thread's root scope
func (s *Store) DeleteEnvData(ctx context.Context, threadID, key string) error {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("delete_env_data", time.Since(start))
	}()

	rootID, err := s.ResolveRootThread(ctx, threadID)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM env_data WHERE root_thread_id = ? AND key = ?`, rootID, key)
	if err != nil {
		return fmt.Errorf("failed to delete env data: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: env key %q", ErrNotFound, key)
	}

	return nil
}
