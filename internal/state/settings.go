// Package state persists per-plugin settings and the message audit log.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

const DefaultMaxSettingsBytes = 1 << 20 // 1 MiB

// SettingsStore keeps one JSON object of settings per plugin.
type SettingsStore struct {
	db       *sql.DB
	maxBytes int
	now      func() time.Time
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{
		db:       db,
		maxBytes: DefaultMaxSettingsBytes,
		now:      time.Now,
	}
}

// Get returns the settings object for a plugin, or {} if missing.
func (s *SettingsStore) Get(ctx context.Context, plugin string) (json.RawMessage, error) {
	if plugin == "" {
		return nil, fmt.Errorf("plugin name is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT settings FROM plugin_settings WHERE plugin = ?;", plugin).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin settings: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("stored settings are invalid JSON for plugin=%q", plugin)
	}
	return json.RawMessage(raw), nil
}

// ShallowMerge applies updates as a shallow merge (top-level keys replaced,
// null values remove the key). The merged object is persisted and returned.
func (s *SettingsStore) ShallowMerge(ctx context.Context, plugin string, updates json.RawMessage) (json.RawMessage, error) {
	if plugin == "" {
		return nil, fmt.Errorf("plugin name is empty")
	}

	upd, err := decodeObjectOrEmpty(updates)
	if err != nil {
		return nil, fmt.Errorf("decode settings update: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRaw string
	err = tx.QueryRowContext(ctx, "SELECT settings FROM plugin_settings WHERE plugin = ?;", plugin).Scan(&curRaw)
	if errors.Is(err, sql.ErrNoRows) {
		curRaw = "{}"
	} else if err != nil {
		return nil, fmt.Errorf("read plugin settings: %w", err)
	}

	cur, err := decodeObjectOrEmpty(json.RawMessage(curRaw))
	if err != nil {
		return nil, fmt.Errorf("decode stored settings: %w", err)
	}

	maps.Copy(cur, upd)
	maps.DeleteFunc(cur, func(_ string, v json.RawMessage) bool {
		return string(v) == "null"
	})

	merged, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("marshal merged settings: %w", err)
	}
	if len(merged) > s.maxBytes {
		return nil, fmt.Errorf("plugin settings exceed max size (%d bytes)", s.maxBytes)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO plugin_settings(plugin, settings, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(plugin) DO UPDATE SET
  settings = excluded.settings,
  updated_at = excluded.updated_at;
`, plugin, string(merged), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("upsert plugin settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return json.RawMessage(merged), nil
}

// Delete removes a plugin's settings. Missing rows are not an error.
func (s *SettingsStore) Delete(ctx context.Context, plugin string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM plugin_settings WHERE plugin = ?;", plugin); err != nil {
		return fmt.Errorf("delete plugin settings: %w", err)
	}
	return nil
}

func decodeObjectOrEmpty(b json.RawMessage) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("invalid JSON")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m, nil
}
