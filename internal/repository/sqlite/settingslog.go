package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/model"
)

var _ model.SettingsLogStore = (*SettingsLogRepository)(nil)

// SettingsLogRepository persists the settings write-ahead log. One entry is
// kept: the last-known-good settings object for the most recently active
// family.
type SettingsLogRepository struct {
	db *sql.DB
}

func NewSettingsLogRepository(db *sql.DB) *SettingsLogRepository {
	return &SettingsLogRepository{db: db}
}

func (r *SettingsLogRepository) Put(ctx context.Context, entry model.SettingsLogEntry) error {
	payload, err := json.Marshal(entry.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO settings_log (id, family_id, payload, written_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			family_id = excluded.family_id,
			payload = excluded.payload,
			written_at = excluded.written_at`

	_, err = r.db.ExecContext(ctx, query, entry.FamilyID, string(payload), entry.WrittenAt)
	return err
}

func (r *SettingsLogRepository) Get(ctx context.Context) (*model.SettingsLogEntry, error) {
	query := `SELECT family_id, payload, written_at FROM settings_log WHERE id = 1`

	var entry model.SettingsLogEntry
	var payload string
	err := r.db.QueryRowContext(ctx, query).Scan(&entry.FamilyID, &payload, &entry.WrittenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &entry.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings payload: %w", err)
	}
	return &entry, nil
}

func (r *SettingsLogRepository) Delete(ctx context.Context, familyID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM settings_log WHERE family_id = ?`, familyID)
	return err
}

func (r *SettingsLogRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM settings_log`)
	return err
}
