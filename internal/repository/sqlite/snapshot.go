package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/model"
)

var _ model.SnapshotStore = (*SnapshotRepository)(nil)

// SnapshotRepository persists the local replica of the export snapshot and
// its tombstones as JSON payloads. A missing snapshot loads as an empty
// one, not an error: a fresh replica simply has no data yet.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, familyID uuid.UUID) (*model.ExportedData, error) {
	var payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE family_id = ?`, familyID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.ExportedData{}, nil
	}
	if err != nil {
		return nil, err
	}

	var data model.ExportedData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &data, nil
}

func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, familyID uuid.UUID, data *model.ExportedData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots (family_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (family_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		familyID, string(payload), time.Now().UTC(),
	)
	return err
}

func (r *SnapshotRepository) LoadTombstones(ctx context.Context, familyID uuid.UUID) ([]model.Tombstone, error) {
	var payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshot_tombstones WHERE family_id = ?`, familyID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tombstones []model.Tombstone
	if err := json.Unmarshal([]byte(payload), &tombstones); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tombstones: %w", err)
	}
	return tombstones, nil
}

func (r *SnapshotRepository) SaveTombstones(ctx context.Context, familyID uuid.UUID, tombstones []model.Tombstone) error {
	payload, err := json.Marshal(tombstones)
	if err != nil {
		return fmt.Errorf("failed to marshal tombstones: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshot_tombstones (family_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (family_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		familyID, string(payload), time.Now().UTC(),
	)
	return err
}
