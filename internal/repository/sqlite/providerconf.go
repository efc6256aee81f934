package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/model"
)

var _ model.ProviderConfigStore = (*ProviderConfigRepository)(nil)

// ProviderConfigRepository persists the active storage provider descriptor
// per family. Enabling one provider kind clears the others in the same
// transaction, so a reload can never pick a stale config.
type ProviderConfigRepository struct {
	db *sql.DB
}

func NewProviderConfigRepository(db *sql.DB) *ProviderConfigRepository {
	return &ProviderConfigRepository{db: db}
}

func (r *ProviderConfigRepository) SetActive(ctx context.Context, cfg model.ProviderConfig) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM provider_configs WHERE family_id = ? AND kind <> ?`,
		cfg.FamilyID, string(cfg.Kind),
	); err != nil {
		return fmt.Errorf("failed to clear other provider configs: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO provider_configs (family_id, kind, location, display_name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (family_id, kind) DO UPDATE SET
			location = excluded.location,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at`,
		cfg.FamilyID, string(cfg.Kind), cfg.Location, cfg.DisplayName, cfg.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to store provider config: %w", err)
	}

	return tx.Commit()
}

func (r *ProviderConfigRepository) GetActive(ctx context.Context, familyID uuid.UUID) (*model.ProviderConfig, error) {
	query := `
		SELECT family_id, kind, location, display_name, updated_at
		FROM provider_configs WHERE family_id = ? LIMIT 1`

	var cfg model.ProviderConfig
	var kind string
	err := r.db.QueryRowContext(ctx, query, familyID).Scan(
		&cfg.FamilyID, &kind, &cfg.Location, &cfg.DisplayName, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.Kind = model.ProviderKind(kind)
	return &cfg, nil
}

func (r *ProviderConfigRepository) Clear(ctx context.Context, familyID uuid.UUID, kind model.ProviderKind) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM provider_configs WHERE family_id = ? AND kind = ?`,
		familyID, string(kind),
	)
	return err
}
