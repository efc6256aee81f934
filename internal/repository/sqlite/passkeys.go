package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/model"
)

var _ model.PasskeyStore = (*PasskeyRepository)(nil)

// PasskeyRepository persists platform credential registrations.
type PasskeyRepository struct {
	db *sql.DB
}

func NewPasskeyRepository(db *sql.DB) *PasskeyRepository {
	return &PasskeyRepository{db: db}
}

func (r *PasskeyRepository) Save(ctx context.Context, reg model.PasskeyRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO passkey_registrations
			(credential_id, family_id, member_id, user_handle, prf_supported,
			 wrapped_dek, wrap_salt, cached_password, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (credential_id) DO UPDATE SET
			family_id = excluded.family_id,
			member_id = excluded.member_id,
			user_handle = excluded.user_handle,
			prf_supported = excluded.prf_supported,
			wrapped_dek = excluded.wrapped_dek,
			wrap_salt = excluded.wrap_salt,
			cached_password = excluded.cached_password,
			last_used_at = excluded.last_used_at`

	_, err := r.db.ExecContext(ctx, query,
		reg.CredentialID, reg.FamilyID, reg.MemberID, reg.UserHandle, reg.PRFSupported,
		reg.WrappedDEK, reg.WrapSalt, reg.CachedPassword, reg.CreatedAt, reg.LastUsedAt,
	)
	return err
}

const passkeyColumns = `credential_id, family_id, member_id, user_handle, prf_supported,
	wrapped_dek, wrap_salt, cached_password, created_at, last_used_at`

func (r *PasskeyRepository) GetByCredentialID(ctx context.Context, credentialID string) (model.PasskeyRegistration, error) {
	query := `SELECT ` + passkeyColumns + ` FROM passkey_registrations WHERE credential_id = ?`

	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, credentialID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PasskeyRegistration{}, model.ErrNotFound
	}
	return reg, err
}

func (r *PasskeyRepository) GetByFamilyID(ctx context.Context, familyID uuid.UUID) ([]model.PasskeyRegistration, error) {
	query := `SELECT ` + passkeyColumns + ` FROM passkey_registrations WHERE family_id = ? ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []model.PasskeyRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func (r *PasskeyRepository) GetByUserHandle(ctx context.Context, userHandle string) (model.PasskeyRegistration, error) {
	query := `SELECT ` + passkeyColumns + ` FROM passkey_registrations WHERE user_handle = ? LIMIT 1`

	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, userHandle))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PasskeyRegistration{}, model.ErrNotFound
	}
	return reg, err
}

func (r *PasskeyRepository) TouchLastUsed(ctx context.Context, credentialID string, usedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE passkey_registrations SET last_used_at = ? WHERE credential_id = ?`,
		usedAt, credentialID,
	)
	return err
}

func (r *PasskeyRepository) DeleteByFamilyID(ctx context.Context, familyID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM passkey_registrations WHERE family_id = ?`, familyID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (model.PasskeyRegistration, error) {
	var reg model.PasskeyRegistration
	err := row.Scan(
		&reg.CredentialID, &reg.FamilyID, &reg.MemberID, &reg.UserHandle, &reg.PRFSupported,
		&reg.WrappedDEK, &reg.WrapSalt, &reg.CachedPassword, &reg.CreatedAt, &reg.LastUsedAt,
	)
	return reg, err
}
