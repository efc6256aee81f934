package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/model"
)

var _ model.QueueStore = (*QueueRepository)(nil)

// QueueRepository persists the single-slot offline write queue. A newly
// queued write replaces any previous one: each write is a total snapshot,
// so only the latest matters.
type QueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) PutPending(ctx context.Context, familyID uuid.UUID, content []byte) error {
	query := `
		INSERT INTO queue_slot (id, family_id, content, queued_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			family_id = excluded.family_id,
			content = excluded.content,
			queued_at = excluded.queued_at`

	_, err := r.db.ExecContext(ctx, query, familyID, content, time.Now().UTC())
	return err
}

func (r *QueueRepository) GetPending(ctx context.Context) (uuid.UUID, []byte, error) {
	query := `SELECT family_id, content FROM queue_slot WHERE id = 1`

	var familyID uuid.UUID
	var content []byte
	err := r.db.QueryRowContext(ctx, query).Scan(&familyID, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil, nil
	}
	if err != nil {
		return uuid.Nil, nil, err
	}
	return familyID, content, nil
}

func (r *QueueRepository) ClearPending(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM queue_slot`)
	return err
}
