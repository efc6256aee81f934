// Package queue implements the single-slot offline write queue: a durable
// buffer for a write that could not reach the storage provider.
package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/logger"
	"github.com/hearthvault/hearthvault/internal/model"
)

// Queue holds at most one pending write. It is a slot, not a FIFO: each
// write is a total snapshot, so only the latest full-file replacement
// matters.
type Queue struct {
	store  model.QueueStore
	logger *logger.Logger

	mu       sync.Mutex
	provider model.Provider
}

func New(store model.QueueStore, logger *logger.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// RegisterProvider sets the provider used by Flush. Passing nil detaches.
func (q *Queue) RegisterProvider(p model.Provider) {
	q.mu.Lock()
	q.provider = p
	q.mu.Unlock()
}

// Enqueue replaces any previously queued content and persists it, so a
// restart does not lose the pending write.
func (q *Queue) Enqueue(ctx context.Context, familyID uuid.UUID, content []byte) error {
	if err := q.store.PutPending(ctx, familyID, content); err != nil {
		return err
	}
	q.logger.Info("queued offline write", "family_id", familyID, "bytes", len(content))
	return nil
}

// Flush attempts one write of the queued content through the registered
// provider. It is a no-op returning false when nothing is queued or no
// provider is registered. The slot is cleared only on success; on failure
// the content stays queued for the next reconnect signal.
func (q *Queue) Flush(ctx context.Context) (bool, error) {
	q.mu.Lock()
	provider := q.provider
	q.mu.Unlock()

	familyID, content, err := q.store.GetPending(ctx)
	if err != nil {
		return false, err
	}
	if content == nil || provider == nil {
		return false, nil
	}

	// A provider that parks network failures back into this queue would make
	// the flush look successful while nothing was delivered. Prefer the
	// unmasked write path when the provider offers one.
	write := provider.Write
	if direct, ok := provider.(model.DirectWriter); ok {
		write = direct.WriteDirect
	}
	if err := write(ctx, content); err != nil {
		q.logger.Warn("offline queue flush failed", "family_id", familyID, "error", err)
		return false, err
	}
	if err := q.store.ClearPending(ctx); err != nil {
		return false, err
	}
	q.logger.Info("offline queue flushed", "family_id", familyID)
	return true, nil
}

// Clear drops any queued content. Called on sign-out.
func (q *Queue) Clear(ctx context.Context) error {
	return q.store.ClearPending(ctx)
}
