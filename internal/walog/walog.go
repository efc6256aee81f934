// Package walog implements the settings write-ahead log: a local,
// provider-independent recovery copy of the most recent settings object.
// The log is advisory, not authoritative, so every operation degrades
// silently when the underlying store fails.
package walog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/logger"
	"github.com/hearthvault/hearthvault/internal/model"
)

// DefaultMaxAge is the staleness cutoff for recovered entries.
const DefaultMaxAge = 24 * time.Hour

// Log is the settings write-ahead log.
type Log struct {
	store  model.SettingsLogStore
	maxAge time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// New creates a Log. A zero maxAge selects DefaultMaxAge.
func New(store model.SettingsLogStore, maxAge time.Duration, logger *logger.Logger) *Log {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Log{store: store, maxAge: maxAge, logger: logger, now: time.Now}
}

// Write records settings as the last-known-good copy for the family.
func (l *Log) Write(ctx context.Context, familyID uuid.UUID, settings *model.Settings) {
	if settings == nil {
		return
	}
	entry := model.SettingsLogEntry{
		FamilyID:  familyID,
		Settings:  *settings.Clone(),
		WrittenAt: l.now(),
	}
	if err := l.store.Put(ctx, entry); err != nil {
		l.logger.Warn("settings log write failed", "family_id", familyID, "error", err)
	}
}

// Read returns the stored entry for familyID, or nil when none is stored,
// the stored family does not match, or the payload cannot be used.
func (l *Log) Read(ctx context.Context, familyID uuid.UUID) *model.SettingsLogEntry {
	entry, err := l.store.Get(ctx)
	if err != nil {
		l.logger.Warn("settings log read failed", "family_id", familyID, "error", err)
		return nil
	}
	if entry == nil || entry.FamilyID != familyID {
		return nil
	}
	return entry
}

// Clear removes the entry for familyID.
func (l *Log) Clear(ctx context.Context, familyID uuid.UUID) {
	if err := l.store.Delete(ctx, familyID); err != nil {
		l.logger.Warn("settings log clear failed", "family_id", familyID, "error", err)
	}
}

// ClearAll removes all entries. Called on sign-out.
func (l *Log) ClearAll(ctx context.Context) {
	if err := l.store.DeleteAll(ctx); err != nil {
		l.logger.Warn("settings log clear failed", "error", err)
	}
}

// IsStale reports whether the entry is older than the configured cutoff.
func (l *Log) IsStale(entry *model.SettingsLogEntry) bool {
	if entry == nil {
		return true
	}
	return l.now().Sub(entry.WrittenAt) > l.maxAge
}
