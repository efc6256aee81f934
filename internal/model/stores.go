package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SnapshotStore persists the local replica of the export snapshot and its
// tombstones. The sync orchestrator is the sole writer of the snapshot.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, familyID uuid.UUID) (*ExportedData, error)
	SaveSnapshot(ctx context.Context, familyID uuid.UUID, data *ExportedData) error
	LoadTombstones(ctx context.Context, familyID uuid.UUID) ([]Tombstone, error)
	SaveTombstones(ctx context.Context, familyID uuid.UUID, tombstones []Tombstone) error
}

// QueueStore is the durable backing of the single-slot offline write queue.
type QueueStore interface {
	PutPending(ctx context.Context, familyID uuid.UUID, content []byte) error
	// GetPending returns nil content when nothing is queued.
	GetPending(ctx context.Context) (uuid.UUID, []byte, error)
	ClearPending(ctx context.Context) error
}

// SettingsLogStore is the durable backing of the settings write-ahead log.
type SettingsLogStore interface {
	Put(ctx context.Context, entry SettingsLogEntry) error
	// Get returns the most recent entry, or nil when none is stored.
	Get(ctx context.Context) (*SettingsLogEntry, error)
	Delete(ctx context.Context, familyID uuid.UUID) error
	DeleteAll(ctx context.Context) error
}

// PasskeyStore persists credential registrations.
type PasskeyStore interface {
	Save(ctx context.Context, reg PasskeyRegistration) error
	GetByCredentialID(ctx context.Context, credentialID string) (PasskeyRegistration, error)
	GetByFamilyID(ctx context.Context, familyID uuid.UUID) ([]PasskeyRegistration, error)
	// GetByUserHandle searches registrations across all families.
	GetByUserHandle(ctx context.Context, userHandle string) (PasskeyRegistration, error)
	TouchLastUsed(ctx context.Context, credentialID string, usedAt time.Time) error
	DeleteByFamilyID(ctx context.Context, familyID uuid.UUID) error
}

// ProviderConfigStore persists the active provider descriptor per family.
type ProviderConfigStore interface {
	// SetActive stores cfg and clears configs of other kinds for the same
	// family in the same transaction (mutual exclusion).
	SetActive(ctx context.Context, cfg ProviderConfig) error
	GetActive(ctx context.Context, familyID uuid.UUID) (*ProviderConfig, error)
	Clear(ctx context.Context, familyID uuid.UUID, kind ProviderKind) error
}

// TokenSource supplies bearer tokens for the drive boundary.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Refresh performs one silent refresh attempt. It is not retried.
	Refresh(ctx context.Context) (string, error)
	Invalidate()
}
