package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProviderKind enumerates the storage provider variants.
type ProviderKind string

const (
	ProviderLocal  ProviderKind = "local"
	ProviderDrive  ProviderKind = "drive"
	ProviderObject ProviderKind = "object"
)

// Provider is the polymorphic storage boundary: raw read/write/stat against
// one physical file. Write failures are IOErrors; Read returns nil content
// for an empty or missing file, never an error for that case.
type Provider interface {
	Kind() ProviderKind
	Write(ctx context.Context, content []byte) error
	Read(ctx context.Context) ([]byte, error)
	// LastModified is a cheap metadata check and must not require a full read.
	LastModified(ctx context.Context) (*time.Time, error)
	Ready(ctx context.Context) bool
	// RequestAccess must be invoked from a user-initiated action for the
	// local variant.
	RequestAccess(ctx context.Context) (bool, error)
	Persist(ctx context.Context, familyID uuid.UUID) error
	// ClearPersisted removes this provider's persisted config. Enabling a
	// provider clears the other kinds' configs for the same family.
	ClearPersisted(ctx context.Context, familyID uuid.UUID) error
	Disconnect()
}

// DirectWriter is implemented by providers whose Write parks network
// failures in the offline queue instead of returning an error. WriteDirect
// bypasses that fallback so the queue itself can flush through the provider
// and observe the real outcome rather than re-parking the content it is
// trying to deliver.
type DirectWriter interface {
	WriteDirect(ctx context.Context, content []byte) error
}

// ProviderConfig is the persisted descriptor of which provider backs a
// family's file. At most one config may be active per family at a time.
type ProviderConfig struct {
	FamilyID    uuid.UUID
	Kind        ProviderKind
	Location    string
	DisplayName string
	UpdatedAt   time.Time
}
