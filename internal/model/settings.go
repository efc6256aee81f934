package model

import (
	"time"

	"github.com/google/uuid"
)

// Settings is the singleton-per-family configuration record. Created with
// the family, mutated by the UI layer and by the sync orchestrator on every
// successful load/merge, never deleted except with the family itself.
type Settings struct {
	ID                uuid.UUID         `json:"id"`
	FamilyID          uuid.UUID         `json:"familyId"`
	Currency          string            `json:"currency"`
	Theme             string            `json:"theme,omitempty"`
	EncryptionEnabled bool              `json:"encryptionEnabled"`
	SyncEnabled       bool              `json:"syncEnabled"`
	CachedPasswords   map[string]string `json:"cachedPasswords,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt"`

	// Purely local configuration. A merge must never let a remote snapshot
	// change what this replica considers its own storage setup, so these
	// are re-populated from the local copy after every merge.
	ActiveProvider ProviderKind `json:"activeProvider,omitempty"`
	LastSyncedAt   *time.Time   `json:"lastSyncedAt,omitempty"`
}

func (s Settings) EntityID() uuid.UUID   { return s.ID }
func (s Settings) ModifiedAt() time.Time { return s.UpdatedAt }

// Clone returns a deep copy of the settings record.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	if s.CachedPasswords != nil {
		out.CachedPasswords = make(map[string]string, len(s.CachedPasswords))
		for k, v := range s.CachedPasswords {
			out.CachedPasswords[k] = v
		}
	}
	if s.LastSyncedAt != nil {
		t := *s.LastSyncedAt
		out.LastSyncedAt = &t
	}
	return &out
}

// RestoreLocalFields copies the replica-local configuration from local into
// s, discarding whatever the merged snapshot carried for those fields. With
// no local copy the fields are zeroed instead: a remote snapshot must never
// set this replica's storage setup.
func (s *Settings) RestoreLocalFields(local *Settings) {
	if s == nil {
		return
	}
	if local == nil {
		s.ActiveProvider = ""
		s.LastSyncedAt = nil
		s.EncryptionEnabled = false
		return
	}
	s.ActiveProvider = local.ActiveProvider
	s.LastSyncedAt = local.LastSyncedAt
	s.EncryptionEnabled = local.EncryptionEnabled
}

// SettingsLogEntry is one record in the local settings write-ahead log.
type SettingsLogEntry struct {
	FamilyID  uuid.UUID `json:"familyId"`
	Settings  Settings  `json:"settings"`
	WrittenAt time.Time `json:"writtenAt"`
}
