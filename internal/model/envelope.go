package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncFileVersion is the only envelope version this engine reads or writes.
// Older versions are rejected rather than migrated.
const SyncFileVersion = "3.0"

// SyncFile is the persisted and exchanged file envelope. The Encrypted flag
// and PasskeySecrets always live outside the ciphertext so they can be read
// before the payload is decrypted.
type SyncFile struct {
	Version        string                   `json:"version"`
	ExportedAt     time.Time                `json:"exportedAt"`
	Encrypted      bool                     `json:"encrypted"`
	Data           json.RawMessage          `json:"data"`
	FamilyID       string                   `json:"familyId,omitempty"`
	FamilyName     string                   `json:"familyName,omitempty"`
	PasskeySecrets map[string]PasskeySecret `json:"passkeySecrets,omitempty"`
}

// PasskeySecret is the key-wrapping material stored in the envelope for one
// registered credential, keyed by credential ID.
type PasskeySecret struct {
	WrappedDEK []byte `json:"wrappedDek"`
	WrapSalt   []byte `json:"wrapSalt"`
}

// Validate checks the envelope shape. Any version other than the current one
// is rejected; the payload must be a base64 string when encrypted and a JSON
// object otherwise.
func (f *SyncFile) Validate() error {
	if f.Version != SyncFileVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidEnvelope, f.Version)
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: missing data payload", ErrInvalidEnvelope)
	}
	if f.Encrypted {
		var s string
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return fmt.Errorf("%w: encrypted payload is not a string", ErrInvalidEnvelope)
		}
		return nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(f.Data, &probe); err != nil {
		return fmt.Errorf("%w: plaintext payload is not an object", ErrInvalidEnvelope)
	}
	return nil
}

// SetPlainData stores d as the plaintext payload.
func (f *SyncFile) SetPlainData(d *ExportedData) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal export data: %w", err)
	}
	f.Data = raw
	f.Encrypted = false
	return nil
}

// PlainData decodes the plaintext payload.
func (f *SyncFile) PlainData() (*ExportedData, error) {
	if f.Encrypted {
		return nil, fmt.Errorf("%w: payload is encrypted", ErrInvalidEnvelope)
	}
	var d ExportedData
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &d, nil
}

// SetCipherData stores the packed base64 ciphertext as the payload.
func (f *SyncFile) SetCipherData(packed string) error {
	raw, err := json.Marshal(packed)
	if err != nil {
		return fmt.Errorf("failed to marshal ciphertext: %w", err)
	}
	f.Data = raw
	f.Encrypted = true
	return nil
}

// CipherData returns the packed base64 ciphertext payload.
func (f *SyncFile) CipherData() (string, error) {
	if !f.Encrypted {
		return "", fmt.Errorf("%w: payload is not encrypted", ErrInvalidEnvelope)
	}
	var s string
	if err := json.Unmarshal(f.Data, &s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return s, nil
}

// ParseSyncFile decodes and validates a raw sync file.
func ParseSyncFile(raw []byte) (*SyncFile, error) {
	var f SyncFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
