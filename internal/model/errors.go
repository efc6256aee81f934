package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrWrongKey indicates an authenticated decryption failed. This is the
	// only reliable signal that a password or key is wrong.
	ErrWrongKey = errors.New("wrong encryption key")
	// ErrInvalidEnvelope indicates a malformed or wrong-version sync file.
	ErrInvalidEnvelope = errors.New("invalid sync file envelope")
	// ErrCredentialCancelled indicates the user aborted a credential ceremony.
	ErrCredentialCancelled = errors.New("credential ceremony cancelled")
	// ErrCrossFamilyCredential indicates a credential registered with a
	// different family was used.
	ErrCrossFamilyCredential = errors.New("credential belongs to another family")
	// ErrWrongFamilyCredential indicates the credential matches no known member.
	ErrWrongFamilyCredential = errors.New("credential does not match any family member")
	// ErrStaleKeyMaterial indicates a wrapped DEK no longer matches the salt
	// the file was last encrypted with.
	ErrStaleKeyMaterial = errors.New("wrapped key is stale for current file salt")
	// ErrCredentialReregister indicates a registration holds no usable key
	// material and must be recreated.
	ErrCredentialReregister = errors.New("credential must be re-registered")
	// ErrProviderNotConfigured indicates the requested provider kind has no
	// usable configuration in this environment.
	ErrProviderNotConfigured = errors.New("storage provider not configured")
)

// IOError marks a provider write or read failure. These are translated into
// the failure escalation state machine, never surfaced to the UI directly.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError wraps err as an IOError for the given operation.
func NewIOError(op string, err error) error {
	return &IOError{Op: op, Err: err}
}

// IsIOError reports whether err is (or wraps) an IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// DriveAPIError is returned for any non-2xx drive response so callers can
// distinguish 401 (refresh) from 404 (fatal) from other statuses (transient).
type DriveAPIError struct {
	Status  int
	Message string
}

func (e *DriveAPIError) Error() string {
	return fmt.Sprintf("drive api error %d: %s", e.Status, e.Message)
}
