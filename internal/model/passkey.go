package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PasskeyRegistration binds one platform credential to one family member.
// The cached password is always stored, even when the PRF path succeeds,
// because a wrapped DEK can go stale relative to the file salt and the
// password is then the only recovery path.
type PasskeyRegistration struct {
	CredentialID   string
	FamilyID       uuid.UUID
	MemberID       uuid.UUID
	UserHandle     string
	PRFSupported   bool
	WrappedDEK     []byte
	WrapSalt       []byte
	CachedPassword string
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// Validate enforces the wrapped-key invariant: for a PRF-capable credential
// the wrapped DEK and its salt are either both present or both absent.
func (r *PasskeyRegistration) Validate() error {
	if r.CredentialID == "" {
		return fmt.Errorf("passkey registration missing credential id")
	}
	if r.PRFSupported && (len(r.WrappedDEK) == 0) != (len(r.WrapSalt) == 0) {
		return fmt.Errorf("passkey registration %s: wrapped key and salt must be set together", r.CredentialID)
	}
	return nil
}

// HasWrappedKey reports whether the PRF unwrap path is available.
func (r *PasskeyRegistration) HasWrappedKey() bool {
	return r.PRFSupported && len(r.WrappedDEK) > 0 && len(r.WrapSalt) > 0
}

// Credential is the result of a platform credential registration ceremony.
type Credential struct {
	ID           string
	UserHandle   string
	PRFSupported bool
	// Secret is the 32-byte PRF output, present only when PRFSupported.
	Secret []byte
}

// Assertion is the result of a platform credential authentication ceremony.
// Discoverable-credential mode is used, so any registered credential on the
// device may respond; the resolution algorithm sorts out family membership.
type Assertion struct {
	CredentialID string
	UserHandle   string
	Secret       []byte
}

// RegisterOptions describe a registration ceremony request.
type RegisterOptions struct {
	FamilyID   uuid.UUID
	MemberID   uuid.UUID
	MemberName string
}

// AssertOptions describe an authentication ceremony request. No allow-list
// is passed: the platform picks among its discoverable credentials.
type AssertOptions struct {
	FamilyID uuid.UUID
}

// Authenticator is the platform credential boundary. Ceremonies can hang
// indefinitely on user inattention; callers bound them with ctx and must
// treat ErrCredentialCancelled as a silent, non-escalating outcome.
type Authenticator interface {
	Register(ctx context.Context, opts RegisterOptions) (Credential, error)
	Assert(ctx context.Context, opts AssertOptions) (Assertion, error)
}
