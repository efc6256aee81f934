// Package passkey implements the key-wrapping service: platform credential
// registration and login with two parallel paths. A PRF-capable credential
// yields a secret that wraps the data encryption key directly, so no
// password is ever typed; every registration also caches the member's
// password, because a wrapped DEK can go stale relative to the file salt
// and the password is then the only recovery path.
package passkey

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/crypto"
	"github.com/hearthvault/hearthvault/internal/logger"
	"github.com/hearthvault/hearthvault/internal/model"
)

// Orchestrator is the sync orchestrator surface the service needs: the
// salt the file is currently encrypted with, and one forced save to
// re-align the file with a freshly wrapped DEK. The force-save matters
// because an unrelated debounced save can fire a fresh random salt during
// the user-interactive wrapping ceremony.
type Orchestrator interface {
	CurrentSalt(ctx context.Context) []byte
	ForceSaveAfterWrap(ctx context.Context, dek crypto.Key, salt []byte) error
}

// Method identifies which authentication path produced a login.
type Method string

const (
	// MethodPRF means the credential secret unwrapped the DEK directly.
	MethodPRF Method = "prf"
	// MethodPassword means the cached password fallback was used.
	MethodPassword Method = "password"
)

// LoginResult carries the key material resolved for a login. DEK is set
// only on the PRF path; Password is set whenever a cached password exists,
// so callers always have the fallback available.
type LoginResult struct {
	Registration model.PasskeyRegistration
	Method       Method
	DEK          crypto.Key
	Password     string
}

// Service performs registration and login ceremonies.
type Service struct {
	auth   model.Authenticator
	regs   model.PasskeyStore
	crypto *crypto.Service
	orch   Orchestrator
	logger *logger.Logger
	now    func() time.Time
}

func New(auth model.Authenticator, regs model.PasskeyStore, cryptoSvc *crypto.Service, orch Orchestrator, logger *logger.Logger) *Service {
	return &Service{
		auth:   auth,
		regs:   regs,
		crypto: cryptoSvc,
		orch:   orch,
		logger: logger,
		now:    time.Now,
	}
}

// Register runs the registration ceremony for a family member and stores
// the resulting registration. When the credential supports secret output,
// the member's DEK is wrapped under it and one save is forced so the
// file's on-disk salt matches the wrapped DEK.
func (s *Service) Register(ctx context.Context, familyID, memberID uuid.UUID, memberName, password string) (model.PasskeyRegistration, error) {
	cred, err := s.auth.Register(ctx, model.RegisterOptions{
		FamilyID:   familyID,
		MemberID:   memberID,
		MemberName: memberName,
	})
	if err != nil {
		return model.PasskeyRegistration{}, err
	}

	now := s.now()
	reg := model.PasskeyRegistration{
		CredentialID:   cred.ID,
		FamilyID:       familyID,
		MemberID:       memberID,
		UserHandle:     cred.UserHandle,
		PRFSupported:   cred.PRFSupported,
		CachedPassword: password,
		CreatedAt:      now,
		LastUsedAt:     now,
	}

	if cred.PRFSupported && len(cred.Secret) == SecretLen {
		if err := s.wrapForRegistration(ctx, &reg, cred.Secret, password); err != nil {
			// The PRF path is an upgrade, not a requirement: the cached
			// password still works, so keep the registration usable.
			s.logger.Warn("DEK wrap failed, registration falls back to cached password",
				"credential_id", cred.ID, "error", err)
			reg.WrappedDEK = nil
			reg.WrapSalt = nil
		}
	}

	if err := s.regs.Save(ctx, reg); err != nil {
		return model.PasskeyRegistration{}, err
	}
	return reg, nil
}

func (s *Service) wrapForRegistration(ctx context.Context, reg *model.PasskeyRegistration, secret []byte, password string) error {
	// Reuse the salt the file is currently encrypted with so the wrapped
	// DEK opens the existing ciphertext. A fresh salt is only generated
	// when the file has never been encrypted.
	salt := s.orch.CurrentSalt(ctx)
	if len(salt) == 0 {
		fresh, err := s.crypto.NewSalt()
		if err != nil {
			return err
		}
		salt = fresh
	}

	dek := s.crypto.DeriveExtractableKey(password, salt)

	wrapSalt, err := NewWrapSalt()
	if err != nil {
		return err
	}
	wrappingKey, err := DeriveWrappingKey(secret, wrapSalt)
	if err != nil {
		return err
	}
	blob, err := Wrap(dek, wrappingKey)
	if err != nil {
		return err
	}

	reg.WrappedDEK = blob
	reg.WrapSalt = wrapSalt

	// Force one save with the wrapped DEK and its salt: a debounced save
	// may have re-encrypted the file with a fresh random salt while the
	// ceremony held the user's attention.
	if err := s.orch.ForceSaveAfterWrap(ctx, dek, salt); err != nil {
		return err
	}
	return nil
}

// Login runs the authentication ceremony and resolves the assertion to a
// registration of the target family. Identity mismatches are reported
// specifically: a credential registered with a different family is
// remediated by re-registering, not by retrying.
func (s *Service) Login(ctx context.Context, familyID uuid.UUID) (LoginResult, error) {
	assertion, err := s.auth.Assert(ctx, model.AssertOptions{FamilyID: familyID})
	if err != nil {
		return LoginResult{}, err
	}

	reg, err := s.regs.GetByCredentialID(ctx, assertion.CredentialID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return LoginResult{}, s.classifyUnknownCredential(ctx, assertion, familyID)
	case err != nil:
		return LoginResult{}, err
	case reg.FamilyID != familyID:
		return LoginResult{}, model.ErrCrossFamilyCredential
	}

	if err := s.regs.TouchLastUsed(ctx, reg.CredentialID, s.now()); err != nil {
		s.logger.Warn("failed to update credential last-used time", "credential_id", reg.CredentialID, "error", err)
	}

	result := LoginResult{Registration: reg, Password: reg.CachedPassword}

	if reg.HasWrappedKey() && len(assertion.Secret) == SecretLen {
		dek, err := s.unwrapDEK(reg, assertion.Secret)
		if err == nil {
			result.Method = MethodPRF
			result.DEK = dek
			return result, nil
		}
		// Diagnostics only: when the fallback succeeds this is not a user
		// facing error.
		s.logger.Info("wrapped DEK unusable, falling back to cached password",
			"credential_id", reg.CredentialID, "error", errors.Join(model.ErrStaleKeyMaterial, err))
	}

	if result.Password != "" {
		result.Method = MethodPassword
		return result, nil
	}
	return LoginResult{}, model.ErrCredentialReregister
}

func (s *Service) unwrapDEK(reg model.PasskeyRegistration, secret []byte) (crypto.Key, error) {
	wrappingKey, err := DeriveWrappingKey(secret, reg.WrapSalt)
	if err != nil {
		return crypto.Key{}, err
	}
	return Unwrap(reg.WrappedDEK, wrappingKey)
}

// classifyUnknownCredential distinguishes "this credential belongs to a
// different family" from "this credential is unknown entirely", because
// the remediation differs: re-register here versus use a different device.
func (s *Service) classifyUnknownCredential(ctx context.Context, assertion model.Assertion, familyID uuid.UUID) error {
	if assertion.UserHandle != "" {
		other, err := s.regs.GetByUserHandle(ctx, assertion.UserHandle)
		if err == nil && other.FamilyID != familyID {
			return model.ErrCrossFamilyCredential
		}
	}
	return model.ErrWrongFamilyCredential
}
