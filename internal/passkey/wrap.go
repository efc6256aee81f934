package passkey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/hearthvault/hearthvault/internal/crypto"
	"github.com/hearthvault/hearthvault/internal/model"
)

const (
	// wrapInfo domain-separates the wrapping key derivation from any other
	// use of the credential secret.
	wrapInfo = "hearthvault/dek-wrap/v1"
	// WrapSaltLen is the per-registration salt length.
	WrapSaltLen = 16
	// SecretLen is the expected credential secret output length.
	SecretLen = 32

	nonceLen = 12
)

// NewWrapSalt returns a fresh per-registration salt.
func NewWrapSalt() ([]byte, error) {
	salt := make([]byte, WrapSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate wrap salt: %w", err)
	}
	return salt, nil
}

// DeriveWrappingKey derives the key-wrapping key from the credential's
// secret output and the per-registration salt.
func DeriveWrappingKey(secret, salt []byte) (crypto.Key, error) {
	if len(secret) != SecretLen {
		return crypto.Key{}, fmt.Errorf("invalid credential secret length %d", len(secret))
	}
	raw := make([]byte, crypto.KeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(wrapInfo)), raw); err != nil {
		return crypto.Key{}, fmt.Errorf("failed to derive wrapping key: %w", err)
	}
	return crypto.KeyFromRaw(raw)
}

// Wrap seals the extractable DEK under the wrapping key. The blob layout
// is nonce || ciphertext.
func Wrap(dek, wrappingKey crypto.Key) ([]byte, error) {
	raw, err := dek.Raw()
	if err != nil {
		return nil, fmt.Errorf("DEK must be extractable to wrap: %w", err)
	}
	aead, err := newAEAD(wrappingKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, raw, nil), nil
}

// Unwrap opens a wrapped DEK blob. An integrity failure maps to
// model.ErrWrongKey: the wrapping key does not match the blob.
func Unwrap(blob []byte, wrappingKey crypto.Key) (crypto.Key, error) {
	aead, err := newAEAD(wrappingKey)
	if err != nil {
		return crypto.Key{}, err
	}
	if len(blob) < nonceLen {
		return crypto.Key{}, fmt.Errorf("wrapped key blob too short")
	}
	raw, err := aead.Open(nil, blob[:nonceLen], blob[nonceLen:], nil)
	if err != nil {
		return crypto.Key{}, model.ErrWrongKey
	}
	return crypto.KeyFromRaw(raw)
}

func newAEAD(key crypto.Key) (cipher.AEAD, error) {
	raw, err := key.Raw()
	if err != nil {
		return nil, fmt.Errorf("wrapping key must be extractable: %w", err)
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return aead, nil
}
