// Package crypto implements password-based encryption of the serialized
// sync payload: argon2id key derivation with a per-encryption random salt
// and AES-256-GCM authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/hearthvault/hearthvault/internal/model"
)

const (
	// KeyLen is the DEK length in bytes.
	KeyLen = 32
	// SaltLen is the KDF salt length in bytes.
	SaltLen = 16
	// nonceLen is the GCM nonce length in bytes.
	nonceLen = 12
)

// Params are the argon2id cost parameters.
type Params struct {
	Time   uint32
	MemKiB uint32
	Par    uint8
}

// DefaultParams returns the cost parameters used when none are configured.
func DefaultParams() Params {
	return Params{Time: 3, MemKiB: 64 * 1024, Par: 4}
}

// Key is a derived symmetric key. Only extractable keys expose their raw
// bytes; the normal derived key stays opaque so it cannot leak into the
// key-wrapping path by accident.
type Key struct {
	raw         []byte
	extractable bool
}

// Raw returns the key bytes. It refuses non-extractable keys.
func (k Key) Raw() ([]byte, error) {
	if !k.extractable {
		return nil, fmt.Errorf("key is not extractable")
	}
	out := make([]byte, len(k.raw))
	copy(out, k.raw)
	return out, nil
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool { return len(k.raw) == 0 }

// KeyFromRaw builds an extractable key from raw bytes, e.g. an unwrapped DEK.
func KeyFromRaw(raw []byte) (Key, error) {
	if len(raw) != KeyLen {
		return Key{}, fmt.Errorf("invalid key length %d", len(raw))
	}
	cp := make([]byte, KeyLen)
	copy(cp, raw)
	return Key{raw: cp, extractable: true}, nil
}

// Envelope is the result of one encryption: ciphertext plus the salt the
// key was derived with and the GCM nonce.
type Envelope struct {
	Ciphertext []byte
	Salt       []byte
	IV         []byte
}

// Pack serializes the envelope as base64(salt || iv || ciphertext) for
// storage in the sync file's data field.
func (e Envelope) Pack() string {
	buf := make([]byte, 0, len(e.Salt)+len(e.IV)+len(e.Ciphertext))
	buf = append(buf, e.Salt...)
	buf = append(buf, e.IV...)
	buf = append(buf, e.Ciphertext...)
	return base64.StdEncoding.EncodeToString(buf)
}

// UnpackEnvelope parses a packed base64 payload back into its parts.
func UnpackEnvelope(packed string) (Envelope, error) {
	buf, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: payload is not base64", model.ErrInvalidEnvelope)
	}
	if len(buf) < SaltLen+nonceLen {
		return Envelope{}, fmt.Errorf("%w: ciphertext too short", model.ErrInvalidEnvelope)
	}
	return Envelope{
		Salt:       buf[:SaltLen],
		IV:         buf[SaltLen : SaltLen+nonceLen],
		Ciphertext: buf[SaltLen+nonceLen:],
	}, nil
}

// Service derives keys and encrypts/decrypts payloads.
type Service struct {
	params Params
}

// NewService creates a Service with the given KDF parameters.
func NewService(params Params) *Service {
	if params.Time == 0 || params.MemKiB == 0 || params.Par == 0 {
		params = DefaultParams()
	}
	return &Service{params: params}
}

// NewSalt returns a fresh random KDF salt.
func (s *Service) NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives the non-extractable data encryption key. Derivation
// cannot fail for a wrong password; only decryption can detect that.
func (s *Service) DeriveKey(password string, salt []byte) Key {
	return Key{raw: s.derive(password, salt)}
}

// DeriveExtractableKey derives the same key with its raw bytes exportable,
// for handing to the key-wrapping service.
func (s *Service) DeriveExtractableKey(password string, salt []byte) Key {
	return Key{raw: s.derive(password, salt), extractable: true}
}

func (s *Service) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, s.params.Time, s.params.MemKiB, s.params.Par, KeyLen)
}

// Encrypt derives a key from password with a fresh random salt and seals
// plaintext.
func (s *Service) Encrypt(plaintext []byte, password string) (Envelope, error) {
	salt, err := s.NewSalt()
	if err != nil {
		return Envelope{}, err
	}
	return s.seal(plaintext, s.DeriveKey(password, salt), salt)
}

// EncryptWithKey seals plaintext with an explicit key and salt. Used after
// a DEK has been wrapped: reusing the original salt keeps the wrapped DEK
// aligned with the file contents.
func (s *Service) EncryptWithKey(plaintext []byte, key Key, salt []byte) (Envelope, error) {
	if key.IsZero() {
		return Envelope{}, fmt.Errorf("cannot encrypt with zero key")
	}
	if len(salt) != SaltLen {
		return Envelope{}, fmt.Errorf("invalid salt length %d", len(salt))
	}
	return s.seal(plaintext, key, salt)
}

func (s *Service) seal(plaintext []byte, key Key, salt []byte) (Envelope, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return Envelope{Ciphertext: ct, Salt: salt, IV: nonce}, nil
}

// Decrypt re-derives the key from password and the envelope salt and opens
// the ciphertext. An integrity failure maps to model.ErrWrongKey.
func (s *Service) Decrypt(e Envelope, password string) ([]byte, error) {
	return s.DecryptWithKey(e, s.DeriveKey(password, e.Salt))
}

// DecryptWithKey opens the ciphertext with an explicit key, e.g. an
// unwrapped DEK.
func (s *Service) DecryptWithKey(e Envelope, key Key) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(e.IV) != nonceLen {
		return nil, fmt.Errorf("%w: bad nonce length", model.ErrInvalidEnvelope)
	}
	plaintext, err := aead.Open(nil, e.IV, e.Ciphertext, nil)
	if err != nil {
		return nil, model.ErrWrongKey
	}
	return plaintext, nil
}

func newAEAD(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return aead, nil
}
