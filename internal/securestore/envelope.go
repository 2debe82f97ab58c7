package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/pkg/models"

	"golang.org/x/crypto/pbkdf2"
)

const (
	wrapVersion   = 1
	MinIterations = 310000
	KDFName       = "pbkdf2-sha256"
	CipherName    = "aes-256-gcm"
	SaltSize      = 16
	NonceSize     = 12
	KeySize       = 32
	saltContext   = "recall254/wrap/v1"
	bindContext   = "recall254/key/v1"
)

var (
	ErrAuthFailed     = errors.New("securestore authentication failed")
	ErrInvalid        = errors.New("securestore wrapped key is invalid")
	ErrWeakParameters = errors.New("securestore kdf parameters below minimum")
)

// DeriveWrappingKey stretches passphrase with PBKDF2-HMAC-SHA256. The salt is
// mixed with deviceID so the same passphrase yields a different key per install.
func DeriveWrappingKey(passphrase string, salt []byte, deviceID string, iterations uint32) ([]byte, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: %d iterations", ErrWeakParameters, iterations)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt size %d", ErrInvalid, len(salt))
	}
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalid)
	}
	return pbkdf2.Key([]byte(passphrase), deviceSalt(salt, deviceID), int(iterations), KeySize, sha256.New), nil
}

func deviceSalt(salt []byte, deviceID string) []byte {
	b := make([]byte, 0, len(saltContext)+len(deviceID)+len(salt)+2)
	b = append(b, saltContext...)
	b = append(b, 0)
	b = append(b, deviceID...)
	b = append(b, 0)
	b = append(b, salt...)
	return b
}

// BindingAAD is the associated data sealing a wrapped key to its device and
// key generation.
func BindingAAD(deviceID, keyVersion string) []byte {
	b := make([]byte, 0, len(bindContext)+len(deviceID)+len(keyVersion)+2)
	b = append(b, bindContext...)
	b = append(b, 0)
	b = append(b, deviceID...)
	b = append(b, 0)
	b = append(b, keyVersion...)
	return b
}

// WrapPrivateKey seals privateKey under wrappingKey with AES-256-GCM.
func WrapPrivateKey(privateKey, wrappingKey, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(wrappingKey)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, privateKey, aad), nil
}

// UnwrapPrivateKey opens wrapped with wrappingKey. Any authentication failure
// is reported as KeyDerivationFailed; no unauthenticated bytes are returned.
func UnwrapPrivateKey(wrapped models.WrappedKey, wrappingKey, aad []byte) ([]byte, error) {
	if err := ValidateParams(wrapped); err != nil {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "unwrap", err)
	}
	aead, err := newAEAD(wrappingKey)
	if err != nil {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "unwrap", err)
	}
	plaintext, err := aead.Open(nil, wrapped.Nonce, wrapped.Ciphertext, aad)
	if err != nil {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "unwrap", ErrAuthFailed)
	}
	return plaintext, nil
}

// Seal derives a fresh wrapping key (new salt) and wraps plaintext under it.
func Seal(passphrase, deviceID string, iterations uint32, aad, plaintext []byte) (models.WrappedKey, error) {
	if iterations == 0 {
		iterations = MinIterations
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return models.WrappedKey{}, err
	}
	key, err := DeriveWrappingKey(passphrase, salt, deviceID, iterations)
	if err != nil {
		return models.WrappedKey{}, err
	}
	defer ZeroBytes(key)

	nonce, ciphertext, err := WrapPrivateKey(plaintext, key, aad)
	if err != nil {
		return models.WrappedKey{}, err
	}
	return models.WrappedKey{
		Version:    wrapVersion,
		KDF:        KDFName,
		Iterations: iterations,
		Salt:       salt,
		Cipher:     CipherName,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Open re-derives the wrapping key from passphrase and unwraps.
func Open(passphrase, deviceID string, wrapped models.WrappedKey, aad []byte) ([]byte, error) {
	if err := ValidateParams(wrapped); err != nil {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "unwrap", err)
	}
	key, err := DeriveWrappingKey(passphrase, wrapped.Salt, deviceID, wrapped.Iterations)
	if err != nil {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "derive", err)
	}
	defer ZeroBytes(key)
	return UnwrapPrivateKey(wrapped, key, aad)
}

// ValidateParams checks the wrapping metadata without touching the passphrase.
func ValidateParams(w models.WrappedKey) error {
	switch {
	case w.Version != wrapVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrInvalid, w.Version)
	case w.KDF != KDFName:
		return fmt.Errorf("%w: unsupported kdf %q", ErrInvalid, w.KDF)
	case w.Cipher != CipherName:
		return fmt.Errorf("%w: unsupported cipher %q", ErrInvalid, w.Cipher)
	case w.Iterations < MinIterations:
		return fmt.Errorf("%w: %d iterations", ErrWeakParameters, w.Iterations)
	case len(w.Salt) != SaltSize:
		return fmt.Errorf("%w: salt size %d", ErrInvalid, len(w.Salt))
	case len(w.Nonce) != NonceSize:
		return fmt.Errorf("%w: nonce size %d", ErrInvalid, len(w.Nonce))
	case len(w.Ciphertext) <= aesGCMTagSize:
		return fmt.Errorf("%w: ciphertext too short", ErrInvalid)
	}
	return nil
}

const aesGCMTagSize = 16

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: wrapping key size %d", ErrInvalid, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
