// Package backup exports the public half of the device key for user-held
// records. Nothing here can reach the wrapped private key: KeyBackup has no
// field for it and only public members are copied out of the record.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"recall254/go-core/internal/identity"
	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/keystore"
	"recall254/go-core/pkg/models"

	"github.com/tyler-smith/go-bip39"
)

const (
	Format  = "recall254-public-key-backup"
	Version = 1
)

var ErrInvalidBackup = errors.New("invalid key backup")

// GenerateKeyBackup returns nil, nil when the store holds no key.
func GenerateKeyBackup(ctx context.Context, store keystore.KeyStore) (*models.KeyBackup, error) {
	return generateAt(ctx, store, time.Now().UTC())
}

func generateAt(ctx context.Context, store keystore.KeyStore, now time.Time) (*models.KeyBackup, error) {
	if store == nil {
		return nil, keyerr.StorageFailure(keyerr.OpBackup, errors.New("no key store"))
	}
	rec, err := store.Load(ctx)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, keyerr.StorageFailure(keyerr.OpBackup, err)
	}
	keyID, err := identity.KeyID(rec.PublicKey)
	if err != nil {
		return nil, keyerr.StorageFailure(keyerr.OpBackup, err)
	}
	words, err := FingerprintWords(rec.PublicKey)
	if err != nil {
		return nil, keyerr.StorageFailure(keyerr.OpBackup, err)
	}
	return &models.KeyBackup{
		Format:           Format,
		Version:          Version,
		DeviceID:         rec.DeviceID,
		KeyVersion:       rec.KeyVersion,
		KeyID:            keyID,
		Algorithm:        identity.JWKAlgorithm,
		PublicKey:        publicOnly(rec.PublicKey),
		FingerprintWords: words,
		CreatedAt:        rec.CreatedAt.UTC(),
		ExportedAt:       now,
	}, nil
}

func publicOnly(jwk models.PublicJWK) models.PublicJWK {
	return models.PublicJWK{Kty: jwk.Kty, Crv: jwk.Crv, X: jwk.X, Y: jwk.Y, Kid: jwk.Kid, Alg: jwk.Alg, Use: jwk.Use}
}

// FingerprintWords renders the key thumbprint as twelve BIP-39 words so two
// people can compare keys by reading them aloud.
func FingerprintWords(jwk models.PublicJWK) ([]string, error) {
	tp, err := identity.Thumbprint(jwk)
	if err != nil {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(tp)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	mnemonic, err := bip39.NewMnemonic(sum[:16])
	if err != nil {
		return nil, err
	}
	return strings.Fields(mnemonic), nil
}

// Marshal is the downloadable JSON form.
func Marshal(b *models.KeyBackup) ([]byte, error) {
	if b == nil {
		return nil, keyerr.New(keyerr.NoKeyAvailable, keyerr.OpBackup, nil)
	}
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, keyerr.StorageFailure(keyerr.OpBackup, err)
	}
	return append(raw, '\n'), nil
}

// ParseKeyBackup decodes a downloaded backup. Unknown members are rejected, so
// a file that was edited to carry extra key material does not load.
func ParseKeyBackup(raw []byte) (*models.KeyBackup, error) {
	var b models.KeyBackup
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if b.Format != Format || b.Version != Version {
		return nil, fmt.Errorf("%w: unsupported format %q v%d", ErrInvalidBackup, b.Format, b.Version)
	}
	if b.DeviceID == "" || b.KeyVersion == "" {
		return nil, fmt.Errorf("%w: missing key binding", ErrInvalidBackup)
	}
	keyID, err := identity.KeyID(b.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if keyID != b.KeyID {
		return nil, fmt.Errorf("%w: key id does not match public key", ErrInvalidBackup)
	}
	return &b, nil
}

// MatchesResult reports whether result was signed by the key in b.
func MatchesResult(b *models.KeyBackup, result models.SignatureResult) bool {
	if b == nil {
		return false
	}
	return identity.SameKey(b.PublicKey, result.PublicKeyJWK) &&
		b.KeyVersion == result.KeyVersion &&
		b.DeviceID == result.DeviceID
}
