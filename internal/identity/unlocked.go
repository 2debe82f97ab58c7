package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"fmt"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/pkg/models"
)

// SignatureSize is the IEEE P1363 encoding length of a P-384 signature (r‖s).
const SignatureSize = 2 * coordSize

// SigningKey is an unwrapped private key together with the record it was
// unwrapped from. It is handed to the signature engine and never persisted.
type SigningKey struct {
	record models.KeyRecord
	priv   *ecdsa.PrivateKey
}

func (k *SigningKey) DeviceID() string            { return k.record.DeviceID }
func (k *SigningKey) KeyVersion() string          { return k.record.KeyVersion }
func (k *SigningKey) PublicKey() models.PublicJWK { return k.record.PublicKey }

// Sign hashes message with SHA-384 and returns the fixed-width r‖s signature.
func (k *SigningKey) Sign(message []byte) ([]byte, error) {
	if k == nil || k.priv == nil {
		return nil, keyerr.ErrNoKeyAvailable
	}
	digest := sha512.Sum384(message)
	r, s, err := ecdsa.Sign(rand.Reader, k.priv, digest[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:coordSize])
	s.FillBytes(sig[coordSize:])
	return sig, nil
}

func parseWrappedKey(der []byte, rec *models.KeyRecord) (*ecdsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "unlock", fmt.Errorf("parse pkcs8: %w", err))
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "unlock", errors.New("unwrapped key is not ecdsa"))
	}
	jwk, err := PublicJWK(&priv.PublicKey)
	if err != nil {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "unlock", err)
	}
	if !SameKey(jwk, rec.PublicKey) {
		return nil, keyerr.New(keyerr.KeyDerivationFailed, "unlock", errors.New("unwrapped key does not match stored public key"))
	}
	return priv, nil
}
