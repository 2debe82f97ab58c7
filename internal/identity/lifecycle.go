package identity

import (
	"context"
	"crypto/x509"
	"strings"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/keystore"
	"recall254/go-core/internal/securestore"
	"recall254/go-core/pkg/models"
)

// Bounds on the sealed PKCS#8 encoding of a P-384 key, GCM tag included.
const (
	minWrappedCiphertext = 150 + 16
	maxWrappedCiphertext = 260 + 16
)

// RecoverKeys re-wraps the existing key under newPassphrase. The key pair,
// key version, device ID and creation time are unchanged.
func (m *Manager) RecoverKeys(ctx context.Context, oldPassphrase, newPassphrase string) (err error) {
	defer func() { m.observe("recover", err) }()

	rec, err := m.loadRecord(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		return keyerr.New(keyerr.NoKeyAvailable, "recover", nil)
	}
	oldPassphrase, err = m.passphraseOrPrompt(ctx, oldPassphrase, promptCurrent)
	if err != nil {
		return err
	}
	newPassphrase, err = m.passphraseOrPrompt(ctx, newPassphrase, promptNew)
	if err != nil {
		return err
	}
	if err := checkPassphrase(newPassphrase); err != nil {
		return err
	}

	priv, err := m.open(rec, oldPassphrase)
	if err != nil {
		return err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return keyerr.New(keyerr.KeyDerivationFailed, "recover", err)
	}
	defer securestore.ZeroBytes(der)

	wrapped, err := m.seal(newPassphrase, rec.DeviceID, rec.KeyVersion, der)
	if err != nil {
		return err
	}
	next := keystore.CloneRecord(rec)
	next.WrappedPrivateKey = wrapped
	if err := m.store.Save(ctx, next); err != nil {
		return keyerr.StorageFailure(keyerr.OpKeySave, err)
	}
	m.cache(priv, rec.KeyVersion)

	m.logger.Info("signing key passphrase rotated",
		"component", "identity",
		"operation", "recover",
		"key_version", rec.KeyVersion,
	)
	return nil
}

// ClearCryptoData deletes the stored record, including the device ID, and
// drops the in-memory key. The next generation mints a new device ID.
func (m *Manager) ClearCryptoData(ctx context.Context) (err error) {
	defer func() { m.observe("clear", err) }()

	rec, loadErr := m.loadRecord(ctx)
	if loadErr != nil {
		m.logger.Warn("key record unreadable before clear; attempt limits stay in place",
			"component", "identity",
			"operation", "clear",
			"error", loadErr,
		)
	}
	if err := m.store.Delete(ctx); err != nil {
		return keyerr.StorageFailure(keyerr.OpKeyClear, err)
	}
	m.Lock()
	if rec != nil {
		m.limiter.Reset(rec.KeyVersion)
	}
	m.metrics.SetState(models.KeyStateNone)
	m.logger.Info("signing key cleared",
		"component", "identity",
		"operation", "clear",
	)
	return nil
}

// ValidateKeyConsistency checks the stored record structurally without a
// passphrase. Any failure, including a storage error, yields false.
func (m *Manager) ValidateKeyConsistency(ctx context.Context) bool {
	rec, err := m.loadRecord(ctx)
	if err != nil || rec == nil {
		return false
	}
	problem := recordProblem(rec)
	if problem != "" {
		m.logger.Warn("stored key record is inconsistent",
			"component", "identity",
			"operation", "validate",
			"problem", problem,
		)
		return false
	}
	return true
}

func recordProblem(rec *models.KeyRecord) string {
	if strings.TrimSpace(rec.DeviceID) == "" {
		return "missing device id"
	}
	if _, err := KeyVersionTime(rec.KeyVersion); err != nil {
		return "malformed key version"
	}
	if _, err := ParsePublicJWK(rec.PublicKey); err != nil {
		return "public key is not a P-384 point"
	}
	kid, err := Thumbprint(rec.PublicKey)
	if err != nil || kid != rec.PublicKey.Kid {
		return "public key thumbprint mismatch"
	}
	if err := securestore.ValidateParams(rec.WrappedPrivateKey); err != nil {
		return "wrapping parameters rejected"
	}
	if n := len(rec.WrappedPrivateKey.Ciphertext); n < minWrappedCiphertext || n > maxWrappedCiphertext {
		return "wrapped key length implausible"
	}
	if rec.CreatedAt.IsZero() {
		return "missing creation time"
	}
	return ""
}
