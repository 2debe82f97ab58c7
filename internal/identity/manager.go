// Package identity manages the lifecycle of the device signing key: generation,
// unlocking, passphrase rotation and erasure.
package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/keystore"
	"recall254/go-core/internal/metrics"
	"recall254/go-core/internal/platform/ratelimiter"
	"recall254/go-core/internal/prompt"
	"recall254/go-core/internal/securestore"
	"recall254/go-core/pkg/models"
)

var ErrStoreRequired = errors.New("identity: key store is required")

type Manager struct {
	store      keystore.KeyStore
	prompter   prompt.Prompter
	limiter    *ratelimiter.MapLimiter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	iterations uint32

	mu       sync.Mutex
	unlocked *ecdsa.PrivateKey
	// unlockedFor is the key version the cached key belongs to.
	unlockedFor string
}

func NewManager(store keystore.KeyStore, opts Options) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	m := &Manager{
		store:      store,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        opts.Now,
		iterations: opts.Iterations,
	}
	if opts.Prompter != nil {
		m.prompter = prompt.WithTimeout(opts.Prompter, opts.PromptTimeout)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.iterations == 0 {
		m.iterations = securestore.MinIterations
	}
	if m.iterations < securestore.MinIterations {
		return nil, fmt.Errorf("%w: %d iterations", securestore.ErrWeakParameters, m.iterations)
	}
	return m, nil
}

// State reports NoKey, KeyLocked or KeyReady for the persisted record.
func (m *Manager) State(ctx context.Context) (models.KeyState, error) {
	rec, err := m.loadRecord(ctx)
	if err != nil {
		return "", err
	}
	return m.stateFor(rec), nil
}

func (m *Manager) stateFor(rec *models.KeyRecord) models.KeyState {
	if rec == nil {
		return models.KeyStateNone
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlocked != nil && m.unlockedFor == rec.KeyVersion {
		return models.KeyStateReady
	}
	return models.KeyStateLocked
}

// GetKeyInfo describes the current key without touching private material.
func (m *Manager) GetKeyInfo(ctx context.Context) (models.KeyInfo, error) {
	rec, err := m.loadRecord(ctx)
	if err != nil {
		return models.KeyInfo{}, err
	}
	return m.infoFor(rec), nil
}

func (m *Manager) infoFor(rec *models.KeyRecord) models.KeyInfo {
	state := m.stateFor(rec)
	m.metrics.SetState(state)
	if rec == nil {
		return models.KeyInfo{HasKeys: false, State: state}
	}
	pub := rec.PublicKey
	return models.KeyInfo{
		HasKeys:    true,
		State:      state,
		DeviceID:   rec.DeviceID,
		KeyVersion: rec.KeyVersion,
		PublicKey:  &pub,
		Created:    rec.CreatedAt,
	}
}

// GenerateKeyPair creates a fresh P-384 key pair, wraps it under passphrase
// (prompting when empty) and replaces any existing record. The device ID of an
// existing record is kept.
func (m *Manager) GenerateKeyPair(ctx context.Context, passphrase string) (info models.KeyInfo, err error) {
	defer func() { m.observe("generate", err) }()

	passphrase, err = m.passphraseOrPrompt(ctx, passphrase, promptCreate)
	if err != nil {
		return models.KeyInfo{}, err
	}
	if err := checkPassphrase(passphrase); err != nil {
		return models.KeyInfo{}, err
	}

	existing, err := m.loadRecord(ctx)
	if err != nil {
		return models.KeyInfo{}, err
	}
	deviceID := newDeviceID()
	if existing != nil && strings.TrimSpace(existing.DeviceID) != "" {
		deviceID = existing.DeviceID
	}

	now := m.now().UTC()
	keyVersion, err := newKeyVersion(now, rand.Reader)
	if err != nil {
		return models.KeyInfo{}, keyerr.New(keyerr.KeyDerivationFailed, "generate", err)
	}
	priv, err := generateSigningKey()
	if err != nil {
		return models.KeyInfo{}, keyerr.New(keyerr.KeyDerivationFailed, "generate", err)
	}
	jwk, err := PublicJWK(&priv.PublicKey)
	if err != nil {
		return models.KeyInfo{}, keyerr.New(keyerr.KeyDerivationFailed, "generate", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return models.KeyInfo{}, keyerr.New(keyerr.KeyDerivationFailed, "generate", err)
	}
	defer securestore.ZeroBytes(der)

	wrapped, err := m.seal(passphrase, deviceID, keyVersion, der)
	if err != nil {
		return models.KeyInfo{}, err
	}
	rec := &models.KeyRecord{
		DeviceID:          deviceID,
		KeyVersion:        keyVersion,
		WrappedPrivateKey: wrapped,
		PublicKey:         jwk,
		CreatedAt:         now,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return models.KeyInfo{}, keyerr.StorageFailure(keyerr.OpKeySave, err)
	}
	m.cache(priv, keyVersion)

	m.logger.Info("signing key generated",
		"component", "identity",
		"operation", "generate",
		"device_id", deviceID,
		"key_version", keyVersion,
		"replaced", existing != nil,
	)
	return m.infoFor(rec), nil
}

// Unlock unwraps the stored key. A supplied passphrase is always checked
// against storage; with an empty passphrase an already unlocked key is reused
// and a locked one triggers a prompt.
func (m *Manager) Unlock(ctx context.Context, passphrase string) error {
	_, err := m.SigningKey(ctx, passphrase)
	return err
}

// SigningKey returns the unwrapped key for the current record, unlocking it
// first when needed.
func (m *Manager) SigningKey(ctx context.Context, passphrase string) (key *SigningKey, err error) {
	rec, err := m.loadRecord(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, keyerr.New(keyerr.NoKeyAvailable, "unlock", nil)
	}
	if strings.TrimSpace(passphrase) == "" {
		if priv := m.cached(rec.KeyVersion); priv != nil {
			return &SigningKey{record: *rec, priv: priv}, nil
		}
	}

	defer func() { m.observe("unlock", err) }()
	passphrase, err = m.passphraseOrPrompt(ctx, passphrase, promptUnlock)
	if err != nil {
		return nil, err
	}
	priv, err := m.open(rec, passphrase)
	if err != nil {
		return nil, err
	}
	m.cache(priv, rec.KeyVersion)
	return &SigningKey{record: *rec, priv: priv}, nil
}

// Lock drops the in-memory key; the record stays on disk.
func (m *Manager) Lock() {
	m.mu.Lock()
	m.unlocked = nil
	m.unlockedFor = ""
	m.mu.Unlock()
}

// EnsureKey generates a key (prompting for its passphrase) when none exists.
func (m *Manager) EnsureKey(ctx context.Context) (models.KeyInfo, error) {
	rec, err := m.loadRecord(ctx)
	if err != nil {
		return models.KeyInfo{}, err
	}
	if rec != nil {
		return m.infoFor(rec), nil
	}
	return m.GenerateKeyPair(ctx, "")
}

func (m *Manager) loadRecord(ctx context.Context) (*models.KeyRecord, error) {
	rec, err := m.store.Load(ctx)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, keyerr.StorageFailure(keyerr.OpKeyCheck, err)
	}
	return rec, nil
}

func (m *Manager) seal(passphrase, deviceID, keyVersion string, der []byte) (models.WrappedKey, error) {
	start := time.Now()
	wrapped, err := securestore.Seal(passphrase, deviceID, m.iterations, securestore.BindingAAD(deviceID, keyVersion), der)
	m.metrics.ObserveKDF(time.Since(start))
	if err != nil {
		return models.WrappedKey{}, keyerr.New(keyerr.KeyDerivationFailed, "wrap", err)
	}
	return wrapped, nil
}

func (m *Manager) open(rec *models.KeyRecord, passphrase string) (*ecdsa.PrivateKey, error) {
	if !m.limiter.Allow(rec.KeyVersion, m.now()) {
		wait := m.limiter.RetryAfter(rec.KeyVersion, m.now())
		return nil, keyerr.New(keyerr.TooManyAttempts, "unlock", fmt.Errorf("retry in %s", wait.Round(time.Second)))
	}
	start := time.Now()
	der, err := securestore.Open(passphrase, rec.DeviceID, rec.WrappedPrivateKey, securestore.BindingAAD(rec.DeviceID, rec.KeyVersion))
	m.metrics.ObserveKDF(time.Since(start))
	if err != nil {
		m.logger.Warn("passphrase rejected",
			"component", "identity",
			"operation", "unlock",
			"key_version", rec.KeyVersion,
		)
		return nil, err
	}
	defer securestore.ZeroBytes(der)
	priv, err := parseWrappedKey(der, rec)
	if err != nil {
		return nil, err
	}
	m.limiter.Reset(rec.KeyVersion)
	return priv, nil
}

func (m *Manager) cache(priv *ecdsa.PrivateKey, keyVersion string) {
	m.mu.Lock()
	m.unlocked = priv
	m.unlockedFor = keyVersion
	m.mu.Unlock()
}

func (m *Manager) cached(keyVersion string) *ecdsa.PrivateKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlocked == nil || m.unlockedFor != keyVersion {
		return nil
	}
	return m.unlocked
}

// passphraseOrPrompt returns the passphrase byte for byte. Whitespace is
// only consulted to decide that nothing was supplied.
func (m *Manager) passphraseOrPrompt(ctx context.Context, passphrase, message string) (string, error) {
	if strings.TrimSpace(passphrase) != "" {
		return passphrase, nil
	}
	if m.prompter == nil {
		return "", keyerr.New(keyerr.UserCancelledPassphrase, "prompt", errors.New("no passphrase supplied"))
	}
	answer, err := m.prompter.PromptSecret(ctx, message)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", keyerr.New(keyerr.UserCancelledPassphrase, "prompt", nil)
	}
	return answer, nil
}

func checkPassphrase(passphrase string) error {
	if n := utf8.RuneCountInString(passphrase); n < MinPassphraseLength {
		return keyerr.New(keyerr.PassphraseTooShort, "", fmt.Errorf("%d characters, need %d", n, MinPassphraseLength))
	}
	return nil
}

func (m *Manager) observe(operation string, err error) {
	m.metrics.Observe(operation, err)
}
