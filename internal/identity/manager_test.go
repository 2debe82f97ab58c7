package identity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/keystore"
	"recall254/go-core/internal/platform/ratelimiter"
	"recall254/go-core/internal/prompt"
	"recall254/go-core/pkg/models"
)

func TestGenerateKeyPairAndInfo(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	m := newTestManager(t, store, nil)

	info, err := m.GetKeyInfo(ctx)
	if err != nil {
		t.Fatalf("get key info failed: %v", err)
	}
	if info.HasKeys || info.State != models.KeyStateNone || info.PublicKey != nil {
		t.Fatalf("expected empty info, got %+v", info)
	}

	info, err = m.GenerateKeyPair(ctx, "correct-horse-1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !info.HasKeys || info.State != models.KeyStateReady {
		t.Fatalf("unexpected info after generate: %+v", info)
	}
	if !ValidDeviceID(info.DeviceID) {
		t.Fatalf("device id is not a uuid: %q", info.DeviceID)
	}
	created, err := KeyVersionTime(info.KeyVersion)
	if err != nil {
		t.Fatalf("key version time failed: %v", err)
	}
	if !created.Equal(testNow) || !info.Created.Equal(testNow) {
		t.Fatalf("unexpected creation time %s / %s", created, info.Created)
	}
	if info.PublicKey == nil || info.PublicKey.Crv != JWKCurve || info.PublicKey.Kid == "" {
		t.Fatalf("unexpected public key %+v", info.PublicKey)
	}
	if !m.ValidateKeyConsistency(ctx) {
		t.Fatal("fresh record should be consistent")
	}

	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.WrappedPrivateKey.Iterations < 310000 {
		t.Fatalf("weak iterations persisted: %d", rec.WrappedPrivateKey.Iterations)
	}
}

func TestGenerateRejectsShortPassphrase(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	m := newTestManager(t, store, nil)

	_, err := m.GenerateKeyPair(ctx, "  short ")
	if !errors.Is(err, keyerr.ErrPassphraseTooShort) {
		t.Fatalf("expected PassphraseTooShort, got %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, keystore.ErrNotFound) {
		t.Fatalf("nothing should be stored, got %v", err)
	}
}

func TestGeneratePromptsWhenPassphraseEmpty(t *testing.T) {
	script := prompt.NewScript("correct-horse-1")
	m := newTestManager(t, keystore.NewMemoryStore(), script)

	info, err := m.GenerateKeyPair(context.Background(), "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !info.HasKeys || script.Asked() != 1 {
		t.Fatalf("expected one prompt and a key, got asked=%d info=%+v", script.Asked(), info)
	}
}

func TestGenerateCancelledPromptStoresNothing(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	m := newTestManager(t, store, prompt.NewScript())

	if _, err := m.GenerateKeyPair(ctx, ""); !errors.Is(err, keyerr.ErrUserCancelledPassphrase) {
		t.Fatalf("expected cancel, got %v", err)
	}
	if state, _ := m.State(ctx); state != models.KeyStateNone {
		t.Fatalf("expected no key, got %s", state)
	}
}

func TestRegenerateKeepsDeviceAndRotatesVersion(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, keystore.NewMemoryStore(), nil)

	first, err := m.GenerateKeyPair(ctx, "correct-horse-1")
	if err != nil {
		t.Fatalf("first generate failed: %v", err)
	}
	second, err := m.GenerateKeyPair(ctx, "correct-horse-1")
	if err != nil {
		t.Fatalf("second generate failed: %v", err)
	}
	if first.DeviceID != second.DeviceID {
		t.Fatal("device id must survive regeneration")
	}
	if first.KeyVersion == second.KeyVersion {
		t.Fatal("key version must rotate")
	}
	if SameKey(*first.PublicKey, *second.PublicKey) {
		t.Fatal("regeneration must produce a new key pair")
	}
}

func TestUnlockFromFreshManager(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	if _, err := newTestManager(t, store, nil).GenerateKeyPair(ctx, "correct-horse-1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	m := newTestManager(t, store, nil)
	if state, _ := m.State(ctx); state != models.KeyStateLocked {
		t.Fatalf("expected locked, got %s", state)
	}
	if err := m.Unlock(ctx, "wrong-horse-9"); !errors.Is(err, keyerr.ErrKeyDerivationFailed) {
		t.Fatalf("expected KeyDerivationFailed, got %v", err)
	}
	if err := m.Unlock(ctx, "correct-horse-1"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if state, _ := m.State(ctx); state != models.KeyStateReady {
		t.Fatalf("expected ready, got %s", state)
	}
	m.Lock()
	if state, _ := m.State(ctx); state != models.KeyStateLocked {
		t.Fatalf("expected locked after Lock, got %s", state)
	}
}

func TestUnlockWithoutKey(t *testing.T) {
	m := newTestManager(t, keystore.NewMemoryStore(), nil)
	if err := m.Unlock(context.Background(), "correct-horse-1"); !errors.Is(err, keyerr.ErrNoKeyAvailable) {
		t.Fatalf("expected NoKeyAvailable, got %v", err)
	}
}

func TestUnlockIsRateLimited(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	if _, err := newTestManager(t, store, nil).GenerateKeyPair(ctx, "correct-horse-1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	m := newTestManagerWithLimiter(t, store, nil, ratelimiter.New(1, 1, 0))

	if err := m.Unlock(ctx, "wrong-horse-9"); !errors.Is(err, keyerr.ErrKeyDerivationFailed) {
		t.Fatalf("expected KeyDerivationFailed, got %v", err)
	}
	err := m.Unlock(ctx, "correct-horse-1")
	if !errors.Is(err, keyerr.ErrTooManyAttempts) {
		t.Fatalf("expected TooManyAttempts, got %v", err)
	}
	if !keyerr.Recoverable(err) {
		t.Fatal("throttling should be recoverable")
	}
}

func TestSigningKeySignaturesVerify(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, keystore.NewMemoryStore(), nil)
	info, err := m.GenerateKeyPair(ctx, "correct-horse-1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	key, err := m.SigningKey(ctx, "")
	if err != nil {
		t.Fatalf("signing key failed: %v", err)
	}
	if key.KeyVersion() != info.KeyVersion || !ValidDeviceID(key.DeviceID()) {
		t.Fatalf("key accessors disagree with record: %s %s", key.KeyVersion(), key.DeviceID())
	}
	sig, err := key.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if len(sig) != SignatureSize {
		t.Fatalf("unexpected signature size %d", len(sig))
	}
	pub, err := ParsePublicJWK(key.PublicKey())
	if err != nil {
		t.Fatalf("parse jwk failed: %v", err)
	}
	if !verifyRaw(pub, []byte("payload"), sig) {
		t.Fatal("signature should verify")
	}
	if verifyRaw(pub, []byte("payload!"), sig) {
		t.Fatal("signature must not verify other data")
	}
}

func TestEnsureKey(t *testing.T) {
	ctx := context.Background()
	script := prompt.NewScript("correct-horse-1")
	m := newTestManager(t, keystore.NewMemoryStore(), script)

	first, err := m.EnsureKey(ctx)
	if err != nil {
		t.Fatalf("ensure key failed: %v", err)
	}
	second, err := m.EnsureKey(ctx)
	if err != nil {
		t.Fatalf("second ensure key failed: %v", err)
	}
	if first.KeyVersion != second.KeyVersion || script.Asked() != 1 {
		t.Fatalf("existing key must be reused, asked=%d", script.Asked())
	}
}

func TestStorageFailuresCarryOperation(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{KeyStore: keystore.NewMemoryStore()}
	m := newTestManager(t, store, nil)

	store.failSave = true
	_, err := m.GenerateKeyPair(ctx, "correct-horse-1")
	assertStorageOp(t, err, keyerr.OpKeySave)

	store.failSave = false
	store.failLoad = true
	_, err = m.GetKeyInfo(ctx)
	assertStorageOp(t, err, keyerr.OpKeyCheck)
	if m.ValidateKeyConsistency(ctx) {
		t.Fatal("validation must fail when storage fails")
	}

	store.failLoad = false
	store.failDelete = true
	assertStorageOp(t, m.ClearCryptoData(ctx), keyerr.OpKeyClear)
}

func TestPassphraseKeptByteForByte(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, keystore.NewMemoryStore(), prompt.NewScript("  "))
	if _, err := m.GenerateKeyPair(ctx, " correct-horse-1 "); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	m.Lock()

	if err := m.Unlock(ctx, "correct-horse-1"); !errors.Is(err, keyerr.ErrKeyDerivationFailed) {
		t.Fatalf("expected trimmed passphrase to fail, got %v", err)
	}
	if err := m.Unlock(ctx, " correct-horse-1 "); err != nil {
		t.Fatalf("unlock with exact passphrase failed: %v", err)
	}
	m.Lock()
	if err := m.Unlock(ctx, ""); !errors.Is(err, keyerr.ErrUserCancelledPassphrase) {
		t.Fatalf("expected blank prompt answer to cancel, got %v", err)
	}
}

func TestClearSurvivesUnreadableRecord(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{KeyStore: keystore.NewMemoryStore()}
	var logs bytes.Buffer
	m, err := NewManager(store, Options{
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
		Now:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	if _, err := m.GenerateKeyPair(ctx, "correct-horse-1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	store.failLoad = true
	if err := m.ClearCryptoData(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if !strings.Contains(logs.String(), "key record unreadable before clear") || !strings.Contains(logs.String(), errDiskGone.Error()) {
		t.Fatalf("expected load failure to be logged, got %s", logs.String())
	}

	store.failLoad = false
	if _, err := store.Load(ctx); !errors.Is(err, keystore.ErrNotFound) {
		t.Fatalf("expected record deleted, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, Options{}); !errors.Is(err, ErrStoreRequired) {
		t.Fatalf("expected ErrStoreRequired, got %v", err)
	}
	if _, err := NewManager(keystore.NewMemoryStore(), Options{Iterations: 1000}); err == nil {
		t.Fatal("expected weak iteration count to be rejected")
	}
}

func assertStorageOp(t *testing.T, err error, op string) {
	t.Helper()
	var kerr *keyerr.Error
	if !errors.As(err, &kerr) || kerr.Kind != keyerr.Storage || kerr.Op != op {
		t.Fatalf("expected storage failure %s, got %v", op, err)
	}
	if !errors.Is(err, errDiskGone) {
		t.Fatalf("cause must be preserved, got %v", err)
	}
}
