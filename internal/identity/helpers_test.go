package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"recall254/go-core/internal/keystore"
	"recall254/go-core/internal/platform/ratelimiter"
	"recall254/go-core/internal/prompt"
	"recall254/go-core/pkg/models"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestManager(t *testing.T, store keystore.KeyStore, p prompt.Prompter) *Manager {
	t.Helper()
	return newTestManagerWithLimiter(t, store, p, nil)
}

func newTestManagerWithLimiter(t *testing.T, store keystore.KeyStore, p prompt.Prompter, l *ratelimiter.MapLimiter) *Manager {
	t.Helper()
	m, err := NewManager(store, Options{
		Prompter:      p,
		PromptTimeout: time.Second,
		Limiter:       l,
		Now:           func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	return m
}

// flakyStore fails the configured operations and delegates the rest.
type flakyStore struct {
	keystore.KeyStore
	failLoad   bool
	failSave   bool
	failDelete bool
}

var errDiskGone = errors.New("disk gone")

func (s *flakyStore) Load(ctx context.Context) (*models.KeyRecord, error) {
	if s.failLoad {
		return nil, errDiskGone
	}
	return s.KeyStore.Load(ctx)
}

func (s *flakyStore) Save(ctx context.Context, rec *models.KeyRecord) error {
	if s.failSave {
		return errDiskGone
	}
	return s.KeyStore.Save(ctx, rec)
}

func (s *flakyStore) Delete(ctx context.Context) error {
	if s.failDelete {
		return errDiskGone
	}
	return s.KeyStore.Delete(ctx)
}
