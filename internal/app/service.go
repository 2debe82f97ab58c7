package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recall254/go-core/internal/backup"
	"recall254/go-core/internal/identity"
	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/keystore"
	"recall254/go-core/internal/metrics"
	"recall254/go-core/internal/platform/ratelimiter"
	"recall254/go-core/internal/prompt"
	"recall254/go-core/internal/receipt"
	"recall254/go-core/internal/securestore"
	"recall254/go-core/internal/signing"
	"recall254/go-core/internal/verify"
	"recall254/go-core/pkg/models"
)

type Deps struct {
	Store         keystore.KeyStore
	Prompter      prompt.Prompter
	PromptTimeout time.Duration
	Saver         backup.Saver
	Limiter       *ratelimiter.MapLimiter
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Iterations    uint32
	Now           func() time.Time
}

type Service struct {
	keys    *identity.Manager
	engine  *signing.Engine
	store   keystore.KeyStore
	saver   backup.Saver
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	iterations uint32
}

var _ SignerAPI = (*Service)(nil)

func NewService(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("app: key store is required")
	}
	if d.Logger == nil {
		d.Logger = DefaultLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	keys, err := identity.NewManager(d.Store, identity.Options{
		Prompter:      d.Prompter,
		PromptTimeout: d.PromptTimeout,
		Limiter:       d.Limiter,
		Metrics:       d.Metrics,
		Logger:        d.Logger,
		Now:           d.Now,
		Iterations:    d.Iterations,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		keys:    keys,
		engine:  signing.NewEngine(keys, d.Logger, d.Metrics).WithClock(d.Now),
		store:   d.Store,
		saver:   d.Saver,
		logger:  d.Logger,
		metrics: d.Metrics,
		now:     d.Now,

		iterations: max(d.Iterations, securestore.MinIterations),
	}, nil
}

func (s *Service) KeyInfo(ctx context.Context) (models.KeyInfo, error) {
	return s.keys.GetKeyInfo(ctx)
}

func (s *Service) GenerateKeyPair(ctx context.Context, passphrase string) (models.KeyInfo, error) {
	return s.keys.GenerateKeyPair(ctx, passphrase)
}

func (s *Service) Unlock(ctx context.Context, passphrase string) error {
	return s.keys.Unlock(ctx, passphrase)
}

func (s *Service) RecoverKeys(ctx context.Context, oldPassphrase, newPassphrase string) error {
	return s.keys.RecoverKeys(ctx, oldPassphrase, newPassphrase)
}

func (s *Service) ClearCryptoData(ctx context.Context) error {
	return s.keys.ClearCryptoData(ctx)
}

func (s *Service) CheckConsistency(ctx context.Context) bool {
	return s.keys.ValidateKeyConsistency(ctx)
}

// Sign runs the whole flow: create a key on first use, sign, verify the
// result locally and issue a receipt for it.
func (s *Service) Sign(ctx context.Context, meta models.PetitionMeta, fields models.SignerFields, passphrase string) (SignOutcome, error) {
	state, err := s.keys.State(ctx)
	if err != nil {
		return SignOutcome{}, err
	}
	if state == models.KeyStateNone {
		if _, err := s.keys.GenerateKeyPair(ctx, passphrase); err != nil {
			return SignOutcome{}, err
		}
		// The new key is already unlocked.
		passphrase = ""
	}

	res, err := s.engine.SignPetitionData(ctx, meta, fields, passphrase)
	if err != nil {
		return SignOutcome{}, err
	}
	if v := verify.VerifySignatureLocally(res); !v.IsValid {
		s.metrics.Observe("verify", errors.New(v.Reason))
		return SignOutcome{}, keyerr.New(keyerr.InvalidPayload, "verify", fmt.Errorf("local verification failed: %s", v.Reason))
	}
	rcpt, err := receipt.Issue(res, fields, s.now())
	if err != nil {
		return SignOutcome{}, err
	}
	s.logger.Info("signature ready for submission",
		"component", "app",
		"operation", "sign",
		"petition_id", meta.ID,
		"receipt_expires_at", rcpt.ExpiresAt,
	)
	return SignOutcome{Result: res, Receipt: rcpt}, nil
}

func (s *Service) Verify(result models.SignatureResult) models.Verification {
	v := verify.VerifySignatureLocally(result)
	var err error
	if !v.IsValid {
		err = errors.New(v.Reason)
	}
	s.metrics.Observe("verify", err)
	return v
}

// Backup returns nil, nil when no key exists.
func (s *Service) Backup(ctx context.Context) (*models.KeyBackup, error) {
	return backup.GenerateKeyBackup(ctx, s.store)
}

func (s *Service) DownloadBackup(ctx context.Context) (string, error) {
	b, err := s.requireBackup(ctx)
	if err != nil {
		return "", err
	}
	location, err := backup.DownloadKeyBackup(b, s.saver)
	s.metrics.Observe("backup", err)
	if err != nil {
		return "", err
	}
	s.logger.Info("key backup saved",
		"component", "app",
		"operation", "backup",
		"key_version", b.KeyVersion,
	)
	return location, nil
}

func (s *Service) BackupMarkdown(ctx context.Context) (string, error) {
	b, err := s.requireBackup(ctx)
	if err != nil {
		return "", err
	}
	return backup.ExportKeyBackupAsMarkdown(b), nil
}

func (s *Service) requireBackup(ctx context.Context) (*models.KeyBackup, error) {
	b, err := backup.GenerateKeyBackup(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, keyerr.New(keyerr.NoKeyAvailable, keyerr.OpBackup, nil)
	}
	return b, nil
}
