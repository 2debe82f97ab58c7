package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"recall254/go-core/internal/backup"
	"recall254/go-core/internal/config"
	"recall254/go-core/internal/keystore"
	"recall254/go-core/internal/keystore/sqlitestore"
	"recall254/go-core/internal/metrics"
	"recall254/go-core/internal/platform/ratelimiter"
	"recall254/go-core/internal/prompt"

	"github.com/prometheus/client_golang/prometheus"
)

// OpenStore returns the configured key store and a close func.
func OpenStore(cfg config.Config) (keystore.KeyStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case config.StoreMemory:
		return keystore.NewMemoryStore(), noop, nil
	case config.StoreSQLite:
		s, err := sqlitestore.Open(sqlitestore.DefaultPath(cfg.DataDir))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreFile, "":
		s, err := keystore.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// New builds a Service from cfg. reg receives the metrics; pass a fresh
// registry per process or test.
func New(cfg config.Config, p prompt.Prompter, logger *slog.Logger, reg prometheus.Registerer) (*Service, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		lvl, _ := cfg.SlogLevel()
		logger = NewLogger(os.Stderr, lvl, cfg.LogFormat)
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	svc, err := NewService(Deps{
		Store:         store,
		Prompter:      p,
		PromptTimeout: cfg.PromptTimeout,
		Saver:         backup.DirSaver{Dir: cfg.ResolveBackupDir()},
		Limiter:       ratelimiter.New(cfg.UnlockPerMinute, cfg.UnlockBurst, 30*time.Minute),
		Metrics:       m,
		Logger:        logger,
		Iterations:    cfg.KDFIterations,
	})
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}
