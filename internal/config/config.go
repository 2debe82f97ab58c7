// Package config loads signer settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"recall254/go-core/internal/prompt"
	"recall254/go-core/internal/securestore"

	"gopkg.in/yaml.v3"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	DataDir         string
	Store           string
	KDFIterations   uint32
	PromptTimeout   time.Duration
	LogLevel        string
	LogFormat       string
	UnlockPerMinute float64
	UnlockBurst     int
	BackupDir       string
	MetricsTextfile string
}

type FileConfig struct {
	Signer SignerConfig `yaml:"signer"`
}

// SignerConfig mirrors Config with optional fields so unset keys keep defaults.
type SignerConfig struct {
	DataDir         string        `yaml:"dataDir"`
	Store           string        `yaml:"store"`
	KDFIterations   uint32        `yaml:"kdfIterations"`
	PromptTimeout   time.Duration `yaml:"promptTimeout"`
	LogLevel        string        `yaml:"logLevel"`
	LogFormat       string        `yaml:"logFormat"`
	UnlockPerMinute *float64      `yaml:"unlockPerMinute"`
	UnlockBurst     *int          `yaml:"unlockBurst"`
	BackupDir       string        `yaml:"backupDir"`
	MetricsTextfile string        `yaml:"metricsTextfile"`
}

func Default() Config {
	return Config{
		DataDir:         defaultDataDir(),
		Store:           StoreFile,
		KDFIterations:   securestore.MinIterations,
		PromptTimeout:   prompt.DefaultTimeout,
		LogLevel:        "info",
		LogFormat:       "json",
		UnlockPerMinute: 5,
		UnlockBurst:     5,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "recall254")
	}
	return ".recall254"
}

// LoadFromPath reads configPath, or the first readable default candidate when
// configPath is empty, then applies environment overrides. A missing default
// candidate is not an error; an unreadable explicit path is.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	candidates := []string{"configs/signer.yaml", "signer.yaml"}
	if configPath != "" {
		candidates = []string{configPath}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed.Signer)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

func Merge(dst *Config, src SignerConfig) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.Store != "" {
		dst.Store = src.Store
	}
	if src.KDFIterations != 0 {
		dst.KDFIterations = src.KDFIterations
	}
	if src.PromptTimeout != 0 {
		dst.PromptTimeout = src.PromptTimeout
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFormat != "" {
		dst.LogFormat = src.LogFormat
	}
	if src.UnlockPerMinute != nil {
		dst.UnlockPerMinute = *src.UnlockPerMinute
	}
	if src.UnlockBurst != nil {
		dst.UnlockBurst = *src.UnlockBurst
	}
	if src.BackupDir != "" {
		dst.BackupDir = src.BackupDir
	}
	if src.MetricsTextfile != "" {
		dst.MetricsTextfile = src.MetricsTextfile
	}
}

// ApplyEnvOverrides applies RECALL_* variables. Unparsable numbers are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := env("RECALL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := env("RECALL_STORE_BACKEND"); v != "" {
		cfg.Store = strings.ToLower(v)
	}
	if v := env("RECALL_KDF_ITERATIONS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.KDFIterations = uint32(n)
		}
	}
	if v := env("RECALL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := env("RECALL_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := env("RECALL_PROMPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PromptTimeout = d
		}
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" && c.Store != StoreMemory {
		errs = append(errs, errors.New("dataDir is required"))
	}
	switch c.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store))
	}
	if c.KDFIterations < securestore.MinIterations {
		errs = append(errs, fmt.Errorf("kdfIterations must be at least %d", securestore.MinIterations))
	}
	if c.PromptTimeout <= 0 {
		errs = append(errs, errors.New("promptTimeout must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.UnlockPerMinute < 0 || c.UnlockBurst < 0 {
		errs = append(errs, errors.New("unlock limits must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}

// ResolveBackupDir defaults backups to <dataDir>/backups.
func (c Config) ResolveBackupDir() string {
	if strings.TrimSpace(c.BackupDir) != "" {
		return c.BackupDir
	}
	return filepath.Join(c.DataDir, "backups")
}
