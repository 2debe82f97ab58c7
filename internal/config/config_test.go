package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}

func TestMergeOverridesSetFields(t *testing.T) {
	dst := Default()
	Merge(&dst, SignerConfig{
		DataDir:         "/var/lib/recall",
		Store:           StoreSQLite,
		KDFIterations:   600000,
		PromptTimeout:   30 * time.Second,
		UnlockPerMinute: floatPtr(0),
		UnlockBurst:     intPtr(3),
	})
	if dst.DataDir != "/var/lib/recall" || dst.Store != StoreSQLite || dst.KDFIterations != 600000 {
		t.Fatalf("unexpected merge result %+v", dst)
	}
	if dst.PromptTimeout != 30*time.Second {
		t.Fatalf("expected promptTimeout=30s, got %s", dst.PromptTimeout)
	}
	if dst.UnlockPerMinute != 0 || dst.UnlockBurst != 3 {
		t.Fatalf("explicit zero limits should apply: %+v", dst)
	}
}

func TestMergeKeepsDefaultsWhenUnset(t *testing.T) {
	dst := Default()
	Merge(&dst, SignerConfig{LogLevel: "debug"})
	def := Default()
	if dst.UnlockPerMinute != def.UnlockPerMinute || dst.Store != def.Store || dst.PromptTimeout != def.PromptTimeout {
		t.Fatalf("unset fields must keep defaults: %+v", dst)
	}
	if dst.LogLevel != "debug" {
		t.Fatalf("expected debug, got %q", dst.LogLevel)
	}
}

func TestLoadFromPathWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.yaml")
	body := "signer:\n  dataDir: /from/file\n  store: memory\n  promptTimeout: 45s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	t.Setenv("RECALL_STORE_BACKEND", "SQLite")
	t.Setenv("RECALL_KDF_ITERATIONS", "400000")
	t.Setenv("RECALL_PROMPT_TIMEOUT", "not-a-duration")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DataDir != "/from/file" {
		t.Fatalf("expected file dataDir, got %q", cfg.DataDir)
	}
	if cfg.Store != StoreSQLite || cfg.KDFIterations != 400000 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.PromptTimeout != 45*time.Second {
		t.Fatalf("bad env duration must be ignored, got %s", cfg.PromptTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}

func TestLoadFromPathErrors(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("explicit missing path should fail")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("signer: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("malformed yaml should fail")
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Store = "redis"
	cfg.KDFIterations = 1000
	cfg.PromptTimeout = 0
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"redis", "kdfIterations", "promptTimeout", "loud"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestResolveBackupDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	if got := cfg.ResolveBackupDir(); got != filepath.Join("/data", "backups") {
		t.Fatalf("unexpected default backup dir %q", got)
	}
	cfg.BackupDir = "/exports"
	if got := cfg.ResolveBackupDir(); got != "/exports" {
		t.Fatalf("unexpected backup dir %q", got)
	}
}
