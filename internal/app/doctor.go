package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"recall254/go-core/internal/identity"
	"recall254/go-core/internal/keystore"
)

type DoctorInput struct {
	// DataDir is checked for owner-only permissions when non-empty.
	DataDir   string
	BackupDir string
}

type DoctorCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type DoctorReport struct {
	Ready     bool          `json:"ready"`
	Checks    []DoctorCheck `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Doctor reports whether this device is ready to sign. It never prompts and
// never touches private key material.
func (s *Service) Doctor(ctx context.Context, input DoctorInput) (DoctorReport, error) {
	report := DoctorReport{
		Ready:     true,
		Checks:    make([]DoctorCheck, 0, 6),
		CheckedAt: s.now().UTC(),
	}
	appendCheck := func(name string, pass bool, reason string) {
		report.Checks = append(report.Checks, DoctorCheck{Name: name, Pass: pass, Reason: reason})
		if !pass {
			report.Ready = false
		}
	}

	rec, err := s.store.Load(ctx)
	if err != nil && !errors.Is(err, keystore.ErrNotFound) {
		return DoctorReport{}, err
	}
	exists := err == nil && rec != nil
	appendCheck("key_present", exists, failReason(!exists, "no signing key on this device; run keygen or sign"))

	if exists {
		consistent := s.keys.ValidateKeyConsistency(ctx)
		appendCheck("key_record_consistent", consistent, failReason(!consistent, "stored key record is damaged; clear it and create a new key"))

		iter := rec.WrappedPrivateKey.Iterations
		current := iter >= s.iterations
		appendCheck("kdf_iterations_current", current, failReason(!current, fmt.Sprintf("key wrapped with %d iterations < configured %d; change the passphrase to re-wrap", iter, s.iterations)))

		if created, err := identity.KeyVersionTime(rec.KeyVersion); err == nil {
			future := created.After(s.now().Add(time.Minute))
			appendCheck("key_version_time", !future, failReason(future, "key version is dated in the future; check the system clock"))
		}
	}

	if strings.TrimSpace(input.DataDir) != "" {
		if err := checkPrivateDir(input.DataDir); err != nil {
			appendCheck("data_dir_private", false, err.Error())
		} else {
			appendCheck("data_dir_private", true, "")
		}
	}
	if strings.TrimSpace(input.BackupDir) != "" {
		if err := checkWritableDir(input.BackupDir); err != nil {
			appendCheck("backup_dir_writable", false, err.Error())
		} else {
			appendCheck("backup_dir_writable", true, "")
		}
	}

	s.logger.Debug("doctor finished",
		"component", "app",
		"operation", "doctor",
		"ready", report.Ready,
	)
	return report, nil
}

func failReason(failed bool, reason string) string {
	if !failed {
		return ""
	}
	return reason
}

func checkPrivateDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("data dir is unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", dir)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("data dir %s has mode %04o, want 0700; run chmod 700 %s", dir, perm, dir)
	}
	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("backup dir is unavailable: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("backup dir is not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
