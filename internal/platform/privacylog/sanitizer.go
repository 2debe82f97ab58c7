// Package privacylog keeps signer identity and key material out of logs.
package privacylog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const redactedValue = "[REDACTED]"

type treatment uint8

const (
	keepPlain treatment = iota
	redact
	fingerprint
)

var (
	// Fingerprints are keyed per process: stable within one run, unlinkable
	// across runs.
	fingerprintKey = newFingerprintKey()

	signerIdentifiers = map[string]struct{}{
		"device_id":   {},
		"voter_id":    {},
		"id_number":   {},
		"phone":       {},
		"signer_name": {},
	}
	secretFragments = []string{"passphrase", "password", "secret", "private", "wrapped", "token", "authorization"}
)

func treatmentFor(key string) treatment {
	lower := strings.ToLower(key)
	for _, frag := range secretFragments {
		if strings.Contains(lower, frag) {
			return redact
		}
	}
	if _, ok := signerIdentifiers[lower]; ok {
		return fingerprint
	}
	return keepPlain
}

// Handler scrubs every attribute before passing the record to next.
type Handler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &Handler{next: next}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(scrub(a))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(scrubAll(attrs))}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name)}
}

// FingerprintID maps an identifier to a short opaque token. Blank input
// yields "".
func FingerprintID(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	mac, err := blake2b.New(8, fingerprintKey)
	if err != nil {
		return redactedValue
	}
	mac.Write([]byte(v))
	return "fp_" + hex.EncodeToString(mac.Sum(nil))
}

func scrub(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	switch treatmentFor(key) {
	case redact:
		return slog.String(key, redactedValue)
	case fingerprint:
		if !strings.HasSuffix(key, "_fp") {
			key += "_fp"
		}
		return slog.String(key, FingerprintID(a.Value.String()))
	}
	if a.Value.Kind() == slog.KindGroup {
		return slog.Attr{Key: key, Value: slog.GroupValue(scrubAll(a.Value.Group())...)}
	}
	return a
}

func scrubAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = scrub(a)
	}
	return out
}

func newFingerprintKey() []byte {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return key
}
