package privacylog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type signerRef struct{ phone string }

func (s signerRef) LogValue() slog.Value {
	return slog.GroupValue(slog.String("phone", s.phone), slog.String("ward", "Makina"))
}

func TestHandlerResolvesLogValuers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("signed",
		"signer", signerRef{phone: "+254722222222"},
		"private_jwk", slog.GroupValue(slog.String("d", "secret-scalar")),
	)

	out := buf.String()
	if strings.Contains(out, "+254722222222") || strings.Contains(out, "secret-scalar") {
		t.Fatalf("sensitive value leaked: %s", out)
	}
	if !strings.Contains(out, "phone_fp") || !strings.Contains(out, "Makina") {
		t.Fatalf("expected fingerprinted group, got %s", out)
	}
}

func TestHandlerRedactsKeyMaterial(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("test",
		"phone", "+254700000000",
		"passphrase", "correct-horse-1",
		"wrapped_private_key", "AAAA",
		"status", "ok",
	)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	if _, ok := payload["phone"]; ok {
		t.Fatal("phone should not be present")
	}
	if _, ok := payload["phone_fp"]; !ok {
		t.Fatal("phone_fp should be present")
	}
	for _, key := range []string{"passphrase", "wrapped_private_key"} {
		if got, _ := payload[key].(string); got != redactedValue {
			t.Fatalf("expected %s redacted, got %q", key, got)
		}
	}
	if strings.Contains(buf.String(), "correct-horse-1") {
		t.Fatal("passphrase leaked into log output")
	}
}

func TestHandlerImplementsSlogHandlerContract(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, nil))
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected handler enabled for info")
	}
	rec := slog.NewRecord(time.Now().UTC(), slog.LevelInfo, "msg", 0)
	rec.AddAttrs(slog.String("voter_id", "v1"))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if !strings.Contains(buf.String(), "voter_id_fp") {
		t.Fatalf("expected sanitized voter_id key, got %s", buf.String())
	}
}

func TestHandlerWithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil))).
		With("device_id", "dev-1").
		With(slog.Group("signer", slog.String("phone", "+254711111111"), slog.String("ward", "Kilimani")))
	logger.Info("signed")

	out := buf.String()
	if strings.Contains(out, "dev-1") || strings.Contains(out, "+254711111111") {
		t.Fatalf("identifier leaked: %s", out)
	}
	if !strings.Contains(out, "Kilimani") {
		t.Fatalf("non-sensitive group value dropped: %s", out)
	}
}

func TestFingerprintIDStableWithinProcess(t *testing.T) {
	a := FingerprintID(" dev-1 ")
	b := FingerprintID("dev-1")
	if a == "" || a != b {
		t.Fatalf("fingerprint should be stable: %q vs %q", a, b)
	}
	if FingerprintID("   ") != "" {
		t.Fatal("blank value should fingerprint to empty")
	}
}
