package receipt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"recall254/go-core/internal/identity"
	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/keystore"
	"recall254/go-core/internal/signing"
	"recall254/go-core/pkg/models"
)

var (
	issuedAt = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	signer   = models.SignerFields{
		Name:         "Achieng Atieno",
		Phone:        "+254722000003",
		Constituency: "Westlands",
		Ward:         "Parklands/Highridge",
		Timestamp:    1780300800000,
	}
)

func signed(t *testing.T) models.SignatureResult {
	t.Helper()
	ctx := context.Background()
	mgr, err := identity.NewManager(keystore.NewMemoryStore(), identity.Options{})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	if _, err := mgr.GenerateKeyPair(ctx, "correct-horse-1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	res, err := signing.NewEngine(mgr, nil, nil).SignPetitionData(ctx,
		models.PetitionMeta{ID: "wl-recall-2026", Title: "Westlands recall"}, signer, "")
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return res
}

func TestIssueAndParse(t *testing.T) {
	res := signed(t)
	r, err := Issue(res, signer, issuedAt)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !strings.HasPrefix(r.Code, "REC254-") {
		t.Fatalf("unexpected code %q", r.Code)
	}
	code, err := ParseCode(r.Code)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if code.Petition != "WLRECA" {
		t.Fatalf("unexpected petition prefix %q", code.Petition)
	}
	if !HeldBy(code, signer) {
		t.Fatal("receipt should belong to the signer")
	}
	other := signer
	other.Phone = "+254733999999"
	if HeldBy(code, other) {
		t.Fatal("different signer must not match")
	}
	if r.SignatureDigest != res.PayloadHash || r.KeyVersion != res.KeyVersion || r.PetitionID != "wl-recall-2026" {
		t.Fatalf("unexpected receipt %+v", r)
	}
	if !r.ExpiresAt.Equal(issuedAt.Add(60 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", r.ExpiresAt)
	}
	if code.String() != r.Code {
		t.Fatalf("code should round-trip: %q vs %q", code.String(), r.Code)
	}
}

func TestIssueIsDeterministicPerInstant(t *testing.T) {
	res := signed(t)
	a, _ := Issue(res, signer, issuedAt)
	b, _ := Issue(res, signer, issuedAt)
	if a.Code != b.Code {
		t.Fatal("same result and instant should give the same code")
	}
}

func TestIssueRejectsTamperedResult(t *testing.T) {
	res := signed(t)
	res.Payload = strings.Replace(res.Payload, "Westlands", "Embakasi", 1)
	if _, err := Issue(res, signer, issuedAt); !errors.Is(err, keyerr.ErrInvalidPayload) {
		t.Fatalf("expected InvalidPayload, got %v", err)
	}
}

func TestExpiryAndRenew(t *testing.T) {
	r, err := Issue(signed(t), signer, issuedAt)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if Expired(r, issuedAt.Add(59*24*time.Hour)) {
		t.Fatal("receipt should be valid on day 59")
	}
	later := issuedAt.Add(60 * 24 * time.Hour)
	if !Expired(r, later) {
		t.Fatal("receipt should expire after 60 days")
	}

	renewed, err := Renew(r, later)
	if err != nil {
		t.Fatalf("renew failed: %v", err)
	}
	if renewed.Code == r.Code || Expired(renewed, later) {
		t.Fatalf("renewal should mint a fresh valid code: %+v", renewed)
	}
	oldCode, _ := ParseCode(r.Code)
	newCode, _ := ParseCode(renewed.Code)
	if oldCode.UserHash != newCode.UserHash || oldCode.Petition != newCode.Petition {
		t.Fatal("renewal keeps signer hash and petition")
	}
	if r.RenewalCount != 0 || r.RenewedAt != nil {
		t.Fatalf("first issue should carry no renewal: %+v", r)
	}
	if renewed.RenewalCount != 1 || renewed.RenewedAt == nil || !renewed.RenewedAt.Equal(later) {
		t.Fatalf("renewal should be recorded: %+v", renewed)
	}

	again, err := Renew(renewed, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("second renew failed: %v", err)
	}
	if again.RenewalCount != 2 || !again.RenewedAt.Equal(later.Add(time.Hour)) {
		t.Fatalf("second renewal should be counted: %+v", again)
	}
}

func TestParseCodeRejectsMalformed(t *testing.T) {
	for _, bad := range []string{
		"",
		"REC254-ABCDEFGH-0123456789AB",
		"RECXXX-ABCDEFGH-0123456789AB-PET123",
		"REC254-ABCDEFG-0123456789AB-PET123",
		"REC254-ABCDEFGH-0123456789AG-PET123",
		"REC254-ABCDEFGH-0123456789AB-PET1234",
		"REC254-ABCDEFGH-0123456789AB-",
		"REC254-ABCD0FGH-0123456789AB-PET123",
	} {
		if _, err := ParseCode(bad); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("%q: expected ErrInvalidCode, got %v", bad, err)
		}
	}
	if _, err := ParseCode(" rec254-abcdefgh-0123456789ab-pet123 "); err != nil {
		t.Fatalf("case and whitespace should be tolerated: %v", err)
	}
}

func TestUserHashNormalizes(t *testing.T) {
	a := UserHash(signer)
	spaced := signer
	spaced.Name = "  ACHIENG ATIENO "
	if UserHash(spaced) != a {
		t.Fatal("user hash should ignore case and surrounding space")
	}
	if len(a) != 12 || strings.ToUpper(a) != a {
		t.Fatalf("unexpected hash shape %q", a)
	}
}
