// Package receipt issues short human-copyable codes a signer keeps as proof
// of a signature: REC254-<system>-<signer hash>-<petition prefix>.
package receipt

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/signing"
	"recall254/go-core/internal/verify"
	"recall254/go-core/pkg/models"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

const (
	Prefix   = "REC254"
	Validity = 60 * 24 * time.Hour

	systemLen   = 8
	userHashLen = 12
	petitionLen = 6
)

var ErrInvalidCode = errors.New("invalid receipt code")

// Code is a parsed receipt code.
type Code struct {
	System   string `json:"system"`
	UserHash string `json:"user_hash"`
	Petition string `json:"petition"`
}

func (c Code) String() string {
	return strings.Join([]string{Prefix, c.System, c.UserHash, c.Petition}, "-")
}

// Issue creates a receipt for a result that verifies locally. fields must be
// the values that were signed; they feed the signer hash only.
func Issue(result models.SignatureResult, fields models.SignerFields, now time.Time) (models.SignatureReceipt, error) {
	v := verify.VerifySignatureLocally(result)
	if !v.IsValid {
		return models.SignatureReceipt{}, keyerr.New(keyerr.InvalidPayload, "receipt", fmt.Errorf("signature rejected: %s", v.Reason))
	}
	petition := petitionPrefix(v.Payload.PetitionID)
	if petition == "" {
		return models.SignatureReceipt{}, keyerr.New(keyerr.InvalidPayload, "receipt", errors.New("petition id has no usable characters"))
	}
	digest := result.PayloadHash
	if digest == "" {
		digest = signing.PayloadHash([]byte(result.Payload))
	}
	return build(digest, v.Payload.PetitionID, result.KeyVersion, UserHash(fields), now), nil
}

// Renew reissues r with a fresh system code and validity window. The signer
// hash and petition stay the same; the renewal is counted.
func Renew(r models.SignatureReceipt, now time.Time) (models.SignatureReceipt, error) {
	code, err := ParseCode(r.Code)
	if err != nil {
		return models.SignatureReceipt{}, err
	}
	renewed := build(r.SignatureDigest, r.PetitionID, r.KeyVersion, code.UserHash, now)
	renewed.RenewalCount = r.RenewalCount + 1
	renewed.RenewedAt = &renewed.IssuedAt
	return renewed, nil
}

func build(digest, petitionID, keyVersion, userHash string, now time.Time) models.SignatureReceipt {
	now = now.UTC()
	code := Code{
		System:   systemCode(digest, now),
		UserHash: userHash,
		Petition: petitionPrefix(petitionID),
	}
	return models.SignatureReceipt{
		Code:            code.String(),
		PetitionID:      petitionID,
		SignatureDigest: digest,
		KeyVersion:      keyVersion,
		IssuedAt:        now,
		ExpiresAt:       now.Add(Validity),
	}
}

// ParseCode validates the shape of a receipt code.
func ParseCode(s string) (Code, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "-")
	if len(parts) != 4 || parts[0] != Prefix {
		return Code{}, fmt.Errorf("%w: expected %s-XXXXXXXX-XXXXXXXXXXXX-XXXXXX", ErrInvalidCode, Prefix)
	}
	c := Code{System: parts[1], UserHash: parts[2], Petition: parts[3]}
	switch {
	case len(c.System) != systemLen || !allIn(c.System, isSystemRune):
		return Code{}, fmt.Errorf("%w: system code", ErrInvalidCode)
	case len(c.UserHash) != userHashLen || !allIn(c.UserHash, isHexRune):
		return Code{}, fmt.Errorf("%w: signer hash", ErrInvalidCode)
	case c.Petition == "" || len(c.Petition) > petitionLen || !allIn(c.Petition, isAlnum):
		return Code{}, fmt.Errorf("%w: petition prefix", ErrInvalidCode)
	}
	return c, nil
}

func Expired(r models.SignatureReceipt, now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HeldBy reports whether fields produce the signer hash embedded in code.
func HeldBy(code Code, fields models.SignerFields) bool {
	return code.UserHash == UserHash(fields)
}

// UserHash is 12 upper-case hex characters of blake2b over the signer's
// name, phone, ward and constituency.
func UserHash(fields models.SignerFields) string {
	h, _ := blake2b.New256(nil)
	for _, f := range []string{fields.Name, fields.Phone, fields.Ward, fields.Constituency} {
		v := strings.ToLower(norm.NFC.String(strings.TrimSpace(f)))
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(v)))
		h.Write(n[:])
		h.Write([]byte(v))
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))[:userHashLen])
}

func systemCode(digest string, issued time.Time) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(issued.UnixMilli()))
	sum := sha256.Sum256(append([]byte(digest), ts[:]...))
	var b strings.Builder
	for _, r := range strings.ToUpper(base58.Encode(sum[:])) {
		if isSystemRune(r) {
			b.WriteRune(r)
		}
		if b.Len() == systemLen {
			break
		}
	}
	return b.String()
}

func petitionPrefix(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if isAlnum(r) {
			b.WriteRune(r)
		}
		if b.Len() == petitionLen {
			break
		}
	}
	return b.String()
}

func isSystemRune(r rune) bool {
	return (r >= '1' && r <= '9') || (r >= 'A' && r <= 'Z')
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z')
}

func allIn(s string, ok func(rune) bool) bool {
	for _, r := range s {
		if !ok(r) {
			return false
		}
	}
	return true
}
