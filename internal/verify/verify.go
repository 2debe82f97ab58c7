// Package verify checks a signature result against its own embedded public
// key. It needs no stored state and performs no I/O.
package verify

import (
	"crypto/ecdsa"
	"crypto/sha512"
	"encoding/base64"
	"math/big"
	"strings"
	"time"

	"recall254/go-core/internal/identity"
	"recall254/go-core/internal/signing"
	"recall254/go-core/pkg/models"
)

// Rejection reasons reported in Verification.Reason.
const (
	ReasonMissingField     = "missing field"
	ReasonMalformedKey     = "malformed public key"
	ReasonKeyIDMismatch    = "public key id mismatch"
	ReasonNotCanonical     = "payload is not canonical"
	ReasonHashMismatch     = "payload hash mismatch"
	ReasonBindingMismatch  = "payload does not match envelope"
	ReasonMalformedSig     = "malformed signature"
	ReasonSignatureInvalid = "signature does not verify"
)

// VerifySignatureLocally reports whether result is internally consistent and
// its signature verifies under the embedded key.
func VerifySignatureLocally(result models.SignatureResult) models.Verification {
	if missing := missingField(result); missing != "" {
		return reject(ReasonMissingField + ": " + missing)
	}
	pub, err := identity.ParsePublicJWK(result.PublicKeyJWK)
	if err != nil {
		return reject(ReasonMalformedKey)
	}
	if kid := strings.TrimSpace(result.PublicKeyJWK.Kid); kid != "" {
		if tp, err := identity.Thumbprint(result.PublicKeyJWK); err != nil || tp != kid {
			return reject(ReasonKeyIDMismatch)
		}
	}

	raw := []byte(result.Payload)
	payload, err := signing.ParsePayload(raw)
	if err != nil {
		return reject(ReasonNotCanonical)
	}
	if result.PayloadHash != "" && result.PayloadHash != signing.PayloadHash(raw) {
		return reject(ReasonHashMismatch)
	}
	if payload.DeviceID != result.DeviceID || payload.KeyVersion != result.KeyVersion ||
		(result.Timestamp != 0 && payload.Timestamp != result.Timestamp) {
		return reject(ReasonBindingMismatch)
	}

	sig, err := base64.StdEncoding.DecodeString(result.Signature)
	if err != nil || len(sig) != identity.SignatureSize {
		return reject(ReasonMalformedSig)
	}
	half := identity.SignatureSize / 2
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])
	digest := sha512.Sum384(raw)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return reject(ReasonSignatureInvalid)
	}

	return models.Verification{
		IsValid:   true,
		Payload:   &payload,
		Context:   payload.Context,
		Timestamp: time.UnixMilli(payload.Timestamp).UTC(),
	}
}

func missingField(r models.SignatureResult) string {
	switch {
	case r.Payload == "":
		return "payload"
	case r.Signature == "":
		return "signature"
	case r.KeyVersion == "":
		return "key_version"
	case r.DeviceID == "":
		return "device_id"
	case r.PublicKeyJWK.X == "" || r.PublicKeyJWK.Y == "":
		return "public_key_jwk"
	}
	return ""
}

func reject(reason string) models.Verification {
	return models.Verification{IsValid: false, Reason: reason}
}
