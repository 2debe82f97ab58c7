// Package signing turns petition data into canonical bytes and signs them
// with the device key.
package signing

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"recall254/go-core/internal/identity"
	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/metrics"
	"recall254/go-core/pkg/models"
)

// KeySource hands out the unlocked device key, prompting when necessary.
type KeySource interface {
	SigningKey(ctx context.Context, passphrase string) (*identity.SigningKey, error)
}

type Engine struct {
	keys    KeySource
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewEngine(keys KeySource, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{keys: keys, now: time.Now, logger: logger, metrics: m}
}

// WithClock replaces the clock used for signer fields without a timestamp.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// SignPetitionData signs the canonical payload for meta and fields. It never
// modifies stored key state; a locked key is unlocked with passphrase or a
// prompt when passphrase is empty.
func (e *Engine) SignPetitionData(ctx context.Context, meta models.PetitionMeta, fields models.SignerFields, passphrase string) (res models.SignatureResult, err error) {
	defer func() { e.metrics.Observe("sign", err) }()

	if strings.TrimSpace(meta.ID) == "" {
		return models.SignatureResult{}, keyerr.New(keyerr.InvalidPayload, "sign", errors.New("petition id is required"))
	}
	if fields.Timestamp == 0 {
		fields.Timestamp = e.now().UnixMilli()
	}
	if e.keys == nil {
		return models.SignatureResult{}, keyerr.New(keyerr.NoKeyAvailable, "sign", nil)
	}
	key, err := e.keys.SigningKey(ctx, passphrase)
	if err != nil {
		return models.SignatureResult{}, err
	}

	raw, payload, err := Canonicalize(meta, fields, Binding{DeviceID: key.DeviceID(), KeyVersion: key.KeyVersion()})
	if err != nil {
		return models.SignatureResult{}, err
	}
	sig, err := key.Sign(raw)
	if err != nil {
		return models.SignatureResult{}, keyerr.New(keyerr.KeyDerivationFailed, "sign", err)
	}

	e.logger.Info("petition signed",
		"component", "signing",
		"operation", "sign",
		"petition_id", payload.PetitionID,
		"key_version", payload.KeyVersion,
	)
	return models.SignatureResult{
		Payload:      string(raw),
		Signature:    base64.StdEncoding.EncodeToString(sig),
		PayloadHash:  PayloadHash(raw),
		PublicKeyJWK: key.PublicKey(),
		KeyVersion:   payload.KeyVersion,
		DeviceID:     payload.DeviceID,
		Timestamp:    payload.Timestamp,
	}, nil
}

// PayloadHash is the unpadded base64url SHA-384 of the signed bytes.
func PayloadHash(raw []byte) string {
	sum := sha512.Sum384(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
