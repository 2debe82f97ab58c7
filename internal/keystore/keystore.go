// Package keystore persists the single KeyRecord of a device. Every write
// replaces the whole record; there are no partial-field updates.
package keystore

import (
	"context"
	"errors"

	"recall254/go-core/pkg/models"
)

var ErrNotFound = errors.New("key record not found")

// Namespace keys the record inside shared backends.
const Namespace = "recall254.keyrecord.v1"

type KeyStore interface {
	Load(ctx context.Context) (*models.KeyRecord, error)
	Save(ctx context.Context, rec *models.KeyRecord) error
	Delete(ctx context.Context) error
}

// CloneRecord returns a deep copy so callers never share byte slices with a store.
func CloneRecord(rec *models.KeyRecord) *models.KeyRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.WrappedPrivateKey.Salt = append([]byte(nil), rec.WrappedPrivateKey.Salt...)
	cp.WrappedPrivateKey.Nonce = append([]byte(nil), rec.WrappedPrivateKey.Nonce...)
	cp.WrappedPrivateKey.Ciphertext = append([]byte(nil), rec.WrappedPrivateKey.Ciphertext...)
	return &cp
}
