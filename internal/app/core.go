package app

import (
	"context"

	"recall254/go-core/pkg/models"
)

// SignerAPI is the surface front ends (CLI, bindings) program against.
type SignerAPI interface {
	KeyInfo(ctx context.Context) (models.KeyInfo, error)
	GenerateKeyPair(ctx context.Context, passphrase string) (models.KeyInfo, error)
	Unlock(ctx context.Context, passphrase string) error
	RecoverKeys(ctx context.Context, oldPassphrase, newPassphrase string) error
	ClearCryptoData(ctx context.Context) error
	CheckConsistency(ctx context.Context) bool
	Doctor(ctx context.Context, input DoctorInput) (DoctorReport, error)

	Sign(ctx context.Context, meta models.PetitionMeta, fields models.SignerFields, passphrase string) (SignOutcome, error)
	Verify(result models.SignatureResult) models.Verification

	Backup(ctx context.Context) (*models.KeyBackup, error)
	DownloadBackup(ctx context.Context) (string, error)
	BackupMarkdown(ctx context.Context) (string, error)
}

// SignOutcome is what the caller forwards to backend persistence.
type SignOutcome struct {
	Result  models.SignatureResult  `json:"result"`
	Receipt models.SignatureReceipt `json:"receipt"`
}
