package backup

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"recall254/go-core/pkg/models"
)

// ExportKeyBackupAsMarkdown renders b for pasting into notes or a message.
// It contains the same public data as the JSON download.
func ExportKeyBackupAsMarkdown(b *models.KeyBackup) string {
	if b == nil {
		return ""
	}
	jwk, err := json.MarshalIndent(b.PublicKey, "", "  ")
	if err != nil {
		jwk = []byte("{}")
	}

	var sb strings.Builder
	sb.WriteString("# Recall254 signing key backup\n\n")
	sb.WriteString("This record holds your **public** key only. It cannot be used to sign.\n")
	sb.WriteString("Keep it to prove which signatures came from this device.\n\n")
	sb.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Device ID | `%s` |\n", b.DeviceID)
	fmt.Fprintf(&sb, "| Key version | `%s` |\n", b.KeyVersion)
	fmt.Fprintf(&sb, "| Key ID | `%s` |\n", b.KeyID)
	fmt.Fprintf(&sb, "| Algorithm | %s |\n", b.Algorithm)
	fmt.Fprintf(&sb, "| Created | %s |\n", b.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "| Exported | %s |\n\n", b.ExportedAt.UTC().Format(time.RFC3339))
	sb.WriteString("## Fingerprint words\n\n")
	sb.WriteString(strings.Join(b.FingerprintWords, " "))
	sb.WriteString("\n\n## Public key (JWK)\n\n```json\n")
	sb.Write(jwk)
	sb.WriteString("\n```\n")
	return sb.String()
}
