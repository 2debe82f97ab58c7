package identity

import (
	"log/slog"
	"time"

	"recall254/go-core/internal/metrics"
	"recall254/go-core/internal/platform/ratelimiter"
	"recall254/go-core/internal/prompt"
)

// MinPassphraseLength is counted in runes after trimming.
const MinPassphraseLength = 8

const (
	promptCreate  = "Create a passphrase to protect your signing key"
	promptUnlock  = "Enter your signing key passphrase"
	promptCurrent = "Enter your current passphrase"
	promptNew     = "Choose a new passphrase"
)

type Options struct {
	Prompter      prompt.Prompter
	PromptTimeout time.Duration
	// Limiter throttles passphrase attempts per key version; nil means unlimited.
	Limiter    *ratelimiter.MapLimiter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
	Iterations uint32
}
