// Package keyerr defines the closed set of failure kinds surfaced by the
// signature core. Callers switch on Kind instead of matching messages.
package keyerr

import (
	"errors"
	"strings"
)

type Kind int

const (
	Unknown Kind = iota
	PassphraseTooShort
	PromptTimeout
	UserCancelledPassphrase
	KeyDerivationFailed
	NoKeyAvailable
	Storage
	TooManyAttempts
	InvalidPayload
)

func (k Kind) String() string {
	switch k {
	case PassphraseTooShort:
		return "PASSPHRASE_TOO_SHORT"
	case PromptTimeout:
		return "PROMPT_TIMEOUT"
	case UserCancelledPassphrase:
		return "USER_CANCELLED_PASSPHRASE"
	case KeyDerivationFailed:
		return "KEY_DERIVATION_FAILED"
	case NoKeyAvailable:
		return "NO_KEY_AVAILABLE"
	case Storage:
		return "STORAGE_FAILED"
	case TooManyAttempts:
		return "TOO_MANY_ATTEMPTS"
	case InvalidPayload:
		return "INVALID_PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

// Storage operation names reported with Storage errors.
const (
	OpKeyCheck = "KEY_CHECK_FAILED"
	OpKeySave  = "KEY_SAVE_FAILED"
	OpKeyClear = "KEY_CLEAR_FAILED"
	OpBackup   = "BACKUP_FAILED"
)

var (
	ErrPassphraseTooShort      = &Error{Kind: PassphraseTooShort}
	ErrPromptTimeout           = &Error{Kind: PromptTimeout}
	ErrUserCancelledPassphrase = &Error{Kind: UserCancelledPassphrase}
	ErrKeyDerivationFailed     = &Error{Kind: KeyDerivationFailed}
	ErrNoKeyAvailable          = &Error{Kind: NoKeyAvailable}
	ErrStorage                 = &Error{Kind: Storage}
	ErrTooManyAttempts         = &Error{Kind: TooManyAttempts}
	ErrInvalidPayload          = &Error{Kind: InvalidPayload}
)

// Error carries a Kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: strings.TrimSpace(op), Err: cause}
}

// StorageFailure wraps a key store I/O error with the attempted operation.
func StorageFailure(op string, cause error) *Error {
	return New(Storage, op, cause)
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoKeyAvailable)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Recoverable reports whether the user can retry without destroying key material.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case PassphraseTooShort, PromptTimeout, UserCancelledPassphrase, Storage, TooManyAttempts, KeyDerivationFailed:
		return true
	default:
		return false
	}
}
