// Package prompt models interactive passphrase collection as an injected
// capability. The core never renders UI itself.
package prompt

import (
	"context"
	"errors"
	"sync"
	"time"

	"recall254/go-core/internal/keyerr"
)

// DefaultTimeout bounds how long a passphrase prompt may stay unanswered.
const DefaultTimeout = 2 * time.Minute

type Prompter interface {
	PromptSecret(ctx context.Context, message string) (string, error)
}

type Func func(ctx context.Context, message string) (string, error)

func (f Func) PromptSecret(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

type timeoutPrompter struct {
	next    Prompter
	timeout time.Duration
}

// WithTimeout rejects with PromptTimeout when next has not answered within d.
// Caller cancellation is reported as UserCancelledPassphrase.
func WithTimeout(next Prompter, d time.Duration) Prompter {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutPrompter{next: next, timeout: d}
}

type answer struct {
	secret string
	err    error
}

func (p *timeoutPrompter) PromptSecret(ctx context.Context, message string) (string, error) {
	if p.next == nil {
		return "", keyerr.New(keyerr.UserCancelledPassphrase, "prompt", errors.New("no prompter configured"))
	}
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan answer, 1)
	go func() {
		secret, err := p.next.PromptSecret(pctx, message)
		done <- answer{secret: secret, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			return "", classify(ctx, a.err)
		}
		return a.secret, nil
	case <-pctx.Done():
		if ctx.Err() != nil {
			return "", keyerr.New(keyerr.UserCancelledPassphrase, "prompt", ctx.Err())
		}
		return "", keyerr.New(keyerr.PromptTimeout, "prompt", pctx.Err())
	}
}

func classify(parent context.Context, err error) error {
	if keyerr.KindOf(err) != keyerr.Unknown {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return keyerr.New(keyerr.PromptTimeout, "prompt", err)
	default:
		// EOF, interrupt and any other read failure count as a refusal.
		return keyerr.New(keyerr.UserCancelledPassphrase, "prompt", err)
	}
}

// Script answers prompts from a fixed list and cancels once it runs out.
type Script struct {
	mu       sync.Mutex
	answers  []string
	Messages []string
}

func NewScript(answers ...string) *Script {
	return &Script{answers: append([]string(nil), answers...)}
}

func (s *Script) PromptSecret(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, message)
	if len(s.answers) == 0 {
		return "", keyerr.ErrUserCancelledPassphrase
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	return next, nil
}

func (s *Script) Asked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Messages)
}
