package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"recall254/go-core/internal/keyerr"

	"golang.org/x/term"
)

// Terminal reads a passphrase from In without echo when In is a TTY, or a
// plain line otherwise (piped input in scripts).
type Terminal struct {
	In  *os.File
	Out io.Writer
}

func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

func (t *Terminal) PromptSecret(ctx context.Context, message string) (string, error) {
	if _, err := fmt.Fprintf(t.Out, "%s: ", message); err != nil {
		return "", err
	}
	done := make(chan answer, 1)
	// The read cannot be interrupted; on timeout the goroutine stays parked
	// until the next line arrives.
	go func() {
		secret, err := t.read()
		done <- answer{secret: secret, err: err}
	}()
	select {
	case a := <-done:
		fmt.Fprintln(t.Out)
		if a.err != nil {
			return "", a.err
		}
		if a.secret == "" {
			return "", keyerr.ErrUserCancelledPassphrase
		}
		return a.secret, nil
	case <-ctx.Done():
		fmt.Fprintln(t.Out)
		return "", ctx.Err()
	}
}

func (t *Terminal) read() (string, error) {
	fd := int(t.In.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(t.In).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
