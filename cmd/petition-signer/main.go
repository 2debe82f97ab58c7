package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"recall254/go-core/internal/prompt"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{
		prompter: prompt.NewTerminal(),
		out:      os.Stdout,
		errOut:   os.Stderr,
	}
	if err := execute(ctx, c, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "petition-signer:", err.Error())
		os.Exit(exitCode(err))
	}
}
