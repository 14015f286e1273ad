// Path: cmd/loki-downloader/main.go
package main

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"

	"loki-downloader/internal/config"
	"loki-downloader/internal/domain"
	"loki-downloader/internal/service"
)

// Exit codes.
const (
	exitOK             = 0
	exitError          = 1
	exitInvalidConfig  = 2
	exitUnrecoverable  = 3
	exitOperatorAction = 4
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	os.Exit(run(context.Background(), os.Args[1:], streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}))
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, std streams) int {
	root := newRootCmd(std)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		root.PrintErrln("Error:", err)
	}
	return exitCode(err)
}

// usageError marks bad command-line usage.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage), config.IsValidationError(err):
		return exitInvalidConfig
	case domain.IsUnrecoverable(err):
		return exitUnrecoverable
	case service.IsOperatorActionRequired(err):
		return exitOperatorAction
	default:
		return exitError
	}
}
