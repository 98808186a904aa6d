// Package main provides assentctl, the operator CLI for the approval
// orchestrator. It is a thin HTTP client of the server API.
//
// Exit codes: 0 success, 1 validation or transport error, 2 not found,
// 3 ledger tamper detected.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitOK       = 0
	exitError    = 1
	exitNotFound = 2
	exitTamper   = 3
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var coded *exitCodeError
		code := exitError
		if errors.As(err, &coded) {
			code = coded.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	var client apiClient

	root := &cobra.Command{
		Use:           "assentctl",
		Short:         "Operate the assent proposal approval orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&client.baseURL, "server", envOr("ASSENT_SERVER", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVar(&client.token, "token", os.Getenv("ASSENT_TOKEN"), "bearer token (defaults to ASSENT_TOKEN)")

	root.AddCommand(newProposalCmd(&client))
	root.AddCommand(newLedgerCmd(&client))
	root.AddCommand(newTokenCmd())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// exitCodeError carries a process exit code alongside the message.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}
