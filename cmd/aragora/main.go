// Aragora server and CLI: runs the debate engine, starts debates, replays
// event logs, and exports transcripts.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aragora/aragora/pkg/services"
	"github.com/aragora/aragora/pkg/version"
)

// Exit codes of the command surface.
const (
	exitOK          = 0
	exitOther       = 1
	exitBadInput    = 2
	exitAuthFailed  = 3
	exitRateLimited = 4
)

var (
	configPath string
	envPath    string
)

var rootCmd = &cobra.Command{
	Use:           "aragora",
	Short:         "Multi-agent debate engine",
	Long:          "Aragora runs structured multi-agent debates: propose, critique, revise, vote, and rank agents by outcome.",
	Version:       version.Semver,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "aragora.yaml", "Path to the agent registry file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "Path to an optional .env file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitError pins a specific exit code to an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func badInput(format string, args ...any) error {
	return withCode(exitBadInput, fmt.Errorf(format, args...))
}

func exitCode(err error) int {
	var coded *exitError
	if errors.As(err, &coded) {
		return coded.code
	}
	if services.IsValidationError(err) ||
		errors.Is(err, services.ErrInvalidInput) ||
		errors.Is(err, services.ErrNotFound) {
		return exitBadInput
	}
	return exitOther
}
