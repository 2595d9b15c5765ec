// Command casekb is the CLI for the test-case knowledge base: seed it with
// sample stories, retrieve ranked test cases for a requirement, record
// feedback, and inspect quality statistics.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "casekb",
	Short:        "Adaptive test-case retrieval and feedback-weighted ranking",
	SilenceUsage: true,
}

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	rootCmd.AddCommand(seedCmd, retrieveCmd, feedbackCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
