package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/onno/internal/config"
)

var (
	version = "dev"

	policyPath string
)

var rootCmd = &cobra.Command{
	Use:   "onno",
	Short: "Live meeting orchestrator",
	Long: `onno streams meeting audio to transcription, suggests questions
while the meeting runs, and summarizes and rewards it when it ends.

  onno serve            # run the WebSocket gateway and HTTP API
  onno migrate          # apply the database schema
  onno policy           # print the effective policy as YAML`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "policy YAML file (default $ONNO_POLICY_FILE)")
}

// resolvePolicy loads the policy named by --policy, falling back to the
// configured file.
func resolvePolicy(cfg config.Config) (config.Policy, error) {
	path := policyPath
	if path == "" {
		path = cfg.PolicyFile
	}
	return config.LoadPolicy(path)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
