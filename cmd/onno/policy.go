package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/onno/internal/config"
	"github.com/MikeSquared-Agency/onno/internal/store"
)

var checkOnly bool

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the effective policy as YAML",
	Long: `Print the policy the server would run with: the defaults merged with
the file given by --policy or $ONNO_POLICY_FILE. With --check, only
validate it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolvePolicy(config.Load())
		if err != nil {
			return err
		}
		if checkOnly {
			fmt.Fprintln(cmd.OutOrStdout(), "policy ok")
			return nil
		}
		return config.WritePolicy(cmd.OutOrStdout(), p)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg.LogLevel)
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}

		ctx := context.Background()
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		slog.Info("schema applied")
		return nil
	},
}

func init() {
	policyCmd.Flags().BoolVar(&checkOnly, "check", false, "validate the policy without printing it")
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(migrateCmd)
}
