package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/onno/internal/aiservice"
	"github.com/MikeSquared-Agency/onno/internal/api"
	"github.com/MikeSquared-Agency/onno/internal/config"
	"github.com/MikeSquared-Agency/onno/internal/gateway"
	"github.com/MikeSquared-Agency/onno/internal/hermes"
	"github.com/MikeSquared-Agency/onno/internal/leveling"
	"github.com/MikeSquared-Agency/onno/internal/orchestrator"
	"github.com/MikeSquared-Agency/onno/internal/preference"
	"github.com/MikeSquared-Agency/onno/internal/session"
	"github.com/MikeSquared-Agency/onno/internal/slack"
	"github.com/MikeSquared-Agency/onno/internal/store"
	"github.com/MikeSquared-Agency/onno/internal/transcript"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket gateway and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply the database schema before serving")
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	policy, err := resolvePolicy(cfg)
	if err != nil {
		return err
	}

	slog.Info("onno starting", "port", cfg.Port, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if autoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}
	slog.Info("database connected")

	ai := aiservice.NewClient(cfg.AIServiceURL)
	slog.Info("ai service client ready", "url", cfg.AIServiceURL)

	prefs := preference.NewEngine(db, policy.Ranking.Multiplier, logger)
	levels := leveling.NewEngine(db, levelingPolicy(policy), logger)
	sessions := session.NewRegistry(session.Config{
		Shards:    policy.Sessions.Shards,
		QueueSize: policy.Sessions.QueueSize,
		Dedup: transcript.Config{
			MinPriorLength: policy.Dedup.MinPriorLength,
			MinDeltaLength: policy.Dedup.MinDeltaLength,
		},
	}, logger)
	hub := gateway.NewHub(gateway.Config{WriteTimeout: cfg.WriteTimeout}, logger)

	deps := orchestrator.Deps{
		Store:       db,
		AI:          ai,
		Sessions:    sessions,
		Preferences: prefs,
		Levels:      levels,
		Broadcaster: hub,
	}

	// NATS/Hermes (optional, signals are best-effort)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			slog.Warn("NATS unavailable, running without signals", "error", err)
			hermesClient = nil
		} else {
			defer hermesClient.Close()
			deps.Publisher = hermesClient
			slog.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	// Slack digest (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.Digest = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		slog.Info("slack digest ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, meeting digests disabled")
	}

	orch := orchestrator.New(deps, orchestrator.Config{
		TranscribeTimeout: cfg.TranscribeTimeout,
		GenerateTimeout:   cfg.GenerateTimeout,
		ContextTimeout:    cfg.ContextTimeout,
		SummaryTimeout:    cfg.SummaryTimeout,
		TriggerLength:     policy.Questions.TriggerLength,
		ContextSnippet:    policy.Questions.ContextSnippet,
		RecentMeetings:    policy.Questions.RecentMeetings,
		SummaryMaxRunes:   orchestrator.DefaultConfig().SummaryMaxRunes,
	}, logger)

	apiDeps := api.Deps{
		Meetings:    db,
		Preferences: prefs,
		Levels:      levels,
		Sessions:    orch,
		WebSocket:   hub.ServeWS(orch),
	}
	if hermesClient != nil {
		apiDeps.Signals = hermesClient
	}
	srv := api.NewServer(apiDeps, cfg.Port, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("onno ready", "port", cfg.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutting down", "active_sessions", orch.ActiveSessions())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	hub.Close()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		slog.Warn("sessions did not drain", "error", err)
	}
	slog.Info("onno stopped")
	return nil
}

func levelingPolicy(p config.Policy) leveling.Policy {
	return leveling.Policy{
		Thresholds:        p.Leveling.Thresholds,
		Features:          p.Leveling.Features,
		MeetingCompleteXP: p.Leveling.MeetingCompleteXP,
		QuestionUsedXP:    p.Leveling.QuestionUsedXP,
		FeedbackXP:        p.Leveling.FeedbackXP,
		FollowUpXP:        p.Leveling.FollowUpXP,
		QuestionBonusCap:  p.Leveling.QuestionBonusCap,
	}
}
