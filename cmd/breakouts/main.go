package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/navikt/breakouts/internal/api"
	"github.com/navikt/breakouts/internal/breakout"
	"github.com/navikt/breakouts/internal/config"
	"github.com/navikt/breakouts/internal/feed"
	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/media"
	"github.com/navikt/breakouts/internal/repository"
	"github.com/navikt/breakouts/internal/service"
	"github.com/navikt/breakouts/internal/upstream"
	"github.com/navikt/breakouts/internal/utils"
	"github.com/navikt/breakouts/internal/web"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:           "breakouts",
		Short:         "Breakout room session server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			logging.Init(cfg.Log)

			if err := run(cmd.Context(), cfg); err != nil {
				log.Error().Err(err).Msg("Server stopped with error")
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml)")
	flags.Int("port", 8080, "HTTP listen port")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format (console|json)")
	flags.String("upstream-url", "", "session-management server base URL")
	flags.String("feed-sse-url", "", "room state SSE feed URL")

	bindFlag(v, "server.port", cmd, "port")
	bindFlag(v, "log.level", cmd, "log-level")
	bindFlag(v, "log.format", cmd, "log-format")
	bindFlag(v, "upstream.base_url", cmd, "upstream-url")
	bindFlag(v, "feed.sse_url", cmd, "feed-sse-url")

	return cmd
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.Module("main")

	repo, err := repository.NewRepository(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}

	// Close the Redis connection on exit
	if closer, ok := repo.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn().Err(err).Msg("Error closing Redis connection")
			}
		}()
	}

	var ready []api.ReadinessCheck
	if pinger, ok := repo.(interface{ Ping(context.Context) error }); ok {
		ready = append(ready, func(r *http.Request) error { return pinger.Ping(r.Context()) })
	}

	breakoutService := service.NewBreakoutService(repo)
	events := web.NewEventStream(30 * time.Second)
	hub := media.NewHub(10 * time.Second)

	if !cfg.Upstream.IsUpstreamConfigValid() {
		logger.Warn().Msg("Upstream base URL not set - remote calls will fail")
	}
	client := upstream.NewClient(cfg.Upstream)

	manager := breakout.NewManager(repo, client, events, func(sessionID string) breakout.AudioBridge {
		return hub.Bridge(sessionID)
	})
	breakoutService.RegisterUpdateCallback(manager.NotifyMeetingUpdate)
	hub.OnLoss(manager.HandleMediaLoss)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Feed.SSEURL != "" {
		subscriber := feed.NewSubscriber(cfg.Feed, cfg.Upstream.Secret, breakoutService)
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Feed subscriber stopped")
			}
		}()
		logger.Info().Str("url", utils.RedactURL(cfg.Feed.SSEURL)).Msg("Subscribed to room state feed")
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.SetupRoutes(api.Dependencies{
			Feed:          breakoutService,
			Rooms:         breakoutService,
			Sessions:      manager,
			Events:        events,
			Media:         hub,
			WebhookSecret: cfg.Feed.WebhookSecret,
			Ready:         ready,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable write timeout for SSE connections
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Starting breakouts server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("error starting server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")

	// Closing sessions ends their event streams
	manager.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("error shutting down server: %w", err)
	}

	logger.Info().Msg("Server gracefully stopped")
	return nil
}
