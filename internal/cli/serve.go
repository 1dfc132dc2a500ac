package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runlet/runlet/internal/aigen"
	"github.com/runlet/runlet/internal/config"
	"github.com/runlet/runlet/internal/docstore"
	"github.com/runlet/runlet/internal/engine"
	"github.com/runlet/runlet/internal/httpapi"
	"github.com/runlet/runlet/internal/schedule"
)

// NewServeCommand creates the serve command: the HTTP server plus the
// optional background schedule runner.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the execution engine HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "load configuration", err)
			}
			if listen != "" {
				cfg.Listen = listen
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "bind address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, err := docstore.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer docs.Close()

	executor := engine.New(docs, newGenerator(cfg))
	server := httpapi.NewServer(docs, executor)

	if cfg.Scheduler.Enabled {
		runner := schedule.NewRunner(docs, executor, cfg.Scheduler.Poll.Std())
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("schedule runner exited", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return WrapExitError(ExitCommandError, "http server", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "shutdown", err)
	}
	return nil
}

// newGenerator builds the AI collaborator from config, or returns nil when
// no key is configured. The engine treats nil as "AI unavailable"; scripts
// that never call ai.generateObject are unaffected.
func newGenerator(cfg config.Config) aigen.ObjectGenerator {
	if cfg.AI.APIKey == "" {
		slog.Warn("AI generator disabled: no API key configured")
		return nil
	}
	gen, err := aigen.NewOpenAIGenerator(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL)
	if err != nil {
		slog.Warn("AI generator disabled", "error", err)
		return nil
	}
	return gen
}
