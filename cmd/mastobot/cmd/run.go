package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/mastobot"
	"github.com/GoCodeAlone/mastobot/scheduler"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load every unit and run scheduled functions until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	b, err := loadBootstrap(cmd.Flags())
	if err != nil {
		return err
	}
	logger := b.settings.NewLogger(cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched := scheduler.New(
		scheduler.WithLogger(logger),
		scheduler.WithLocation(b.location),
		scheduler.WithMetrics(registry),
	)

	opts := []mastobot.RuntimeOption{
		mastobot.WithLogger(logger),
		mastobot.WithConfigSource(b.env),
		mastobot.WithPrefix(b.settings.Prefix),
		mastobot.WithScheduler(sched),
	}
	if b.settings.ModuleConcurrency > 0 {
		opts = append(opts, mastobot.WithModuleConcurrency(b.settings.ModuleConcurrency))
	}

	if b.settings.MetricsAddr != "" {
		serveMetrics(ctx, b.settings.MetricsAddr, registry, logger)
	}

	logger.Info("Starting mastobot", "prefix", b.settings.Prefix, "timezone", b.location.String())
	if err := mastobot.NewRuntime(opts...).Run(ctx); err != nil {
		return err
	}
	logger.Info("Stopped mastobot")
	return nil
}

func metricsRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// serveMetrics serves the registry until ctx is done.
func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsRouter(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
}
