package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/notifyd/internal/api"
	"github.com/shaharia-lab/notifyd/internal/build"
	"github.com/shaharia-lab/notifyd/internal/config"
	"github.com/shaharia-lab/notifyd/internal/eventbus"
	"github.com/shaharia-lab/notifyd/internal/notification"
	"github.com/shaharia-lab/notifyd/internal/scheduler"
	"github.com/shaharia-lab/notifyd/internal/server"
	"github.com/shaharia-lab/notifyd/internal/service"
)

// NewServeCmd returns the "serve" subcommand that starts the HTTP API, the
// event bus workers and the retention scheduler.
func NewServeCmd(cfg *config.AppConfig) *cobra.Command {
	var port int
	var transport, ledger string
	var logConsole bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the notification HTTP server",
		Long: `Start the notifyd HTTP server. Workflow events are accepted on
/api/notifications/{kind} (synchronous) and /api/events (queued).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// CLI flags override env config.
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("transport") {
				cfg.Transport = transport
			}
			if cmd.Flags().Changed("ledger") {
				cfg.Ledger = ledger
			}

			logFile := filepath.Join(cfg.LogDir(), "system.log")
			printBanner(cmd.OutOrStdout(), build.Version, fmt.Sprintf("http://localhost:%d", cfg.Port), logFile)

			var console io.Writer
			if logConsole {
				console = cmd.ErrOrStderr()
			}
			if err := runServe(cfg, console); err != nil {
				return fmt.Errorf("%w (logs: %s)", err, logFile)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", cfg.Port, "HTTP server port (overrides NOTIFYD_PORT)")
	cmd.Flags().StringVar(&transport, "transport", cfg.Transport, "Mail transport: smtp, gmail or log (overrides NOTIFYD_TRANSPORT)")
	cmd.Flags().BoolVar(&logConsole, "log-console", false, "Mirror logs to stderr in addition to the log file")
	cmd.Flags().StringVar(&ledger, "ledger", cfg.Ledger, "Delivery ledger: memory, sqlite or postgres (overrides NOTIFYD_LEDGER)")

	return cmd
}

func runServe(cfg *config.AppConfig, console io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, console)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	bus := eventbus.New(eventbus.Config{
		Workers:    cfg.EventWorkers,
		BufferSize: cfg.EventBufferSize,
		Logger:     a.logger,
	})
	handlerCtx, stopHandlers := context.WithCancel(ctx)
	bus.Subscribe(notification.NewHandler(handlerCtx, a.engine, cfg.HandlerTimeout, a.logger).Handle)
	// Registered after the ledger closers so queued events drain before the
	// ledger is closed. Closers run in reverse, so in-flight retries are
	// cancelled before the bus waits for its workers.
	a.closers = append(a.closers, func(context.Context) error {
		bus.Close()
		return nil
	}, func(context.Context) error {
		stopHandlers()
		return nil
	})

	sched, err := scheduler.New(scheduler.Config{
		Ledger:    a.ledger,
		Retention: cfg.Retention,
		PruneAt:   cfg.PruneAt,
		Location:  a.router.Location(),
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return sched.Stop() })

	svc := service.NewNotificationService(a.engine, a.router, bus, a.ledger)
	srv := server.New(api.New(svc, a.logger), server.Options{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		AllowedOrigins: cfg.CORSOrigins,
		MetricsHandler: a.telemetry.MetricsHandler(),
		TracerProvider: a.telemetry.TracerProvider,
		MeterProvider:  a.telemetry.MeterProvider,
	}, a.logger)

	a.logger.Info("server ready", "port", cfg.Port)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
