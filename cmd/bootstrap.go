package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shaharia-lab/notifyd/internal/build"
	"github.com/shaharia-lab/notifyd/internal/config"
	"github.com/shaharia-lab/notifyd/internal/identity"
	"github.com/shaharia-lab/notifyd/internal/logger"
	"github.com/shaharia-lab/notifyd/internal/notification"
	"github.com/shaharia-lab/notifyd/internal/storage"
	"github.com/shaharia-lab/notifyd/internal/telemetry"
)

// app holds the components shared by serve and notify.
type app struct {
	cfg       *config.AppConfig
	logger    *slog.Logger
	telemetry *telemetry.Providers
	ledger    storage.DeliveryLedger
	router    *notification.Router
	engine    *notification.Engine

	closers []func(context.Context) error
}

// buildApp validates cfg and wires logging, telemetry, the ledger, the
// transport and the engine. On error everything opened so far is closed.
func buildApp(ctx context.Context, cfg *config.AppConfig, console io.Writer) (_ *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir(), 0750); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", cfg.LogDir(), err)
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.Close(context.Background()))
		}
	}()

	tcfg := cfg.Telemetry
	tcfg.ServiceVersion = build.Version
	a.telemetry, err = telemetry.Setup(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	logOpts := []logger.Option{}
	if console != nil {
		logOpts = append(logOpts, logger.WithConsole(console))
	}
	if a.telemetry.LoggerProvider != nil {
		logOpts = append(logOpts, logger.WithLoggerProvider(tcfg.ServiceName, a.telemetry.LoggerProvider))
	}
	sysLogger, logCloser, err := logger.NewSystemLogger(cfg.LogDir(), cfg.SlogLevel(), logOpts...)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = sysLogger
	a.closers = append(a.closers, func(context.Context) error { return logCloser.Close() })

	if err := a.openLedger(ctx); err != nil {
		return nil, err
	}

	transport, err := newTransport(ctx, cfg, sysLogger)
	if err != nil {
		return nil, err
	}

	routing, err := config.LoadRouting(cfg.RoutingFile)
	if err != nil {
		return nil, err
	}
	routerCfg, err := routing.RouterConfig(cfg.SenderAddress())
	if err != nil {
		return nil, err
	}
	a.router, err = notification.NewRouter(routerCfg, sysLogger)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	renderer, err := notification.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	issuer, err := notification.NewCredentialIssuer()
	if err != nil {
		return nil, fmt.Errorf("creating credential issuer: %w", err)
	}

	dispatcher, err := notification.NewDispatcher(notification.DispatcherConfig{
		Transport:          transport,
		Ledger:             a.ledger,
		Policy:             cfg.Retry.Policy(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ClaimTTL:           cfg.ClaimTTL,
		Logger:             sysLogger,
		MeterProvider:      a.telemetry.MeterProvider,
		TracerProvider:     a.telemetry.TracerProvider,
	})
	if err != nil {
		return nil, err
	}

	var provisioner notification.CredentialProvisioner
	if cfg.IdentityWebhook.Enabled() {
		provisioner, err = identity.NewWebhookProvisioner(cfg.IdentityWebhook, sysLogger)
		if err != nil {
			return nil, fmt.Errorf("creating identity webhook: %w", err)
		}
	}

	a.engine, err = notification.NewEngine(notification.EngineConfig{
		Router:      a.router,
		Renderer:    renderer,
		Issuer:      issuer,
		Dispatcher:  dispatcher,
		Provisioner: provisioner,
		Logger:      sysLogger,
	})
	if err != nil {
		return nil, err
	}

	sysLogger.Info("notifyd initialized",
		"transport", transport.Name(),
		"ledger", cfg.Ledger,
		"app_name", routerCfg.AppName,
		"identity_webhook", cfg.IdentityWebhook.Enabled(),
		"version", build.Version,
	)
	return a, nil
}

// openLedger opens the configured delivery ledger.
func (a *app) openLedger(ctx context.Context) error {
	switch a.cfg.Ledger {
	case config.LedgerSQLite:
		db, _, err := storage.NewSQLiteDB(ctx, a.cfg.SQLitePath())
		if err != nil {
			return fmt.Errorf("opening sqlite ledger: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		a.ledger = storage.NewSQLiteDeliveryLedger(db)
	case config.LedgerPostgres:
		db, err := storage.OpenPostgres(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("opening postgres ledger: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("opening postgres ledger: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return sqlDB.Close() })
		a.ledger, err = storage.NewPostgresDeliveryLedger(ctx, db)
		if err != nil {
			return fmt.Errorf("migrating postgres ledger: %w", err)
		}
	default:
		a.ledger = storage.NewMemoryDeliveryLedger()
	}
	return nil
}

// newTransport builds the transport selected by cfg.Transport.
func newTransport(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (notification.Transport, error) {
	switch cfg.Transport {
	case config.TransportGmail:
		t, err := notification.NewGmailTransport(ctx, cfg.Gmail)
		if err != nil {
			return nil, fmt.Errorf("creating gmail transport: %w", err)
		}
		return t, nil
	case config.TransportLog:
		return notification.NewLogTransport(log), nil
	default:
		t, err := notification.NewSMTPTransport(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("creating smtp transport: %w", err)
		}
		return t, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
