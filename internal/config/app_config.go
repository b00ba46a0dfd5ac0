package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/shaharia-lab/notifyd/internal/identity"
	"github.com/shaharia-lab/notifyd/internal/notification"
	"github.com/shaharia-lab/notifyd/internal/telemetry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NOTIFYD"

// Transport names accepted in NOTIFYD_TRANSPORT.
const (
	TransportSMTP  = "smtp"
	TransportGmail = "gmail"
	TransportLog   = "log"
)

// Ledger backends accepted in NOTIFYD_LEDGER.
const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
)

// RetryConfig mirrors notification.RetryPolicy for environment loading.
type RetryConfig struct {
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" default:"1s"`
	Multiplier  float64       `envconfig:"MULTIPLIER" default:"2"`
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	Jitter      float64       `envconfig:"JITTER" default:"0.2"`
}

// Policy converts the config into a RetryPolicy.
func (r RetryConfig) Policy() notification.RetryPolicy {
	return notification.RetryPolicy{
		BaseDelay:   r.BaseDelay,
		Multiplier:  r.Multiplier,
		MaxAttempts: r.MaxAttempts,
		Jitter:      r.Jitter,
	}
}

// AppConfig holds all application-level configuration loaded from environment variables.
type AppConfig struct {
	// Port is the HTTP server port. Defaults to 8990.
	Port int `envconfig:"PORT" default:"8990"`

	// DataDir is the root data directory. Defaults to ~/.notifyd.
	DataDir string `envconfig:"DATA_DIR"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// RoutingFile is the YAML file with app name, recipients and links.
	// Defaults to <DataDir>/routing.yaml; a missing file selects built-in defaults.
	RoutingFile string `envconfig:"ROUTING_FILE"`

	// Transport selects the mail transport: smtp, gmail or log.
	Transport string                   `envconfig:"TRANSPORT" default:"smtp"`
	SMTP      notification.SMTPConfig  `envconfig:"SMTP"`
	Gmail     notification.GmailConfig `envconfig:"GMAIL"`

	// IdentityWebhook receives issued temporary credentials when its URL is set.
	IdentityWebhook identity.WebhookConfig `envconfig:"IDENTITY_WEBHOOK"`

	// Ledger selects the delivery ledger: memory, sqlite or postgres.
	Ledger      string `envconfig:"LEDGER" default:"memory"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	Retry RetryConfig `envconfig:"RETRY"`

	// RateLimitPerMinute caps transport sends. 0 disables the limit.
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"0"`
	// ClaimTTL is the lease on a key while one process sends it. It must
	// outlast a full dispatch, retries included.
	ClaimTTL time.Duration `envconfig:"CLAIM_TTL" default:"5m"`

	// Retention is how long ledger records are kept; PruneAt is the daily
	// "HH:MM" at which older records are deleted.
	Retention time.Duration `envconfig:"RETENTION" default:"720h"`
	PruneAt   string        `envconfig:"PRUNE_AT" default:"03:30"`

	// Event bus sizing and the per-event handling deadline.
	EventWorkers    int           `envconfig:"EVENT_WORKERS" default:"3"`
	EventBufferSize int           `envconfig:"EVENT_BUFFER_SIZE" default:"100"`
	HandlerTimeout  time.Duration `envconfig:"HANDLER_TIMEOUT" default:"2m"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	Telemetry telemetry.Config `envconfig:"TELEMETRY"`
}

// Load reads AppConfig from NOTIFYD_* environment variables using envconfig.
// DataDir defaults to ~/.notifyd if not set.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".notifyd")
	}
	if c.RoutingFile == "" {
		c.RoutingFile = filepath.Join(c.DataDir, "routing.yaml")
	}
	return &c, nil
}

// Validate rejects unknown backends and settings the selected backends need.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportSMTP:
		errs = append(errs, c.SMTP.Validate())
	case TransportGmail:
		errs = append(errs, c.Gmail.Validate())
	case TransportLog:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want smtp, gmail or log)", c.Transport))
	}

	switch c.Ledger {
	case LedgerMemory, LedgerSQLite:
	case LedgerPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres ledger requires NOTIFYD_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger %q (want memory, sqlite or postgres)", c.Ledger))
	}

	errs = append(errs, c.Retry.Policy().Validate())
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %d", c.RateLimitPerMinute))
	}
	if c.ClaimTTL <= 0 {
		errs = append(errs, fmt.Errorf("claim ttl must be positive, got %s", c.ClaimTTL))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive, got %s", c.Retention))
	}
	return errors.Join(errs...)
}

// SenderAddress returns the from address of the selected transport.
func (c *AppConfig) SenderAddress() string {
	switch c.Transport {
	case TransportSMTP:
		return c.SMTP.FromAddr
	case TransportGmail:
		return c.Gmail.FromAddr
	default:
		return ""
	}
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogDir returns the path to the log directory (~/.notifyd/logs).
func (c *AppConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// SQLitePath returns the path of the SQLite ledger database.
func (c *AppConfig) SQLitePath() string {
	return filepath.Join(c.DataDir, "notifyd.db")
}
