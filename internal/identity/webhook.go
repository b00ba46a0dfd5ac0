// Package identity hands temporary credentials to the identity provider that
// owns user accounts.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/shaharia-lab/notifyd/internal/notification"
)

// WebhookConfig configures the identity provider endpoint.
type WebhookConfig struct {
	URL       string        `envconfig:"URL"`
	Token     string        `envconfig:"TOKEN"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"10s"`
	RetryMax  int           `envconfig:"RETRY_MAX" default:"3"`
	RetryWait time.Duration `envconfig:"RETRY_WAIT" default:"500ms"` // first backoff delay, doubled per retry
}

// Enabled reports whether a webhook URL is configured.
func (c WebhookConfig) Enabled() bool { return c.URL != "" }

// WebhookProvisioner POSTs each issued credential to the identity provider
// so the account can be created or reset with it.
type WebhookProvisioner struct {
	client *retryablehttp.Client
	url    string
	token  string
}

type provisionRequest struct {
	SubjectID              string    `json:"subjectId"`
	Email                  string    `json:"email"`
	TemporaryPassword      string    `json:"temporaryPassword"`
	IssuedAt               time.Time `json:"issuedAt"`
	MustChangeOnFirstLogin bool      `json:"mustChangeOnFirstLogin"`
}

// NewWebhookProvisioner returns a provisioner for cfg. Connection errors,
// 429 and 5xx replies are retried up to cfg.RetryMax times.
func NewWebhookProvisioner(cfg WebhookConfig, logger *slog.Logger) (*WebhookProvisioner, error) {
	if cfg.URL == "" {
		return nil, errors.New("identity webhook: url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.Logger = logger.With("component", "identity_webhook")
	client.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryWait > 0 {
		client.RetryWaitMin = cfg.RetryWait
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &WebhookProvisioner{client: client, url: cfg.URL, token: cfg.Token}, nil
}

// Provision sends cred for subjectID. Any non-2xx reply is an error.
func (p *WebhookProvisioner) Provision(ctx context.Context, subjectID string, cred notification.TemporaryCredential) error {
	body, err := json.Marshal(provisionRequest{
		SubjectID:              subjectID,
		Email:                  cred.IssuedFor,
		TemporaryPassword:      cred.Secret,
		IssuedAt:               cred.IssuedAt,
		MustChangeOnFirstLogin: cred.MustChangeOnFirstLogin,
	})
	if err != nil {
		return fmt.Errorf("encoding provision request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building provision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling identity webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("identity webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
