package notification

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailTransport sends messages through the Gmail API on behalf of the
// account that granted the refresh token.
type GmailTransport struct {
	svc      *gmail.Service
	fromAddr string
	fromName string
}

// NewGmailTransport builds an authorized Gmail client from cfg. ctx scopes
// the token refresh HTTP calls and should live as long as the transport.
func NewGmailTransport(ctx context.Context, cfg GmailConfig) (*GmailTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     googleoauth.Endpoint,
	}
	httpClient := oauth2.NewClient(ctx, oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return newGmailTransport(svc, cfg.FromName, cfg.FromAddr), nil
}

func newGmailTransport(svc *gmail.Service, fromName, fromAddr string) *GmailTransport {
	return &GmailTransport{svc: svc, fromAddr: fromAddr, fromName: fromName}
}

// Name returns the transport identifier.
func (t *GmailTransport) Name() string { return "gmail" }

// Send uploads msg as a raw MIME message. The Gmail message id is returned
// as the delivery id.
func (t *GmailTransport) Send(ctx context.Context, msg RenderedMessage) (Receipt, error) {
	m, _, err := newMailMsg(t.fromName, t.fromAddr, msg)
	if err != nil {
		return Receipt{}, Permanent(err)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return Receipt{}, Permanent(fmt.Errorf("encoding message: %w", err))
	}

	sent, err := t.svc.Users.Messages.
		Send("me", &gmail.Message{Raw: base64.URLEncoding.EncodeToString(buf.Bytes())}).
		Context(ctx).
		Do()
	if err != nil {
		return Receipt{}, classifyGoogleError(fmt.Errorf("sending via gmail: %w", err))
	}
	return Receipt{DeliveryID: sent.Id}, nil
}

// classifyGoogleError treats 429 and 5xx API replies as transient and other
// API errors, including a rejected refresh token, as permanent.
func classifyGoogleError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return Transient(err)
		}
		return Permanent(err)
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		if tokenErr.Response != nil && tokenErr.Response.StatusCode >= http.StatusInternalServerError {
			return Transient(err)
		}
		return Permanent(err)
	}
	return Transient(err)
}
