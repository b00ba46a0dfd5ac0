package notification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"strings"
)

// CredentialProvisioner hands a freshly issued temporary credential to the
// identity provider that owns the account.
type CredentialProvisioner interface {
	Provision(ctx context.Context, subjectID string, cred TemporaryCredential) error
}

// Notifier turns a workflow event into a delivered notification.
type Notifier interface {
	Notify(ctx context.Context, ev WorkflowEvent) Result
}

// EngineConfig wires an Engine. Provisioner is optional.
type EngineConfig struct {
	Router      *Router
	Renderer    *Renderer
	Issuer      *CredentialIssuer
	Dispatcher  *Dispatcher
	Provisioner CredentialProvisioner
	Logger      *slog.Logger
}

// Engine runs the full pipeline: route, check for duplicates, issue a
// credential when needed, render and dispatch.
type Engine struct {
	router      *Router
	renderer    *Renderer
	issuer      *CredentialIssuer
	dispatcher  *Dispatcher
	provisioner CredentialProvisioner
	logger      *slog.Logger
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	switch {
	case cfg.Router == nil:
		return nil, errors.New("engine: router is required")
	case cfg.Renderer == nil:
		return nil, errors.New("engine: renderer is required")
	case cfg.Issuer == nil:
		return nil, errors.New("engine: credential issuer is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("engine: dispatcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		router:      cfg.Router,
		renderer:    cfg.Renderer,
		issuer:      cfg.Issuer,
		dispatcher:  cfg.Dispatcher,
		provisioner: cfg.Provisioner,
		logger:      cfg.Logger,
	}, nil
}

// Notify delivers the notification for ev. Validation failures return
// before anything is issued or sent.
func (e *Engine) Notify(ctx context.Context, ev WorkflowEvent) Result {
	intent, err := e.router.Route(ev)
	if err != nil {
		e.logger.Warn("rejecting workflow event",
			"event_id", ev.ID, "kind", ev.Kind, "subject_id", ev.SubjectID, "error", err)
		return Result{Err: err}
	}

	key := IdempotencyKey(intent.EventKind, intent.SubjectID, intent.Recipients)
	return e.dispatcher.DispatchFunc(ctx, key, func(ctx context.Context) (RenderedMessage, error) {
		return e.prepare(ctx, intent)
	})
}

// prepare runs under the key lock, after the duplicate check, so a
// credential is only issued when a send is about to happen.
func (e *Engine) prepare(ctx context.Context, intent Intent) (RenderedMessage, error) {
	vars := intent.Variables.Clone()

	if intent.RequiresCredential {
		cred, err := e.issuer.Issue(intent.Recipients[0])
		if err != nil {
			return RenderedMessage{}, err
		}
		if e.provisioner != nil {
			if err := e.provisioner.Provision(ctx, intent.SubjectID, cred); err != nil {
				return RenderedMessage{}, &ProvisioningError{SubjectID: intent.SubjectID, Err: err}
			}
		}
		e.logger.Info("temporary credential issued", "subject_id", intent.SubjectID, "credential", cred)
		vars[VarTemporaryPassword] = cred.Secret
	}

	msg, err := e.renderer.Render(intent.TemplateID, vars)
	if err != nil {
		return RenderedMessage{}, err
	}
	msg.To = intent.Recipients
	return msg, nil
}

// IdempotencyKey derives the dispatch key for an intent: the hex SHA-256 of
// kind, subject id and the sorted, lower-cased recipient list.
func IdempotencyKey(kind EventKind, subjectID string, recipients []string) string {
	rs := make([]string, len(recipients))
	for i, r := range recipients {
		rs[i] = strings.ToLower(strings.TrimSpace(r))
	}
	sort.Strings(rs)

	sum := sha256.Sum256([]byte(string(kind) + "|" + strings.TrimSpace(subjectID) + "|" + strings.Join(rs, ",")))
	return hex.EncodeToString(sum[:])
}
