package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/shaharia-lab/notifyd/internal/storage"
)

// RetryPolicy controls how transient transport failures are retried.
type RetryPolicy struct {
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
	// MaxAttempts counts every send, including the first.
	MaxAttempts int
	// Jitter randomizes each delay by ±Jitter (0.2 means ±20%).
	Jitter float64
}

// DefaultRetryPolicy returns 1s base delay, ×2, 5 attempts, ±20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
		Jitter:      0.2,
	}
}

// Validate reports an unusable policy.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	case p.BaseDelay < 0:
		return fmt.Errorf("retry policy: base delay must not be negative, got %s", p.BaseDelay)
	case p.Multiplier < 1:
		return fmt.Errorf("retry policy: multiplier must be at least 1, got %g", p.Multiplier)
	case p.Jitter < 0 || p.Jitter >= 1:
		return fmt.Errorf("retry policy: jitter must be in [0, 1), got %g", p.Jitter)
	}
	return nil
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(max(p.MaxAttempts-2, 0))))
	b.Reset()
	return b
}

// Result is the outcome of a dispatch. Accepted and Err are mutually
// exclusive.
type Result struct {
	Accepted       bool
	Duplicate      bool
	IdempotencyKey string
	DeliveryID     string
	Attempts       int
	Err            error
}

// PrepareFunc builds the message for a dispatch. It runs only when the key
// has not been delivered yet, while the key is locked.
type PrepareFunc func(ctx context.Context) (RenderedMessage, error)

// DefaultClaimTTL is the ledger claim lease used when none is configured.
const DefaultClaimTTL = 5 * time.Minute

// claimPollInterval is how often a dispatch retries a key claimed by
// another process.
const claimPollInterval = 100 * time.Millisecond

// DispatcherConfig wires a Dispatcher. Transport and Ledger are required.
type DispatcherConfig struct {
	Transport Transport
	Ledger    storage.DeliveryLedger
	Policy    RetryPolicy
	// RateLimitPerMinute caps transport sends; 0 disables the limiter.
	RateLimitPerMinute int
	// ClaimTTL bounds how long a crashed process keeps a key claimed.
	// 0 selects DefaultClaimTTL.
	ClaimTTL       time.Duration
	Logger         *slog.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Dispatcher delivers rendered messages at most once per idempotency key,
// retrying transient transport failures.
type Dispatcher struct {
	transport Transport
	ledger    storage.DeliveryLedger
	policy    RetryPolicy
	limiter   *rate.Limiter
	locks     *keyLocks
	owner     string
	claimTTL  time.Duration
	logger    *slog.Logger
	metrics   *dispatchMetrics
	tracer    trace.Tracer
}

// NewDispatcher validates cfg and returns a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Transport == nil {
		return nil, errors.New("dispatcher: transport is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("dispatcher: ledger is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	if cfg.ClaimTTL < 0 {
		return nil, fmt.Errorf("dispatcher: claim ttl must not be negative, got %s", cfg.ClaimTTL)
	}
	if cfg.ClaimTTL == 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}

	m, err := newDispatchMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: creating metrics: %w", err)
	}

	d := &Dispatcher{
		transport: cfg.Transport,
		ledger:    cfg.Ledger,
		policy:    cfg.Policy,
		locks:     newKeyLocks(),
		owner:     uuid.NewString(),
		claimTTL:  cfg.ClaimTTL,
		logger:    cfg.Logger,
		metrics:   m,
		tracer:    cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.RateLimitPerMinute > 0 {
		burst := max(1, cfg.RateLimitPerMinute/10)
		d.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60.0), burst)
	}
	return d, nil
}

// Dispatch delivers msg under key.
func (d *Dispatcher) Dispatch(ctx context.Context, msg RenderedMessage, key string) Result {
	return d.DispatchFunc(ctx, key, func(context.Context) (RenderedMessage, error) {
		return msg, nil
	})
}

// DispatchFunc delivers the message built by prepare under key. A key that
// already has a sent record returns that record with Duplicate set and
// neither prepare nor the transport is called.
func (d *Dispatcher) DispatchFunc(ctx context.Context, key string, prepare PrepareFunc) Result {
	if key == "" {
		return Result{Err: errors.New("dispatch: idempotency key is required")}
	}

	ctx, span := d.tracer.Start(ctx, "notification.dispatch", trace.WithAttributes(
		attribute.String("notifyd.idempotency_key", key),
		attribute.String("notifyd.transport", d.transport.Name()),
	))
	defer span.End()

	res := d.dispatch(ctx, key, prepare)

	status := "sent"
	switch {
	case res.Duplicate:
		status = "duplicate"
	case res.Err != nil:
		status = "failed"
		var de *DeliveryError
		if errors.As(res.Err, &de) {
			status = string(de.Reason)
		}
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, status)
	}
	span.SetAttributes(attribute.Int("notifyd.attempts", res.Attempts), attribute.String("notifyd.status", status))
	d.metrics.results.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", d.transport.Name()),
		attribute.String("status", status),
	))
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, key string, prepare PrepareFunc) Result {
	unlock, err := d.locks.lock(ctx, key)
	if err != nil {
		return Result{IdempotencyKey: key, Err: &DeliveryError{Reason: ReasonDeadlineExceeded, Err: err}}
	}
	defer unlock()

	release, err := d.claim(ctx, key)
	if err != nil {
		return Result{IdempotencyKey: key, Err: err}
	}
	defer release()

	prior, err := d.ledger.Lookup(ctx, key)
	if err != nil {
		return Result{IdempotencyKey: key, Err: fmt.Errorf("checking delivery ledger: %w", err)}
	}
	if prior != nil && prior.Status == storage.StatusSent {
		d.logger.Info("duplicate dispatch suppressed",
			"idempotency_key", key, "delivery_id", prior.DeliveryID)
		return Result{
			Accepted:       true,
			Duplicate:      true,
			IdempotencyKey: key,
			DeliveryID:     prior.DeliveryID,
			Attempts:       prior.Attempts,
		}
	}

	msg, err := prepare(ctx)
	if err != nil {
		return Result{IdempotencyKey: key, Err: err}
	}
	if len(msg.To) == 0 {
		return Result{IdempotencyKey: key, Err: &DeliveryError{
			Reason: ReasonPermanent,
			Err:    errors.New("message has no recipients"),
		}}
	}
	// Attempts of an earlier failed dispatch keep their numbers in the ledger.
	prevAttempts := 0
	if prior != nil {
		prevAttempts = prior.Attempts
	}
	return d.deliver(ctx, key, msg, prevAttempts)
}

// claim takes the ledger claim on key, waiting while another process holds
// it. The key lock serializes dispatches within this process; the claim
// extends that to every process sharing the ledger.
func (d *Dispatcher) claim(ctx context.Context, key string) (func(), error) {
	for {
		ok, err := d.ledger.Claim(ctx, key, d.owner, d.claimTTL)
		if err != nil {
			return nil, fmt.Errorf("claiming delivery: %w", err)
		}
		if ok {
			return func() {
				if err := d.ledger.Release(context.WithoutCancel(ctx), key, d.owner); err != nil {
					d.logger.Warn("failed to release delivery claim", "idempotency_key", key, "error", err)
				}
			}, nil
		}
		d.logger.Debug("delivery claimed by another process, waiting", "idempotency_key", key)
		if err := sleepContext(ctx, claimPollInterval); err != nil {
			return nil, &DeliveryError{Reason: ReasonDeadlineExceeded, Err: fmt.Errorf("waiting for delivery claim: %w", err)}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, key string, msg RenderedMessage, prevAttempts int) Result {
	b := d.policy.newBackOff()
	var lastErr error

	for attempt := 1; ; attempt++ {
		n := prevAttempts + attempt
		if err := d.waitTurn(ctx); err != nil {
			return d.fail(ctx, key, msg, ReasonDeadlineExceeded, attempt-1, prevAttempts, deadlineErr(err, lastErr))
		}

		receipt, err := d.send(ctx, msg, attempt)
		if err == nil {
			d.recordAttempt(ctx, key, n, storage.OutcomeSent, nil)
			d.commit(ctx, storage.DeliveryRecord{
				IntentID:   key,
				Status:     storage.StatusSent,
				DeliveryID: receipt.DeliveryID,
				Transport:  d.transport.Name(),
				TemplateID: string(msg.TemplateID),
				Recipients: msg.To,
				Subject:    msg.Subject,
				Attempts:   n,
			})
			d.logger.Info("notification delivered",
				"idempotency_key", key, "template", msg.TemplateID,
				"delivery_id", receipt.DeliveryID, "attempts", attempt)
			return Result{Accepted: true, IdempotencyKey: key, DeliveryID: receipt.DeliveryID, Attempts: attempt}
		}
		lastErr = err

		if IsPermanent(err) {
			d.recordAttempt(ctx, key, n, storage.OutcomePermanentFailure, err)
			return d.fail(ctx, key, msg, ReasonPermanent, attempt, prevAttempts, err)
		}
		d.recordAttempt(ctx, key, n, storage.OutcomeTransientFailure, err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return d.fail(ctx, key, msg, ReasonDeadlineExceeded, attempt, prevAttempts, deadlineErr(ctxErr, err))
		}
		if attempt >= d.policy.MaxAttempts {
			return d.fail(ctx, key, msg, ReasonRetriesExhausted, attempt, prevAttempts, err)
		}

		delay := b.NextBackOff()
		d.logger.Warn("transient delivery failure, retrying",
			"idempotency_key", key, "attempt", attempt, "retry_in", delay, "error", err)
		if err := sleepContext(ctx, delay); err != nil {
			return d.fail(ctx, key, msg, ReasonDeadlineExceeded, attempt, prevAttempts, deadlineErr(err, lastErr))
		}
	}
}

// waitTurn returns the context error when the caller gave up, and otherwise
// blocks on the rate limiter.
func (d *Dispatcher) waitTurn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.limiter == nil {
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send rate limit: %w", err)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, msg RenderedMessage, attempt int) (Receipt, error) {
	ctx, span := d.tracer.Start(ctx, "notification.transport.send", trace.WithAttributes(
		attribute.Int("notifyd.attempt", attempt),
		attribute.String("notifyd.template", string(msg.TemplateID)),
	))
	defer span.End()

	start := time.Now()
	receipt, err := d.transport.Send(ctx, msg)
	elapsed := time.Since(start)

	outcome := storage.OutcomeSent
	if err != nil {
		outcome = storage.OutcomeTransientFailure
		if IsPermanent(err) {
			outcome = storage.OutcomePermanentFailure
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}

	attrs := metric.WithAttributes(
		attribute.String("transport", d.transport.Name()),
		attribute.String("outcome", string(outcome)),
	)
	d.metrics.attempts.Add(ctx, 1, attrs)
	d.metrics.sendDuration.Record(ctx, elapsed.Seconds(), attrs)
	return receipt, err
}

// fail commits the failure. attempts counts this dispatch only; the ledger
// record carries the total including prevAttempts.
func (d *Dispatcher) fail(ctx context.Context, key string, msg RenderedMessage, reason FailureReason, attempts, prevAttempts int, err error) Result {
	d.commit(ctx, storage.DeliveryRecord{
		IntentID:   key,
		Status:     storage.StatusExhausted,
		Reason:     string(reason),
		Transport:  d.transport.Name(),
		TemplateID: string(msg.TemplateID),
		Recipients: msg.To,
		Subject:    msg.Subject,
		Attempts:   prevAttempts + attempts,
		ErrorMsg:   err.Error(),
	})
	d.logger.Error("notification delivery failed",
		"idempotency_key", key, "template", msg.TemplateID,
		"reason", reason, "attempts", attempts, "error", err)
	return Result{
		IdempotencyKey: key,
		Attempts:       attempts,
		Err:            &DeliveryError{Reason: reason, Attempts: attempts, Err: err},
	}
}

// recordAttempt and commit detach from the caller's deadline so that
// outcomes are written even after a timeout.
func (d *Dispatcher) recordAttempt(ctx context.Context, key string, n int, outcome storage.AttemptOutcome, sendErr error) {
	a := storage.DeliveryAttempt{
		IntentID:      key,
		AttemptNumber: n,
		Outcome:       outcome,
		Timestamp:     time.Now().UTC(),
	}
	if sendErr != nil {
		a.Error = sendErr.Error()
	}
	if err := d.ledger.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		d.logger.Error("recording delivery attempt", "idempotency_key", key, "attempt", n, "error", err)
	}
}

func (d *Dispatcher) commit(ctx context.Context, rec storage.DeliveryRecord) {
	if err := d.ledger.Commit(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Error("committing delivery record",
			"idempotency_key", rec.IntentID, "status", rec.Status, "error", err)
	}
}

func deadlineErr(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last attempt: %w)", ctxErr, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
