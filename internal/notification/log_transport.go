package notification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogTransport records messages in the log instead of sending them. Bodies
// are never logged since they may carry temporary passwords.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport returns a LogTransport writing to logger.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Name returns the transport identifier.
func (t *LogTransport) Name() string { return "log" }

// Send logs a summary of msg and returns a random delivery id.
func (t *LogTransport) Send(ctx context.Context, msg RenderedMessage) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	id := uuid.NewString()
	t.logger.InfoContext(ctx, "message written to log transport",
		"delivery_id", id,
		"template", msg.TemplateID,
		"to", msg.To,
		"subject", msg.Subject,
		"text_bytes", len(msg.TextBody),
		"html_bytes", len(msg.HTMLBody),
	)
	return Receipt{DeliveryID: id}, nil
}
