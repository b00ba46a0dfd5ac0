package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/notifyd/internal/config"
	"github.com/shaharia-lab/notifyd/internal/notification"
	"github.com/shaharia-lab/notifyd/internal/service"
)

// NewNotifyCmd returns the "notify" subcommand that dispatches a single
// workflow event without starting the server.
func NewNotifyCmd(cfg *config.AppConfig) *cobra.Command {
	var (
		subject    string
		sets       []string
		occurredAt string
		transport  string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify <kind>",
		Short: "Send the notification for one workflow event",
		Long: `Route, render and deliver the notification for a single workflow event.
Payload fields are given with --set; list fields (plates, agentEmails) take
comma-separated values.

Kinds: ` + kindList(),
		Example: `  notifyd notify vehicle.rejected --subject veh-9 \
    --set conducteurEmail=a@b.com --set plate="123 TU 4567" --set reason="Blurry photo"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("transport") {
				cfg.Transport = transport
			}
			payload, err := parseSets(sets)
			if err != nil {
				return err
			}
			req := service.NotifyRequest{SubjectID: subject, Payload: payload}
			if occurredAt != "" {
				t, err := time.Parse(time.RFC3339, occurredAt)
				if err != nil {
					return fmt.Errorf("--occurred-at: %w", err)
				}
				req.OccurredAt = &t
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runNotify(ctx, cfg, args[0], req, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Subject id (account, vehicle or report id)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Payload field as key=value (repeatable)")
	cmd.Flags().StringVar(&occurredAt, "occurred-at", "", "Event time in RFC 3339 (defaults to now)")
	cmd.Flags().StringVar(&transport, "transport", cfg.Transport, "Mail transport: smtp, gmail or log")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Deadline for the whole dispatch")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runNotify(ctx context.Context, cfg *config.AppConfig, kind string, req service.NotifyRequest, out io.Writer) error {
	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx)) //nolint:errcheck

	svc := service.NewNotificationService(a.engine, a.router, nil, a.ledger)
	resp, err := svc.Notify(ctx, kind, req)
	printDelivery(newPrinter(out), kind, resp, err)
	return err
}

// printDelivery renders the outcome of a notify call.
func printDelivery(p *printer, kind string, resp *service.DeliveryResponse, err error) {
	if err != nil {
		fmt.Fprintln(p.w, p.fail.Render("✗ "+kind+" not delivered"))
		var ve *service.ValidationError
		var ie *service.InternalError
		switch {
		case errors.As(err, &ve):
			p.field("Field", ve.Field)
			p.field("Problem", ve.Message)
		case errors.As(err, &ie):
			if ie.Reason != "" {
				p.field("Reason", ie.Reason)
			}
			p.field("Error", fmt.Sprint(ie.Err))
		default:
			p.field("Error", err.Error())
		}
		return
	}

	status := "✓ " + kind + " delivered"
	if resp.Duplicate {
		status = "✓ " + kind + " already delivered"
	}
	fmt.Fprintln(p.w, p.ok.Render(status))
	p.field("Delivery ID", resp.DeliveryID)
	p.field("Attempts", fmt.Sprint(resp.Attempts))
	p.field("Key", p.dim.Render(resp.IdempotencyKey))
}

// parseSets turns repeated key=value flags into a payload. Repeating a key
// appends to a comma-separated list.
func parseSets(sets []string) (map[string]any, error) {
	payload := make(map[string]any, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: expected key=value", s)
		}
		if prev, exists := payload[key]; exists {
			value = prev.(string) + "," + value
		}
		payload[key] = value
	}
	return payload, nil
}

func kindList() string {
	kinds := notification.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
