package notification

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

const dateLayout = "02/01/2006"

// RouterConfig holds the deployment-specific values the router injects into
// every intent.
type RouterConfig struct {
	AppName string
	// AdminAddresses receive admin.review_requested notifications.
	AdminAddresses []string
	// OperatorMailbox is the fallback recipient when no administrator
	// address is configured.
	OperatorMailbox    string
	LoginURL           string
	SupportEmail       string
	DashboardURL       string
	PendingVehiclesURL string
	VehiclesURL        string
	ReportsURL         string
	// Location formats dates in messages; UTC when nil.
	Location *time.Location
}

// Intent is a routed event: what to render, for whom.
type Intent struct {
	EventKind          EventKind
	SubjectID          string
	TemplateID         TemplateID
	Recipients         []string
	Variables          Variables
	RequiresCredential bool
}

type route struct {
	template TemplateID
	// required payload fields, checked in order.
	required []string
	// optional payload fields copied when present.
	optional   []string
	recipients func(r *Router, ev WorkflowEvent) ([]string, error)
	derive     func(r *Router, ev WorkflowEvent, vars Variables)
	credential bool
}

var routes = map[EventKind]route{
	KindAccountApproved: {
		template:   TemplateAccountAcceptance,
		required:   []string{FieldEmail, FieldFullName, FieldRole},
		recipients: payloadRecipient(FieldEmail),
		derive: func(r *Router, _ WorkflowEvent, vars Variables) {
			vars[VarLoginURL] = r.cfg.LoginURL
			vars[VarSupportEmail] = r.cfg.SupportEmail
		},
		credential: true,
	},
	KindAccountRejected: {
		template:   TemplateAccountRejection,
		required:   []string{FieldEmail, FieldFullName, FieldRole, FieldReason},
		recipients: payloadRecipient(FieldEmail),
		derive: func(r *Router, _ WorkflowEvent, vars Variables) {
			vars[VarSupportEmail] = r.cfg.SupportEmail
		},
	},
	KindAdminReviewRequested: {
		template:   TemplateAdminNewRequest,
		required:   []string{FieldEmail, FieldFullName, FieldRole},
		optional:   []string{FieldRequestID},
		recipients: (*Router).adminRecipients,
		derive: func(r *Router, ev WorkflowEvent, vars Variables) {
			vars[VarDashboardURL] = r.cfg.DashboardURL
			vars[VarSubmittedOn] = r.formatDate(ev.OccurredAt)
			if _, ok := vars[FieldRequestID]; !ok {
				vars[FieldRequestID] = ev.SubjectID
			}
		},
	},
	KindVehicleSubmitted: {
		template:   TemplateVehiclePending,
		required:   []string{FieldPlate, FieldAgentEmail},
		optional:   []string{FieldAgentName, FieldVehicleName, FieldConducteurID, FieldAgencyName},
		recipients: payloadRecipient(FieldAgentEmail),
		derive: func(r *Router, ev WorkflowEvent, vars Variables) {
			vars[VarPendingVehiclesURL] = r.cfg.PendingVehiclesURL
			vars[VarSubmittedOn] = r.formatDate(ev.OccurredAt)
		},
	},
	KindVehicleValidated: {
		template:   TemplateVehicleStatus,
		required:   []string{FieldPlate, FieldConducteurEmail},
		optional:   []string{FieldConducteurName, FieldVehicleName, FieldAgencyName},
		recipients: payloadRecipient(FieldConducteurEmail),
		derive:     vehicleStatus(true),
	},
	KindVehicleRejected: {
		template:   TemplateVehicleStatus,
		required:   []string{FieldPlate, FieldConducteurEmail, FieldReason},
		optional:   []string{FieldConducteurName, FieldVehicleName, FieldAgencyName},
		recipients: payloadRecipient(FieldConducteurEmail),
		derive:     vehicleStatus(false),
	},
	KindReportFinalized: {
		template:   TemplateReportFinalized,
		required:   []string{FieldPlates},
		optional:   []string{FieldLocation, FieldAgencyName},
		recipients: (*Router).agentRecipients,
		derive: func(r *Router, ev WorkflowEvent, vars Variables) {
			vars[VarReportsURL] = r.cfg.ReportsURL
			vars[VarFinalizedOn] = r.formatDate(ev.OccurredAt)
			vars[VarReportID] = ev.SubjectID
		},
	},
}

// listFields are payload fields carried as string slices.
var listFields = map[string]bool{FieldPlates: true, FieldAgentEmails: true}

// Router maps workflow events to notification intents. It has no side
// effects apart from logging.
type Router struct {
	cfg    RouterConfig
	admins []string
	logger *slog.Logger
}

// NewRouter validates cfg and returns a Router.
func NewRouter(cfg RouterConfig, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		return nil, errors.New("router: app name is required")
	}

	admins := make([]string, 0, len(cfg.AdminAddresses))
	for _, a := range cfg.AdminAddresses {
		addr, err := parseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("router: admin address %q: %w", a, err)
		}
		admins = append(admins, addr)
	}
	if cfg.OperatorMailbox != "" {
		addr, err := parseAddress(cfg.OperatorMailbox)
		if err != nil {
			return nil, fmt.Errorf("router: operator mailbox %q: %w", cfg.OperatorMailbox, err)
		}
		cfg.OperatorMailbox = addr
	}
	if len(admins) == 0 && cfg.OperatorMailbox == "" {
		return nil, errors.New("router: at least one admin address or an operator mailbox is required")
	}

	return &Router{cfg: cfg, admins: admins, logger: logger}, nil
}

// Route resolves ev into an Intent. Unknown kinds, blank required fields and
// malformed recipient addresses yield a *ValidationError naming the first
// offending field.
func (r *Router) Route(ev WorkflowEvent) (Intent, error) {
	rt, ok := routes[ev.Kind]
	if !ok {
		return Intent{}, &ValidationError{Kind: ev.Kind, Field: "kind", Message: "unsupported event kind"}
	}
	if strings.TrimSpace(ev.SubjectID) == "" {
		return Intent{}, &ValidationError{Kind: ev.Kind, Field: "subjectId", Message: "is required"}
	}
	if ev.OccurredAt.IsZero() {
		return Intent{}, &ValidationError{Kind: ev.Kind, Field: "occurredAt", Message: "is required"}
	}

	vars := Variables{VarAppName: r.cfg.AppName}
	for _, field := range rt.required {
		v, present := payloadValue(ev.Payload, field)
		if !present {
			return Intent{}, &ValidationError{Kind: ev.Kind, Field: field, Message: "is required"}
		}
		vars[field] = v
	}
	for _, field := range rt.optional {
		if v, present := payloadValue(ev.Payload, field); present {
			vars[field] = v
		}
	}

	recipients, err := rt.recipients(r, ev)
	if err != nil {
		return Intent{}, err
	}
	if rt.derive != nil {
		rt.derive(r, ev, vars)
	}

	return Intent{
		EventKind:          ev.Kind,
		SubjectID:          strings.TrimSpace(ev.SubjectID),
		TemplateID:         rt.template,
		Recipients:         recipients,
		Variables:          vars,
		RequiresCredential: rt.credential,
	}, nil
}

// Location returns the time zone used to format dates.
func (r *Router) Location() *time.Location { return r.cfg.Location }

func (r *Router) formatDate(t time.Time) string {
	return t.In(r.cfg.Location).Format(dateLayout)
}

func (r *Router) adminRecipients(ev WorkflowEvent) ([]string, error) {
	if len(r.admins) > 0 {
		return append([]string(nil), r.admins...), nil
	}
	r.logger.Warn("no administrator address configured, notifying operator mailbox",
		"kind", ev.Kind, "subject_id", ev.SubjectID, "recipient", r.cfg.OperatorMailbox)
	return []string{r.cfg.OperatorMailbox}, nil
}

func (r *Router) agentRecipients(ev WorkflowEvent) ([]string, error) {
	field := FieldAgentEmails
	raw := ev.Payload.List(FieldAgentEmails)
	if len(raw) == 0 {
		field = FieldAgentEmail
		raw = ev.Payload.List(FieldAgentEmail)
	}
	if len(raw) == 0 {
		return nil, &ValidationError{Kind: ev.Kind, Field: FieldAgentEmails, Message: "is required"}
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, a := range raw {
		addr, err := parseAddress(a)
		if err != nil {
			return nil, &ValidationError{Kind: ev.Kind, Field: field, Message: "invalid email address"}
		}
		if key := strings.ToLower(addr); !seen[key] {
			seen[key] = true
			out = append(out, addr)
		}
	}
	return out, nil
}

func payloadRecipient(field string) func(*Router, WorkflowEvent) ([]string, error) {
	return func(_ *Router, ev WorkflowEvent) ([]string, error) {
		addr, err := parseAddress(ev.Payload.String(field))
		if err != nil {
			return nil, &ValidationError{Kind: ev.Kind, Field: field, Message: "invalid email address"}
		}
		return []string{addr}, nil
	}
}

func vehicleStatus(validated bool) func(*Router, WorkflowEvent, Variables) {
	return func(r *Router, ev WorkflowEvent, vars Variables) {
		vars[VarValidated] = validated
		vars[VarVehiclesURL] = r.cfg.VehiclesURL
		vars[VarProcessedOn] = r.formatDate(ev.OccurredAt)
	}
}

// payloadValue reads field as a string or, for list fields, a string slice.
// present is false when the value is absent or blank.
func payloadValue(p Payload, field string) (any, bool) {
	if listFields[field] {
		l := p.List(field)
		return l, len(l) > 0
	}
	s := p.String(field)
	return s, s != ""
}

// parseAddress accepts a bare address or a "Name <addr>" form and returns the
// bare address.
func parseAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty address")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}
