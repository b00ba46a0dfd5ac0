package notification

import (
	"fmt"
	"strings"
	"time"
)

// EventKind identifies the workflow transition an event describes.
type EventKind string

const (
	KindAccountApproved      EventKind = "account.approved"
	KindAccountRejected      EventKind = "account.rejected"
	KindAdminReviewRequested EventKind = "admin.review_requested"
	KindVehicleSubmitted     EventKind = "vehicle.submitted"
	KindVehicleValidated     EventKind = "vehicle.validated"
	KindVehicleRejected      EventKind = "vehicle.rejected"
	KindReportFinalized      EventKind = "report.finalized"
)

// Kinds lists every supported event kind.
func Kinds() []EventKind {
	return []EventKind{
		KindAccountApproved,
		KindAccountRejected,
		KindAdminReviewRequested,
		KindVehicleSubmitted,
		KindVehicleValidated,
		KindVehicleRejected,
		KindReportFinalized,
	}
}

// Valid reports whether k is a supported kind.
func (k EventKind) Valid() bool {
	_, ok := routes[k]
	return ok
}

// ParseKind converts s to an EventKind, rejecting unknown values.
func ParseKind(s string) (EventKind, error) {
	k := EventKind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", &ValidationError{Field: "kind", Message: fmt.Sprintf("unsupported event kind %q", s)}
	}
	return k, nil
}

// Payload field names understood by the router.
const (
	FieldEmail           = "email"
	FieldFullName        = "fullName"
	FieldRole            = "role"
	FieldReason          = "reason"
	FieldRequestID       = "requestId"
	FieldPlate           = "plate"
	FieldPlates          = "plates"
	FieldVehicleName     = "vehicleName"
	FieldConducteurEmail = "conducteurEmail"
	FieldConducteurName  = "conducteurName"
	FieldConducteurID    = "conducteurId"
	FieldAgencyName      = "agencyName"
	FieldAgentEmail      = "agentEmail"
	FieldAgentEmails     = "agentEmails"
	FieldAgentName       = "agentName"
	FieldLocation        = "location"
)

// WorkflowEvent is a domain event emitted by the account and vehicle
// workflows.
type WorkflowEvent struct {
	ID         string    `json:"id,omitempty"`
	Kind       EventKind `json:"kind"`
	SubjectID  string    `json:"subjectId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    Payload   `json:"payload"`
}

// Payload carries the kind-specific fields of an event. Values arrive from
// JSON, YAML or CLI flags, so accessors are lenient about their Go types.
type Payload map[string]any

// String returns the trimmed string value of key, or "" when absent.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// List returns the non-blank entries of key. It accepts []string, []any and
// comma-separated strings.
func (p Payload) List(key string) []string {
	var raw []string
	switch t := p[key].(type) {
	case nil:
		return nil
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			if item != nil {
				raw = append(raw, fmt.Sprint(item))
			}
		}
	case string:
		raw = strings.Split(t, ",")
	default:
		raw = []string{fmt.Sprint(t)}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
