package notification

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"maps"
	"slices"
	"strings"
	texttemplate "text/template"
)

// TemplateID names one of the built-in message templates.
type TemplateID string

const (
	TemplateAccountAcceptance TemplateID = "account_acceptance"
	TemplateAccountRejection  TemplateID = "account_rejection"
	TemplateAdminNewRequest   TemplateID = "admin_new_request"
	TemplateVehiclePending    TemplateID = "vehicle_pending"
	TemplateVehicleStatus     TemplateID = "vehicle_status"
	TemplateReportFinalized   TemplateID = "report_finalized"
)

// Variable names produced by the router in addition to payload fields.
const (
	VarAppName            = "appName"
	VarLoginURL           = "loginUrl"
	VarSupportEmail       = "supportEmail"
	VarDashboardURL       = "dashboardUrl"
	VarPendingVehiclesURL = "pendingVehiclesUrl"
	VarVehiclesURL        = "vehiclesUrl"
	VarReportsURL         = "reportsUrl"
	VarTemporaryPassword  = "temporaryPassword"
	VarSubmittedOn        = "submittedOn"
	VarProcessedOn        = "processedOn"
	VarFinalizedOn        = "finalizedOn"
	VarValidated          = "validated"
	VarReportID           = "reportId"
)

// Variables is the value bag handed to a template. Values are strings,
// string slices or booleans.
type Variables map[string]any

// Clone returns a shallow copy of v.
func (v Variables) Clone() Variables {
	return maps.Clone(v)
}

type templateDef struct {
	id       TemplateID
	required []string
	optional []string
}

// templateDefs declares the closed template set. Required keys are checked
// in the listed order.
var templateDefs = []templateDef{
	{
		id:       TemplateAccountAcceptance,
		required: []string{FieldFullName, FieldRole, VarTemporaryPassword, VarLoginURL, VarAppName},
		optional: []string{FieldEmail, VarSupportEmail},
	},
	{
		id:       TemplateAccountRejection,
		required: []string{FieldFullName, FieldRole, FieldReason, VarSupportEmail, VarAppName},
	},
	{
		id:       TemplateAdminNewRequest,
		required: []string{FieldFullName, FieldEmail, FieldRole, FieldRequestID, VarSubmittedOn, VarDashboardURL, VarAppName},
	},
	{
		id:       TemplateVehiclePending,
		required: []string{FieldPlate, VarSubmittedOn, VarPendingVehiclesURL, VarAppName},
		optional: []string{FieldAgentName, FieldVehicleName, FieldConducteurID, FieldAgencyName},
	},
	{
		id:       TemplateVehicleStatus,
		required: []string{FieldPlate, VarValidated, VarProcessedOn, VarVehiclesURL, VarAppName},
		optional: []string{FieldConducteurName, FieldVehicleName, FieldAgencyName, FieldReason},
	},
	{
		id:       TemplateReportFinalized,
		required: []string{FieldPlates, VarReportID, VarFinalizedOn, VarReportsURL, VarAppName},
		optional: []string{FieldLocation, FieldAgencyName},
	},
}

//go:embed templates/*.tmpl
var templateFS embed.FS

const layoutFile = "templates/layout.html.tmpl"

type compiledTemplate struct {
	def     templateDef
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Renderer renders the built-in templates. It is safe for concurrent use.
type Renderer struct {
	templates map[TemplateID]*compiledTemplate
}

// NewRenderer parses every embedded template once.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[TemplateID]*compiledTemplate, len(templateDefs))}
	for _, def := range templateDefs {
		ct, err := compileTemplate(def)
		if err != nil {
			return nil, err
		}
		r.templates[def.id] = ct
	}
	return r, nil
}

func compileTemplate(def templateDef) (*compiledTemplate, error) {
	funcs := map[string]any{"join": strings.Join}
	base := "templates/" + string(def.id)

	subject, err := parseText(base+".subject.tmpl", funcs)
	if err != nil {
		return nil, err
	}
	text, err := parseText(base+".txt.tmpl", funcs)
	if err != nil {
		return nil, err
	}
	html, err := htmltemplate.New(string(def.id)).
		Funcs(funcs).
		Option("missingkey=error").
		ParseFS(templateFS, layoutFile, base+".html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing %s html template: %w", def.id, err)
	}
	return &compiledTemplate{def: def, subject: subject, text: text, html: html}, nil
}

func parseText(name string, funcs map[string]any) (*texttemplate.Template, error) {
	src, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	t, err := texttemplate.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return t, nil
}

// Required returns the variables id needs, in check order.
func (r *Renderer) Required(id TemplateID) ([]string, error) {
	ct, ok := r.templates[id]
	if !ok {
		return nil, &UnknownTemplateError{ID: id}
	}
	return append([]string(nil), ct.def.required...), nil
}

// Render produces the subject, text body and HTML body for id. The message
// is returned only when all three parts rendered; To is left for the caller.
func (r *Renderer) Render(id TemplateID, vars Variables) (RenderedMessage, error) {
	ct, ok := r.templates[id]
	if !ok {
		return RenderedMessage{}, &UnknownTemplateError{ID: id}
	}
	for _, key := range ct.def.required {
		if isBlank(vars[key]) {
			return RenderedMessage{}, &MissingVariableError{Template: id, Key: key}
		}
	}

	data := make(map[string]any, len(ct.def.required)+len(ct.def.optional)+1)
	for _, key := range ct.def.optional {
		data[key] = ""
	}
	for _, key := range slices.Concat(ct.def.required, ct.def.optional) {
		if v, ok := vars[key]; ok && v != nil {
			data[key] = v
		}
	}

	var buf bytes.Buffer
	if err := ct.subject.Execute(&buf, data); err != nil {
		return RenderedMessage{}, fmt.Errorf("rendering %s subject: %w", id, err)
	}
	subject := strings.Join(strings.Fields(buf.String()), " ")
	data["emailSubject"] = subject

	buf.Reset()
	if err := ct.text.Execute(&buf, data); err != nil {
		return RenderedMessage{}, fmt.Errorf("rendering %s text body: %w", id, err)
	}
	text := buf.String()

	buf.Reset()
	if err := ct.html.ExecuteTemplate(&buf, "layout", data); err != nil {
		return RenderedMessage{}, fmt.Errorf("rendering %s html body: %w", id, err)
	}

	return RenderedMessage{
		TemplateID: id,
		Subject:    subject,
		TextBody:   text,
		HTMLBody:   buf.String(),
	}, nil
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		for _, s := range t {
			if strings.TrimSpace(s) != "" {
				return false
			}
		}
		return true
	case bool:
		return false
	default:
		return strings.TrimSpace(fmt.Sprint(t)) == ""
	}
}
