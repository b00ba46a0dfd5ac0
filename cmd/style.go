package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// printer writes styled command output. Colors are dropped when w is not a
// terminal or NO_COLOR is set.
type printer struct {
	w     io.Writer
	ok    lipgloss.Style
	fail  lipgloss.Style
	label lipgloss.Style
	dim   lipgloss.Style
	title lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	if termenv.EnvNoColor() {
		r.SetColorProfile(termenv.Ascii)
	}
	return &printer{
		w:     w,
		ok:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		fail:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		label: r.NewStyle().Foreground(lipgloss.Color("244")).Width(16),
		dim:   r.NewStyle().Faint(true),
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
	}
}

func (p *printer) field(name, value string) {
	fmt.Fprintf(p.w, "  %s%s\n", p.label.Render(name), value)
}

// printBanner writes the startup banner. It is the only output visible in
// the terminal during normal operation; all structured logs go to the log
// file instead.
func printBanner(w io.Writer, version, serverURL, logFile string) {
	p := newPrinter(w)
	fmt.Fprintln(p.w, p.title.Render("notifyd "+version))
	p.field("Listening", serverURL)
	p.field("Logs", p.dim.Render(logFile))
	fmt.Fprintln(p.w)
}
