// Package console renders session snapshots and transcript history for a
// terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/memory"
)

// Theme defines the color scheme.
type Theme struct {
	Primary   lipgloss.Color
	User      lipgloss.Color
	Assistant lipgloss.Color
	Error     lipgloss.Color
	Dim       lipgloss.Color
}

// DefaultTheme matches the brand teal with neutral transcript colors.
var DefaultTheme = Theme{
	Primary:   lipgloss.Color("#00a3ad"),
	User:      lipgloss.Color("#58a6ff"),
	Assistant: lipgloss.Color("#3fb950"),
	Error:     lipgloss.Color("#f85149"),
	Dim:       lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Status    lipgloss.Style
	Error     lipgloss.Style
	View      lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Help      lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Status:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(t.Error),
		View:      lipgloss.NewStyle().Foreground(t.Dim),
		User:      lipgloss.NewStyle().Bold(true).Foreground(t.User),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(t.Assistant),
		Help:      lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// RenderRecord renders one completed exchange as two labelled lines. An empty
// side is omitted.
func RenderRecord(st Styles, r memory.TranscriptionRecord) string {
	var lines []string
	if r.UserInput != "" {
		lines = append(lines, st.User.Render("You:")+" "+r.UserInput)
	}
	if r.ModelOutput != "" {
		lines = append(lines, st.Assistant.Render("Assistant:")+" "+r.ModelOutput)
	}
	return strings.Join(lines, "\n")
}

// RenderHistory renders records oldest first, separated by blank lines.
func RenderHistory(st Styles, records []memory.TranscriptionRecord) string {
	if len(records) == 0 {
		return st.Help.Render("No conversation history.")
	}
	parts := make([]string, 0, len(records))
	for _, r := range records {
		body := RenderRecord(st, r)
		if !r.CreatedAt.IsZero() {
			body = st.Help.Render(r.CreatedAt.Local().Format(time.DateTime)) + "\n" + body
		}
		parts = append(parts, body)
	}
	return strings.Join(parts, "\n\n")
}

// RenderStatus renders the status line with the presentation state.
func RenderStatus(st Styles, s session.Snapshot) string {
	style := st.Status
	if strings.HasPrefix(s.Status, "Error:") {
		style = st.Error
	}
	return st.View.Render("["+s.View.String()+"]") + " " + style.Render(s.Status)
}

// Printer writes the changes between successive snapshots to a terminal as
// an append-only log: status changes and newly completed exchanges.
type Printer struct {
	w      io.Writer
	styles Styles

	started bool
	status  string
	view    session.View
	history int
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, st Styles) *Printer {
	return &Printer{w: w, styles: st}
}

// Update prints whatever changed since the previous call.
func (p *Printer) Update(s session.Snapshot) error {
	var b strings.Builder

	switch {
	case !p.started:
		p.history = len(s.History)
	case len(s.History) < p.history:
		b.WriteString(p.styles.Help.Render("History cleared.") + "\n")
		p.history = len(s.History)
	}
	for _, r := range s.History[p.history:] {
		b.WriteString(RenderRecord(p.styles, r) + "\n")
	}
	p.history = len(s.History)

	if !p.started || s.Status != p.status || s.View != p.view {
		b.WriteString(RenderStatus(p.styles, s) + "\n")
		p.status, p.view = s.Status, s.View
	}
	p.started = true

	if b.Len() == 0 {
		return nil
	}
	_, err := fmt.Fprint(p.w, b.String())
	return err
}
