package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/atikulmunna/spindle/internal/model"
	"github.com/charmbracelet/lipgloss"
)

// Renderer writes LogEntry values to an output stream.
type Renderer interface {
	Render(entry model.LogEntry) error
}

// ---------------------------------------------------------------------------
// Text Renderer (colorized terminal output)
// ---------------------------------------------------------------------------

var (
	styleInfo   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))             // green
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))            // yellow
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true) // red bold
	styleClient = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true) // cyan
	styleDetail = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))            // gray
)

// TextRenderer prints access entries with status-based colors.
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer returns a Renderer that writes colorized text to w.
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) Render(entry model.LogEntry) error {
	if entry.Status == 0 {
		// Not an access record; print it untouched.
		_, err := fmt.Fprintln(r.w, entry.Raw)
		return err
	}

	ts := entry.Timestamp.Local().Format("15:04:05")
	status := styleLevel(entry.Level).Render(fmt.Sprintf("%d", entry.Status))
	client := styleClient.Render(fmt.Sprintf("%-15s", entry.Client))

	_, err := fmt.Fprintf(r.w, "%s %s %s %s %s\n", ts, status, client, entry.Target, styleDetail.Render(entry.Message))
	return err
}

func styleLevel(level string) lipgloss.Style {
	switch level {
	case "WARN":
		return styleWarn
	case "ERROR":
		return styleError
	default:
		return styleInfo
	}
}

// ---------------------------------------------------------------------------
// JSON Renderer (structured output for piping)
// ---------------------------------------------------------------------------

// JSONRenderer prints each entry as a single JSON object per line.
type JSONRenderer struct {
	enc *json.Encoder
}

// NewJSONRenderer returns a Renderer that writes JSON lines to w.
func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

func (r *JSONRenderer) Render(entry model.LogEntry) error {
	return r.enc.Encode(entry)
}
