package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/atikulmunna/spindle/internal/model"
)

func TestJSONRenderer(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewJSONRenderer(&buf)

	entry := model.LogEntry{
		Timestamp: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC),
		Source:    "/var/log/spindle/2026-02-17.log",
		Raw:       "[2026-02-17T12:00:00Z] 10.0.0.1 - /x : 500 disk error",
		Level:     "ERROR",
		Client:    "10.0.0.1",
		Target:    "/x",
		Status:    500,
		Message:   "disk error",
	}

	if err := renderer.Render(entry); err != nil {
		t.Fatal(err)
	}

	var got model.LogEntry
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, buf.String())
	}

	if got.Status != 500 || got.Level != "ERROR" {
		t.Errorf("expected 500/ERROR, got %d/%s", got.Status, got.Level)
	}
	if got.Target != "/x" || got.Client != "10.0.0.1" {
		t.Errorf("unexpected target/client %q %q", got.Target, got.Client)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("expected exactly one line, got %q", buf.String())
	}
}

func TestTextRenderer(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTextRenderer(&buf)

	err := renderer.Render(model.LogEntry{
		Timestamp: time.Now(),
		Level:     "WARN",
		Client:    "127.0.0.1",
		Target:    "/missing",
		Status:    404,
		Message:   "Not Found",
	})
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"404", "127.0.0.1", "/missing", "Not Found"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestTextRendererRawLine(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTextRenderer(&buf).Render(model.LogEntry{Raw: "free-form text"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "free-form text\n" {
		t.Errorf("expected raw passthrough, got %q", buf.String())
	}
}
