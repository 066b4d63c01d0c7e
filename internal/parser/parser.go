package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/atikulmunna/spindle/internal/accesslog"
	"github.com/atikulmunna/spindle/internal/model"
)

// Parser converts a raw log line into a structured LogEntry.
type Parser interface {
	Parse(raw string, source string) model.LogEntry
}

// ---------------------------------------------------------------------------
// Access log parser
// ---------------------------------------------------------------------------

// AccessParser handles lines written by accesslog.Logger.
// Format: [timestamp] client - target : status detail
type AccessParser struct {
	re *regexp.Regexp
}

func NewAccessParser() *AccessParser {
	return &AccessParser{
		re: regexp.MustCompile(`^\[([^\]]+)\] (\S+) - (.*) : (\d{3})(?: (.*))?$`),
	}
}

func (p *AccessParser) Parse(raw string, source string) model.LogEntry {
	matches := p.re.FindStringSubmatch(raw)
	if matches == nil {
		return keywordParse(raw, source)
	}

	entry := base(raw, source)
	if t, err := time.Parse(accesslog.TimeLayout, matches[1]); err == nil {
		entry.Timestamp = t
	}

	entry.Client = matches[2]
	entry.Target = matches[3]
	entry.Status, _ = strconv.Atoi(matches[4])
	entry.Level = statusToLevel(matches[4])
	entry.Message = matches[5]

	return entry
}

// statusToLevel maps HTTP status codes to log severity levels.
func statusToLevel(status string) string {
	if len(status) == 0 {
		return "INFO"
	}
	switch status[0] {
	case '5':
		return "ERROR"
	case '4':
		return "WARN"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// base returns a LogEntry with defaults populated.
func base(raw, source string) model.LogEntry {
	return model.LogEntry{
		Timestamp: time.Now(),
		Source:    source,
		Raw:       raw,
		Level:     "INFO",
		Message:   raw,
	}
}

// keywordParse detects severity from keywords in lines that are not
// access records, e.g. hand-edited or foreign log files.
func keywordParse(line, source string) model.LogEntry {
	entry := base(line, source)
	upper := strings.ToUpper(line)

	switch {
	case strings.Contains(upper, "ERROR"):
		entry.Level = "ERROR"
	case strings.Contains(upper, "WARN"):
		entry.Level = "WARN"
	}

	return entry
}

// NormalizeLevel normalizes common level strings to the set used by entries.
func NormalizeLevel(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR", "ERR":
		return "ERROR"
	case "WARN", "WARNING":
		return "WARN"
	default:
		return "INFO"
	}
}
