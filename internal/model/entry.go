package model

import "time"

// RawLine is a single unparsed access log line and the file it came from.
type RawLine struct {
	Text   string
	Source string
}

// LogEntry represents a single parsed access log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // originating log file
	Raw       string    `json:"raw"`    // original line text
	Level     string    `json:"level"`  // INFO, WARN, ERROR
	Client    string    `json:"client,omitempty"`
	Target    string    `json:"target,omitempty"`
	Status    int       `json:"status,omitempty"`
	Message   string    `json:"message"` // outcome detail
}
