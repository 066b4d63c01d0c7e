// Package accesslog appends one line per handled request to a file named
// after the current calendar date, and reads those files back.
package accesslog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atikulmunna/spindle/internal/model"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
)

// DayLayout is the date format used for log file names.
const DayLayout = "2006-01-02"

// TimeLayout is the timestamp format written at the start of each line.
const TimeLayout = time.RFC3339

// Record is the structured outcome of one handled request.
type Record struct {
	Target string
	Client string
	Status int
	Detail string
}

// ServedDetail is the detail recorded for a 200 response carrying n body
// bytes, e.g. "OK 1234567 (1.2 MB)". The exact count comes first.
func ServedDetail(n int) string {
	return fmt.Sprintf("OK %d (%s)", n, humanize.Bytes(uint64(n)))
}

// ServedBytes returns the exact body size from a ServedDetail string.
func ServedBytes(detail string) (uint64, bool) {
	rest, ok := strings.CutPrefix(detail, "OK ")
	if !ok {
		return 0, false
	}
	field, _, _ := strings.Cut(rest, " ")
	n, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Logger appends records to <dir>/<yyyy-MM-dd>.log.
type Logger struct {
	dir  string
	now  func() time.Time
	sink chan<- model.RawLine

	// mu serializes appends so concurrent handlers never interleave
	// partial lines.
	mu sync.Mutex
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithSink makes the Logger offer every appended line to ch. Sends never
// block; lines are dropped when ch is full.
func WithSink(ch chan<- model.RawLine) Option {
	return func(l *Logger) { l.sink = ch }
}

// New returns a Logger writing under dir. Nothing is created on disk until
// the first Record.
func New(dir string, opts ...Option) *Logger {
	l := &Logger{dir: dir, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// Path returns the log file path for the calendar date of day.
func (l *Logger) Path(day time.Time) string {
	return filepath.Join(l.dir, day.Format(DayLayout)+".log")
}

// Format renders r as a single log line without the trailing newline.
func Format(ts time.Time, r Record) string {
	client := r.Client
	if client == "" {
		client = "-"
	}
	outcome := fmt.Sprintf("%d %s", r.Status, r.Detail)
	if r.Detail == "" {
		outcome = fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status))
	}
	// Keep one physical line per entry.
	target := strings.NewReplacer("\r", "", "\n", "").Replace(r.Target)
	outcome = strings.NewReplacer("\r", " ", "\n", " ").Replace(outcome)
	return fmt.Sprintf("[%s] %s - %s : %s", ts.Format(TimeLayout), client, target, outcome)
}

// Record appends r to today's log file. Failures are logged and swallowed so
// that a broken log never affects the response that triggered it.
func (l *Logger) Record(r Record) {
	now := l.now()
	line := Format(now, r)
	path := l.Path(now)

	if err := l.append(path, line); err != nil {
		log.Printf("accesslog: %v", err)
		return
	}

	if l.sink != nil {
		select {
		case l.sink <- model.RawLine{Text: line, Source: path}:
		default:
		}
	}
}

func (l *Logger) append(path, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	// One write per line; O_APPEND keeps it atomic against other processes.
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append log line: %w", err)
	}
	return f.Close()
}

// ReadToday returns the lines of today's log file, or an empty slice if it
// does not exist or cannot be read.
func (l *Logger) ReadToday() []string {
	return l.ReadDay(l.now())
}

// ReadDay returns the lines logged on the calendar date of day.
func (l *Logger) ReadDay(day time.Time) []string {
	lines := []string{}

	f, err := os.Open(l.Path(day))
	if err != nil {
		return lines
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Printf("accesslog: read %s: %v", f.Name(), err)
	}
	return lines
}

// History returns the complete lines logged on the calendar date of day and
// the byte offset just past the last of them, where a follower should pick
// up. An unterminated tail is left for the follower.
func (l *Logger) History(day time.Time) ([]string, int64) {
	lines := []string{}

	f, err := os.Open(l.Path(day))
	if err != nil {
		return lines, 0
	}
	defer f.Close()

	var offset int64
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("accesslog: read %s: %v", f.Name(), err)
			}
			return lines, offset
		}
		offset += int64(len(line))
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
}

// Days lists the dates (yyyy-MM-dd) that have a log file, oldest first.
func (l *Logger) Days() []string {
	matches, err := doublestar.Glob(os.DirFS(l.dir), "*.log", doublestar.WithFilesOnly())
	if err != nil {
		return []string{}
	}

	days := make([]string, 0, len(matches))
	for _, m := range matches {
		day := strings.TrimSuffix(m, ".log")
		if _, err := time.Parse(DayLayout, day); err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}
