package aggregator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/atikulmunna/spindle/internal/accesslog"
	"github.com/atikulmunna/spindle/internal/model"
	"github.com/dustin/go-humanize"
)

// window is the span requests-per-second is averaged over.
const window = 5 * time.Second

// Stats holds a point-in-time snapshot of aggregated request metrics.
type Stats struct {
	Uptime        string           `json:"uptime"`
	TotalRequests int64            `json:"total_requests"`
	RPS           float64          `json:"rps"`
	StatusCounts  map[string]int64 `json:"status_counts"`
	LevelCounts   map[string]int64 `json:"level_counts"`
	BytesServed   uint64           `json:"bytes_served"`
	BytesHuman    string           `json:"bytes_served_human"`
	DroppedLogs   int64            `json:"dropped_logs"`
}

// Aggregator subscribes to the Hub and computes time-windowed metrics.
type Aggregator struct {
	mu            sync.RWMutex
	startTime     time.Time
	totalRequests int64
	statusCounts  map[string]int64
	levelCounts   map[string]int64
	bytesServed   uint64
	window        []time.Time // arrival times for RPS calculation
	dropped       func() int64
	entries       <-chan model.LogEntry
}

// New creates an Aggregator that reads from a Hub subscriber channel.
// droppedFn reports the Hub's live drop count.
func New(entries <-chan model.LogEntry, droppedFn func() int64) *Aggregator {
	return &Aggregator{
		startTime:    time.Now(),
		statusCounts: make(map[string]int64),
		levelCounts:  make(map[string]int64),
		dropped:      droppedFn,
		entries:      entries,
	}
}

// Snapshot returns the current metrics.
func (a *Aggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	statuses := make(map[string]int64, len(a.statusCounts))
	for k, v := range a.statusCounts {
		statuses[k] = v
	}
	levels := make(map[string]int64, len(a.levelCounts))
	for k, v := range a.levelCounts {
		levels[k] = v
	}

	cutoff := time.Now().Add(-window)
	var recent int
	for _, t := range a.window {
		if t.After(cutoff) {
			recent++
		}
	}

	return Stats{
		Uptime:        time.Since(a.startTime).Truncate(time.Second).String(),
		TotalRequests: a.totalRequests,
		RPS:           float64(recent) / window.Seconds(),
		StatusCounts:  statuses,
		LevelCounts:   levels,
		BytesServed:   a.bytesServed,
		BytesHuman:    humanize.Bytes(a.bytesServed),
		DroppedLogs:   a.dropped(),
	}
}

// Start consumes entries and updates metrics until ctx is cancelled or the
// entry channel closes.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-a.entries:
			if !ok {
				return
			}
			a.record(entry)
		case <-ticker.C:
			a.prune()
		}
	}
}

func (a *Aggregator) record(entry model.LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalRequests++
	a.levelCounts[entry.Level]++
	if entry.Status != 0 {
		a.statusCounts[strconv.Itoa(entry.Status)]++
	}
	if entry.Status == 200 {
		if n, ok := accesslog.ServedBytes(entry.Message); ok {
			a.bytesServed += n
		}
	}
	a.window = append(a.window, time.Now())
}

// prune removes arrival times older than the window.
func (a *Aggregator) prune() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-window)
	i := 0
	for _, t := range a.window {
		if t.After(cutoff) {
			a.window[i] = t
			i++
		}
	}
	a.window = a.window[:i]
}
