package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/atikulmunna/spindle/internal/model"
	"github.com/atikulmunna/spindle/internal/parser"
)

const subscriberBuffer = 1024

// Hub receives raw access log lines, parses them, and fans the entries out
// to every subscriber.
type Hub struct {
	parser      parser.Parser
	input       <-chan model.RawLine
	mu          sync.RWMutex
	subscribers map[chan model.LogEntry]struct{}
	closed      bool
	dropped     atomic.Int64
}

// New creates a Hub that reads from input and parses with p.
func New(input <-chan model.RawLine, p parser.Parser) *Hub {
	return &Hub{
		parser:      p,
		input:       input,
		subscribers: make(map[chan model.LogEntry]struct{}),
	}
}

// Subscribe returns a buffered channel that receives every parsed entry
// until Unsubscribe is called or the hub stops.
func (h *Hub) Subscribe() <-chan model.LogEntry {
	ch := make(chan model.LogEntry, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe detaches and closes a channel returned by Subscribe.
func (h *Hub) Unsubscribe(sub <-chan model.LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		if ch == sub {
			delete(h.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Dropped returns the total number of entries dropped due to slow consumers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Start reads, parses and broadcasts until ctx is cancelled or the input
// channel is closed. Subscriber channels are closed on return.
func (h *Hub) Start(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-h.input:
			if !ok {
				return
			}
			h.broadcast(h.parser.Parse(raw.Text, raw.Source))
		}
	}
}

// broadcast sends an entry to all subscribers, dropping it for any whose
// buffer is full.
func (h *Hub) broadcast(entry model.LogEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- entry:
		default:
			n := h.dropped.Add(1)
			if n == 1 || n%1000 == 0 {
				log.Printf("hub: dropped entry for slow consumer (total dropped: %d)", n)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
	h.closed = true
}
