package tailer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/atikulmunna/spindle/internal/model"
	"github.com/atikulmunna/spindle/internal/watcher"
	"github.com/fsnotify/fsnotify"
)

// Tailer reads newly appended lines from the log files a Watcher reports
// and emits them as RawLine values.
type Tailer struct {
	mu      sync.Mutex
	files   map[string]*trackedFile
	offsets map[string]int64 // startup positions overriding the file end
	out     chan model.RawLine
	events  <-chan watcher.Event
	watch   *watcher.Watcher
}

type trackedFile struct {
	file   *os.File
	reader *bufio.Reader
	buf    string // partial line waiting for its newline
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithOffset makes the Tailer follow path from offset rather than from its
// end. Use it with the offset returned by a history read so no line is
// printed twice or skipped.
func WithOffset(path string, offset int64) Option {
	return func(t *Tailer) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		t.offsets[path] = offset
	}
}

// New creates a Tailer that reads events from the given Watcher.
func New(w *watcher.Watcher, opts ...Option) *Tailer {
	t := &Tailer{
		files:   make(map[string]*trackedFile),
		offsets: make(map[string]int64),
		out:     make(chan model.RawLine, 512),
		events:  w.Events,
		watch:   w,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Lines returns the channel where raw log lines are sent.
func (t *Tailer) Lines() <-chan model.RawLine {
	return t.out
}

// Start processes watcher events until ctx is cancelled or the watcher
// stops. Files present at startup are followed from their WithOffset
// position, or else from their current end; files created later are read
// from the beginning.
func (t *Tailer) Start(ctx context.Context) {
	defer close(t.out)
	defer t.closeAll()

	for _, p := range t.watch.Paths() {
		if off, ok := t.offsets[p]; ok {
			t.openFile(p, off, io.SeekStart)
			t.readNewLines(ctx, p)
			continue
		}
		t.openFile(p, 0, io.SeekEnd)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-t.events:
			if !ok {
				return
			}
			t.handleEvent(ctx, ev)
		}
	}
}

func (t *Tailer) handleEvent(ctx context.Context, ev watcher.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		// A new day's log file.
		t.openFile(ev.Path, 0, io.SeekStart)
		t.readNewLines(ctx, ev.Path)

	case ev.Op&fsnotify.Write != 0:
		t.openFile(ev.Path, 0, io.SeekStart)
		t.readNewLines(ctx, ev.Path)

	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		t.closeFile(ev.Path)
	}
}

// openFile starts tracking path at offset relative to whence; already
// tracked files are left alone.
func (t *Tailer) openFile(path string, offset int64, whence int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.files[path]; exists {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Printf("cannot open %s: %v", path, err)
		return
	}
	if _, err := f.Seek(offset, whence); err != nil {
		log.Printf("cannot seek %s: %v", path, err)
		f.Close()
		return
	}

	t.files[path] = &trackedFile{file: f, reader: bufio.NewReader(f)}
}

// readNewLines emits every complete line appended since the last read.
func (t *Tailer) readNewLines(ctx context.Context, path string) {
	t.mu.Lock()
	tf, ok := t.files[path]
	t.mu.Unlock()
	if !ok {
		return
	}

	for {
		chunk, err := tf.reader.ReadString('\n')
		if err != nil {
			// Keep the unterminated tail until the rest of the line arrives.
			tf.buf += chunk
			if !errors.Is(err, io.EOF) {
				log.Printf("read error on %s: %v", path, err)
			}
			return
		}

		line := tf.buf + chunk[:len(chunk)-1]
		tf.buf = ""
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		select {
		case t.out <- model.RawLine{Text: line, Source: path}:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tailer) closeFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tf, ok := t.files[path]; ok {
		tf.file.Close()
		delete(t.files, path)
	}
}

func (t *Tailer) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, tf := range t.files {
		tf.file.Close()
		delete(t.files, path)
	}
}
