package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Event represents a change to a matching file in the watched directory.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes to files in one directory whose base names match
// a glob pattern. Watching the directory rather than single files picks up
// log files created after startup, such as the next day's access log.
type Watcher struct {
	fsw     *fsnotify.Watcher
	Events  chan Event
	dir     string
	pattern string
}

// New creates a Watcher for files in dir matching pattern (e.g. "*.log").
func New(dir, pattern string) (*Watcher, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}

	return &Watcher{
		fsw:     fsw,
		Events:  make(chan Event, 256),
		dir:     abs,
		pattern: pattern,
	}, nil
}

// Dir returns the absolute watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start forwards matching events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	defer w.fsw.Close()
	defer close(w.Events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.matches(ev.Name) {
				continue
			}
			switch {
			case ev.Op&fsnotify.Write != 0,
				ev.Op&fsnotify.Create != 0,
				ev.Op&fsnotify.Remove != 0,
				ev.Op&fsnotify.Rename != 0:
				select {
				case w.Events <- Event{Path: ev.Name, Op: ev.Op}:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)
		}
	}
}

// Paths returns the matching files that exist right now, sorted.
func (w *Watcher) Paths() []string {
	matches, err := doublestar.Glob(os.DirFS(w.dir), w.pattern, doublestar.WithFilesOnly())
	if err != nil {
		log.Printf("warning: failed to expand pattern %q: %v", w.pattern, err)
		return nil
	}
	sort.Strings(matches)

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(w.dir, filepath.FromSlash(m)))
	}
	return paths
}

func (w *Watcher) matches(path string) bool {
	ok, _ := doublestar.Match(w.pattern, filepath.Base(path))
	return ok
}
