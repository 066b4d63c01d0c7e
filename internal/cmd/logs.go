package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atikulmunna/spindle/internal/accesslog"
	"github.com/atikulmunna/spindle/internal/model"
	"github.com/atikulmunna/spindle/internal/output"
	"github.com/atikulmunna/spindle/internal/parser"
	"github.com/atikulmunna/spindle/internal/tailer"
	"github.com/atikulmunna/spindle/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	logsDate    string
	logsDays    bool
	logsFollow  bool
	outputFmt   string
	levelFilter string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the access log",
	Long: `Print the access log for today (or --date), list the days that have a
log, or follow new entries as they are written.

Examples:
  spindle logs
  spindle logs --date 2026-02-17 --level warn,error
  spindle logs --follow --output json
  spindle logs --days`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	f := logsCmd.Flags()
	f.StringVarP(&logsDate, "date", "d", "", "day to show, yyyy-mm-dd (default: today)")
	f.BoolVar(&logsDays, "days", false, "list the days that have a log file")
	f.BoolVarP(&logsFollow, "follow", "f", false, "keep printing new entries as they arrive")
	f.StringVarP(&outputFmt, "output", "o", "text", "output format: text, json")
	f.StringVarP(&levelFilter, "level", "l", "", "filter by severity (comma-separated: info,warn,error)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	logs := accesslog.New(viper.GetString("logs"))
	out := cmd.OutOrStdout()

	if logsDays {
		for _, d := range logs.Days() {
			fmt.Fprintln(out, d)
		}
		return nil
	}

	// --- Choose renderer ---
	var renderer output.Renderer
	switch strings.ToLower(outputFmt) {
	case "json":
		renderer = output.NewJSONRenderer(out)
	case "text":
		renderer = output.NewTextRenderer(out)
	default:
		return fmt.Errorf("unknown output format %q", outputFmt)
	}

	levelSet := parseLevels(levelFilter)
	p := parser.NewAccessParser()
	emit := func(raw model.RawLine) {
		entry := p.Parse(raw.Text, raw.Source)
		if !shouldShow(entry, levelSet) {
			return
		}
		if err := renderer.Render(entry); err != nil {
			log.Printf("render error: %v", err)
		}
	}

	day := time.Now()
	if logsDate != "" {
		var err error
		day, err = time.ParseInLocation(accesslog.DayLayout, logsDate, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --date %q: want yyyy-mm-dd", logsDate)
		}
	}

	path := logs.Path(day)
	if !logsFollow {
		for _, line := range logs.ReadDay(day) {
			emit(model.RawLine{Text: line, Source: path})
		}
		return nil
	}

	// --- Watch before reading history, then tail from where history ended ---
	w, err := watcher.New(logs.Dir(), "*.log")
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	history, offset := logs.History(day)
	t := tailer.New(w, tailer.WithOffset(path, offset))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go w.Start(ctx)
	go t.Start(ctx)

	for _, line := range history {
		emit(model.RawLine{Text: line, Source: path})
	}

	fmt.Fprintf(os.Stderr, "🧵 Following %s (Ctrl-C to stop)\n", logs.Dir())
	for raw := range t.Lines() {
		emit(raw)
	}
	return nil
}

func parseLevels(filter string) map[string]bool {
	levelSet := make(map[string]bool)
	if filter == "" {
		return levelSet
	}
	for _, l := range strings.Split(filter, ",") {
		levelSet[parser.NormalizeLevel(l)] = true
	}
	return levelSet
}

// shouldShow returns true if the entry passes the level filter.
func shouldShow(entry model.LogEntry, levelSet map[string]bool) bool {
	if len(levelSet) == 0 {
		return true // no filter = show all
	}
	return levelSet[entry.Level]
}
