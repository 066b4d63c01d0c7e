package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atikulmunna/spindle/internal/accesslog"
	"github.com/atikulmunna/spindle/internal/aggregator"
	"github.com/atikulmunna/spindle/internal/control"
	"github.com/atikulmunna/spindle/internal/httpd"
	"github.com/atikulmunna/spindle/internal/hub"
	"github.com/atikulmunna/spindle/internal/model"
	"github.com/atikulmunna/spindle/internal/parser"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory over HTTP",
	Long: `Serve files under the document root on the given port. Directories
without a trailing slash are redirected; directories with one get an HTML
listing. Only GET is supported.

Examples:
  spindle serve --root ./webroot --port 8000
  spindle serve --root /srv/www --logs /var/log/spindle --control 127.0.0.1:9090
  spindle serve --exclude '.*' --exclude '*.bak'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringP("root", "r", "./webroot", "document root to serve")
	f.IntP("port", "p", 8000, "port to listen on")
	f.String("control", "", "address for the control API (disabled when empty)")
	f.Duration("read-timeout", 0, "deadline for reading the request line (0 = none)")
	f.Duration("write-timeout", 0, "deadline for writing the response (0 = none)")
	f.Int("max-conns", 0, "maximum concurrent connections (0 = unbounded)")
	f.StringSlice("exclude", nil, "glob patterns hidden from directory listings")

	for _, name := range []string{"root", "port", "control", "read-timeout", "write-timeout", "max-conns", "exclude"} {
		_ = viper.BindPFlag(name, f.Lookup(name))
	}
}

// configFromViper assembles the server config from flags, env and file.
func configFromViper() httpd.Config {
	return httpd.Config{
		DocumentRoot: viper.GetString("root"),
		LogDirectory: viper.GetString("logs"),
		Port:         viper.GetInt("port"),
		ReadTimeout:  viper.GetDuration("read-timeout"),
		WriteTimeout: viper.GetDuration("write-timeout"),
		MaxConns:     viper.GetInt("max-conns"),
		Exclude:      viper.GetStringSlice("exclude"),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// --- Set up context with graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := configFromViper()

	// --- Access log pipeline: logger sink -> hub -> aggregator / websocket ---
	lines := make(chan model.RawLine, 512)
	h := hub.New(lines, parser.NewAccessParser())
	agg := aggregator.New(h.Subscribe(), h.Dropped)

	pipeCtx, cancelPipe := context.WithCancel(context.Background())
	defer cancelPipe()
	go h.Start(pipeCtx)
	go agg.Start(pipeCtx)

	// --- File server ---
	ctrl := httpd.NewController(accesslog.WithSink(lines))
	if err := ctrl.Start(cfg); err != nil {
		var bindErr *httpd.BindError
		if errors.As(err, &bindErr) {
			return fmt.Errorf("cannot listen on port %d: %w", cfg.Port, bindErr.Err)
		}
		return err
	}
	fmt.Fprintf(os.Stderr, "🧵 Spindle serving %s on port %d (logs: %s)\n", ctrl.Server().Root(), cfg.Port, cfg.LogDirectory)

	// --- Optional control API ---
	var api *control.Server
	if addr := viper.GetString("control"); addr != "" {
		api = control.New(ctrl, cfg, h, agg, addr)
		go func() {
			if err := api.Start(); err != nil {
				log.Printf("control: %v", err)
				stop()
			}
		}()
		fmt.Fprintf(os.Stderr, "   control API on %s\n", addr)
	}

	<-ctx.Done()
	// Restore default signal handling so a second Ctrl-C exits at once.
	stop()
	fmt.Fprintln(os.Stderr, "\n🧵 Spindle shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if api != nil {
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("control: shutdown: %v", err)
		}
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.Printf("httpd: shutdown: %v", err)
	}
	return nil
}
