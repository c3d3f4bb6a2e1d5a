//go:build linux

// Package cmd holds the framebuf subcommands.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/framebuf/internal/logging"
	"github.com/smazurov/framebuf/internal/metrics/exporters"
	"github.com/smazurov/framebuf/pkg/shmframe"
	"github.com/spf13/cobra"
)

// commonFlags are shared by every block subcommand.
type commonFlags struct {
	dir      string
	logLevel string
	logJSON  bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "dir", shmframe.DefaultDir, "Directory holding shared-memory segments")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.logJSON, "log-json", false, "Log in JSON format")
}

// logger initializes logging for a subcommand and returns its module logger.
func (f *commonFlags) logger(module string) *slog.Logger {
	cfg := logging.Config{Level: f.logLevel, Format: "text"}
	if f.logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
	return logging.GetLogger(module)
}

func (f *commonFlags) blockOptions(logger *slog.Logger, extra ...shmframe.Option) []shmframe.Option {
	opts := []shmframe.Option{shmframe.WithDir(f.dir), shmframe.WithLogger(logger)}
	return append(opts, extra...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveMetrics exposes /metrics on addr until ctx is done. An empty addr
// disables it.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", exporters.HTTPHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
