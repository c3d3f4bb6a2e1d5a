//go:build linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/framebuf/cmd"
	"github.com/smazurov/framebuf/internal/api"
	"github.com/smazurov/framebuf/internal/config"
	"github.com/smazurov/framebuf/internal/events"
	"github.com/smazurov/framebuf/internal/logging"
	"github.com/smazurov/framebuf/internal/metrics/exporters"
	"github.com/smazurov/framebuf/internal/monitor"
	"github.com/smazurov/framebuf/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Channel settings
	ChannelsFile string `help:"Channel definitions file" default:"channels.toml" toml:"channels.config_file" env:"CHANNELS_CONFIG_FILE"`

	// Monitor settings
	MonitorSegmentDir string `help:"Directory holding shared-memory segments" default:"/dev/shm" toml:"monitor.segment_dir" env:"MONITOR_SEGMENT_DIR"`
	MonitorInterval   string `help:"Block polling interval" default:"1s" toml:"monitor.interval" env:"MONITOR_INTERVAL"`
	MonitorDiscover   bool   `help:"Also monitor blocks that are not in the channels file" default:"true" toml:"monitor.discover" env:"MONITOR_DISCOVER"`

	// Metrics settings
	MetricsPrometheusEnabled bool   `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSEEnabled        bool   `help:"Publish channel stats on the event stream" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`
	MetricsSSEInterval       string `help:"Channel stats publish interval" default:"1s" toml:"metrics.sse_interval" env:"METRICS_SSE_INTERVAL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`
	CORSOrigin   string `help:"Allowed CORS origin" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`

	// Logging settings
	LoggingLevel       string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat      string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingHistorySize int    `help:"Log entries kept for /api/logs" default:"1000" toml:"logging.history_size" env:"LOGGING_HISTORY_SIZE"`
	LoggingMonitor     string `help:"Monitor logging level" default:"info" toml:"logging.monitor" env:"LOGGING_MONITOR"`
	LoggingAPI         string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP        string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingConfig      string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:       opts.LoggingLevel,
			Format:      opts.LoggingFormat,
			HistorySize: opts.LoggingHistorySize,
			Modules: map[string]string{
				"monitor": opts.LoggingMonitor,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
				"config":  opts.LoggingConfig,
			},
		})
		logging.SetSink(api.LogPublisher(eventBus))

		logger := logging.GetLogger("main")

		channels, err := config.LoadChannels(opts.ChannelsFile)
		if err != nil {
			logger.Warn("Failed to load channels, starting with none", "file", opts.ChannelsFile, "error", err)
		}

		mon := monitor.New(monitor.Options{
			Dir:      opts.MonitorSegmentDir,
			Interval: parseDuration(opts.MonitorInterval, monitor.DefaultInterval),
			Discover: opts.MonitorDiscover,
			Logger:   logging.GetLogger("monitor"),
			Bus:      eventBus,
		})
		mon.SetChannels(channels)

		watcher := config.NewConfigWatcher(opts.ChannelsFile, config.LoadChannels, logging.GetLogger("config"))
		watcher.OnReload(mon.SetChannels)

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
			sseExporter.SetInterval(parseDuration(opts.MetricsSSEInterval, time.Second))
		}

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			CORSOrigin:   opts.CORSOrigin,
			Monitor:      mon,
			EventBus:     eventBus,
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			logger.Info("Starting framebuf", version.LogAttrs()...)
			mon.Start(ctx)
			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Channel file watcher disabled", "error", startErr)
			}
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "segment_dir", opts.MonitorSegmentDir)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping channel file watcher", "error", stopErr)
			}
			if sseExporter != nil {
				sseExporter.Stop()
			}
			mon.Stop()
			cancel()
		})
	})

	root := cli.Root()
	root.Use = "framebuf"
	root.Short = "Shared-memory frame blocks: monitor service and tools"
	root.Version = version.Banner()
	root.SetVersionTemplate("{{.Version}}\n")

	root.AddCommand(
		cmd.CreateProduceCmd(),
		cmd.CreateConsumeCmd(),
		cmd.CreateInspectCmd(),
		cmd.CreateDestroyCmd(),
		cmd.CreateDemoCmd(),
	)

	// Run the CLI
	cli.Run()
}
