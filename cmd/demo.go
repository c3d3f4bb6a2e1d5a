//go:build linux

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smazurov/framebuf/internal/config"
	"github.com/smazurov/framebuf/internal/events"
	"github.com/smazurov/framebuf/internal/logging"
	"github.com/smazurov/framebuf/internal/metrics"
	"github.com/smazurov/framebuf/internal/metrics/collectors"
	"github.com/smazurov/framebuf/internal/monitor"
	"github.com/smazurov/framebuf/internal/process"
	"github.com/spf13/cobra"
)

const producerID = "producer"

type demoOptions struct {
	consumers      int
	duration       time.Duration
	crashAfter     time.Duration
	restartDelay   time.Duration
	progressSocket string
}

// CreateDemoCmd creates the demo command.
func CreateDemoCmd() *cobra.Command {
	var common commonFlags
	var channel channelFlags
	var opts demoOptions
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "demo [name]",
		Short: "Run a producer and several consumers as child processes",
		Long: `Spawns one producer and N consumers of the named block, collects consumer progress ` +
			`and reports block state changes. With --crash-after the producer is killed with SIGKILL ` +
			`part way through and restarted, exercising recovery and consumer reattachment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			logger := common.logger("demo").With("channel", name)

			ch, err := channel.resolve(cmd, name)
			if err != nil {
				return err
			}
			if opts.progressSocket == "" {
				opts.progressSocket = filepath.Join(os.TempDir(), fmt.Sprintf("framebuf-demo-%d.sock", os.Getpid()))
			}

			ctx, cancel := signalContext()
			defer cancel()
			if opts.duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, opts.duration)
				defer stop()
			}
			serveMetrics(ctx, metricsAddr, logger)

			return runDemo(ctx, cmd, name, ch, common, opts, logger)
		},
	}

	common.register(cmd)
	channel.register(cmd)
	cmd.Flags().IntVar(&opts.consumers, "consumers", 2, "Number of consumer processes")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "How long to run (0 = until interrupted)")
	cmd.Flags().DurationVar(&opts.crashAfter, "crash-after", 0, "Kill the producer with SIGKILL after this long (0 = never)")
	cmd.Flags().DurationVar(&opts.restartDelay, "restart-delay", 2*time.Second, "Delay before restarting a crashed producer")
	cmd.Flags().StringVar(&opts.progressSocket, "progress-socket", "", "Progress socket path (default in the temp dir)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

// demoCommands builds the child command lines.
func demoCommands(exe, name string, ch config.Channel, common commonFlags, socket string) process.CommandProvider {
	base := []string{"--dir", common.dir, "--log-level", common.logLevel}
	return func(id string) ([]string, error) {
		switch {
		case id == producerID:
			args := []string{exe, "produce", name,
				"--width", strconv.Itoa(ch.Width),
				"--height", strconv.Itoa(ch.Height),
				"--depth", strconv.Itoa(ch.Depth),
				"--fps", strconv.Itoa(ch.FPS),
				"--pattern", ch.Pattern,
			}
			return append(args, base...), nil
		case strings.HasPrefix(id, "consumer-"):
			args := []string{exe, "consume", name,
				"--retry-interval", "500ms",
				"--progress-socket", socket,
				"--report-interval", "250ms",
			}
			return append(args, base...), nil
		default:
			return nil, fmt.Errorf("unknown demo process %q", id)
		}
	}
}

func runDemo(ctx context.Context, cmd *cobra.Command, name string, ch config.Channel, common commonFlags, opts demoOptions, logger *slog.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	// The collector outlives ctx so the consumers' final reports arrive.
	collector := collectors.NewProgressCollector(opts.progressSocket, logging.GetLogger("collector"))
	if err := collector.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start progress collector: %w", err)
	}

	var recoveries, losses atomic.Int32
	bus := events.New()
	defer bus.Subscribe(func(e events.ChannelStateChangedEvent) {
		logger.Info("Channel state", "previous", e.Previous, "state", e.State)
	})()
	defer bus.Subscribe(func(e events.BlockRecoveredEvent) {
		recoveries.Add(1)
		logger.Info("Producer recovered the block", "stale_pid", e.StalePID, "poisoned", e.Poisoned)
	})()
	defer bus.Subscribe(func(events.BlockLostEvent) {
		losses.Add(1)
	})()

	mon := monitor.New(monitor.Options{
		Dir:      common.dir,
		Interval: 250 * time.Millisecond,
		Logger:   logging.GetLogger("monitor"),
		Bus:      bus,
	})
	mon.SetChannels(config.Channels{Channels: map[string]config.Channel{name: ch}})
	mon.Start(ctx)

	pool := process.NewPool(&process.PoolOptions{
		CommandProvider: demoCommands(exe, name, ch, common, opts.progressSocket),
		OnStateChange: func(id string, _, newState process.State, err error) {
			if err != nil {
				logger.Warn("Process state", "id", id, "state", newState, "error", err)
				return
			}
			logger.Debug("Process state", "id", id, "state", newState)
		},
		ConfigureProcess: func(id string, proc *process.Process) {
			proc.SetLogParser(logging.GetLogger("child").With("process", id), process.SlogTextParser)
		},
		Logger: logging.GetLogger("process"),
	})

	ids := []string{producerID}
	for i := range opts.consumers {
		ids = append(ids, fmt.Sprintf("consumer-%d", i+1))
	}
	for _, id := range ids {
		if err := pool.Start(id); err != nil {
			pool.StopAll()
			mon.Stop()
			_ = collector.Stop()
			return err
		}
	}
	logger.Info("Demo running", "consumers", opts.consumers, "crash_after", opts.crashAfter)

	var crash <-chan time.Time
	if opts.crashAfter > 0 {
		crash = time.After(opts.crashAfter)
	}
	var restart <-chan time.Time

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-crash:
			logger.Warn("Killing producer", "pid", pool.GetStatus(producerID).PID)
			if err := pool.Kill(producerID); err != nil {
				logger.Error("Failed to kill producer", "error", err)
				continue
			}
			restart = time.After(opts.restartDelay)
		case <-restart:
			logger.Info("Restarting producer")
			if err := pool.Start(producerID); err != nil {
				logger.Error("Failed to restart producer", "error", err)
			}
		}
	}

	mon.Stop()
	lost := int(losses.Load())

	pool.StopAll()
	if err := collector.Stop(); err != nil {
		logger.Warn("Failed to stop progress collector", "error", err)
	}

	return printDemoSummary(cmd, name, int(recoveries.Load()), lost)
}

func printDemoSummary(cmd *cobra.Command, name string, recoveries, losses int) error {
	cm := metrics.GetChannelMetrics(name)
	if cm == nil {
		cm = &metrics.ChannelMetrics{}
	}
	w := cmd.OutOrStdout()
	_, err := fmt.Fprintf(w, "channel %s: frames read %d, last frame %d, producer lost %d, recovered %d\n",
		name, cm.FramesRead, cm.FrameUID, losses, recoveries)
	return err
}
