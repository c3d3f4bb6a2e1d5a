//go:build linux

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smazurov/framebuf/internal/metrics"
	"github.com/smazurov/framebuf/internal/metrics/collectors"
	"github.com/smazurov/framebuf/pkg/shmframe"
	"github.com/spf13/cobra"
)

type consumeOptions struct {
	latestOnly     bool
	retryInterval  time.Duration
	progressSocket string
	reportInterval time.Duration
	frames         uint64
}

// CreateConsumeCmd creates the consume command.
func CreateConsumeCmd() *cobra.Command {
	var common commonFlags
	var opts consumeOptions
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "consume [name]",
		Short: "Read frames from a block",
		Long: `Attaches to the named block and reads frames as they are published. ` +
			`The consumer waits for a producer to appear and reattaches when the producer restarts. ` +
			`Latency is measured against the frame's acquisition time in Unix milliseconds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			logger := common.logger("consumer").With("channel", name)

			ctx, cancel := signalContext()
			defer cancel()
			serveMetrics(ctx, metricsAddr, logger)

			return runConsumer(ctx, name, opts, logger, common.blockOptions(logger)...)
		},
	}

	common.register(cmd)
	cmd.Flags().BoolVar(&opts.latestOnly, "latest-only", false, "Skip to the newest frame instead of catching up")
	cmd.Flags().DurationVar(&opts.retryInterval, "retry-interval", shmframe.DefaultRetryInterval, "Delay between attach attempts")
	cmd.Flags().StringVar(&opts.progressSocket, "progress-socket", "", "Report progress to this Unix socket")
	cmd.Flags().DurationVar(&opts.reportInterval, "report-interval", time.Second, "Progress report interval")
	cmd.Flags().Uint64Var(&opts.frames, "frames", 0, "Stop after this many frames (0 = run until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runConsumer(ctx context.Context, name string, opts consumeOptions, logger *slog.Logger, blockOpts ...shmframe.Option) error {
	var reporter *collectors.Reporter
	if opts.progressSocket != "" {
		r, err := collectors.DialReporter(opts.progressSocket, name)
		if err != nil {
			return err
		}
		reporter = r
		defer reporter.Close()
	}

	attaches := 0
	hooks := shmframe.Hooks{
		OnAttached: func(info shmframe.Info) {
			attaches++
			if attaches > 1 {
				metrics.IncReconnects(name)
			}
			metrics.SetChannelState(name, "alive", true, false)
			logger.Info("Attached to block", "owner_pid", info.OwnerPID, "frame_uid", info.FrameUID,
				"width", info.Width, "height", info.Height, "depth", info.Depth)
		},
		OnLost: func(string) {
			metrics.SetChannelState(name, "missing", false, false)
			logger.Warn("Producer is gone, waiting for a new one")
		},
	}

	blockOpts = append(blockOpts, shmframe.WithRetryInterval(opts.retryInterval), shmframe.WithHooks(hooks))
	if opts.latestOnly {
		blockOpts = append(blockOpts, shmframe.WithLatestOnly())
	}
	consumer := shmframe.NewConsumer(name, blockOpts...)
	defer consumer.Close()

	var (
		read       uint64
		skipped    uint64
		lastUID    uint64
		latency    time.Duration
		lastReport = time.Now()
	)
	for {
		frame, err := consumer.Next(ctx, true)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Consumer stopping", "frames", read, "skipped", skipped)
				if reporter != nil && read > 0 {
					_ = reporter.Report(read, latency)
				}
				return nil
			}
			if errors.Is(err, shmframe.ErrNoNewFrame) {
				metrics.IncNoNewFrame(name)
				continue
			}
			return err
		}

		read++
		if lastUID != 0 && frame.FrameUID > lastUID+1 {
			skipped += frame.FrameUID - lastUID - 1
			logger.Debug("Skipped frames", "from", lastUID, "to", frame.FrameUID)
		}
		lastUID = frame.FrameUID

		latency = frameLatency(frame.AcquisitionTime, time.Now())
		metrics.AddFramesRead(name, 1)
		metrics.ObserveReadLatency(name, latency)
		metrics.SetFrameUID(name, frame.FrameUID)

		if reporter != nil && time.Since(lastReport) >= opts.reportInterval {
			if err := reporter.Report(read, latency); err != nil {
				logger.Warn("Progress report failed", "error", err)
			}
			lastReport = time.Now()
		}

		if opts.frames > 0 && read >= opts.frames {
			logger.Info("Frame limit reached", "frames", read, "skipped", skipped)
			if reporter != nil {
				_ = reporter.Report(read, latency)
			}
			return nil
		}
	}
}

// frameLatency is the age of a frame stamped with Unix milliseconds. Clock
// steps can make it negative; those read as zero.
func frameLatency(acquiredMillis uint64, now time.Time) time.Duration {
	d := time.Duration(now.UnixMilli()-int64(acquiredMillis)) * time.Millisecond
	return max(d, 0)
}
