//go:build linux

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/smazurov/framebuf/internal/config"
	"github.com/smazurov/framebuf/internal/metrics"
	"github.com/smazurov/framebuf/internal/source"
	"github.com/smazurov/framebuf/pkg/shmframe"
	"github.com/spf13/cobra"
)

// channelFlags select the geometry of a channel, either from a channels
// file or from flags. Flags set on the command line win.
type channelFlags struct {
	channelsFile string
	width        int
	height       int
	depth        int
	fps          int
	pattern      string
}

func (f *channelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.channelsFile, "channels", "", "Channel definitions file")
	cmd.Flags().IntVar(&f.width, "width", 640, "Frame width in pixels")
	cmd.Flags().IntVar(&f.height, "height", 480, "Frame height in pixels")
	cmd.Flags().IntVar(&f.depth, "depth", 3, "Bytes per pixel")
	cmd.Flags().IntVar(&f.fps, "fps", config.DefaultChannelFPS, "Frames per second")
	cmd.Flags().StringVar(&f.pattern, "pattern", config.DefaultChannelPattern, "Test pattern")
}

func (f *channelFlags) resolve(cmd *cobra.Command, name string) (config.Channel, error) {
	ch := config.Channel{
		Width:   f.width,
		Height:  f.height,
		Depth:   f.depth,
		FPS:     f.fps,
		Pattern: f.pattern,
	}
	if f.channelsFile != "" {
		set, err := config.LoadChannels(f.channelsFile)
		if err != nil {
			return ch, err
		}
		if fromFile, ok := set.Get(name); ok {
			flags := cmd.Flags()
			if !flags.Changed("width") {
				ch.Width = fromFile.Width
			}
			if !flags.Changed("height") {
				ch.Height = fromFile.Height
			}
			if !flags.Changed("depth") {
				ch.Depth = fromFile.Depth
			}
			if !flags.Changed("fps") {
				ch.FPS = fromFile.FPS
			}
			if !flags.Changed("pattern") {
				ch.Pattern = fromFile.Pattern
			}
		}
	}
	return ch, ch.Validate(name)
}

// CreateProduceCmd creates the produce command.
func CreateProduceCmd() *cobra.Command {
	var common commonFlags
	var channel channelFlags
	var metricsAddr string
	var frames uint64

	cmd := &cobra.Command{
		Use:   "produce [name]",
		Short: "Publish a synthetic test pattern into a block",
		Long: `Creates the named block and writes frames at a fixed rate until interrupted. ` +
			`Each frame's acquisition time is the wall clock in Unix milliseconds. ` +
			`A block left behind by a crashed producer is recovered automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			logger := common.logger("producer").With("channel", name)

			ch, err := channel.resolve(cmd, name)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			serveMetrics(ctx, metricsAddr, logger)

			return runProducer(ctx, name, ch, frames, logger, common.blockOptions(logger)...)
		},
	}

	common.register(cmd)
	channel.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Uint64Var(&frames, "frames", 0, "Stop after this many frames (0 = run until interrupted)")
	return cmd
}

func runProducer(ctx context.Context, name string, ch config.Channel, limit uint64, logger *slog.Logger, opts ...shmframe.Option) error {
	gen, err := source.NewGenerator(ch.Pattern, ch.Width, ch.Height, ch.Depth)
	if err != nil {
		return err
	}

	hooks := shmframe.Hooks{
		OnCreated: func(info shmframe.Info) {
			metrics.SetChannelState(name, "alive", true, false)
			logger.Info("Block created", "size", info.ImageSize, "path", info.Path)
		},
		OnRecovered: func(stale shmframe.Info) {
			metrics.IncRecoveries(name)
			logger.Warn("Recovered block left by a dead producer",
				"stale_pid", stale.OwnerPID, "poisoned", stale.Poisoned)
		},
	}
	producer := shmframe.NewProducer(name, append(opts, shmframe.WithHooks(hooks))...)

	if err := producer.Start(ch.Width, ch.Height, ch.Depth); err != nil {
		if errors.Is(err, shmframe.ErrExistential) {
			return fmt.Errorf("another producer is publishing %q: %w", name, err)
		}
		return err
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warn("Failed to remove block", "error", err)
		}
		metrics.SetChannelState(name, "missing", false, false)
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("sd_notify failed", "error", err)
	}
	logger.Info("Producing frames", "width", ch.Width, "height", ch.Height, "depth", ch.Depth,
		"fps", ch.FPS, "pattern", ch.Pattern)

	ticker := time.NewTicker(time.Second / time.Duration(ch.FPS))
	defer ticker.Stop()

	var written uint64
	for {
		select {
		case <-ctx.Done():
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			logger.Info("Producer stopping", "frames", written)
			return nil
		case <-ticker.C:
		}

		err := producer.Write(ch.Width, ch.Height, ch.Depth, uint64(time.Now().UnixMilli()), gen.Next())
		switch {
		case err == nil:
			written++
			metrics.AddFramesWritten(name, 1)
			if b := producer.Block(); b != nil {
				metrics.SetFrameUID(name, b.FrameUID())
			}
		case errors.Is(err, shmframe.ErrFrameSizeMismatch):
			metrics.IncSizeMismatch(name)
			return err
		case errors.Is(err, shmframe.ErrBlockNotActive):
			// The next write recreates the block.
			logger.Warn("Block was scrapped, recreating", "error", err)
		default:
			return err
		}

		if limit > 0 && written >= limit {
			logger.Info("Frame limit reached", "frames", written)
			return nil
		}
	}
}
