//go:build linux

package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/smazurov/framebuf/pkg/shmframe"
	"github.com/spf13/cobra"
)

// CreateInspectCmd creates the inspect command.
func CreateInspectCmd() *cobra.Command {
	var common commonFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect [name...]",
		Short: "Show the header of one or more blocks",
		Long:  `Prints geometry, frame counter, owner and liveness of the named blocks, or of every block in the segment directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := common.logger("inspect")
			opts := common.blockOptions(logger)

			names := args
			if len(names) == 0 {
				all, err := shmframe.List(opts...)
				if err != nil {
					return err
				}
				names = all
			}

			infos := make([]shmframe.Info, 0, len(names))
			for _, name := range names {
				info, err := shmframe.Stat(name, opts...)
				if err != nil {
					if len(args) > 0 {
						return err
					}
					// Listed but gone or half-initialised; skip it.
					logger.Debug("Skipping block", "channel", name, "error", err)
					continue
				}
				infos = append(infos, info)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			return writeInfoTable(cmd.OutOrStdout(), infos)
		},
	}

	common.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func writeInfoTable(w io.Writer, infos []shmframe.Info) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSHAPE\tFRAME\tOWNER\tSTATE\tCREATED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%dx%dx%d\t%d\t%d\t%s\t%s\n",
			info.Name, info.Width, info.Height, info.Depth, info.FrameUID, info.OwnerPID,
			blockState(info), info.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func blockState(info shmframe.Info) string {
	switch {
	case info.Alive:
		return "alive"
	case info.Poisoned:
		return "poisoned"
	default:
		return "stale"
	}
}

// CreateDestroyCmd creates the destroy command.
func CreateDestroyCmd() *cobra.Command {
	var common commonFlags
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "destroy [name]",
		Short: "Remove a block left behind by a dead producer",
		Long: `Deactivates and unlinks the named block. Blocks whose producer is still running are refused. ` +
			`A segment whose header was never published is removed once it is older than --recovery-grace.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			logger := common.logger("destroy").With("channel", name)

			info, err := shmframe.Destroy(name, common.blockOptions(logger, shmframe.WithRecoveryGrace(grace))...)
			if err != nil {
				if errors.Is(err, shmframe.ErrNotOwner) {
					return fmt.Errorf("producer pid %d is still running: %w", info.OwnerPID, err)
				}
				return err
			}
			logger.Info("Block destroyed", "poisoned", info.Poisoned, "owner_pid", info.OwnerPID)
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", name)
			return nil
		},
	}

	common.register(cmd)
	cmd.Flags().DurationVar(&grace, "recovery-grace", shmframe.DefaultRecoveryGrace,
		"Minimum age of a segment without a published header before it is removed")
	return cmd
}
