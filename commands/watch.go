package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/converter"
	"github.com/penwyp/go-usbll2sr/internal/data/watcher"
	"github.com/penwyp/go-usbll2sr/internal/util"
	"github.com/spf13/cobra"
)

var (
	debounce    time.Duration
	skipInitial bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Convert captures as they are written",
	Long: `Converts the captures in a directory, then keeps converting every
capture that is created or rewritten until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addBatchFlags(watchCmd)
	watchCmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce,
		"Quiet period before a changed capture is converted")
	watchCmd.Flags().BoolVar(&skipInitial, "skip-initial", false,
		"Do not convert the captures already present")
}

func runWatch(cmd *cobra.Command, args []string) error {
	batch, err := newBatch(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if !skipInitial {
		results, err := batch.Run(ctx)
		if err != nil {
			return err
		}
		reports, _ := collectReports(cmd, results)
		if len(reports) > 0 {
			if err := printReports(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
		}
	}

	dir := expandPath(args[0])
	fw, err := watcher.NewFileWatcher([]string{dir}, debounce)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	defer fw.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for captures, press Ctrl+C to stop\n", dir)
	return watchLoop(ctx, fw.Events(), batch, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// watchLoop converts each reported capture until ctx ends.
func watchLoop(ctx context.Context, events <-chan watcher.FileEvent, batch *converter.Batch, out, errOut io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			util.LogInfof("Capture changed: %s (%s)", ev.Path, ev.Operation)

			results := batch.Convert(ctx, []string{ev.Path}, time.Now())
			for _, res := range results {
				if res.Err != nil {
					fmt.Fprintf(errOut, "%s: %v\n", res.Input, res.Err)
					continue
				}
				if err := printReports(out, []*converter.Report{res.Report}); err != nil {
					return err
				}
			}
		}
	}
}
