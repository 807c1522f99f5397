package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spaghettifunk/posebridge/engine/batch"
	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/motion"
	"github.com/spaghettifunk/posebridge/engine/skeleton"
	"github.com/spaghettifunk/posebridge/engine/watch"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		src, dst, mode, outputExt string
		existing                  bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Convert files as they appear below a source directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := a.watchFactory(mode)
			if err != nil {
				return err
			}
			task, err := factory()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w, err := watch.New(src, dst, task, watch.Options{
				Settle:    a.cfg.Watch.Settle,
				OutputExt: outputExt,
				Existing:  existing,
				OnConverted: func(r batch.JobResult) {
					if r.Err != nil {
						fmt.Fprintf(out, "failed %s: %v\n", r.Input, r.Err)
						return
					}
					fmt.Fprintf(out, "converted %s -> %s\n", r.Input, r.Output)
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&src, "src", "", "directory to watch")
	f.StringVar(&dst, "dst", "", "destination directory, mirrors --src")
	f.StringVar(&mode, "mode", "normalize", "conversion to run: normalize, remap, reproject or export")
	f.StringVar(&outputExt, "output-ext", "", "replace the extension of every output file")
	f.BoolVar(&existing, "existing", false, "also convert files already present")
	f.Duration("settle", watch.DefaultSettle, "quiet time before a changed file is converted")
	f.Bool("compress", false, "deflate bundle members")
	f.Float64("target-fps", 30, "output frame rate for normalize")
	f.String("gender", motion.DefaultGender, "gender for remap")
	f.String("skeleton", skeleton.DefaultAsset, "skeleton asset for reproject and export")
	f.String("ground", string(motion.GroundMean), "ground correction for export")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")
	return cmd
}

func (a *app) watchFactory(mode string) (taskFactory, error) {
	switch mode {
	case "normalize":
		return a.normalizeTask, nil
	case "remap":
		return a.remapTask, nil
	case "reproject":
		return a.reprojectTask, nil
	case "export":
		return a.exportTask, nil
	}
	return nil, fmt.Errorf("watch: unknown mode %q: %w", mode, core.ErrConfiguration)
}
