package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spaghettifunk/posebridge/engine/batch"
	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/motion"
	"github.com/spaghettifunk/posebridge/engine/reproject"
	"github.com/spaghettifunk/posebridge/engine/skeleton"
)

// paths holds the two mutually exclusive addressing modes of a conversion.
type paths struct {
	input, output string
	src, dst      string
	outputExt     string
}

func (p *paths) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.input, "input", "", "input file")
	f.StringVar(&p.output, "output", "", "output file")
	f.StringVar(&p.src, "src", "", "source directory, converted recursively")
	f.StringVar(&p.dst, "dst", "", "destination directory, mirrors --src")
	f.StringVar(&p.outputExt, "output-ext", "", "replace the extension of every output file")
	f.Int("workers", 0, "parallel workers in directory mode, 0 uses every CPU")
	f.Bool("compress", false, "deflate bundle members")
	cmd.MarkFlagsRequiredTogether("input", "output")
	cmd.MarkFlagsRequiredTogether("src", "dst")
	cmd.MarkFlagsMutuallyExclusive("input", "src")
}

// taskFactory builds the per file conversion. It is called once per run so
// configuration problems surface before any file is touched.
type taskFactory func() (batch.Task, error)

func (a *app) runConversion(cmd *cobra.Command, p *paths, name string, factory taskFactory) error {
	task, err := factory()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch {
	case p.input != "":
		if err := task(p.input, p.output); err != nil {
			core.LogError("error processing %s: %v", p.input, err)
			fmt.Fprintf(out, "%s: 0 succeeded, 1 failed\n", name)
			return fmt.Errorf("%s %s: %w", name, p.input, ErrFailures)
		}
		fmt.Fprintf(out, "%s: 1 succeeded, 0 failed\n", name)
		return nil

	case p.src != "":
		report, err := batch.ConvertDirectory(contextOrBackground(cmd), p.src, p.dst, task, batch.Options{
			Workers:   a.cfg.Batch.Workers,
			OutputExt: p.outputExt,
		})
		if report != nil {
			fmt.Fprintf(out, "%s: %d succeeded, %d failed\n", name, report.Succeeded, report.Failed)
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  %s: %v\n", f.Path, f.Err)
			}
		}
		if err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%s %s: %d files: %w", name, p.src, report.Failed, ErrFailures)
		}
		return nil
	}
	return fmt.Errorf("%s: either --input/--output or --src/--dst is required: %w", name, core.ErrConfiguration)
}

func newNormalizeCommand(a *app) *cobra.Command {
	p := &paths{}
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Resample frames and reduce poses to the body joint subset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConversion(cmd, p, "normalize", a.normalizeTask)
		},
	}
	p.register(cmd)
	cmd.Flags().Float64("target-fps", 30, "output frame rate")
	return cmd
}

func (a *app) normalizeTask() (batch.Task, error) {
	fps := a.cfg.Normalize.TargetFPS
	return func(in, out string) error {
		return motion.NewNormalizer(a.store(), motion.WithTargetFPS(fps)).Convert(in, out)
	}, nil
}

func newRemapCommand(a *app) *cobra.Command {
	p := &paths{}
	cmd := &cobra.Command{
		Use:   "remap",
		Short: "Split poses into root_orient and pose_body and fix betas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConversion(cmd, p, "remap", a.remapTask)
		},
	}
	p.register(cmd)
	cmd.Flags().String("gender", motion.DefaultGender, "gender written when the input has none")
	return cmd
}

func (a *app) remapTask() (batch.Task, error) {
	gender := a.cfg.Remap.Gender
	return func(in, out string) error {
		return motion.NewRemapper(a.store()).Convert(in, out, gender)
	}, nil
}

func newReprojectCommand(a *app) *cobra.Command {
	p := &paths{}
	cmd := &cobra.Command{
		Use:   "reproject",
		Short: "Rebuild arm rotations as a pure elbow bend plus shoulder twist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConversion(cmd, p, "reproject", a.reprojectTask)
		},
	}
	p.register(cmd)
	cmd.Flags().String("skeleton", skeleton.DefaultAsset, "skeleton asset file or built-in name")
	return cmd
}

func (a *app) reprojectTask() (batch.Task, error) {
	tree, err := a.tree()
	if err != nil {
		return nil, err
	}
	return func(in, out string) error {
		s := a.store()
		mo, err := skeleton.LoadMotion(s, tree, in)
		if err != nil {
			return err
		}
		fixed, err := reproject.Arms(tree, mo)
		if err != nil {
			return fmt.Errorf("reproject %s: %w", in, err)
		}
		return skeleton.SaveMotion(s, out, fixed, true)
	}, nil
}

func newExportCommand(a *app) *cobra.Command {
	p := &paths{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write axis-angle parameters from a quaternion motion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConversion(cmd, p, "export", a.exportTask)
		},
	}
	p.register(cmd)
	cmd.Flags().String("skeleton", skeleton.DefaultAsset, "skeleton asset file or built-in name")
	cmd.Flags().String("ground", string(motion.GroundMean), "ground correction: mean, min or none")
	return cmd
}

func (a *app) exportTask() (batch.Task, error) {
	tree, err := a.tree()
	if err != nil {
		return nil, err
	}
	ground, err := motion.ParseGroundMode(a.cfg.Export.Ground)
	if err != nil {
		return nil, err
	}
	return func(in, out string) error {
		return motion.NewExporter(a.store(), tree, ground).Convert(in, out)
	}, nil
}

// contextOrBackground covers commands executed without ExecuteContext.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
