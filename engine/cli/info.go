package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/spaghettifunk/posebridge/engine/store"
)

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>...",
		Short: "Describe array files and check that they hold usable data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.store()
			failed := 0
			for _, path := range args {
				if err := describe(cmd.OutOrStdout(), s, path); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("info: %d of %d files: %w", failed, len(args), ErrFailures)
			}
			return nil
		},
	}
}

func describe(w io.Writer, s *store.Store, path string) error {
	info, err := s.Info(path)
	if err != nil {
		return err
	}
	data, err := s.Load(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  size: %d bytes\n", info.SizeBytes)
	if info.Array != nil {
		fmt.Fprintf(w, "  dtype: %s\n  shape: %v\n  elements: %d\n", info.Array.DType, info.Array.Shape, info.Array.Elements)
		if a, ok := data.(*store.Array); ok {
			writeStats(w, "  ", a)
		}
	}
	if len(info.Members) > 0 {
		fmt.Fprintf(w, "  members: %d\n", len(info.Members))
		b, _ := store.Unwrap(data)
		for _, key := range info.Keys {
			m := info.Members[key]
			fmt.Fprintf(w, "    %s: dtype=%s shape=%v elements=%d\n", key, m.DType, m.Shape, m.Elements)
			if a := b[key]; a != nil {
				writeStats(w, "      ", a)
			}
		}
	}

	verdict := "invalid"
	if s.Validate(data) {
		verdict = "valid"
	}
	fmt.Fprintf(w, "  validation: %s\n", verdict)
	return nil
}

func writeStats(w io.Writer, indent string, a *store.Array) {
	if !a.IsFloat() || len(a.Data) == 0 {
		return
	}
	mean, std := stat.PopMeanStdDev(a.Data, nil)
	fmt.Fprintf(w, "%smin=%g max=%g mean=%g std=%g\n", indent, floats.Min(a.Data), floats.Max(a.Data), mean, std)
}
