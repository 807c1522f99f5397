// Package cli wires the converters into the posebridge command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/spaghettifunk/posebridge/engine/config"
	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/skeleton"
	"github.com/spaghettifunk/posebridge/engine/store"
)

// ErrFailures is returned when at least one file could not be converted.
var ErrFailures = errors.New("conversion failures")

// flagKeys maps command line flags onto configuration keys. A flag is only
// bound when the running command defines it.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"workers":    "batch.workers",
	"compress":   "store.compress",
	"target-fps": "normalize.target_fps",
	"gender":     "remap.gender",
	"skeleton":   "skeleton.asset",
	"ground":     "export.ground",
	"settle":     "watch.settle",
}

type app struct {
	viper      *viper.Viper
	cfg        *config.Config
	configPath string
}

func (a *app) store() *store.Store {
	return store.New(store.WithCompression(a.cfg.Store.Compress))
}

func (a *app) tree() (*skeleton.Tree, error) {
	return skeleton.LoadAsset(a.cfg.Skeleton.Asset)
}

func (a *app) setup(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = a.viper.BindPFlag(key, f)
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.Load(a.viper, a.configPath)
	if err != nil {
		return err
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrConfiguration)
	}
	a.cfg = cfg
	return nil
}

// NewRootCommand builds a fresh command tree with its own configuration.
func NewRootCommand() *cobra.Command {
	a := &app{viper: config.New()}

	root := &cobra.Command{
		Use:           "posebridge",
		Short:         "Convert motion capture arrays between skeleton conventions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "TOML configuration file")
	root.PersistentFlags().String("log-level", "info", "debug, info, warn or error")

	root.AddCommand(
		newNormalizeCommand(a),
		newRemapCommand(a),
		newReprojectCommand(a),
		newExportCommand(a),
		newInfoCommand(a),
		newWatchCommand(a),
	)
	return root
}

// Execute runs the command line against os.Args.
func Execute() error {
	return run(NewRootCommand(), nil)
}

func run(root *cobra.Command, stderr io.Writer) error {
	if stderr != nil {
		root.SetErr(stderr)
	}
	err := root.Execute()
	if err != nil && !errors.Is(err, ErrFailures) {
		core.LogError("%v", err)
	}
	return err
}
