package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arc-computer/arc-memory/internal/config"
	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/logging"
	"github.com/arc-computer/arc-memory/internal/telemetry"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
	layout  config.Layout
	telem   *telemetry.Recorder
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arc",
	Short: "Arc Memory - a bi-temporal knowledge graph of your project's history",
	Long: `Arc Memory builds and queries a bi-temporal knowledge graph from your
project's commits, pull requests, issues, decision records, and planning
documents, and simulates the blast radius of a change before it ships.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := logrus.InfoLevel
		if verbose {
			logLevel = logrus.DebugLevel
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			cfg = config.Default()
		}
		layout = config.LayoutFor(cfg.ArcDir)
		if err := layout.EnsureLayout(); err != nil {
			return err
		}

		logger, err = logging.New(logging.Config{
			Level:      logLevel,
			OutputFile: "",
		})
		if err != nil {
			return err
		}

		telem, err = telemetry.Open(layout.TelemetryLog)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if telem != nil {
			_ = telem.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.arc/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`Arc Memory {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(simCmd)
	rootCmd.AddCommand(queryCmd)
}

// openStore connects to the configured graph store and ensures its schema
// exists, matching every subcommand's need to read or write the graph.
func openStore(ctx context.Context) (graphstore.Store, error) {
	store, err := graphstore.New(cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Disconnect()
		return nil, err
	}
	return store, nil
}
