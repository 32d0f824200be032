package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arc-computer/arc-memory/internal/memory"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query recorded simulations and their metrics",
}

var querySimilarTopN int

func init() {
	querySimilarCmd.Flags().IntVar(&querySimilarTopN, "top", 5, "maximum number of similar simulations to return")

	queryCmd.AddCommand(querySimulationCmd)
	queryCmd.AddCommand(queryByServiceCmd)
	queryCmd.AddCommand(queryByFileCmd)
	queryCmd.AddCommand(queryMetricsCmd)
	queryCmd.AddCommand(querySimilarCmd)
}

var querySimulationCmd = &cobra.Command{
	Use:   "simulation <sim-id>",
	Short: "Look up one simulation by ID",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, store queryStore, args []string) (any, error) {
		return memory.GetSimulationByID(ctx, store, args[0])
	}),
}

var queryByServiceCmd = &cobra.Command{
	Use:   "by-service <service-id>",
	Short: "List every simulation that affected a service",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, store queryStore, args []string) (any, error) {
		return memory.GetSimulationsByService(ctx, store, args[0])
	}),
}

var queryByFileCmd = &cobra.Command{
	Use:   "by-file <path>",
	Short: "List every simulation that touched a file",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, store queryStore, args []string) (any, error) {
		return memory.GetSimulationsByFile(ctx, store, args[0])
	}),
}

var queryMetricsCmd = &cobra.Command{
	Use:   "metrics <sim-id>",
	Short: "List the metrics recorded for a simulation",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, store queryStore, args []string) (any, error) {
		return memory.GetSimulationMetrics(ctx, store, args[0])
	}),
}

var querySimilarCmd = &cobra.Command{
	Use:   "similar <sim-id>",
	Short: "Rank prior simulations by similarity to one simulation",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, store queryStore, args []string) (any, error) {
		return memory.GetSimilarSimulations(ctx, store, args[0], querySimilarTopN)
	}),
}

// queryStore is the subset of graphstore.Store the memory package reads
// from; aliased here so withStore's signature doesn't need to import
// graphstore directly.
type queryStore = memory.Store

// withStore adapts a query function into a cobra RunE: opens the store,
// runs fn, prints the result as indented JSON, and records telemetry.
func withStore(fn func(ctx context.Context, store queryStore, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Disconnect()

		result, err := fn(ctx, store, args)
		if err != nil {
			_ = telem.Error("query", err, map[string]any{"command": cmd.Name()})
			return err
		}
		_ = telem.Ok("query", map[string]any{"command": cmd.Name()})

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
}
