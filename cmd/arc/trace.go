package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arc-computer/arc-memory/internal/trace"
)

var (
	traceRepoPath  string
	traceMaxResults int
)

var traceCmd = &cobra.Command{
	Use:   "trace <file> <line>",
	Short: "Trace a file:line back through its decision trail",
	Long: `Resolves the commit that last touched the given line via git blame,
then follows the decision trail: commit -> merging PR -> mentioned issue
-> deciding ADR.`,
	Args: cobra.ExactArgs(2),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringVar(&traceRepoPath, "repo", ".", "path to the git repository")
	traceCmd.Flags().IntVar(&traceMaxResults, "max-results", 10, "maximum number of trail entries to return")
}

func runTrace(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	line, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid line number %q: %w", args[1], err)
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Disconnect()

	tracer := trace.New(store)
	results, err := tracer.HistoryForFileLine(ctx, traceRepoPath, args[0], line, traceMaxResults)
	if err != nil {
		_ = telem.Error("trace", err, map[string]any{"file": args[0], "line": line})
		return err
	}

	_ = telem.Ok("trace", map[string]any{"file": args[0], "line": line, "results": len(results)})

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
