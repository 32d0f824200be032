package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arc-computer/arc-memory/internal/export"
)

var (
	exportRepoPath string
	exportPRSHA    string
	exportBaseRef  string
	exportOutput   string
	exportGzip     bool
	exportSignKey  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a PR-scoped slice of the knowledge graph",
	Long: `Computes the files changed between a PR's head commit and a base ref,
walks a bounded BFS through the graph from those files, and writes the
resulting slice (plus every ADR) as a versioned JSON document.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportRepoPath, "repo", ".", "path to the git repository")
	exportCmd.Flags().StringVar(&exportPRSHA, "sha", "", "PR head commit SHA (required)")
	exportCmd.Flags().StringVar(&exportBaseRef, "base", "main", "base ref to diff against")
	exportCmd.Flags().StringVar(&exportOutput, "out", "export.json", "output file path")
	exportCmd.Flags().BoolVar(&exportGzip, "gzip", false, "gzip the output")
	exportCmd.Flags().StringVar(&exportSignKey, "sign-key", "", "gpg key ID to sign the export with (disabled if empty)")
	_ = exportCmd.MarkFlagRequired("sha")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Disconnect()

	maxHops := cfg.Export.MaxHops
	if maxHops <= 0 {
		maxHops = 1
	}

	doc, err := export.Build(ctx, store, exportRepoPath, exportPRSHA, exportBaseRef, maxHops, nil)
	if err != nil {
		_ = telem.Error("export", err, map[string]any{"sha": exportPRSHA})
		return err
	}

	gzip := exportGzip || cfg.Export.Gzip
	path, err := export.Write(doc, exportOutput, gzip)
	if err != nil {
		return err
	}

	signKey := exportSignKey
	if signKey == "" {
		signKey = cfg.Export.SignKeyID
	}
	if signKey != "" {
		sigPath, err := export.Sign(ctx, path, signKey)
		if err != nil {
			logger.WithError(err).Warn("export signing failed; export file was still written")
		} else {
			fmt.Printf("Wrote signature: %s\n", sigPath)
		}
	}

	_ = telem.Ok("export", map[string]any{"sha": exportPRSHA, "nodes": len(doc.Nodes), "edges": len(doc.Edges)})
	fmt.Printf("Wrote export: %s (%d nodes, %d edges)\n", path, len(doc.Nodes), len(doc.Edges))
	return nil
}
