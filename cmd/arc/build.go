package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/ingest/adr"
	"github.com/arc-computer/arc-memory/internal/ingest/docplatform"
	"github.com/arc-computer/arc-memory/internal/ingest/githost"
	"github.com/arc-computer/arc-memory/internal/ingest/gitsource"
	"github.com/arc-computer/arc-memory/internal/ingest/ticketing"
	"github.com/arc-computer/arc-memory/internal/orchestrator"
)

var (
	buildRepoPath    string
	buildIncremental bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or refresh the knowledge graph from every enabled source",
	Long: `Runs every enabled ingestor (git history, ADRs, code hosting, ticketing,
and documentation platforms) against the repository and commits the
combined result to the graph store in one transaction per plugin.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildRepoPath, "repo", ".", "path to the git repository to ingest")
	buildCmd.Flags().BoolVar(&buildIncremental, "incremental", true, "resume from each ingestor's last cursor instead of a full rebuild")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Disconnect()

	repoID, err := store.EnsureRepository(ctx, buildRepoPath, buildRepoPath)
	if err != nil {
		return err
	}

	registry := ingest.NewRegistry()
	if cfg.Sources.Enabled["git"] {
		registry.Register(gitsource.New())
	}
	if cfg.Sources.Enabled["adr"] {
		registry.Register(adr.New())
	}
	if cfg.Sources.Enabled["code_hosting"] {
		registry.Register(githost.New())
	}
	if cfg.Sources.Enabled["ticketing"] {
		registry.Register(ticketing.New())
	}
	if cfg.Sources.Enabled["doc_platform_linear"] {
		registry.Register(docplatform.NewLinear())
	}
	if cfg.Sources.Enabled["doc_platform_notion"] {
		registry.Register(docplatform.NewNotion())
	}

	sourceConfigs := map[string]any{
		"git":                 cfg.Sources.Git,
		"adr":                 cfg.Sources.ADR,
		"code_hosting":        cfg.Sources.CodeHosting,
		"ticketing":           cfg.Sources.Ticketing,
		"doc_platform_linear": cfg.Sources.DocPlatformA,
		"doc_platform_notion": cfg.Sources.DocPlatformB,
	}
	authToken := cfg.Sources.CodeHosting.Token

	orch := orchestrator.New(store, registry, logger)
	result, err := orch.Run(ctx, buildRepoPath, repoID, authToken, sourceConfigs, buildIncremental)
	if err != nil {
		_ = telem.Error("build", err, map[string]any{"repo": buildRepoPath})
		return err
	}

	_ = telem.Ok("build", map[string]any{
		"repo":  buildRepoPath,
		"nodes": result.TotalNodesAdded,
		"edges": result.TotalEdgesAdded,
	})

	fmt.Printf("Build complete: %d nodes, %d edges added\n", result.TotalNodesAdded, result.TotalEdgesAdded)
	for _, s := range result.IngestorSummary {
		if s.Status == "success" {
			fmt.Printf("  %-24s ok   (%d nodes, %d edges)\n", s.Name, s.NodesProcessed, s.EdgesProcessed)
		} else {
			fmt.Printf("  %-24s fail (%s)\n", s.Name, s.ErrorMessage)
		}
	}
	return nil
}
