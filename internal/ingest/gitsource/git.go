// Package gitsource implements the git ingestor (§4.3): a deterministic,
// offline walk of the repository's commit graph emitting commit and file
// nodes plus MODIFIES edges. Grounded on the teacher's internal/git
// plumbing (os/exec-based, no external git library) and generalized from
// there into the ingest.Plugin contract.
package gitsource

import (
	"context"
	"fmt"

	"github.com/arc-computer/arc-memory/internal/git"
	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// Config is the git ingestor's source configuration (§6.4).
type Config struct {
	MaxCommits     int
	Days           int
	LastCommitHash string
}

// Plugin implements ingest.Plugin for the git source.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "git" }

func (p *Plugin) NodeTypes() []schema.NodeType {
	return []schema.NodeType{schema.NodeCommit, schema.NodeFile}
}

func (p *Plugin) EdgeTypes() []schema.EdgeRel {
	return []schema.EdgeRel{schema.RelAffects}
}

func (p *Plugin) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	cfg, _ := req.SourceConfig.(Config)

	lastHash := cfg.LastCommitHash
	if lastHash == "" {
		if v, ok := req.LastProcessed["last_commit_hash"].(string); ok {
			lastHash = v
		}
	}

	entries, err := git.WalkCommits(ctx, req.RepoPath, cfg.MaxCommits, cfg.Days, lastHash)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("walk commits: %w", err)
	}

	result := ingest.Result{NewLastProcessed: ingest.Cursor{"last_commit_hash": lastHash}}
	seenFiles := make(map[string]bool)

	for _, c := range entries {
		ts := c.Timestamp
		commitNode := schema.Node{
			ID:     schema.CommitID(c.SHA),
			Type:   schema.NodeCommit,
			Title:  c.Message,
			RepoID: req.RepoID,
			TS:     &ts,
			Extra: map[string]any{
				"sha":    c.SHA,
				"author": c.Author,
				"email":  c.Email,
				"files":  c.Files,
			},
		}
		result.Nodes = append(result.Nodes, commitNode)

		for _, f := range c.Files {
			fileID := schema.FileID(f)
			if !seenFiles[fileID] {
				seenFiles[fileID] = true
				result.Nodes = append(result.Nodes, schema.Node{
					ID:     fileID,
					Type:   schema.NodeFile,
					Title:  f,
					RepoID: req.RepoID,
					Extra:  map[string]any{"path": f},
				})
			}
			result.Edges = append(result.Edges, schema.Edge{
				Src: commitNode.ID,
				Dst: fileID,
				Rel: schema.RelAffects,
				Properties: map[string]any{
					"subtype": "MODIFIES",
				},
			})
		}

	}

	// git log without --reverse yields newest-first; the cursor for the
	// next incremental run is the newest commit seen (entries[0]), not the
	// last one iterated.
	if len(entries) > 0 {
		result.NewLastProcessed["last_commit_hash"] = entries[0].SHA
	}

	return result, nil
}
