// Package trace implements the Trace Engine (C6): line-level git blame
// resolved to a commit node, followed by a bounded BFS through the
// decision trail (commit -> PR -> issue -> ADR). Grounded on
// original_source/arc_memory/trace.py's get_commit_for_line/trace_history/
// get_connected_nodes/format_trace_results, re-expressed over
// internal/graphstore.Store with an LRU-bounded blame cache.
package trace

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// blameCacheSize bounds the line-blame memoization (§4.6 step 1).
const blameCacheSize = 100

type blameKey struct {
	repoPath string
	filePath string
	line     int
}

// Result is one row of a trace, formatted per §4.6 step 4.
type Result struct {
	Type      schema.NodeType `json:"type"`
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Timestamp *time.Time      `json:"timestamp"`
}

// Tracer resolves a file:line to its decision trail. A single Tracer's
// blame cache is shared across calls, so callers should keep one instance
// per long-lived process rather than constructing a fresh one per query.
type Tracer struct {
	Store graphstore.Store

	blameCache *lru.Cache[blameKey, string]
}

// New builds a Tracer backed by store, with its own bounded blame cache.
func New(store graphstore.Store) *Tracer {
	cache, _ := lru.New[blameKey, string](blameCacheSize)
	return &Tracer{Store: store, blameCache: cache}
}

// HistoryForFileLine implements trace_history_for_file_line (§4.6):
// resolve the line's last-touching commit via blame, then BFS the
// decision trail up to max_hops (fixed at 2, per the reference
// implementation), stopping early at maxResults.
func (t *Tracer) HistoryForFileLine(ctx context.Context, repoPath, filePath string, lineNumber, maxResults int) ([]Result, error) {
	commitSHA, err := t.commitForLine(ctx, repoPath, filePath, lineNumber)
	if err != nil {
		return nil, err
	}
	if commitSHA == "" {
		return nil, nil
	}

	nodes, err := t.bfs(ctx, schema.CommitID(commitSHA), maxResults, 2)
	if err != nil {
		return nil, err
	}
	return formatResults(nodes), nil
}

// commitForLine runs git blame -L <n>,<n> --porcelain and memoizes the
// resulting commit hash, bounded to blameCacheSize entries.
func (t *Tracer) commitForLine(ctx context.Context, repoPath, filePath string, lineNumber int) (string, error) {
	if filepath.IsAbs(filePath) {
		rel, err := filepath.Rel(repoPath, filePath)
		if err != nil {
			return "", arcerrors.Wrap(err, arcerrors.KindParse, "trace", "resolve_path", "file is not within repository "+repoPath)
		}
		filePath = rel
	}

	key := blameKey{repoPath: repoPath, filePath: filePath, line: lineNumber}
	if cached, ok := t.blameCache.Get(key); ok {
		return cached, nil
	}

	lineArg := fmt.Sprintf("%d,%d", lineNumber, lineNumber)
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "blame", "-L", lineArg, "--porcelain", filePath)
	out, err := cmd.Output()
	if err != nil {
		return "", arcerrors.Wrap(err, arcerrors.KindNotFound, "trace", "git_blame", "git blame failed for "+filePath)
	}

	lines := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)
	if len(lines) == 0 || lines[0] == "" {
		return "", nil
	}
	fields := strings.Fields(lines[0])
	if len(fields) == 0 {
		return "", nil
	}
	commitSHA := fields[0]

	t.blameCache.Add(key, commitSHA)
	return commitSHA, nil
}

// bfs walks the fixed decision trail: commit -> PR (outbound MERGES) at
// hop 0, PR -> issue (outbound MENTIONS) at hop 1, issue <- ADR (inbound
// DECIDES) also at hop 1. Any other node type at a given hop has no
// further edges to follow, matching get_connected_nodes's type/hop switch.
func (t *Tracer) bfs(ctx context.Context, startID string, maxResults, maxHops int) ([]schema.Node, error) {
	type queued struct {
		id  string
		hop int
	}

	visited := make(map[string]bool)
	queue := []queued{{id: startID, hop: 0}}
	var results []schema.Node

	for len(queue) > 0 && len(results) < maxResults {
		cur := queue[0]
		queue = queue[1:]

		if visited[cur.id] || cur.hop > maxHops {
			continue
		}
		visited[cur.id] = true

		node, err := t.Store.GetNodeByID(ctx, cur.id)
		if err != nil && arcerrors.KindOf(err) != arcerrors.KindNotFound {
			return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "trace", "get_node", "could not load node "+cur.id)
		}
		if node != nil {
			results = append(results, *node)
		}
		if cur.hop >= maxHops {
			continue
		}

		for _, next := range t.connected(ctx, cur.id, cur.hop) {
			if !visited[next] {
				queue = append(queue, queued{id: next, hop: cur.hop + 1})
			}
		}
	}

	return results, nil
}

func (t *Tracer) connected(ctx context.Context, nodeID string, hop int) []string {
	nodeType := ""
	if idx := strings.Index(nodeID, ":"); idx >= 0 {
		nodeType = nodeID[:idx]
	}

	switch {
	case nodeType == string(schema.NodeCommit) && hop == 0:
		return edgeDestinations(ctx, t.Store, nodeID, schema.RelMerges)
	case nodeType == string(schema.NodePR) && hop == 1:
		return edgeDestinations(ctx, t.Store, nodeID, schema.RelMentions)
	case nodeType == string(schema.NodeIssue) && hop == 1:
		return edgeSources(ctx, t.Store, nodeID, schema.RelDecides)
	default:
		return nil
	}
}

func edgeDestinations(ctx context.Context, store graphstore.Store, nodeID string, rel schema.EdgeRel) []string {
	edges, err := store.GetEdgesBySrc(ctx, nodeID, rel)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Dst)
	}
	return out
}

func edgeSources(ctx context.Context, store graphstore.Store, nodeID string, rel schema.EdgeRel) []string {
	edges, err := store.GetEdgesByDst(ctx, nodeID, rel)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Src)
	}
	return out
}

// formatResults sorts by timestamp descending and projects to the
// {type, id, title, timestamp} shape (§4.6 step 4).
func formatResults(nodes []schema.Node) []Result {
	sort.SliceStable(nodes, func(i, j int) bool {
		ti, tj := nodes[i].TS, nodes[j].TS
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})

	results := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		results = append(results, Result{
			Type:      n.Type,
			ID:        n.ID,
			Title:     n.Title,
			Timestamp: n.TS,
		})
	}
	return results
}
