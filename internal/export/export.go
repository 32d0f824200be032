// Package export implements the Export Engine (C5): a bounded BFS slice of
// the knowledge graph around a PR's changed files, serialized to a
// versioned on-disk JSON format with optional gzip and a detached
// signature. Grounded on original_source/arc_memory/export.py's
// get_related_nodes/format_export_data/sign_file/export_graph, re-expressed
// over internal/graphstore.Store and internal/git's rev-range plumbing.
package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/git"
	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// schemaVersion is the export format's own version, independent of the
// store's BuildManifest.SchemaVersion.
const schemaVersion = "0.2"

// relations is the closed set of edges the BFS is allowed to cross (§4.5
// step 2). Any other relation attached to a visited node is ignored.
var relations = []schema.EdgeRel{
	schema.RelMerges,
	schema.RelMentions,
	schema.RelDecides,
	schema.RelContains,
	schema.RelDependsOn,
}

// PR is the export's pr section: the head SHA, the files changed against
// base_ref, and whatever extra metadata the caller has on hand (number,
// title, author).
type PR struct {
	SHA          string         `json:"sha"`
	ChangedFiles []string       `json:"changed_files"`
	Extra        map[string]any `json:"-"`
}

// Node is one exported node, with type-specific attributes promoted to
// typed top-level fields the way format_export_data does per NodeType.
type Node struct {
	ID       string         `json:"id"`
	Type     schema.NodeType `json:"type"`
	Title    string         `json:"title,omitempty"`
	Path     string         `json:"path,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// Edge is one exported edge.
type Edge struct {
	Src      string         `json:"src"`
	Dst      string         `json:"dst"`
	Type     schema.EdgeRel `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

// Sign is the detached-signature block, populated only when signing was
// requested and succeeded.
type Sign struct {
	SigPath string `json:"sig_path"`
	GPGFpr  string `json:"gpg_fpr,omitempty"`
}

// Export is the exported document (§4.5 step 4).
type Export struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	PR            PR        `json:"pr"`
	Nodes         []Node    `json:"nodes"`
	Edges         []Edge    `json:"edges"`
	Sign          *Sign     `json:"sign,omitempty"`
}

// MarshalJSON flattens PR.Extra into the "pr" object, matching
// export_data["pr"].update(pr_info) in the original.
func (e Export) MarshalJSON() ([]byte, error) {
	prObj := map[string]any{
		"sha":           e.PR.SHA,
		"changed_files": e.PR.ChangedFiles,
	}
	for k, v := range e.PR.Extra {
		prObj[k] = v
	}

	alias := struct {
		SchemaVersion string         `json:"schema_version"`
		GeneratedAt   time.Time      `json:"generated_at"`
		PR            map[string]any `json:"pr"`
		Nodes         []Node         `json:"nodes"`
		Edges         []Edge         `json:"edges"`
		Sign          *Sign          `json:"sign,omitempty"`
	}{e.SchemaVersion, e.GeneratedAt, prObj, e.Nodes, e.Edges, e.Sign}
	return json.Marshal(alias)
}

// Build computes the PR-scoped slice of the graph (§4.5 steps 1-3):
// changed files between merge-base(prSHA, baseRef) and prSHA, a bounded
// BFS from those files along the five export relations in both
// directions, and every ADR node regardless of hop distance.
func Build(ctx context.Context, store graphstore.Store, repoPath, prSHA, baseRef string, maxHops int, prInfo map[string]any) (*Export, error) {
	changedFiles, err := git.ChangedFilesBetween(ctx, repoPath, prSHA, baseRef)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindNotFound, "export", "changed_files", "could not compute changed files")
	}

	visitedNodes := make(map[string]schema.Node)
	visitedEdges := make(map[string]schema.Edge)

	adrNodes, err := store.GetNodesByType(ctx, schema.NodeADR, nil)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "export", "get_adrs", "could not load ADR nodes")
	}
	for _, n := range adrNodes {
		visitedNodes[n.ID] = n
	}

	frontier := make(map[string]bool)
	for _, path := range changedFiles {
		frontier[schema.FileID(path)] = true
	}

	for hop := 0; hop <= maxHops && len(frontier) > 0; hop++ {
		next := make(map[string]bool)
		for id := range frontier {
			if _, ok := visitedNodes[id]; !ok {
				node, err := store.GetNodeByID(ctx, id)
				if err != nil {
					if arcerrors.KindOf(err) == arcerrors.KindNotFound {
						continue
					}
					return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "export", "get_node", "could not load node "+id)
				}
				if node == nil {
					continue
				}
				visitedNodes[id] = *node
			}

			for _, rel := range relations {
				out, err := store.GetEdgesBySrc(ctx, id, rel)
				if err != nil {
					return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "export", "get_edges_by_src", "could not load outbound edges for "+id)
				}
				for _, e := range out {
					if _, seen := visitedEdges[e.Key()]; !seen {
						visitedEdges[e.Key()] = e
						if _, ok := visitedNodes[e.Dst]; !ok {
							next[e.Dst] = true
						}
					}
				}

				in, err := store.GetEdgesByDst(ctx, id, rel)
				if err != nil {
					return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "export", "get_edges_by_dst", "could not load inbound edges for "+id)
				}
				for _, e := range in {
					if _, seen := visitedEdges[e.Key()]; !seen {
						visitedEdges[e.Key()] = e
						if _, ok := visitedNodes[e.Src]; !ok {
							next[e.Src] = true
						}
					}
				}
			}
		}
		frontier = next
	}

	// Edges whose endpoints never made it into visitedNodes (e.g. a
	// relation crossed at the final hop boundary) would violate the
	// round-trip invariant; drop them rather than ship a dangling edge.
	nodes := make([]Node, 0, len(visitedNodes))
	for _, n := range visitedNodes {
		nodes = append(nodes, formatNode(n))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]Edge, 0, len(visitedEdges))
	for _, e := range visitedEdges {
		if _, ok := visitedNodes[e.Src]; !ok {
			continue
		}
		if _, ok := visitedNodes[e.Dst]; !ok {
			continue
		}
		edges = append(edges, Edge{Src: e.Src, Dst: e.Dst, Type: e.Rel, Metadata: e.Properties})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Src != edges[j].Src {
			return edges[i].Src < edges[j].Src
		}
		return edges[i].Dst < edges[j].Dst
	})

	return &Export{
		SchemaVersion: schemaVersion,
		GeneratedAt:   time.Now().UTC(),
		PR:            PR{SHA: prSHA, ChangedFiles: changedFiles, Extra: prInfo},
		Nodes:         nodes,
		Edges:         edges,
	}, nil
}

// formatNode promotes type-specific Extra fields to typed fields, mirroring
// format_export_data's per-NodeType branch.
func formatNode(n schema.Node) Node {
	out := Node{ID: n.ID, Type: n.Type, Title: n.Title, Metadata: map[string]any{}}

	switch n.Type {
	case schema.NodeFile:
		out.Path = stringExtra(n.Extra, "path")
		if lang := stringExtra(n.Extra, "language"); lang != "" {
			out.Metadata["language"] = lang
		}
	case schema.NodeCommit:
		out.Metadata["author"] = stringExtra(n.Extra, "author")
		out.Metadata["sha"] = stringExtra(n.Extra, "sha")
	case schema.NodePR:
		out.Metadata["number"] = n.Extra["number"]
		out.Metadata["state"] = stringExtra(n.Extra, "state")
		out.Metadata["url"] = stringExtra(n.Extra, "url")
	case schema.NodeIssue:
		out.Metadata["number"] = n.Extra["number"]
		out.Metadata["state"] = stringExtra(n.Extra, "state")
		out.Metadata["url"] = stringExtra(n.Extra, "url")
	case schema.NodeADR:
		out.Path = stringExtra(n.Extra, "path")
		out.Metadata["status"] = stringExtra(n.Extra, "status")
		out.Metadata["decision_makers"] = n.Extra["decision_makers"]
	default:
		out.Metadata = n.Extra
		if out.Metadata == nil {
			out.Metadata = map[string]any{}
		}
	}
	return out
}

func stringExtra(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	s, _ := extra[key].(string)
	return s
}

// Write serializes export to outputPath, optionally gzipping it (§4.5
// step 5). compress=true appends a .gz suffix when outputPath doesn't
// already carry one, matching export_graph's behaviour.
func Write(export *Export, outputPath string, compress bool) (string, error) {
	payload, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", arcerrors.Wrap(err, arcerrors.KindParse, "export", "marshal", "could not encode export")
	}

	finalPath := outputPath
	if compress {
		if !strings.HasSuffix(outputPath, ".gz") {
			finalPath = outputPath + ".gz"
		}
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(payload); err != nil {
			return "", arcerrors.Wrap(err, arcerrors.KindParse, "export", "gzip", "could not compress export")
		}
		if err := gw.Close(); err != nil {
			return "", arcerrors.Wrap(err, arcerrors.KindParse, "export", "gzip", "could not finalize gzip stream")
		}
		if err := os.WriteFile(finalPath, buf.Bytes(), 0o644); err != nil {
			return "", arcerrors.Wrap(err, arcerrors.KindDatabase, "export", "write", "could not write export file")
		}
		return finalPath, nil
	}

	if err := os.WriteFile(finalPath, payload, 0o644); err != nil {
		return "", arcerrors.Wrap(err, arcerrors.KindDatabase, "export", "write", "could not write export file")
	}
	return finalPath, nil
}

// Sign shells out to gpg --detach-sign to produce a detached signature for
// filePath (§4.5 step 5), returning the signature's path. keyID selects
// --local-user when non-empty. Signing is best-effort: the caller decides
// whether a failure here is fatal to the export as a whole.
func Sign(ctx context.Context, filePath, keyID string) (string, error) {
	sigPath := filePath + ".sig"

	args := []string{"--detach-sign", "--yes"}
	if keyID != "" {
		args = append(args, "--local-user", keyID)
	}
	args = append(args, "--output", sigPath, filePath)

	cmd := exec.CommandContext(ctx, "gpg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", arcerrors.Wrap(err, arcerrors.KindSandbox, "export", "sign", fmt.Sprintf("gpg signing failed: %s", strings.TrimSpace(string(out))))
	}
	return sigPath, nil
}
