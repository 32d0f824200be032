// Package causal implements the Causal Derivation (C7): a pure projection
// of the knowledge graph to a file-indexed sub-graph of services and their
// dependencies. Grounded on original_source/arc_memory/simulate/causal.py
// (a stub naming the derive_causal entrypoint and its file_to_services
// shape, later consumed by manifest.py's generate_simulation_manifest),
// filled in against the graph's actual CONTAINS/DEPENDS_ON edges.
package causal

import (
	"context"
	"strings"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// Graph is the static causal sub-graph (§4.7): a file-path-indexed map of
// owning services, plus each service's downstream dependencies.
type Graph struct {
	FileToServices    map[string][]string `json:"file_to_services"`
	ServiceDownstream map[string][]string `json:"service_downstream"`
}

// Derive projects the full graph to a Graph. It issues read-only queries
// against store and never mutates it.
func Derive(ctx context.Context, store graphstore.Store) (*Graph, error) {
	services, err := store.GetNodesByType(ctx, schema.NodeService, nil)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "causal", "get_services", "could not load service nodes")
	}

	g := &Graph{
		FileToServices:    make(map[string][]string),
		ServiceDownstream: make(map[string][]string),
	}

	for _, svc := range services {
		files, err := reachableFiles(ctx, store, svc.ID)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			g.FileToServices[path] = appendUnique(g.FileToServices[path], svc.ID)
		}

		deps, err := store.GetEdgesBySrc(ctx, svc.ID, schema.RelDependsOn)
		if err != nil {
			return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "causal", "get_dependencies", "could not load DEPENDS_ON edges for "+svc.ID)
		}
		for _, e := range deps {
			g.ServiceDownstream[svc.ID] = appendUnique(g.ServiceDownstream[svc.ID], e.Dst)
		}
	}

	return g, nil
}

// reachableFiles walks outbound CONTAINS edges from nodeID through any
// intermediate component nodes down to the file nodes a service owns.
func reachableFiles(ctx context.Context, store graphstore.Store, nodeID string) ([]string, error) {
	visited := map[string]bool{nodeID: true}
	queue := []string{nodeID}
	var files []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		edges, err := store.GetEdgesBySrc(ctx, cur, schema.RelContains)
		if err != nil {
			return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "causal", "get_contains", "could not load CONTAINS edges for "+cur)
		}
		for _, e := range edges {
			if visited[e.Dst] {
				continue
			}
			visited[e.Dst] = true

			node, err := store.GetNodeByID(ctx, e.Dst)
			if err != nil {
				return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "causal", "get_node", "could not load node "+e.Dst)
			}
			if node == nil {
				continue
			}

			if node.Type == schema.NodeFile {
				if path, ok := node.Extra["path"].(string); ok && path != "" {
					files = append(files, path)
				} else {
					files = append(files, strings.TrimPrefix(node.ID, "file:"))
				}
				continue
			}
			queue = append(queue, e.Dst)
		}
	}

	return files, nil
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

// ServicesForFile returns the services that own path, falling back to a
// heuristic path-segment classifier (§4.8 step 2) when the graph has no
// CONTAINS-derived ownership for it.
func (g *Graph) ServicesForFile(path string) []string {
	if svcs, ok := g.FileToServices[path]; ok && len(svcs) > 0 {
		return svcs
	}
	if guess := ClassifyByPath(path); guess != "" {
		return []string{guess}
	}
	return nil
}

// serviceDirMarkers are the path segments after which the next segment is
// treated as a service name, in priority order. This is a heuristic
// fallback for files the graph has no explicit ownership edge for yet
// (Open Question, resolved in DESIGN.md): most polyglot monorepos group
// deployable units under one of these directories.
var serviceDirMarkers = []string{"services", "apps", "cmd", "packages"}

// ClassifyByPath guesses an owning service from path segments alone, used
// when a file has no CONTAINS-derived service in the causal graph.
func ClassifyByPath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		for _, marker := range serviceDirMarkers {
			if seg == marker && i+1 < len(segments) {
				return segments[i+1]
			}
		}
	}
	if len(segments) > 1 {
		return segments[0]
	}
	return ""
}

// Scoped derives the diff-scoped causal sub-graph of §4.8 step 3: the
// subset of g relevant to changedFiles, plus every downstream dependency
// of the services those files map to (transitively).
func Scoped(g *Graph, changedFiles []string) *Graph {
	scoped := &Graph{
		FileToServices:    make(map[string][]string),
		ServiceDownstream: make(map[string][]string),
	}

	frontier := make(map[string]bool)
	for _, f := range changedFiles {
		services := g.ServicesForFile(f)
		scoped.FileToServices[f] = services
		for _, s := range services {
			frontier[s] = true
		}
	}

	visited := make(map[string]bool)
	for len(frontier) > 0 {
		next := make(map[string]bool)
		for svc := range frontier {
			if visited[svc] {
				continue
			}
			visited[svc] = true
			downstream := g.ServiceDownstream[svc]
			if len(downstream) > 0 {
				scoped.ServiceDownstream[svc] = downstream
			}
			for _, d := range downstream {
				if !visited[d] {
					next[d] = true
				}
			}
		}
		frontier = next
	}

	return scoped
}

// AffectedServices flattens the scoped graph's file_to_services values,
// plus every service that has its own service_downstream entry, into the
// deduplicated set consumed by generate_manifest. Downstream targets that
// have no service_downstream entry of their own are not added.
func AffectedServices(scoped *Graph) []string {
	seen := make(map[string]bool)
	var out []string
	for _, svcs := range scoped.FileToServices {
		for _, s := range svcs {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	for svc := range scoped.ServiceDownstream {
		if !seen[svc] {
			seen[svc] = true
			out = append(out, svc)
		}
	}
	return out
}
