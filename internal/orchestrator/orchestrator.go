// Package orchestrator implements the Build Orchestrator (C4): plugin
// discovery, manifest load/merge, per-plugin ingest-and-commit with
// non-fatal failure handling, and the final manifest write. Grounded on
// the teacher's own CLI-level build loop (cmd/crisk's repository-scan
// entrypoint iterating independent collectors before a single commit),
// generalized into a plugin-driven loop over internal/ingest.Plugin.
package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arc-computer/arc-memory/internal/graphstore"
	"github.com/arc-computer/arc-memory/internal/ingest"
	"github.com/arc-computer/arc-memory/internal/schema"
)

const schemaVersion = "0.2"

// PluginSummary is one row of the per-ingestor build result (§4.4 step 7).
type PluginSummary struct {
	Name           string `json:"name"`
	Status         string `json:"status"` // "success" or "failure"
	NodesProcessed int    `json:"nodes_processed"`
	EdgesProcessed int    `json:"edges_processed"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Result is the object returned by a build run (§4.4 step 7).
type Result struct {
	IngestorSummary []PluginSummary          `json:"ingestor_summary"`
	TotalNodesAdded int                      `json:"total_nodes_added"`
	TotalEdgesAdded int                      `json:"total_edges_added"`
	BuildManifest   graphstore.BuildManifest `json:"build_manifest"`
}

// Orchestrator runs a build: one pass over every registered plugin,
// merging each plugin's nodes/edges into the store and recording a
// per-plugin summary, non-fatally, before writing the final manifest.
type Orchestrator struct {
	Store    graphstore.Store
	Registry *ingest.Registry
	Logger   *logrus.Logger
}

// New builds an Orchestrator. log may be nil; logrus.StandardLogger() is then used.
func New(store graphstore.Store, registry *ingest.Registry, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{Store: store, Registry: registry, Logger: log}
}

// Run executes the full build algorithm of §4.4. repoID is the store's
// repository registry ID for repoPath (see graphstore.EnsureRepository);
// sourceConfigs maps plugin name -> that plugin's source_config value.
func (o *Orchestrator) Run(ctx context.Context, repoPath, repoID, authToken string, sourceConfigs map[string]any, incremental bool) (Result, error) {
	log := o.logger()

	prevManifest, err := o.Store.GetBuildManifest(ctx)
	if err != nil {
		return Result{}, err
	}
	cursors := make(map[string]ingest.Cursor)
	if incremental && prevManifest != nil {
		for name, raw := range prevManifest.LastProcessed {
			if m, ok := raw.(map[string]any); ok {
				cursors[name] = ingest.Cursor(m)
			}
		}
	}

	result := Result{}
	newCursors := make(map[string]any)

	for _, plugin := range o.Registry.All() {
		name := plugin.Name()
		req := ingest.Request{
			RepoPath:      repoPath,
			RepoID:        repoID,
			AuthToken:     authToken,
			SourceConfig:  sourceConfigs[name],
			LastProcessed: cursors[name],
		}

		ingestResult, ingestErr := plugin.Ingest(ctx, req)
		if ingestErr != nil {
			log.WithError(ingestErr).WithField("plugin", name).Warn("ingestor failed, continuing build")
			result.IngestorSummary = append(result.IngestorSummary, PluginSummary{
				Name:   name,
				Status: "failure",
				ErrorMessage: ingestErr.Error(),
			})
			// Incremental correctness (§4.4): a failed plugin must still
			// carry its last-known cursor forward so the manifest records
			// progress rather than resetting to a full rebuild next time.
			if prev, ok := cursors[name]; ok {
				newCursors[name] = map[string]any(prev)
			}
			continue
		}

		nodes, edges := dropDanglingEdges(ingestResult.Nodes, ingestResult.Edges, o.knownIDs(ctx))
		if dropped := len(ingestResult.Edges) - len(edges); dropped > 0 {
			log.WithField("plugin", name).WithField("dropped_edges", dropped).
				Warn("dropped edges with unresolved endpoints")
		}
		if err := o.Store.AddNodesAndEdges(ctx, nodes, edges); err != nil {
			log.WithError(err).WithField("plugin", name).Warn("commit failed, continuing build")
			result.IngestorSummary = append(result.IngestorSummary, PluginSummary{
				Name:         name,
				Status:       "failure",
				ErrorMessage: err.Error(),
			})
			continue
		}

		if err := o.Store.SaveRefreshTimestamp(ctx, name, time.Now().UTC()); err != nil {
			log.WithError(err).WithField("plugin", name).Warn("failed to save refresh timestamp")
		}

		result.IngestorSummary = append(result.IngestorSummary, PluginSummary{
			Name:           name,
			Status:         "success",
			NodesProcessed: len(nodes),
			EdgesProcessed: len(edges),
		})
		result.TotalNodesAdded += len(nodes)
		result.TotalEdgesAdded += len(edges)

		if ingestResult.NewLastProcessed != nil {
			newCursors[name] = map[string]any(ingestResult.NewLastProcessed)
		} else if prev, ok := cursors[name]; ok {
			newCursors[name] = map[string]any(prev)
		}
	}

	nodeCount, err := o.Store.NodeCount(ctx)
	if err != nil {
		return result, err
	}
	edgeCount, err := o.Store.EdgeCount(ctx)
	if err != nil {
		return result, err
	}

	manifest := graphstore.BuildManifest{
		SchemaVersion: schemaVersion,
		BuildTime:     time.Now().UTC(),
		NodeCount:     nodeCount,
		EdgeCount:     edgeCount,
		LastProcessed: newCursors,
	}
	if err := o.Store.SaveBuildManifest(ctx, manifest); err != nil {
		return result, err
	}
	result.BuildManifest = manifest

	return result, nil
}

func (o *Orchestrator) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

// knownIDs returns a lookup function testing whether a node ID already
// exists in the store, used to filter out edges a plugin emitted whose
// target isn't in this batch and isn't yet persisted (e.g. a MENTIONS
// edge to an issue outside this run's fetch window). The store itself
// aborts an entire commit on any dangling edge (C1 invariant), so the
// orchestrator filters speculative edges out first rather than letting
// one bad reference fail an otherwise-valid batch.
func (o *Orchestrator) knownIDs(ctx context.Context) func(id string) bool {
	return func(id string) bool {
		node, err := o.Store.GetNodeByID(ctx, id)
		return err == nil && node != nil
	}
}

func dropDanglingEdges(nodes []schema.Node, edges []schema.Edge, exists func(id string) bool) ([]schema.Node, []schema.Edge) {
	batchIDs := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		batchIDs[n.ID] = true
	}

	kept := edges[:0:0]
	for _, e := range edges {
		if (batchIDs[e.Src] || exists(e.Src)) && (batchIDs[e.Dst] || exists(e.Dst)) {
			kept = append(kept, e)
		}
	}
	return nodes, kept
}
