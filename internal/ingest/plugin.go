// Package ingest defines the plugin contract every ingestor implements (C3)
// and the registry the build orchestrator (C4) discovers them through.
package ingest

import (
	"context"

	"github.com/arc-computer/arc-memory/internal/schema"
)

// Cursor is the opaque resume state a plugin wrote on its previous run:
// timestamps, page tokens, file-mtime maps. The orchestrator persists it
// verbatim inside the build manifest's last_processed map.
type Cursor map[string]any

// Request is what the orchestrator hands a plugin on each run.
type Request struct {
	RepoPath      string
	RepoID        string
	AuthToken     string
	SourceConfig  any
	LastProcessed Cursor
}

// Result is what a plugin hands back. A plugin that errors returns a
// zero Result; a plugin that partially succeeds still returns whatever it
// managed plus a cursor that lets the next run resume exactly there.
type Result struct {
	Nodes            []schema.Node
	Edges            []schema.Edge
	NewLastProcessed Cursor
}

// Plugin is the contract of spec §4.3. Ingest must never panic; every
// failure mode it cannot recover from locally should be returned as an
// *errors.Error with Kind set per the taxonomy in §7 (KindAuth is the only
// kind that should actually abort this ingestor's run — everything else is
// retried, logged-and-skipped, or folded into a partial Result).
type Plugin interface {
	Name() string
	NodeTypes() []schema.NodeType
	EdgeTypes() []schema.EdgeRel
	Ingest(ctx context.Context, req Request) (Result, error)
}
