// Package graphstore implements the database-agnostic graph store adapter
// (C1): node/edge tables, metadata, refresh timestamps, the repository
// registry, and query primitives, behind a single Store interface with
// three interchangeable backends (bbolt, sqlite, postgres).
package graphstore

import (
	"context"
	"time"

	"github.com/arc-computer/arc-memory/internal/schema"
)

// BuildManifest is the metadata row described in spec §3.3: schema
// version, build timestamp, head commit, counts, and per-ingestor cursor.
type BuildManifest struct {
	SchemaVersion string         `json:"schema_version"`
	BuildTime     time.Time      `json:"build_time"`
	HeadCommit    string         `json:"head_commit,omitempty"`
	NodeCount     int            `json:"node_count"`
	EdgeCount     int            `json:"edge_count"`
	LastProcessed map[string]any `json:"last_processed"`
}

// Repository is a row in the repositories registry (§3.3).
type Repository struct {
	ID       string    `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	RootPath string    `json:"root_path" db:"root_path"`
	AddedAt  time.Time `json:"added_at" db:"added_at"`
}

// Store is the contract every backend implements. Every operation fails
// with a *errors.Error of Kind KindDatabase, except GetNodeByID, which
// reports a missing node with Kind KindNotFound; partial writes are rolled
// back. Implementations are not required to be safe for concurrent
// writers — callers serialize writes through the build orchestrator.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect() error
	InitSchema(ctx context.Context) error

	// AddNodesAndEdges commits nodes and edges transactionally. Nodes are
	// upserted by ID; edges are deduplicated by (src, dst, rel) — a
	// re-ingested edge is a no-op. Dangling edges (endpoints absent from
	// both the store and this same batch) are rejected atomically.
	AddNodesAndEdges(ctx context.Context, nodes []schema.Node, edges []schema.Edge) error

	GetNodeByID(ctx context.Context, id string) (*schema.Node, error)
	GetNodesByType(ctx context.Context, nodeType schema.NodeType, repoFilter []string) ([]schema.Node, error)
	GetEdgesBySrc(ctx context.Context, id string, rel schema.EdgeRel) ([]schema.Edge, error)
	GetEdgesByDst(ctx context.Context, id string, rel schema.EdgeRel) ([]schema.Edge, error)

	NodeCount(ctx context.Context) (int, error)
	EdgeCount(ctx context.Context) (int, error)

	SaveMetadata(ctx context.Context, key string, value any) error
	GetMetadata(ctx context.Context, key string, defaultValue any) (any, error)
	GetAllMetadata(ctx context.Context) (map[string]any, error)

	SaveRefreshTimestamp(ctx context.Context, source string, instant time.Time) error
	GetRefreshTimestamp(ctx context.Context, source string) (*time.Time, error)

	EnsureRepository(ctx context.Context, rootPath, name string) (string, error)
	ListRepositories(ctx context.Context) ([]Repository, error)
	SetActiveRepositories(ctx context.Context, ids []string) error
	GetActiveRepositories(ctx context.Context) ([]string, error)

	SaveBuildManifest(ctx context.Context, manifest BuildManifest) error
	GetBuildManifest(ctx context.Context) (*BuildManifest, error)
}

// metadataKeyManifest is the well-known metadata key the build manifest is
// stored under, so that "the build manifest lives inside graph.db as a
// metadata row" (§3.3) is literally true across every backend.
const metadataKeyManifest = "build_manifest"

// metadataKeyActiveRepos is the session-setting key used for the
// "active repositories" row-level filter (§4.1).
const metadataKeyActiveRepos = "active_repositories"

const refreshTimestampPrefix = "refresh_timestamp:"
