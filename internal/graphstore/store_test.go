package graphstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-computer/arc-memory/internal/config"
	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// storeFactories enumerates every backend this package ships so the
// conformance suite below exercises all of them with a single set of
// assertions. Postgres needs a live server and is covered separately.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"bbolt": func() Store { return NewBboltStore(filepath.Join(t.TempDir(), "graph.db")) },
		"sqlite": func() Store { return NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db")) },
	}
}

func openStore(t *testing.T, factory func() Store) Store {
	t.Helper()
	store := factory()
	ctx := context.Background()
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.InitSchema(ctx))
	t.Cleanup(func() { _ = store.Disconnect() })
	return store
}

func TestStore_AddAndGetNode(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			now := time.Now().UTC().Truncate(time.Second)
			node := schema.Node{
				ID: "file:a.go", Type: schema.NodeFile, Title: "a.go", Body: "package a",
				TS: &now, RepoID: "repo:1", Extra: map[string]any{"path": "a.go"},
			}
			require.NoError(t, store.AddNodesAndEdges(ctx, []schema.Node{node}, nil))

			got, err := store.GetNodeByID(ctx, "file:a.go")
			require.NoError(t, err)
			assert.Equal(t, node.ID, got.ID)
			assert.Equal(t, node.Title, got.Title)
			assert.Equal(t, "a.go", got.Extra["path"])
			require.NotNil(t, got.TS)
			assert.True(t, now.Equal(*got.TS))
		})
	}
}

func TestStore_GetNodeByID_NotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			_, err := store.GetNodeByID(ctx, "missing")
			require.Error(t, err)
			assert.Equal(t, arcerrors.KindNotFound, arcerrors.KindOf(err))
		})
	}
}

func TestStore_AddNodesAndEdges_RejectsDanglingEdge(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			err := store.AddNodesAndEdges(ctx, nil, []schema.Edge{
				{Src: "svc:a", Dst: "svc:b", Rel: schema.RelDependsOn},
			})
			require.Error(t, err)

			count, err := store.EdgeCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

func TestStore_AddNodesAndEdges_DedupesByTriple(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			nodes := []schema.Node{{ID: "svc:a", Type: schema.NodeService}, {ID: "svc:b", Type: schema.NodeService}}
			edge := schema.Edge{Src: "svc:a", Dst: "svc:b", Rel: schema.RelDependsOn}
			require.NoError(t, store.AddNodesAndEdges(ctx, nodes, []schema.Edge{edge}))
			require.NoError(t, store.AddNodesAndEdges(ctx, nil, []schema.Edge{edge}))

			count, err := store.EdgeCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestStore_GetNodesByType_FiltersByRepo(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			nodes := []schema.Node{
				{ID: "svc:a", Type: schema.NodeService, RepoID: "repo:1"},
				{ID: "svc:b", Type: schema.NodeService, RepoID: "repo:2"},
				{ID: "file:a.go", Type: schema.NodeFile, RepoID: "repo:1"},
			}
			require.NoError(t, store.AddNodesAndEdges(ctx, nodes, nil))

			all, err := store.GetNodesByType(ctx, schema.NodeService, nil)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			filtered, err := store.GetNodesByType(ctx, schema.NodeService, []string{"repo:1"})
			require.NoError(t, err)
			require.Len(t, filtered, 1)
			assert.Equal(t, "svc:a", filtered[0].ID)
		})
	}
}

func TestStore_GetEdgesBySrcAndDst(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			nodes := []schema.Node{{ID: "svc:a", Type: schema.NodeService}, {ID: "svc:b", Type: schema.NodeService}}
			edges := []schema.Edge{
				{Src: "svc:a", Dst: "svc:b", Rel: schema.RelDependsOn},
				{Src: "svc:a", Dst: "svc:b", Rel: schema.RelContains},
			}
			require.NoError(t, store.AddNodesAndEdges(ctx, nodes, edges))

			bySrc, err := store.GetEdgesBySrc(ctx, "svc:a", schema.RelDependsOn)
			require.NoError(t, err)
			require.Len(t, bySrc, 1)
			assert.Equal(t, "svc:b", bySrc[0].Dst)

			byDst, err := store.GetEdgesByDst(ctx, "svc:b", "")
			require.NoError(t, err)
			assert.Len(t, byDst, 2)
		})
	}
}

func TestStore_MetadataRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			require.NoError(t, store.SaveMetadata(ctx, "k1", map[string]any{"a": 1.0}))
			got, err := store.GetMetadata(ctx, "k1", nil)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": 1.0}, got)

			missing, err := store.GetMetadata(ctx, "absent", "fallback")
			require.NoError(t, err)
			assert.Equal(t, "fallback", missing)

			all, err := store.GetAllMetadata(ctx)
			require.NoError(t, err)
			assert.Contains(t, all, "k1")
		})
	}
}

func TestStore_RefreshTimestampRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			missing, err := store.GetRefreshTimestamp(ctx, "github")
			require.NoError(t, err)
			assert.Nil(t, missing)

			now := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, store.SaveRefreshTimestamp(ctx, "github", now))

			got, err := store.GetRefreshTimestamp(ctx, "github")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, now.Equal(*got))
		})
	}
}

func TestStore_RepositoryLifecycle(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			id1, err := store.EnsureRepository(ctx, "/repos/a", "a")
			require.NoError(t, err)
			id2, err := store.EnsureRepository(ctx, "/repos/a", "a")
			require.NoError(t, err)
			assert.Equal(t, id1, id2, "EnsureRepository is idempotent for the same path")

			repos, err := store.ListRepositories(ctx)
			require.NoError(t, err)
			require.Len(t, repos, 1)
			assert.Equal(t, "/repos/a", repos[0].RootPath)

			require.NoError(t, store.SetActiveRepositories(ctx, []string{id1}))
			active, err := store.GetActiveRepositories(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{id1}, active)
		})
	}
}

func TestStore_BuildManifestRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			none, err := store.GetBuildManifest(ctx)
			require.NoError(t, err)
			assert.Nil(t, none)

			manifest := BuildManifest{
				SchemaVersion: "0.2", BuildTime: time.Now().UTC().Truncate(time.Second),
				HeadCommit: "abc123", NodeCount: 2, EdgeCount: 1,
				LastProcessed: map[string]any{"github": "2026-07-01T00:00:00Z"},
			}
			require.NoError(t, store.SaveBuildManifest(ctx, manifest))

			got, err := store.GetBuildManifest(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, manifest.SchemaVersion, got.SchemaVersion)
			assert.Equal(t, manifest.HeadCommit, got.HeadCommit)
			assert.Equal(t, manifest.NodeCount, got.NodeCount)
		})
	}
}

func TestStore_NodeAndEdgeCounts(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := openStore(t, factory)
			ctx := context.Background()

			nodes := []schema.Node{{ID: "svc:a", Type: schema.NodeService}, {ID: "svc:b", Type: schema.NodeService}}
			edges := []schema.Edge{{Src: "svc:a", Dst: "svc:b", Rel: schema.RelDependsOn}}
			require.NoError(t, store.AddNodesAndEdges(ctx, nodes, edges))

			nc, err := store.NodeCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, nc)

			ec, err := store.EdgeCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, ec)
		})
	}
}

func TestNew_SelectsBackendByConfig(t *testing.T) {
	store, err := New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "graph.db")})
	require.NoError(t, err)
	_, ok := store.(*BboltStore)
	assert.True(t, ok)

	store, err = New(config.StoreConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "graph.db")})
	require.NoError(t, err)
	_, ok = store.(*SQLiteStore)
	assert.True(t, ok)

	_, err = New(config.StoreConfig{Backend: "unknown"})
	require.Error(t, err)
	assert.Equal(t, arcerrors.KindParse, arcerrors.KindOf(err))
}
