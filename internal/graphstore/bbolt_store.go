package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/schema"
)

var (
	bucketNodes       = []byte("nodes")
	bucketEdgesBySrc  = []byte("edges_by_src")
	bucketEdgesByDst  = []byte("edges_by_dst")
	bucketMetadata    = []byte("metadata")
	bucketRepos       = []byte("repositories")
	bucketRefresh     = []byte("refresh_timestamps")
)

// BboltStore is the default single-file embedded graph store: the literal
// "graph.db" of spec §6.1. Every node/edge/metadata/repository row lives in
// one bbolt file, organized into buckets indexed for both query directions.
type BboltStore struct {
	path string
	db   *bbolt.DB
	mu   sync.Mutex
}

// NewBboltStore returns a store bound to path; call Connect to open it.
func NewBboltStore(path string) *BboltStore {
	return &BboltStore{path: path}
}

func dbErr(err error, operation string) error {
	if err == nil {
		return nil
	}
	return arcerrors.Wrap(err, arcerrors.KindDatabase, "graphstore.bbolt", operation, "bbolt operation failed")
}

func (s *BboltStore) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return dbErr(err, "Connect")
	}
	db, err := bbolt.Open(s.path, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return dbErr(err, "Connect")
	}
	s.db = db
	return s.InitSchema(ctx)
}

func (s *BboltStore) Disconnect() error {
	if s.db == nil {
		return nil
	}
	return dbErr(s.db.Close(), "Disconnect")
}

func (s *BboltStore) InitSchema(ctx context.Context) error {
	return dbErr(s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketEdgesBySrc, bucketEdgesByDst, bucketMetadata, bucketRepos, bucketRefresh} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}), "InitSchema")
}

func edgeSrcKey(e schema.Edge) []byte {
	return []byte(e.Src + "\x00" + string(e.Rel) + "\x00" + e.Dst)
}

func edgeDstKey(e schema.Edge) []byte {
	return []byte(e.Dst + "\x00" + string(e.Rel) + "\x00" + e.Src)
}

// AddNodesAndEdges upserts nodes by ID and inserts edges, deduplicating by
// (src, dst, rel) — an edge already present is a silent no-op. Endpoints
// are required to exist either already in the node bucket or within this
// same batch (invariant 2); anything else aborts the whole transaction.
func (s *BboltStore) AddNodesAndEdges(ctx context.Context, nodes []schema.Node, edges []schema.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return dbErr(s.db.Update(func(tx *bbolt.Tx) error {
		nb := tx.Bucket(bucketNodes)

		batchIDs := make(map[string]bool, len(nodes))
		for _, n := range nodes {
			batchIDs[n.ID] = true
		}

		for _, e := range edges {
			if !batchIDs[e.Src] && nb.Get([]byte(e.Src)) == nil {
				return fmt.Errorf("dangling edge: src %q does not exist", e.Src)
			}
			if !batchIDs[e.Dst] && nb.Get([]byte(e.Dst)) == nil {
				return fmt.Errorf("dangling edge: dst %q does not exist", e.Dst)
			}
		}

		for _, n := range nodes {
			raw, err := json.Marshal(n)
			if err != nil {
				return err
			}
			if err := nb.Put([]byte(n.ID), raw); err != nil {
				return err
			}
		}

		srcB := tx.Bucket(bucketEdgesBySrc)
		dstB := tx.Bucket(bucketEdgesByDst)
		for _, e := range edges {
			srcKey := edgeSrcKey(e)
			if srcB.Get(srcKey) != nil {
				continue // already present: (src,dst,rel) no-op
			}
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := srcB.Put(srcKey, raw); err != nil {
				return err
			}
			if err := dstB.Put(edgeDstKey(e), raw); err != nil {
				return err
			}
		}
		return nil
	}), "AddNodesAndEdges")
}

func (s *BboltStore) GetNodeByID(ctx context.Context, id string) (*schema.Node, error) {
	var node *schema.Node
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketNodes).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var n schema.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		node = &n
		return nil
	})
	if err != nil {
		return nil, dbErr(err, "GetNodeByID")
	}
	if node == nil {
		return nil, arcerrors.New(arcerrors.KindNotFound, "graphstore.bbolt", "GetNodeByID", "node not found").WithDetail("id", id)
	}
	return node, nil
}

func (s *BboltStore) GetNodesByType(ctx context.Context, nodeType schema.NodeType, repoFilter []string) ([]schema.Node, error) {
	allowed := make(map[string]bool, len(repoFilter))
	for _, r := range repoFilter {
		allowed[r] = true
	}

	var out []schema.Node
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, raw []byte) error {
			var n schema.Node
			if err := json.Unmarshal(raw, &n); err != nil {
				return err
			}
			if n.Type != nodeType {
				return nil
			}
			if len(allowed) > 0 && !allowed[n.RepoID] {
				return nil
			}
			out = append(out, n)
			return nil
		})
	})
	return out, dbErr(err, "GetNodesByType")
}

func (s *BboltStore) getEdgesByPrefix(bucket []byte, id string, rel schema.EdgeRel) ([]schema.Edge, error) {
	var out []schema.Edge
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		prefix := []byte(id + "\x00")
		if rel != "" {
			prefix = []byte(id + "\x00" + string(rel) + "\x00")
		}
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e schema.Edge
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, dbErr(err, "getEdgesByPrefix")
}

func (s *BboltStore) GetEdgesBySrc(ctx context.Context, id string, rel schema.EdgeRel) ([]schema.Edge, error) {
	return s.getEdgesByPrefix(bucketEdgesBySrc, id, rel)
}

func (s *BboltStore) GetEdgesByDst(ctx context.Context, id string, rel schema.EdgeRel) ([]schema.Edge, error) {
	edges, err := s.getEdgesByPrefix(bucketEdgesByDst, id, rel)
	if err != nil {
		return nil, err
	}
	// The dst-index stores the same edge; src/dst fields are unchanged,
	// callers read Src/Dst off the edge itself so no swap is needed.
	return edges, nil
}

func (s *BboltStore) NodeCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketNodes).Stats().KeyN
		return nil
	})
	return n, dbErr(err, "NodeCount")
}

func (s *BboltStore) EdgeCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEdgesBySrc).Stats().KeyN
		return nil
	})
	return n, dbErr(err, "EdgeCount")
}

func (s *BboltStore) SaveMetadata(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return dbErr(err, "SaveMetadata")
	}
	return dbErr(s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte(key), raw)
	}), "SaveMetadata")
}

func (s *BboltStore) GetMetadata(ctx context.Context, key string, defaultValue any) (any, error) {
	var result any = defaultValue
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMetadata).Get([]byte(key))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &result)
	})
	return result, dbErr(err, "GetMetadata")
}

func (s *BboltStore) GetAllMetadata(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetadata).ForEach(func(k, v []byte) error {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			out[string(k)] = val
			return nil
		})
	})
	return out, dbErr(err, "GetAllMetadata")
}

func (s *BboltStore) SaveRefreshTimestamp(ctx context.Context, source string, instant time.Time) error {
	return dbErr(s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRefresh).Put([]byte(source), []byte(instant.UTC().Format(time.RFC3339Nano)))
	}), "SaveRefreshTimestamp")
}

func (s *BboltStore) GetRefreshTimestamp(ctx context.Context, source string) (*time.Time, error) {
	var ts *time.Time
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketRefresh).Get([]byte(source))
		if raw == nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return err
		}
		ts = &t
		return nil
	})
	return ts, dbErr(err, "GetRefreshTimestamp")
}

func (s *BboltStore) EnsureRepository(ctx context.Context, rootPath, name string) (string, error) {
	id := schema.RepositoryID(rootPath)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRepos)
		if b.Get([]byte(id)) != nil {
			return nil
		}
		repo := Repository{ID: id, Name: name, RootPath: rootPath, AddedAt: time.Now().UTC()}
		raw, err := json.Marshal(repo)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), raw)
	})
	return id, dbErr(err, "EnsureRepository")
}

func (s *BboltStore) ListRepositories(ctx context.Context) ([]Repository, error) {
	var out []Repository
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRepos).ForEach(func(_, v []byte) error {
			var r Repository
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, dbErr(err, "ListRepositories")
}

func (s *BboltStore) SetActiveRepositories(ctx context.Context, ids []string) error {
	return s.SaveMetadata(ctx, metadataKeyActiveRepos, ids)
}

func (s *BboltStore) GetActiveRepositories(ctx context.Context) ([]string, error) {
	raw, err := s.GetMetadata(ctx, metadataKeyActiveRepos, []string{})
	if err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

func (s *BboltStore) SaveBuildManifest(ctx context.Context, manifest BuildManifest) error {
	return s.SaveMetadata(ctx, metadataKeyManifest, manifest)
}

func (s *BboltStore) GetBuildManifest(ctx context.Context) (*BuildManifest, error) {
	var m *BuildManifest
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMetadata).Get([]byte(metadataKeyManifest))
		if data == nil {
			return nil
		}
		var decoded BuildManifest
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		m = &decoded
		return nil
	})
	return m, dbErr(err, "GetBuildManifest")
}
