package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/schema"
)

// dialect captures the handful of places sqlite and postgres genuinely
// differ: upsert syntax and the source name used in error context.
// Everything else (queries, scanning, transactions) is shared.
type dialect struct {
	name         string
	nodeUpsert   string
	edgeUpsert   string
	metaUpsert   string
	refreshUpsert string
	repoUpsert   string
}

// relationalStore implements Store against sqlx for the two SQL-backed
// dialects (sqlite via mattn/go-sqlite3, postgres via jackc/pgx/v5/stdlib),
// grounded on the teacher's internal/storage/sqlite.go and postgres.go:
// same sqlx.Connect + BeginTxx + ExecContext shape, generalized from the
// coderisk-specific tables to the generic node/edge/metadata schema.
type relationalStore struct {
	db *sqlx.DB
	d  dialect
	source string
}

type nodeRow struct {
	ID     string         `db:"id"`
	Type   string         `db:"type"`
	Title  string         `db:"title"`
	Body   string         `db:"body"`
	TS     sql.NullTime   `db:"ts"`
	RepoID string         `db:"repo_id"`
	Extra  sql.NullString `db:"extra"`
}

func (r nodeRow) toNode() (schema.Node, error) {
	n := schema.Node{
		ID:     r.ID,
		Type:   schema.NodeType(r.Type),
		Title:  r.Title,
		Body:   r.Body,
		RepoID: r.RepoID,
	}
	if r.TS.Valid {
		t := r.TS.Time
		n.TS = &t
	}
	if r.Extra.Valid && r.Extra.String != "" {
		if err := json.Unmarshal([]byte(r.Extra.String), &n.Extra); err != nil {
			return schema.Node{}, err
		}
	}
	return n, nil
}

func nodeToRow(n schema.Node) (nodeRow, error) {
	row := nodeRow{ID: n.ID, Type: string(n.Type), Title: n.Title, Body: n.Body, RepoID: n.RepoID}
	if n.TS != nil {
		row.TS = sql.NullTime{Time: *n.TS, Valid: true}
	}
	if len(n.Extra) > 0 {
		raw, err := json.Marshal(n.Extra)
		if err != nil {
			return nodeRow{}, err
		}
		row.Extra = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

type edgeRow struct {
	Src        string         `db:"src"`
	Dst        string         `db:"dst"`
	Rel        string         `db:"rel"`
	Properties sql.NullString `db:"properties"`
}

func (r edgeRow) toEdge() (schema.Edge, error) {
	e := schema.Edge{Src: r.Src, Dst: r.Dst, Rel: schema.EdgeRel(r.Rel)}
	if r.Properties.Valid && r.Properties.String != "" {
		if err := json.Unmarshal([]byte(r.Properties.String), &e.Properties); err != nil {
			return schema.Edge{}, err
		}
	}
	return e, nil
}

func (s *relationalStore) wrapErr(err error, operation string) error {
	if err == nil {
		return nil
	}
	return arcerrors.Wrap(err, arcerrors.KindDatabase, "graphstore."+s.source, operation, "sql operation failed")
}

func (s *relationalStore) Disconnect() error {
	return s.wrapErr(s.db.Close(), "Disconnect")
}

func (s *relationalStore) AddNodesAndEdges(ctx context.Context, nodes []schema.Node, edges []schema.Edge) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.wrapErr(err, "AddNodesAndEdges")
	}
	defer tx.Rollback()

	existing := func(id string) bool {
		var count int
		_ = tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM nodes WHERE id = ?`), id)
		return count > 0
	}
	batchIDs := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		batchIDs[n.ID] = true
	}
	for _, e := range edges {
		if !batchIDs[e.Src] && !existing(e.Src) {
			return s.wrapErr(arcerrors.New(arcerrors.KindDatabase, "graphstore."+s.source, "AddNodesAndEdges", "dangling edge: src does not exist").WithDetail("src", e.Src), "AddNodesAndEdges")
		}
		if !batchIDs[e.Dst] && !existing(e.Dst) {
			return s.wrapErr(arcerrors.New(arcerrors.KindDatabase, "graphstore."+s.source, "AddNodesAndEdges", "dangling edge: dst does not exist").WithDetail("dst", e.Dst), "AddNodesAndEdges")
		}
	}

	for _, n := range nodes {
		row, err := nodeToRow(n)
		if err != nil {
			return s.wrapErr(err, "AddNodesAndEdges")
		}
		if _, err := tx.NamedExecContext(ctx, s.d.nodeUpsert, row); err != nil {
			return s.wrapErr(err, "AddNodesAndEdges")
		}
	}

	for _, e := range edges {
		raw, err := json.Marshal(e.Properties)
		if err != nil {
			return s.wrapErr(err, "AddNodesAndEdges")
		}
		row := edgeRow{Src: e.Src, Dst: e.Dst, Rel: string(e.Rel), Properties: sql.NullString{String: string(raw), Valid: len(e.Properties) > 0}}
		if _, err := tx.NamedExecContext(ctx, s.d.edgeUpsert, row); err != nil {
			return s.wrapErr(err, "AddNodesAndEdges")
		}
	}

	return s.wrapErr(tx.Commit(), "AddNodesAndEdges")
}

func (s *relationalStore) GetNodeByID(ctx context.Context, id string) (*schema.Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, type, title, body, ts, repo_id, extra FROM nodes WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, arcerrors.New(arcerrors.KindNotFound, "graphstore."+s.source, "GetNodeByID", "node not found").WithDetail("id", id)
	}
	if err != nil {
		return nil, s.wrapErr(err, "GetNodeByID")
	}
	n, err := row.toNode()
	if err != nil {
		return nil, s.wrapErr(err, "GetNodeByID")
	}
	return &n, nil
}

func (s *relationalStore) GetNodesByType(ctx context.Context, nodeType schema.NodeType, repoFilter []string) ([]schema.Node, error) {
	query := `SELECT id, type, title, body, ts, repo_id, extra FROM nodes WHERE type = ?`
	args := []any{string(nodeType)}
	if len(repoFilter) > 0 {
		query += ` AND repo_id IN (?)`
		expanded, inArgs, err := sqlx.In(query, args[0], repoFilter)
		if err != nil {
			return nil, s.wrapErr(err, "GetNodesByType")
		}
		query = expanded
		args = inArgs
	}

	var rows []nodeRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, s.wrapErr(err, "GetNodesByType")
	}
	out := make([]schema.Node, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNode()
		if err != nil {
			return nil, s.wrapErr(err, "GetNodesByType")
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *relationalStore) getEdgesBy(ctx context.Context, column, id string, rel schema.EdgeRel) ([]schema.Edge, error) {
	query := `SELECT src, dst, rel, properties FROM edges WHERE ` + column + ` = ?`
	args := []any{id}
	if rel != "" {
		query += ` AND rel = ?`
		args = append(args, string(rel))
	}
	var rows []edgeRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, s.wrapErr(err, "getEdgesBy")
	}
	out := make([]schema.Edge, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEdge()
		if err != nil {
			return nil, s.wrapErr(err, "getEdgesBy")
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *relationalStore) GetEdgesBySrc(ctx context.Context, id string, rel schema.EdgeRel) ([]schema.Edge, error) {
	return s.getEdgesBy(ctx, "src", id, rel)
}

func (s *relationalStore) GetEdgesByDst(ctx context.Context, id string, rel schema.EdgeRel) ([]schema.Edge, error) {
	return s.getEdgesBy(ctx, "dst", id, rel)
}

func (s *relationalStore) NodeCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM nodes`)
	return n, s.wrapErr(err, "NodeCount")
}

func (s *relationalStore) EdgeCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM edges`)
	return n, s.wrapErr(err, "EdgeCount")
}

func (s *relationalStore) SaveMetadata(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return s.wrapErr(err, "SaveMetadata")
	}
	_, err = s.db.NamedExecContext(ctx, s.d.metaUpsert, map[string]any{"key": key, "value": string(raw)})
	return s.wrapErr(err, "SaveMetadata")
}

func (s *relationalStore) GetMetadata(ctx context.Context, key string, defaultValue any) (any, error) {
	var raw sql.NullString
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`SELECT value FROM metadata WHERE key = ?`), key)
	if err == sql.ErrNoRows || !raw.Valid {
		return defaultValue, nil
	}
	if err != nil {
		return nil, s.wrapErr(err, "GetMetadata")
	}
	var result any = defaultValue
	if err := json.Unmarshal([]byte(raw.String), &result); err != nil {
		return nil, s.wrapErr(err, "GetMetadata")
	}
	return result, nil
}

func (s *relationalStore) GetAllMetadata(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, s.wrapErr(err, "GetAllMetadata")
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, s.wrapErr(err, "GetAllMetadata")
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			return nil, s.wrapErr(err, "GetAllMetadata")
		}
		out[key] = decoded
	}
	return out, s.wrapErr(rows.Err(), "GetAllMetadata")
}

func (s *relationalStore) SaveRefreshTimestamp(ctx context.Context, source string, instant time.Time) error {
	_, err := s.db.NamedExecContext(ctx, s.d.refreshUpsert, map[string]any{"source": source, "ts": instant.UTC()})
	return s.wrapErr(err, "SaveRefreshTimestamp")
}

func (s *relationalStore) GetRefreshTimestamp(ctx context.Context, source string) (*time.Time, error) {
	var ts sql.NullTime
	err := s.db.GetContext(ctx, &ts, s.db.Rebind(`SELECT ts FROM refresh_timestamps WHERE source = ?`), source)
	if err == sql.ErrNoRows || !ts.Valid {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrapErr(err, "GetRefreshTimestamp")
	}
	t := ts.Time.UTC()
	return &t, nil
}

func (s *relationalStore) EnsureRepository(ctx context.Context, rootPath, name string) (string, error) {
	id := schema.RepositoryID(rootPath)
	_, err := s.db.NamedExecContext(ctx, s.d.repoUpsert, map[string]any{
		"id": id, "name": name, "root_path": rootPath, "added_at": time.Now().UTC(),
	})
	return id, s.wrapErr(err, "EnsureRepository")
}

func (s *relationalStore) ListRepositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	err := s.db.SelectContext(ctx, &repos, `SELECT id, name, root_path, added_at FROM repositories`)
	return repos, s.wrapErr(err, "ListRepositories")
}

func (s *relationalStore) SetActiveRepositories(ctx context.Context, ids []string) error {
	return s.SaveMetadata(ctx, metadataKeyActiveRepos, ids)
}

func (s *relationalStore) GetActiveRepositories(ctx context.Context) ([]string, error) {
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
			if str, ok := x.(string); ok {
				out = append(out, str)
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

func (s *relationalStore) SaveBuildManifest(ctx context.Context, manifest BuildManifest) error {
	return s.SaveMetadata(ctx, metadataKeyManifest, manifest)
}

func (s *relationalStore) GetBuildManifest(ctx context.Context) (*BuildManifest, error) {
	raw, err := s.GetMetadata(ctx, metadataKeyManifest, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	// GetMetadata round-trips through json.Unmarshal into an `any`, so the
	// manifest comes back as map[string]any; re-marshal and decode typed.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, s.wrapErr(err, "GetBuildManifest")
	}
	var m BuildManifest
	if err := json.Unmarshal(encoded, &m); err != nil {
		return nil, s.wrapErr(err, "GetBuildManifest")
	}
	return &m, nil
}
