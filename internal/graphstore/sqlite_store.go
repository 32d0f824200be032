package graphstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
)

var sqliteDialect = dialect{
	name: "sqlite",
	nodeUpsert: `INSERT OR REPLACE INTO nodes (id, type, title, body, ts, repo_id, extra)
		VALUES (:id, :type, :title, :body, :ts, :repo_id, :extra)`,
	edgeUpsert: `INSERT OR IGNORE INTO edges (src, dst, rel, properties)
		VALUES (:src, :dst, :rel, :properties)`,
	metaUpsert: `INSERT OR REPLACE INTO metadata (key, value) VALUES (:key, :value)`,
	refreshUpsert: `INSERT OR REPLACE INTO refresh_timestamps (source, ts) VALUES (:source, :ts)`,
	repoUpsert: `INSERT OR IGNORE INTO repositories (id, name, root_path, added_at)
		VALUES (:id, :name, :root_path, :added_at)`,
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT,
	body TEXT,
	ts DATETIME,
	repo_id TEXT,
	extra TEXT
);

CREATE TABLE IF NOT EXISTS edges (
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	rel TEXT NOT NULL,
	properties TEXT,
	PRIMARY KEY (src, dst, rel)
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	added_at DATETIME
);

CREATE TABLE IF NOT EXISTS refresh_timestamps (
	source TEXT PRIMARY KEY,
	ts DATETIME
);

CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
CREATE INDEX IF NOT EXISTS idx_nodes_repo ON nodes(repo_id);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst, rel);
`

// SQLiteStore is the alternate embedded backend, for callers who need SQL
// query access to the graph rather than bbolt's key/value buckets.
type SQLiteStore struct {
	*relationalStore
	path string
}

// NewSQLiteStore returns a store bound to path; call Connect to open it.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return arcerrors.Wrap(err, arcerrors.KindDatabase, "graphstore.sqlite", "Connect", "create database directory failed")
	}

	db, err := sqlx.Connect("sqlite3", s.path)
	if err != nil {
		return arcerrors.Wrap(err, arcerrors.KindDatabase, "graphstore.sqlite", "Connect", "connect to sqlite failed")
	}
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	s.relationalStore = &relationalStore{db: db, d: sqliteDialect, source: "sqlite"}
	return s.InitSchema(ctx)
}

func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	_, err := s.relationalStore.db.ExecContext(ctx, sqliteSchema)
	if err != nil {
		return s.relationalStore.wrapErr(fmt.Errorf("init schema: %w", err), "InitSchema")
	}
	return nil
}
