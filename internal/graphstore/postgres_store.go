package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
)

var postgresDialect = dialect{
	name: "postgres",
	nodeUpsert: `INSERT INTO nodes (id, type, title, body, ts, repo_id, extra)
		VALUES (:id, :type, :title, :body, :ts, :repo_id, :extra)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, title = EXCLUDED.title, body = EXCLUDED.body,
			ts = EXCLUDED.ts, repo_id = EXCLUDED.repo_id, extra = EXCLUDED.extra`,
	edgeUpsert: `INSERT INTO edges (src, dst, rel, properties)
		VALUES (:src, :dst, :rel, :properties)
		ON CONFLICT (src, dst, rel) DO NOTHING`,
	metaUpsert: `INSERT INTO metadata (key, value) VALUES (:key, :value)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
	refreshUpsert: `INSERT INTO refresh_timestamps (source, ts) VALUES (:source, :ts)
		ON CONFLICT (source) DO UPDATE SET ts = EXCLUDED.ts`,
	repoUpsert: `INSERT INTO repositories (id, name, root_path, added_at)
		VALUES (:id, :name, :root_path, :added_at)
		ON CONFLICT (id) DO NOTHING`,
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT,
	body TEXT,
	ts TIMESTAMPTZ,
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
	added_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS refresh_timestamps (
	source TEXT PRIMARY KEY,
	ts TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
CREATE INDEX IF NOT EXISTS idx_nodes_repo ON nodes(repo_id);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst, rel);
`

// PostgresStore is the remote backend for teams sharing one graph across
// machines. Grounded on the teacher's internal/storage/postgres.go: same
// sqlx.Connect("pgx", dsn) over the registered jackc/pgx/v5/stdlib driver
// and the same pool tuning, generalized to the node/edge schema.
type PostgresStore struct {
	*relationalStore
	dsn string
}

// NewPostgresStore returns a store bound to dsn; call Connect to open it.
func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{dsn: dsn}
}

func (s *PostgresStore) Connect(ctx context.Context) error {
	db, err := sqlx.Connect("pgx", s.dsn)
	if err != nil {
		return arcerrors.Wrap(err, arcerrors.KindDatabase, "graphstore.postgres", "Connect", "connect to postgres failed")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s.relationalStore = &relationalStore{db: db, d: postgresDialect, source: "postgres"}
	return s.InitSchema(ctx)
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.relationalStore.db.ExecContext(ctx, postgresSchema)
	if err != nil {
		return s.relationalStore.wrapErr(fmt.Errorf("init schema: %w", err), "InitSchema")
	}
	return nil
}
