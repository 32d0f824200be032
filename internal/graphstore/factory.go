package graphstore

import (
	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
	"github.com/arc-computer/arc-memory/internal/config"
)

// New constructs the Store selected by cfg.Backend. Connect/InitSchema are
// not called here; the caller controls the connection lifecycle.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "bbolt":
		return NewBboltStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path), nil
	case "postgres":
		return NewPostgresStore(cfg.DSN), nil
	default:
		return nil, arcerrors.New(arcerrors.KindParse, "graphstore", "New", "unknown store backend").WithDetail("backend", cfg.Backend)
	}
}
