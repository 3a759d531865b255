package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/sellflow/pkg/persistence"
	"github.com/dukex/sellflow/pkg/persistence/file"
	"github.com/dukex/sellflow/pkg/persistence/postgresql"
)

// NewPersistence opens snapshot storage for databaseURL: postgres:// and postgresql://
// URLs use PostgreSQL, anything else is a directory for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres":
		db, err := postgresql.NewPersistence(ctx, logger.With("module", "postgresql"), databaseURL)
		if err != nil {
			return nil, err
		}

		return db, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "file"
	}
}
