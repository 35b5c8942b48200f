// Package db selects the RunArchive implementation named by the config.
package db

import (
	"context"
	"fmt"
	"time"

	"bulksms/internal/adapters/db/postgres"
	"bulksms/internal/adapters/db/sqlite"
	"bulksms/internal/config"
	"bulksms/internal/ports"

	"github.com/rs/zerolog"
)

// OpenArchive returns the configured archive, or nil when ARCHIVE_DRIVER is
// "none". The schema is created if missing.
func OpenArchive(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ports.RunArchive, error) {
	switch cfg.ArchiveDriver {
	case config.ArchivePostgres:
		a, err := postgres.Open(cfg.DatabaseURL, cfg.LogLevel == "debug")
		if err != nil {
			return nil, err
		}
		if err := a.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		log.Info().Str("driver", cfg.ArchiveDriver).Msg("run archive ready")
		return a, nil

	case config.ArchiveSQLite:
		a, err := sqlite.Open(cfg.SQLitePath, 5*time.Second)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", cfg.ArchiveDriver).Str("path", cfg.SQLitePath).Msg("run archive ready")
		return a, nil

	case config.ArchiveNone, "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.ArchiveDriver)
	}
}
