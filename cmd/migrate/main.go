package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bulksms/internal/adapters/db/postgres"
	"bulksms/internal/config"
	"bulksms/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	conf, err := config.Load(config.LoadOptions{
		ConfigFile: *configPath,
		NoValidate: true,
		Overrides:  map[string]string{"ARCHIVE_DRIVER": config.ArchivePostgres},
	})
	if err == nil {
		err = conf.ValidateArchive()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	log := logging.New(conf.LogLevel, conf.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Info().Msg("connecting to database")
	archive, err := postgres.Open(conf.DatabaseURL, true)
	if err != nil {
		log.Error().Err(err).Msg("connect")
		os.Exit(1)
	}
	defer archive.Close()

	if err := archive.Migrate(ctx); err != nil {
		log.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}

	var tables []string
	archive.DB().WithContext(ctx).
		Raw("SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename LIKE 'sms_%' ORDER BY tablename").
		Scan(&tables)
	if len(tables) == 0 {
		log.Error().Msg("no archive tables found after migration")
		os.Exit(1)
	}

	for _, table := range tables {
		var columns []struct {
			ColumnName string
			DataType   string
		}
		archive.DB().WithContext(ctx).
			Raw("SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position", table).
			Scan(&columns)
		ev := log.Info().Str("table", table).Int("columns", len(columns))
		for _, c := range columns {
			ev = ev.Str(c.ColumnName, c.DataType)
		}
		ev.Msg("table ready")
	}
	log.Info().Msg("database ready")
}
