package db

import (
	"context"
	"path/filepath"
	"testing"

	"bulksms/internal/config"

	"github.com/rs/zerolog"
)

func TestOpenArchiveDrivers(t *testing.T) {
	ctx := context.Background()

	a, err := OpenArchive(ctx, &config.Config{ArchiveDriver: config.ArchiveNone}, zerolog.Nop())
	if err != nil || a != nil {
		t.Fatalf("expected no archive, got %v %v", a, err)
	}

	a, err = OpenArchive(ctx, &config.Config{
		ArchiveDriver: config.ArchiveSQLite,
		SQLitePath:    filepath.Join(t.TempDir(), "a.db"),
	}, zerolog.Nop())
	if err != nil || a == nil {
		t.Fatalf("expected sqlite archive, got %v", err)
	}
	_ = a.Close()

	if _, err := OpenArchive(ctx, &config.Config{ArchiveDriver: "mongo"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
