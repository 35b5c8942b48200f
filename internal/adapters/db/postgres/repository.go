package postgres

import (
	"context"
	"fmt"
	"time"

	"bulksms/internal/domain"
	"bulksms/internal/ports"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// RunRow is one batch run.
type RunRow struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status          string    `gorm:"size:16;not null"`
	TotalRecords    int       `gorm:"not null"`
	SuccessfulSends int       `gorm:"not null"`
	FailedSends     int       `gorm:"not null"`
	SkippedRecords  int       `gorm:"not null"`
	StartedAt       time.Time
	FinishedAt      time.Time
	DurationMS      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (RunRow) TableName() string { return "sms_runs" }

// AttemptRow is one send attempt, unique per (run_id, seq).
type AttemptRow struct {
	RunID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq         int       `gorm:"primaryKey;autoIncrement:false"`
	Phone       string    `gorm:"size:32;index"`
	DisplayName string
	Status      string `gorm:"size:16;not null"`
	MessageID   string `gorm:"size:128"`
	Error       string
	SentAt      time.Time
	DurationMS  int64
	CreatedAt   time.Time
}

func (AttemptRow) TableName() string { return "sms_attempts" }

// Models lists every table for AutoMigrate.
func Models() []any { return []any{&RunRow{}, &AttemptRow{}} }

// Archive implements ports.RunArchive on PostgreSQL through gorm.
type Archive struct {
	db *gorm.DB
}

var _ ports.RunArchive = (*Archive)(nil)

// Open connects to PostgreSQL and returns an Archive.
func Open(dsn string, debug bool) (*Archive, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Archive{db: db}, nil
}

// NewWithDB wraps an existing gorm handle.
func NewWithDB(db *gorm.DB) *Archive { return &Archive{db: db} }

// Migrate creates or updates the archive tables.
func (a *Archive) Migrate(ctx context.Context) error {
	if err := a.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DB exposes the gorm handle.
func (a *Archive) DB() *gorm.DB { return a.db }

// Close closes the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun upserts the run row and inserts all attempts in one transaction.
// Attempts that already exist are left untouched.
func (a *Archive) SaveRun(ctx context.Context, run *domain.BatchRunState) error {
	row := runRow(run)
	attempts := make([]AttemptRow, len(run.Results))
	for i, r := range run.Results {
		attempts[i] = attemptRow(ports.NewAttemptEvent(run.RunID, i, r))
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "total_records", "successful_sends", "failed_sends", "skipped_records", "started_at", "finished_at", "duration_ms", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert run %s: %w", run.RunID, err)
		}
		if len(attempts) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(attempts, 500).Error; err != nil {
			return fmt.Errorf("insert attempts for run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// SaveAttempt inserts one streamed attempt; duplicates are ignored.
func (a *Archive) SaveAttempt(ctx context.Context, ev ports.AttemptEvent) error {
	row := attemptRow(ev)
	if err := a.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("insert attempt %s/%d: %w", ev.RunID, ev.Seq, err)
	}
	return nil
}

func runRow(run *domain.BatchRunState) RunRow {
	return RunRow{
		ID:              run.RunID,
		Status:          string(run.Status),
		TotalRecords:    run.TotalRecords,
		SuccessfulSends: run.SuccessfulSends,
		FailedSends:     run.FailedSends,
		SkippedRecords:  run.SkippedRecords,
		StartedAt:       run.StartTime,
		FinishedAt:      run.EndTime,
		DurationMS:      run.Duration.Milliseconds(),
	}
}

func attemptRow(ev ports.AttemptEvent) AttemptRow {
	return AttemptRow{
		RunID:       ev.RunID,
		Seq:         ev.Seq,
		Phone:       ev.Phone,
		DisplayName: ev.DisplayName,
		Status:      ev.Status(),
		MessageID:   ev.MessageID,
		Error:       ev.Error,
		SentAt:      ev.SentAt,
		DurationMS:  ev.DurationMS,
	}
}
