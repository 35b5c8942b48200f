package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"bulksms/internal/adapters/sink/csvfile"
	"bulksms/internal/domain"
	"bulksms/internal/ports"
	"bulksms/internal/report"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventPublisher mirrors a run's results to the message queue.
type EventPublisher interface {
	ForRun(runID uuid.UUID) ports.ResultSink
}

// RunOptions configures where a run leaves its files.
type RunOptions struct {
	ResultsDir string
	Template   string
	Sink       csvfile.Options
}

// RunReport is what a finished run hands back to the caller.
type RunReport struct {
	State       *domain.BatchRunState
	ResultsPath string
	SummaryPath string
}

// BroadcastService is the central application service: it owns the result
// sink for one run, drives the dispatcher and records the outcome.
type BroadcastService struct {
	dispatcher *Dispatcher
	progress   ports.ProgressSink
	archive    ports.RunArchive // optional
	events     EventPublisher   // optional
	opts       RunOptions
	log        zerolog.Logger

	now func() time.Time
}

// NewBroadcastService wires the service with its dependencies. archive and
// events may be nil.
func NewBroadcastService(
	dispatcher *Dispatcher,
	progress ports.ProgressSink,
	archive ports.RunArchive,
	events EventPublisher,
	opts RunOptions,
	log zerolog.Logger,
) *BroadcastService {
	if opts.ResultsDir == "" {
		opts.ResultsDir = "."
	}
	return &BroadcastService{
		dispatcher: dispatcher,
		progress:   progress,
		archive:    archive,
		events:     events,
		opts:       opts,
		log:        log.With().Str("component", "broadcast").Logger(),
		now:        time.Now,
	}
}

// Run sends to every recipient. Only run-level failures are returned as
// errors; per-recipient outcomes live in the report. The sink is opened
// before any send so a bad destination wastes no messages.
func (s *BroadcastService) Run(ctx context.Context, recipients []domain.Recipient) (*RunReport, error) {
	if len(recipients) == 0 {
		return nil, domain.ErrNoRecipients
	}
	if strings.TrimSpace(s.opts.Template) == "" {
		return nil, domain.ErrEmptyTemplate
	}

	stamp := s.now().Format("20060102_150405")
	rep := &RunReport{
		ResultsPath: filepath.Join(s.opts.ResultsDir, "sms_results_"+stamp+".csv"),
		SummaryPath: filepath.Join(s.opts.ResultsDir, "sms_summary_"+stamp+".txt"),
	}

	sink, err := csvfile.Open(rep.ResultsPath, s.opts.Sink, s.log)
	if err != nil {
		return nil, fmt.Errorf("open result sink: %w", err)
	}
	defer sink.FlushAndClose() //nolint:errcheck

	st := domain.NewBatchRunState(len(recipients))
	rep.State = st

	var out ports.ResultSink = sink
	if s.events != nil {
		out = newTeeSink(sink, s.log, s.events.ForRun(st.RunID))
	}

	s.dispatcher.Execute(ctx, st, recipients, s.opts.Template, s.progress, out)

	if err := sink.FlushAndClose(); err != nil {
		s.log.Warn().Err(err).Msg("result sink did not close cleanly")
	}

	if s.archive != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := s.archive.SaveRun(actx, st); err != nil {
			s.log.Error().Err(err).Str("run_id", st.RunID.String()).Msg("archive run")
		}
		cancel()
	}

	if err := report.WriteSummary(rep.SummaryPath, st, rep.ResultsPath); err != nil {
		s.log.Warn().Err(err).Msg("write summary")
		rep.SummaryPath = ""
	}
	return rep, nil
}
