package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bulksms/internal/domain"
	"bulksms/internal/ports"
	"bulksms/internal/render"

	"github.com/rs/zerolog"
)

// Sender performs one recipient's send attempt.
type Sender interface {
	Send(ctx context.Context, r domain.Recipient, message string) domain.SendAttemptResult
}

// Pacer sleeps between groups.
type Pacer interface {
	DelayBetweenBatches(ctx context.Context) error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Sender    Sender
	Pacer     Pacer
	BatchSize int
	Log       zerolog.Logger
}

// Dispatcher splits recipients into fixed-size groups, sends each group
// concurrently and folds the results in input order. Groups run strictly
// one after another.
type Dispatcher struct {
	sender    Sender
	pacer     Pacer
	batchSize int
	log       zerolog.Logger
}

// NewDispatcher creates a Dispatcher; BatchSize defaults to 50.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Dispatcher{
		sender:    opts.Sender,
		pacer:     opts.Pacer,
		batchSize: opts.BatchSize,
		log:       opts.Log.With().Str("component", "dispatcher").Logger(),
	}
}

// Run processes recipients and returns the final run state.
func (d *Dispatcher) Run(ctx context.Context, recipients []domain.Recipient, tmpl string, progress ports.ProgressSink, sink ports.ResultSink) *domain.BatchRunState {
	st := domain.NewBatchRunState(len(recipients))
	d.Execute(ctx, st, recipients, tmpl, progress, sink)
	return st
}

// Execute runs the batch into a caller-created state. Cancellation is
// checked before each group; a started group always completes. Results are
// written with a detached context so nothing already completed is dropped.
func (d *Dispatcher) Execute(ctx context.Context, st *domain.BatchRunState, recipients []domain.Recipient, tmpl string, progress ports.ProgressSink, sink ports.ResultSink) {
	st.StartTime = time.Now().UTC()
	st.Status = domain.RunRunning
	writeCtx := context.WithoutCancel(ctx)

	groups := partition(recipients, d.batchSize)
	d.log.Info().
		Str("run_id", st.RunID.String()).
		Int("recipients", len(recipients)).
		Int("groups", len(groups)).
		Int("batch_size", d.batchSize).
		Msg("batch run started")

	for i, group := range groups {
		if ctx.Err() != nil {
			d.log.Warn().Int("group", i+1).Msg("run cancelled, skipping remaining groups")
			break
		}

		results := d.dispatchGroup(ctx, group, tmpl)
		for j, res := range results {
			st.Fold(res)
			if sink == nil {
				continue
			}
			if err := sink.Write(writeCtx, res, group[j]); err != nil {
				d.log.Error().Err(err).Str("to", res.RecipientPhone).Msg("persist result")
			}
		}

		if progress != nil {
			progress.Report(domain.Progress{
				TotalItems:      st.TotalRecords,
				ProcessedItems:  st.Processed(),
				SuccessfulItems: st.SuccessfulSends,
				FailedItems:     st.FailedSends,
				Elapsed:         time.Since(st.StartTime),
				CurrentItem:     group[len(group)-1].Label(),
			})
		}

		if i < len(groups)-1 && d.pacer != nil {
			if err := d.pacer.DelayBetweenBatches(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn().Err(err).Msg("delay between batches")
			}
		}
	}

	status := domain.RunCompleted
	if ctx.Err() != nil {
		status = domain.RunCancelled
	}
	st.Finish(status)

	d.log.Info().
		Str("run_id", st.RunID.String()).
		Str("status", string(st.Status)).
		Int("success", st.SuccessfulSends).
		Int("failed", st.FailedSends).
		Int("skipped", st.SkippedRecords).
		Dur("duration", st.Duration).
		Msg("batch run finished")
}

// dispatchGroup renders and sends every member concurrently. The returned
// slice is indexed like group, whatever the completion order.
func (d *Dispatcher) dispatchGroup(ctx context.Context, group []domain.Recipient, tmpl string) []domain.SendAttemptResult {
	results := make([]domain.SendAttemptResult, len(group))

	var wg sync.WaitGroup
	for i, r := range group {
		msg, err := render.Render(tmpl, r)
		if err != nil {
			results[i] = domain.NewFailure(r, fmt.Sprintf("Template rendering failed: %v", err), time.Now())
			continue
		}
		wg.Add(1)
		go func(i int, r domain.Recipient, msg string) {
			defer wg.Done()
			results[i] = d.sender.Send(ctx, r, msg)
		}(i, r, msg)
	}
	wg.Wait()
	return results
}

func partition(recipients []domain.Recipient, size int) [][]domain.Recipient {
	groups := make([][]domain.Recipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		groups = append(groups, recipients[start:end])
	}
	return groups
}
