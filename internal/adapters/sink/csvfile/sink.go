// Package csvfile implements the result sink: an asynchronous, ordered,
// crash-safe CSV writer with one background drain goroutine.
//
// Lifecycle: Open -> Draining -> Closed. Producers enqueue into a bounded
// channel and only block while it is full. Each record is encoded into a
// single buffer and written with one Write call, so a crash loses at most
// the records still queued and never leaves a torn row behind.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"bulksms/internal/domain"

	"github.com/rs/zerolog"
)

// TimeLayout is used for both time columns.
const TimeLayout = "2006-01-02 15:04:05"

// Header is the fixed column set. Downstream parsers rely on its order.
var Header = []string{
	"Mobile Number",
	"Display Name",
	"Sent Time (Local)",
	"Sent Time (UTC)",
	"Status",
	"Message ID",
	"Error Message",
	"Duration (ms)",
}

var (
	// ErrClosed is returned by Write once the sink is draining or closed.
	ErrClosed = errors.New("result sink is closed")
	// ErrDrainTimeout is returned by FlushAndClose when queued records could
	// not be persisted within the close timeout.
	ErrDrainTimeout = errors.New("result sink drain timed out")
)

// InitError reports a destination that could not be created.
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("result sink init %s: %v", e.Path, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

type state int

const (
	stateOpen state = iota
	stateDraining
	stateClosed
)

// Options tunes the sink.
type Options struct {
	QueueSize    int           // default 1000
	CloseTimeout time.Duration // default 30s
}

type record struct {
	result    domain.SendAttemptResult
	recipient domain.Recipient
}

// Sink is safe for concurrent producers.
type Sink struct {
	path string
	opts Options
	log  zerolog.Logger

	file  *os.File
	out   io.Writer
	queue chan record

	// mu guards st; Write holds it shared while enqueuing so the queue is
	// never closed under a producer.
	mu sync.RWMutex
	st state

	drainCtx    context.Context
	cancelDrain context.CancelFunc
	drained     chan struct{}
	// grace bounds the wait for a drain goroutine stuck in a write after the
	// close timeout fired.
	grace time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error

	written  atomic.Int64
	failures atomic.Int64
}

// Open creates the destination, writes the header and starts the drain loop.
func Open(path string, opts Options, log zerolog.Logger) (*Sink, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 30 * time.Second
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &InitError{Path: path, Err: err}
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &InitError{Path: path, Err: err}
	}

	line, err := encode(Header)
	if err == nil {
		_, err = f.Write(line)
	}
	if err != nil {
		_ = f.Close()
		return nil, &InitError{Path: path, Err: fmt.Errorf("write header: %w", err)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		path:        path,
		opts:        opts,
		log:         log.With().Str("component", "result_sink").Str("path", path).Logger(),
		file:        f,
		out:         f,
		queue:       make(chan record, opts.QueueSize),
		drainCtx:    ctx,
		cancelDrain: cancel,
		drained:     make(chan struct{}),
		grace:       2 * time.Second,
		closed:      make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Path returns the destination file.
func (s *Sink) Path() string { return s.path }

// Written is the number of records persisted so far.
func (s *Sink) Written() int64 { return s.written.Load() }

// Failures is the number of records that could not be persisted.
func (s *Sink) Failures() int64 { return s.failures.Load() }

// Write enqueues one record. It blocks only while the queue is full.
func (s *Sink) Write(ctx context.Context, result domain.SendAttemptResult, recipient domain.Recipient) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st != stateOpen {
		return ErrClosed
	}
	select {
	case s.queue <- record{result: result, recipient: recipient}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAndClose stops accepting records, waits for the queue to drain and
// releases the file. Repeated or concurrent calls are safe and return nil
// after the first.
func (s *Sink) FlushAndClose() error {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.closeErr = s.shutdown()
		close(s.closed)
	})
	if !first {
		<-s.closed
		return nil
	}
	return s.closeErr
}

// Close implements io.Closer.
func (s *Sink) Close() error { return s.FlushAndClose() }

func (s *Sink) shutdown() error {
	s.mu.Lock()
	s.st = stateDraining
	close(s.queue)
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.CloseTimeout)
	defer timer.Stop()
	select {
	case <-s.drained:
	case <-timer.C:
		return s.abandon()
	}
	s.cancelDrain()

	var err error
	if syncErr := s.file.Sync(); syncErr != nil {
		err = fmt.Errorf("sync results: %w", syncErr)
	}
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close results: %w", closeErr)
	}
	s.finish()
	return err
}

// abandon stops the drain loop after the close timeout. Closing the file
// unblocks a pending write; a writer that still does not return within the
// grace period is left behind.
func (s *Sink) abandon() error {
	s.cancelDrain()
	_ = s.file.Close()

	grace := time.NewTimer(s.grace)
	defer grace.Stop()
	select {
	case <-s.drained:
	case <-grace.C:
		s.log.Error().Dur("grace", s.grace).Msg("result sink writer did not stop")
	}

	s.log.Warn().
		Dur("timeout", s.opts.CloseTimeout).
		Int("unwritten", len(s.queue)).
		Msg("result sink drain timed out, remaining records dropped")
	s.finish()
	return ErrDrainTimeout
}

func (s *Sink) finish() {
	s.mu.Lock()
	s.st = stateClosed
	s.mu.Unlock()

	s.log.Debug().Int64("written", s.written.Load()).Int64("failures", s.failures.Load()).Msg("result sink closed")
}

func (s *Sink) drain() {
	defer close(s.drained)
	for {
		select {
		case <-s.drainCtx.Done():
			return
		case rec, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.persist(rec); err != nil {
				s.failures.Add(1)
				s.log.Error().Err(err).Str("to", rec.result.RecipientPhone).Msg("write result record")
				continue
			}
			s.written.Add(1)
		}
	}
}

func (s *Sink) persist(rec record) error {
	line, err := encode(row(rec))
	if err != nil {
		return err
	}
	_, err = s.out.Write(line)
	return err
}

func row(rec record) []string {
	r := rec.result
	phone := r.RecipientPhone
	if phone == "" {
		phone = rec.recipient.PhoneNumber
	}
	name := r.DisplayName
	if name == "" {
		name = rec.recipient.DisplayName
	}
	return []string{
		phone,
		name,
		r.SentAt.Local().Format(TimeLayout),
		r.SentAt.UTC().Format(TimeLayout),
		r.Status(),
		r.MessageID,
		r.ErrorMessage,
		strconv.FormatInt(r.Duration.Milliseconds(), 10),
	}
}

func encode(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
