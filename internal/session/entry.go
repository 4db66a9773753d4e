package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/onno/internal/transcript"
)

var (
	// ErrQueueFull is returned when a session's job queue is at capacity.
	ErrQueueFull = errors.New("session queue full")
	// ErrClosed is returned when submitting to a session that was removed.
	ErrClosed = errors.New("session closed")
)

// Binding ties a client token to its persisted meeting. It does not change
// after the entry is created.
type Binding struct {
	Token          string
	MeetingID      uuid.UUID
	RelationshipID *uuid.UUID
	UserID         string
	Title          string
	MeetingType    string
	MeetingNumber  int
	StartedAt      time.Time
}

// Job is one unit of per-session work. Jobs for one session run one at a
// time in submission order.
type Job func(ctx context.Context)

// Entry is a live session: its binding, dedup state and serial worker.
type Entry struct {
	Binding

	dedup  transcript.Config
	logger *slog.Logger

	mu   sync.Mutex
	last string

	qmu    sync.RWMutex
	closed bool
	jobs   chan Job
	done   chan struct{}
}

func newEntry(b Binding, queueSize int, dedup transcript.Config, logger *slog.Logger) *Entry {
	e := &Entry{
		Binding: b,
		dedup:   dedup,
		logger:  logger,
		jobs:    make(chan Job, queueSize),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Entry) run() {
	defer close(e.done)
	for job := range e.jobs {
		e.exec(job)
	}
}

func (e *Entry) exec(job Job) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("session job panicked", "token", e.Token, "meeting_id", e.MeetingID.String(), "panic", fmt.Sprint(r))
		}
	}()
	job(context.Background())
}

// Submit queues job behind any pending work for this session.
func (e *Entry) Submit(job Job) error {
	e.qmu.RLock()
	defer e.qmu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait queues job and blocks until it has run or ctx is done.
func (e *Entry) SubmitWait(ctx context.Context, job Job) error {
	finished := make(chan struct{})
	if err := e.Submit(func(ctx context.Context) {
		defer close(finished)
		job(ctx)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile compares text with the last fragment and, unless the outcome
// is Discard, records text in full as the new last fragment.
func (e *Entry) Reconcile(text string) transcript.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := transcript.Reconcile(e.last, text, e.dedup)
	if out.Kind != transcript.Discard {
		e.last = text
	}
	return out
}

func (e *Entry) LastTranscript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Pending reports how many jobs are queued but not yet started.
func (e *Entry) Pending() int {
	return len(e.jobs)
}

// Closed reports whether the entry has been removed from its registry.
func (e *Entry) Closed() bool {
	e.qmu.RLock()
	defer e.qmu.RUnlock()
	return e.closed
}

// close stops accepting jobs. Already queued jobs still run.
func (e *Entry) close() {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.jobs)
}

// Done is closed once the worker has drained every queued job.
func (e *Entry) Done() <-chan struct{} {
	return e.done
}
