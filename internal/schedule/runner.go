package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/runlet/runlet/internal/docstore"
	"github.com/runlet/runlet/internal/engine"
	"github.com/runlet/runlet/internal/record"
)

// Runner polls the document store and fires due schedules.
//
// Due-ness is tracked in memory only: after a restart every enabled
// schedule is considered due on the first poll. Schedules are best-effort
// by design; a missed tick is not made up.
type Runner struct {
	docs     *docstore.Store
	executor *engine.Executor
	poll     time.Duration
	now      func() time.Time

	// lastRun is keyed by "<documentID>/<scheduleID>".
	lastRun map[string]time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerClock overrides the wall clock for tests.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a Runner polling at the given interval.
func NewRunner(docs *docstore.Store, executor *engine.Executor, poll time.Duration, opts ...RunnerOption) *Runner {
	r := &Runner{
		docs:     docs,
		executor: executor,
		poll:     poll,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is canceled. Errors from individual documents or
// schedules are logged and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("schedule runner started", "poll", r.poll)
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("schedule runner stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick scans every document once and executes whatever is due.
func (r *Runner) Tick(ctx context.Context) {
	docs, err := r.docs.List(ctx)
	if err != nil {
		slog.Error("schedule scan failed", "error", err)
		return
	}

	for _, doc := range docs {
		r.tickDocument(ctx, doc)
	}
}

func (r *Runner) tickDocument(ctx context.Context, doc *docstore.Document) {
	parsed, err := record.ParseDocument(doc.Content)
	if err != nil {
		slog.Warn("skipping unparseable document", "document", doc.ID, "error", err)
		return
	}

	raw, ok := parsed.Meta("schedules")
	if !ok {
		return
	}
	schedules, err := Parse(raw)
	if err != nil {
		slog.Warn("skipping document with bad schedules", "document", doc.ID, "error", err)
		return
	}

	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		interval, err := s.Interval()
		if err != nil {
			slog.Warn("skipping schedule", "document", doc.ID, "error", err)
			continue
		}
		if !r.due(doc.ID, s.ID, interval) {
			continue
		}
		r.fire(ctx, doc.ID, s)
	}
}

// due reports whether the schedule should fire now, and if so records the
// firing time. A schedule never seen before is immediately due.
func (r *Runner) due(docID, scheduleID string, interval time.Duration) bool {
	key := docID + "/" + scheduleID
	now := r.now()
	if last, ok := r.lastRun[key]; ok && now.Sub(last) < interval {
		return false
	}
	r.lastRun[key] = now
	return true
}

func (r *Runner) fire(ctx context.Context, docID string, s Schedule) {
	slog.Info("firing schedule", "document", docID, "schedule", s.ID, "name", s.Name)
	resp, err := r.executor.Execute(ctx, engine.Request{
		DocumentID: docID,
		Script:     s.Script,
		Input:      s.Input,
		Type:       engine.TypeSchedule,
	})
	if err != nil {
		slog.Error("schedule execution failed", "document", docID, "schedule", s.ID, "error", err)
		return
	}
	if !resp.Success {
		slog.Warn("schedule script failed", "document", docID, "schedule", s.ID, "error", resp.Error)
	}
}
