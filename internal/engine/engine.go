// Package engine orchestrates one script execution end to end: load the
// document, build its in-memory record store, run the script in the
// sandbox, and reconcile the mutated state back into persistent storage.
//
// A record store is constructed fresh per invocation from the persisted
// blob and discarded afterwards; there is no cross-request caching. One
// invocation owns its store exclusively - the only concurrency hazard is
// the documented last-writer-wins write-back at the docstore layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/runlet/runlet/internal/aigen"
	"github.com/runlet/runlet/internal/docstore"
	"github.com/runlet/runlet/internal/record"
	"github.com/runlet/runlet/internal/sandbox"
)

// HistoryLimit caps the per-document execution history ring. The most
// recent entries win; the oldest are evicted first.
const HistoryLimit = 20

// Execution types recorded in history entries.
const (
	TypeAction   = "action"
	TypeSchedule = "schedule"
)

// ErrDocumentNotFound is re-exported so transports can map it without
// importing the storage package.
var ErrDocumentNotFound = docstore.ErrDocumentNotFound

// DocumentStore is the persistence collaborator surface the engine needs.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*docstore.Document, error)
	Save(ctx context.Context, id string, content []byte) error
}

// Request describes one execution.
type Request struct {
	DocumentID string
	Script     string
	Input      map[string]any
	EnvVars    map[string]string

	// TestMode simulates all effects: identical behavior except
	// durability. Nothing is written back.
	TestMode bool

	// Type is TypeAction or TypeSchedule; it only labels history and
	// metrics - both paths share the same engine and capability set.
	Type string
}

// ModelSummary is the per-model change report in a response.
type ModelSummary struct {
	Name        string         `json:"name"`
	RecordCount int            `json:"recordCount"`
	Changes     []record.Entry `json:"changes"`
}

// Response summarizes one execution for the caller.
type Response struct {
	Success         bool           `json:"success"`
	Result          any            `json:"result"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
	TestMode        bool           `json:"testMode"`
	DatabaseUpdated bool           `json:"databaseUpdated"`
	ModelsAffected  []ModelSummary `json:"modelsAffected"`
	ChangeLog       []record.Entry `json:"changeLog"`
}

// Executor runs scripts against documents.
type Executor struct {
	docs         DocumentStore
	ai           aigen.ObjectGenerator
	historyLimit int
	now          func() time.Time
	newExecID    func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the wall clock. Used by tests for deterministic
// timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithHistoryLimit overrides the execution-history cap.
func WithHistoryLimit(n int) Option {
	return func(e *Executor) {
		e.historyLimit = n
	}
}

// WithExecutionIDs overrides execution-identifier generation. Used by
// tests for deterministic log namespacing.
func WithExecutionIDs(gen func() string) Option {
	return func(e *Executor) {
		e.newExecID = gen
	}
}

// New creates an Executor over the given persistence and AI collaborators.
// The AI generator may be nil; scripts that call ai.generateObject then
// fail with a clear execution error.
func New(docs DocumentStore, ai aigen.ObjectGenerator, opts ...Option) *Executor {
	e := &Executor{
		docs:         docs,
		ai:           ai,
		historyLimit: HistoryLimit,
		now:          time.Now,
		newExecID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one script against one document.
//
// Document-level failures (unknown document, unparseable content) are
// returned as Go errors for the transport to map. Script-level failures
// are reported inside the Response with Success=false; they are terminal
// for the invocation and never retried - generated scripts are one-shot
// and idempotency is the script author's responsibility.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.Type == "" {
		req.Type = TypeAction
	}
	execID := e.newExecID()
	logger := slog.With("execution", execID, "document", req.DocumentID, "type", req.Type)

	doc, err := e.docs.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	parsed, err := record.ParseDocument(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", req.DocumentID, err)
	}

	store := record.NewStore(parsed.Models)
	changeLog := record.NewChangeLog()
	query := record.NewQuery(store, changeLog, record.WithQueryClock(e.now))
	mutator := record.NewMutator(store, changeLog, req.TestMode, record.WithMutatorClock(e.now))

	caps := &sandbox.Capabilities{
		Query:   query,
		Mutator: mutator,
		Input:   req.Input,
		EnvVars: req.EnvVars,
		AI:      e.ai,
		Logger:  logger,
		Now:     e.now,
	}

	logger.Info("executing script", "test_mode", req.TestMode, "script_bytes", len(req.Script))
	started := e.now()
	result, execErr := sandbox.Run(ctx, req.Script, caps)
	elapsed := e.now().Sub(started)

	resp := &Response{
		Success:         execErr == nil,
		Result:          result,
		ExecutionTimeMs: elapsed.Milliseconds(),
		TestMode:        req.TestMode,
		ChangeLog:       changeLog.Entries(),
		ModelsAffected:  modelSummaries(store, changeLog),
	}
	if execErr != nil {
		resp.Error = execErr.Error()
		logger.Warn("script failed", "error", execErr, "duration_ms", resp.ExecutionTimeMs)
	} else {
		logger.Info("script succeeded",
			"duration_ms", resp.ExecutionTimeMs,
			"changes", changeLog.MutationCount(),
		)
	}

	// Apply or discard: only a successful, non-simulated run writes back.
	if execErr == nil && !req.TestMode {
		resp.DatabaseUpdated = changeLog.MutationCount() > 0
		e.reconcile(ctx, logger, req, parsed, changeLog, resp.ExecutionTimeMs)
	}

	executionsTotal.WithLabelValues(req.Type, executionMode(req.TestMode), executionStatus(resp.Success)).Inc()
	executionDuration.Observe(elapsed.Seconds())

	return resp, nil
}

// reconcile merges the mutated record store back into the document's
// persisted blob: append one history entry, trim the ring, serialize the
// whole blob, write it back.
//
// A persistence failure is logged and absorbed here; it does not flip the
// execution outcome already reported. Execution success and persistence
// success are deliberately decoupled.
func (e *Executor) reconcile(
	ctx context.Context,
	logger *slog.Logger,
	req Request,
	doc *record.Document,
	changeLog *record.ChangeLog,
	elapsedMs int64,
) {
	doc.ExecutionHistory = append(doc.ExecutionHistory, record.HistoryEntry{
		Timestamp:       e.now(),
		ExecutionTimeMs: elapsedMs,
		Success:         true,
		TestMode:        false,
		Type:            req.Type,
		Changelog:       changeLog.Entries(),
	})
	if len(doc.ExecutionHistory) > e.historyLimit {
		doc.ExecutionHistory = doc.ExecutionHistory[len(doc.ExecutionHistory)-e.historyLimit:]
	}

	content, err := doc.Marshal()
	if err != nil {
		logger.Error("reconciliation failed: marshal document", "error", err)
		persistenceFailures.Inc()
		return
	}

	if err := e.docs.Save(ctx, req.DocumentID, content); err != nil {
		logger.Error("reconciliation failed: write-back", "error", err)
		persistenceFailures.Inc()
		return
	}

	logger.Debug("document reconciled", "history_len", len(doc.ExecutionHistory))
}

// History returns a document's persisted execution history, oldest first,
// capped by the history limit at write time.
func (e *Executor) History(ctx context.Context, documentID string) ([]record.HistoryEntry, error) {
	doc, err := e.docs.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	parsed, err := record.ParseDocument(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", documentID, err)
	}
	return parsed.ExecutionHistory, nil
}

// modelSummaries groups the change log per model. A model appears when it
// has at least one mutation entry; its Changes carry only mutations, while
// the full log (reads included) travels separately in the response.
func modelSummaries(store *record.Store, changeLog *record.ChangeLog) []ModelSummary {
	var out []ModelSummary
	for _, m := range store.Models() {
		changes := changeLog.ForModel(m.Name, true)
		if len(changes) == 0 {
			continue
		}
		out = append(out, ModelSummary{
			Name:        m.Name,
			RecordCount: len(m.Records),
			Changes:     changes,
		})
	}
	return out
}

// IsDocumentNotFound reports whether err means the document does not exist.
func IsDocumentNotFound(err error) bool {
	return errors.Is(err, docstore.ErrDocumentNotFound)
}

// IsInvalidContent reports whether err means the document blob could not
// be parsed.
func IsInvalidContent(err error) bool {
	return record.IsInvalidContent(err)
}
