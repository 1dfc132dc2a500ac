package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/runlet/internal/docstore"
	"github.com/runlet/runlet/internal/record"
)

// memStore is an in-memory DocumentStore for engine tests.
type memStore struct {
	docs    map[string][]byte
	saves   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{docs: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, id string) (*docstore.Document, error) {
	content, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("get document %s: %w", id, docstore.ErrDocumentNotFound)
	}
	return &docstore.Document{ID: id, Content: content}, nil
}

func (m *memStore) Save(_ context.Context, id string, content []byte) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("save document %s: %w", id, docstore.ErrDocumentNotFound)
	}
	m.docs[id] = content
	m.saves++
	return nil
}

const taskDoc = `{
	"name": "task agent",
	"models": [{
		"id": "m1",
		"name": "Task",
		"records": [
			{"id": "task_1_aaa", "modelId": "m1", "data": {"title": "first", "done": false},
			 "createdAt": "2024-05-01T10:00:00Z", "updatedAt": "2024-05-01T10:00:00Z"}
		]
	}]
}`

func newTestExecutor(docs DocumentStore) *Executor {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return New(docs, nil,
		WithClock(func() time.Time { return now }),
		WithExecutionIDs(func() string { return "exec-1" }),
	)
}

func TestExecute_SuccessAndWriteBack(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	e := newTestExecutor(docs)

	resp, err := e.Execute(context.Background(), Request{
		DocumentID: "d1",
		Script: `
			await db.update("Task", {id: "task_1_aaa"}, {done: true});
			return "updated";
		`,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "updated", resp.Result)
	assert.False(t, resp.TestMode)
	assert.True(t, resp.DatabaseUpdated)
	assert.Equal(t, 1, docs.saves)

	require.Len(t, resp.ModelsAffected, 1)
	assert.Equal(t, "Task", resp.ModelsAffected[0].Name)
	assert.Equal(t, 1, resp.ModelsAffected[0].RecordCount)
	require.Len(t, resp.ModelsAffected[0].Changes, 1)
	assert.Equal(t, record.OpUpdate, resp.ModelsAffected[0].Changes[0].Operation)

	// The persisted blob carries the mutation, the history entry, and the
	// preserved metadata.
	parsed, err := record.ParseDocument(docs.docs["d1"])
	require.NoError(t, err)
	assert.Equal(t, 1, len(parsed.Models[0].Records))
	rec := parsed.Models[0].Records[0]
	assert.Equal(t, "task_1_aaa", rec.ID)

	require.Len(t, parsed.ExecutionHistory, 1)
	entry := parsed.ExecutionHistory[0]
	assert.True(t, entry.Success)
	assert.False(t, entry.TestMode)
	assert.Equal(t, TypeAction, entry.Type)
	require.Len(t, entry.Changelog, 1)

	name, ok := parsed.Meta("name")
	require.True(t, ok)
	assert.JSONEq(t, `"task agent"`, string(name))
}

func TestExecute_ReadsLoggedButNoWriteBack(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	e := newTestExecutor(docs)

	resp, err := e.Execute(context.Background(), Request{
		DocumentID: "d1",
		Script:     `return (await db.findMany("Task", {})).length;`,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	// The read appears in the change log...
	require.Len(t, resp.ChangeLog, 1)
	assert.Equal(t, record.OpFind, resp.ChangeLog[0].Operation)
	// ...but a read-only run does not update the database flag, and no
	// mutation summary is produced.
	assert.False(t, resp.DatabaseUpdated)
	assert.Empty(t, resp.ModelsAffected)

	// Reconciliation still ran (history is appended on every successful
	// live execution), so the blob was written once.
	assert.Equal(t, 1, docs.saves)
	parsed, err := record.ParseDocument(docs.docs["d1"])
	require.NoError(t, err)
	require.Len(t, parsed.ExecutionHistory, 1)
}

func TestExecute_TestModeNeverPersists(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	e := newTestExecutor(docs)

	resp, err := e.Execute(context.Background(), Request{
		DocumentID: "d1",
		TestMode:   true,
		Script: `
			await db.create("Task", {title: "simulated"});
			await db.update("Task", {id: "task_1_aaa"}, {done: true});
			return "ok";
		`,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.True(t, resp.TestMode)
	assert.False(t, resp.DatabaseUpdated)
	assert.Equal(t, 0, docs.saves)

	// The change log still reports what would have happened.
	assert.Len(t, resp.ChangeLog, 2)

	// The stored blob is byte-identical to before.
	assert.JSONEq(t, taskDoc, string(docs.docs["d1"]))
}

func TestExecute_ScriptFailure(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	e := newTestExecutor(docs)

	resp, err := e.Execute(context.Background(), Request{
		DocumentID: "d1",
		Script: `
			await db.create("Task", {title: "before the crash"});
			throw new Error("boom");
		`,
	})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, "Execution error: boom", resp.Error)
	assert.False(t, resp.DatabaseUpdated)

	// A failed run is discarded entirely: no write-back, no history.
	assert.Equal(t, 0, docs.saves)
	parsed, err := record.ParseDocument(docs.docs["d1"])
	require.NoError(t, err)
	assert.Empty(t, parsed.ExecutionHistory)

	// The change log still reports the work done before the failure.
	assert.Len(t, resp.ChangeLog, 1)
}

func TestExecute_DocumentNotFound(t *testing.T) {
	e := newTestExecutor(newMemStore())

	_, err := e.Execute(context.Background(), Request{DocumentID: "nope", Script: "return 1;"})
	require.Error(t, err)
	assert.True(t, IsDocumentNotFound(err))
}

func TestExecute_InvalidContent(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(`{"no-models": true}`)
	e := newTestExecutor(docs)

	_, err := e.Execute(context.Background(), Request{DocumentID: "d1", Script: "return 1;"})
	require.Error(t, err)
	assert.True(t, IsInvalidContent(err))
}

func TestExecute_HistoryIsBounded(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := New(docs, nil,
		WithClock(func() time.Time { return now }),
		WithHistoryLimit(3),
	)

	for i := 0; i < 5; i++ {
		resp, err := e.Execute(context.Background(), Request{
			DocumentID: "d1",
			Script:     fmt.Sprintf(`await db.create("Task", {seq: %d}); return %d;`, i, i),
		})
		require.NoError(t, err)
		require.True(t, resp.Success)
	}

	parsed, err := record.ParseDocument(docs.docs["d1"])
	require.NoError(t, err)

	// Only the most recent entries survive.
	require.Len(t, parsed.ExecutionHistory, 3)
	for _, entry := range parsed.ExecutionHistory {
		assert.True(t, entry.Success)
	}

	// The records themselves are not bounded: all five creates landed.
	assert.Len(t, parsed.Models[0].Records, 6)
}

func TestExecute_PersistenceFailureDoesNotFlipOutcome(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	docs.saveErr = errors.New("disk full")
	e := newTestExecutor(docs)

	resp, err := e.Execute(context.Background(), Request{
		DocumentID: "d1",
		Script:     `await db.create("Task", {title: "lost"}); return "ok";`,
	})
	require.NoError(t, err)

	// The script succeeded; the write-back failure is logged, not
	// propagated.
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)
	assert.True(t, resp.DatabaseUpdated)
	assert.Equal(t, 0, docs.saves)
}

func TestExecute_ScheduleType(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	e := newTestExecutor(docs)

	resp, err := e.Execute(context.Background(), Request{
		DocumentID: "d1",
		Script:     `await db.create("Task", {title: "tick"}); return null;`,
		Type:       TypeSchedule,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	parsed, err := record.ParseDocument(docs.docs["d1"])
	require.NoError(t, err)
	require.Len(t, parsed.ExecutionHistory, 1)
	assert.Equal(t, TypeSchedule, parsed.ExecutionHistory[0].Type)
}

func TestExecute_InputAndEnvVarsReachTheScript(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	e := newTestExecutor(docs)

	resp, err := e.Execute(context.Background(), Request{
		DocumentID: "d1",
		Script:     `return input.who + ":" + envVars.STAGE;`,
		Input:      map[string]any{"who": "alice"},
		EnvVars:    map[string]string{"STAGE": "prod"},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice:prod", resp.Result)
}

func TestHistory(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	e := newTestExecutor(docs)

	history, err := e.History(context.Background(), "d1")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = e.Execute(context.Background(), Request{
		DocumentID: "d1",
		Script:     `await db.create("Task", {t: 1}); return null;`,
	})
	require.NoError(t, err)

	history, err = e.History(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
}

func TestResponse_JSONShape(t *testing.T) {
	docs := newMemStore()
	docs.docs["d1"] = []byte(taskDoc)
	e := newTestExecutor(docs)

	resp, err := e.Execute(context.Background(), Request{
		DocumentID: "d1",
		Script:     `return {n: 1};`,
	})
	require.NoError(t, err)

	encoded, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(encoded, &m))
	assert.Equal(t, true, m["success"])
	assert.Contains(t, m, "executionTimeMs")
	assert.Contains(t, m, "databaseUpdated")
	// A clean run omits the error field entirely.
	assert.NotContains(t, m, "error")
}
