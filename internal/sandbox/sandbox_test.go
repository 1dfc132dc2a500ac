package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/runlet/internal/aigen"
	"github.com/runlet/runlet/internal/record"
)

func testCaps(t *testing.T) (*Capabilities, *record.Store, *record.ChangeLog) {
	t.Helper()

	doc, err := record.ParseDocument([]byte(`{
		"models": [{
			"id": "m1",
			"name": "Task",
			"records": [
				{"id": "task_1_aaa", "modelId": "m1", "data": {"title": "first", "done": false},
				 "createdAt": "2024-05-01T10:00:00Z", "updatedAt": "2024-05-01T10:00:00Z"},
				{"id": "task_2_bbb", "modelId": "m1", "data": {"title": "second", "done": true},
				 "createdAt": "2024-05-01T10:01:00Z", "updatedAt": "2024-05-01T10:01:00Z"}
			]
		}]
	}`))
	require.NoError(t, err)

	store := record.NewStore(doc.Models)
	log := record.NewChangeLog()
	now := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	caps := &Capabilities{
		Query:   record.NewQuery(store, log, record.WithQueryClock(now)),
		Mutator: record.NewMutator(store, log, false, record.WithMutatorClock(now)),
		Input:   map[string]any{"limit": 1, "name": "alice"},
		EnvVars: map[string]string{"API_URL": "http://example.test"},
		Now:     now,
	}
	return caps, store, log
}

func run(t *testing.T, script string, caps *Capabilities) (any, error) {
	t.Helper()
	return Run(context.Background(), script, caps)
}

func TestRun_ReturnValue(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `return {ok: true, n: 2 + 3};`, caps)
	require.NoError(t, err)

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, int64(5), m["n"])
}

func TestRun_NoReturn(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `const x = 1;`, caps)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRun_DBFindMany(t *testing.T) {
	caps, _, log := testCaps(t)

	result, err := run(t, `
		const tasks = await db.findMany("Task", {where: {done: false}});
		return tasks.map(t => t.title);
	`, caps)
	require.NoError(t, err)
	assert.Equal(t, []any{"first"}, result)
	assert.Equal(t, 1, log.Len())
}

func TestRun_DBCreateAndFindUnique(t *testing.T) {
	caps, store, _ := testCaps(t)

	result, err := run(t, `
		const created = await db.create("Task", {title: "third", done: false});
		const found = await db.findUnique("Task", {id: created.id});
		return found.title;
	`, caps)
	require.NoError(t, err)
	assert.Equal(t, "third", result)
	require.Len(t, store.Model("Task").Records, 3)
}

func TestRun_DBFindUniqueMissIsNull(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `
		const found = await db.findUnique("Task", {title: "nope"});
		return found === null;
	`, caps)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestRun_DBUpdateAndDelete(t *testing.T) {
	caps, store, _ := testCaps(t)

	result, err := run(t, `
		await db.update("Task", {id: "task_1_aaa"}, {done: true});
		const gone = await db.delete("Task", {id: "task_2_bbb"});
		const batch = await db.updateMany("Task", {done: true}, {archived: true});
		return {deleted: gone.deleted, updated: batch.count};
	`, caps)
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.Equal(t, true, m["deleted"])
	assert.Equal(t, int64(1), m["updated"])
	require.Len(t, store.Model("Task").Records, 1)
}

func TestRun_DBErrorsArePrefixed(t *testing.T) {
	caps, _, _ := testCaps(t)

	_, err := run(t, `await db.findMany("Ghost", {});`, caps)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Execution error: "), err.Error())
	assert.Contains(t, err.Error(), "Model 'Ghost' not found")
}

func TestRun_ThrownErrorsArePrefixed(t *testing.T) {
	caps, _, _ := testCaps(t)

	_, err := run(t, `throw new Error("boom");`, caps)
	require.Error(t, err)
	assert.Equal(t, "Execution error: boom", err.Error())
}

func TestRun_SyntaxError(t *testing.T) {
	caps, _, _ := testCaps(t)

	_, err := run(t, `return {;`, caps)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Execution error: "), err.Error())
}

func TestRun_InputAndEnvVars(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `return input.name + "@" + envVars.API_URL;`, caps)
	require.NoError(t, err)
	assert.Equal(t, "alice@http://example.test", result)
}

func TestRun_GenerateID(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `return [generateId(), generateId()];`, caps)
	require.NoError(t, err)

	ids := result.([]any)
	require.Len(t, ids, 2)
	for _, id := range ids {
		assert.True(t, strings.HasPrefix(id.(string), "id_"), id)
	}
	assert.NotEqual(t, ids[0], ids[1])
}

func TestRun_FormatDate(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `return {
		now: formatDate(),
		epoch: formatDate(1714557600000),
		iso: formatDate("2024-05-01T10:00:00Z"),
		day: formatDate("2024-05-01")
	};`, caps)
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.Equal(t, "2024-05-01T12:00:00Z", m["now"])
	assert.Equal(t, "2024-05-01T10:00:00Z", m["epoch"])
	assert.Equal(t, "2024-05-01T10:00:00Z", m["iso"])
	assert.Equal(t, "2024-05-01T00:00:00Z", m["day"])
}

func TestRun_FormatDateUnparseable(t *testing.T) {
	caps, _, _ := testCaps(t)

	_, err := run(t, `return formatDate("not a date");`, caps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot parse date")
}

func TestRun_ValidateRequired(t *testing.T) {
	caps, _, _ := testCaps(t)

	_, err := run(t, `validateRequired({a: 1, b: "", d: null}, ["a", "b", "c", "d"]);`, caps)
	require.Error(t, err)
	// One message listing every absent field: empty strings and nulls
	// count as missing.
	assert.Contains(t, err.Error(), "Missing required fields: b, c, d")
}

func TestRun_ValidateRequiredPasses(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `return validateRequired({a: 1, b: "x"}, ["a", "b"]);`, caps)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestRun_AIGenerateObject(t *testing.T) {
	caps, _, _ := testCaps(t)
	fake := &aigen.Fake{Object: map[string]any{"summary": "two tasks"}}
	caps.AI = fake

	result, err := run(t, `
		const res = await ai.generateObject({
			model: "test-model",
			messages: [{role: "user", content: "summarize"}],
			schema: schema.compile("{summary: string}")
		});
		return res.object.summary;
	`, caps)
	require.NoError(t, err)
	assert.Equal(t, "two tasks", result)

	require.Len(t, fake.Requests, 1)
	assert.Equal(t, "test-model", fake.Requests[0].Model)
	assert.Equal(t, "{summary: string}", fake.Requests[0].SchemaSource)
}

func TestRun_AIUnconfigured(t *testing.T) {
	caps, _, _ := testCaps(t)
	caps.AI = nil

	_, err := run(t, `await ai.generateObject({messages: [{role: "user", content: "hi"}]});`, caps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no AI generator configured")
}

func TestRun_AIRequiresMessages(t *testing.T) {
	caps, _, _ := testCaps(t)
	caps.AI = &aigen.Fake{Object: map[string]any{}}

	_, err := run(t, `await ai.generateObject({model: "m"});`, caps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'messages' array is required")
}

func TestRun_SchemaValidate(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `return schema.validate("{n: int}", {n: 3});`, caps)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	_, err = run(t, `return schema.validate("{n: int}", {n: "three"});`, caps)
	require.Error(t, err)
}

func TestRun_ConsoleDoesNotLeakIntoResult(t *testing.T) {
	caps, _, _ := testCaps(t)

	result, err := run(t, `
		console.log("plain", {structured: true});
		console.warn("careful");
		console.error("bad");
		return "done";
	`, caps)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestRun_TestModeIsolation(t *testing.T) {
	caps, store, log := testCaps(t)
	now := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	caps.Mutator = record.NewMutator(store, log, true, record.WithMutatorClock(now))

	result, err := run(t, `
		const created = await db.create("Task", {title: "simulated"});
		return created.id;
	`, caps)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.(string), "test_"), result)
	require.Len(t, store.Model("Task").Records, 2)
}
