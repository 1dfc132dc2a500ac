package aigen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taskSchema = `{
	title: string
	priority: int & >=1 & <=5
	done: bool
}`

func TestValidateObject_Valid(t *testing.T) {
	err := ValidateObject(taskSchema, map[string]any{
		"title":    "write tests",
		"priority": 2,
		"done":     false,
	})
	assert.NoError(t, err)
}

func TestValidateObject_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		value map[string]any
	}{
		{"missing field", map[string]any{"title": "x", "priority": 2}},
		{"wrong type", map[string]any{"title": 1, "priority": 2, "done": false}},
		{"out of bounds", map[string]any{"title": "x", "priority": 9, "done": false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateObject(taskSchema, tt.value))
		})
	}
}

func TestValidateObject_BadSchema(t *testing.T) {
	err := ValidateObject(`title: string &`, map[string]any{"title": "x"})
	assert.Error(t, err)
}

func TestFake_RecordsRequests(t *testing.T) {
	fake := &Fake{Object: map[string]any{"answer": "yes"}}

	got, err := fake.GenerateObject(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "yes", got["answer"])

	require.Len(t, fake.Requests, 1)
	assert.Equal(t, "test-model", fake.Requests[0].Model)
}

func TestFake_EnforcesSchema(t *testing.T) {
	fake := &Fake{Object: map[string]any{"answer": 42}}

	_, err := fake.GenerateObject(context.Background(), Request{
		Messages:     []Message{{Role: "user", Content: "hi"}},
		SchemaSource: `{answer: string}`,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestFake_Err(t *testing.T) {
	boom := errors.New("boom")
	fake := &Fake{Err: boom}

	_, err := fake.GenerateObject(context.Background(), Request{})
	assert.True(t, errors.Is(err, boom))
}
