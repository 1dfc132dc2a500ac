// Package aigen is the structured-AI-generation collaborator: it turns a
// conversation plus an optional schema into one structured object. The
// execution engine invokes it only when a script calls ai.generateObject
// and never inspects its internals.
package aigen

import (
	"context"
	"fmt"
)

// Message is one chat turn handed to the generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one structured-generation call.
type Request struct {
	// Model overrides the generator's default model when non-empty.
	Model string

	// Messages is the conversation, in order.
	Messages []Message

	// SchemaSource, when non-empty, is a CUE schema the returned object
	// must satisfy. Scripts build it through the sandbox schema helper.
	SchemaSource string
}

// ObjectGenerator produces one structured object per request.
// Implemented by the OpenAI client in production and by Fake in tests.
type ObjectGenerator interface {
	GenerateObject(ctx context.Context, req Request) (map[string]any, error)
}

// Fake is a canned ObjectGenerator for tests and offline runs.
// It records the requests it receives.
type Fake struct {
	// Object is returned for every call.
	Object map[string]any

	// Err, when set, is returned instead.
	Err error

	// Requests accumulates every request seen.
	Requests []Request
}

// GenerateObject implements ObjectGenerator.
func (f *Fake) GenerateObject(_ context.Context, req Request) (map[string]any, error) {
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return nil, f.Err
	}
	if req.SchemaSource != "" {
		if err := ValidateObject(req.SchemaSource, f.Object); err != nil {
			return nil, fmt.Errorf("generated object failed schema validation: %w", err)
		}
	}
	return f.Object, nil
}
