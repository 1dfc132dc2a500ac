package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/runlet/runlet/internal/aigen"
)

// consoleObject is the logging passthrough. Output lands on the
// capability logger, which the engine has already namespaced with the
// execution identifier.
func (b *binder) consoleObject() *goja.Object {
	console := b.vm.NewObject()

	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		b.caps.Logger.Info(formatConsoleArgs(call.Arguments), "source", "script")
		return goja.Undefined()
	})
	_ = console.Set("warn", func(call goja.FunctionCall) goja.Value {
		b.caps.Logger.Warn(formatConsoleArgs(call.Arguments), "source", "script")
		return goja.Undefined()
	})
	_ = console.Set("error", func(call goja.FunctionCall) goja.Value {
		b.caps.Logger.Error(formatConsoleArgs(call.Arguments), "source", "script")
		return goja.Undefined()
	})

	return console
}

// formatConsoleArgs renders console arguments the way scripts expect:
// strings as-is, everything else as JSON, joined by spaces.
func formatConsoleArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		ex := arg.Export()
		if s, ok := ex.(string); ok {
			parts[i] = s
			continue
		}
		if encoded, err := json.Marshal(ex); err == nil {
			parts[i] = string(encoded)
		} else {
			parts[i] = fmt.Sprint(ex)
		}
	}
	return strings.Join(parts, " ")
}

// generateID is the generateId helper: a fresh unique identifier in the
// same epoch+suffix shape as record IDs.
func (b *binder) generateID(call goja.FunctionCall) goja.Value {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return b.vm.ToValue(fmt.Sprintf("id_%d_%s", b.caps.Now().UnixMilli(), suffix))
}

// formatDate is the formatDate helper: renders the argument (epoch millis,
// RFC 3339 string, Date, or nothing for "now") as an RFC 3339 UTC string.
func (b *binder) formatDate(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return b.vm.ToValue(b.caps.Now().UTC().Format(time.RFC3339Nano))
	}

	switch v := arg.Export().(type) {
	case time.Time:
		return b.vm.ToValue(v.UTC().Format(time.RFC3339Nano))
	case int64:
		return b.vm.ToValue(time.UnixMilli(v).UTC().Format(time.RFC3339Nano))
	case float64:
		return b.vm.ToValue(time.UnixMilli(int64(v)).UTC().Format(time.RFC3339Nano))
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			t, err = time.Parse(time.RFC3339, v)
		}
		if err != nil {
			t, err = time.Parse("2006-01-02", v)
		}
		if err != nil {
			b.throw(fmt.Errorf("formatDate: cannot parse date %q", v))
		}
		return b.vm.ToValue(t.UTC().Format(time.RFC3339Nano))
	default:
		b.throw(fmt.Errorf("formatDate: unsupported argument type %T", v))
		return goja.Undefined()
	}
}

// validateRequired is the validateRequired(obj, fields) helper. It fails
// with one message listing every absent field, not just the first.
func (b *binder) validateRequired(call goja.FunctionCall) goja.Value {
	objArg := call.Argument(0)
	var obj map[string]any
	if !goja.IsUndefined(objArg) && !goja.IsNull(objArg) {
		obj, _ = objArg.Export().(map[string]any)
	}

	fieldsRaw, _ := call.Argument(1).Export().([]any)

	var missing []string
	for _, f := range fieldsRaw {
		name, ok := f.(string)
		if !ok {
			continue
		}
		v, present := obj[name]
		if !present || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		b.throw(fmt.Errorf("Missing required fields: %s", strings.Join(missing, ", ")))
	}
	return b.vm.ToValue(true)
}

// aiObject exposes ai.generateObject, delegating to the external
// structured-generation collaborator. The sandbox does not interpret the
// result.
func (b *binder) aiObject() *goja.Object {
	ai := b.vm.NewObject()

	_ = ai.Set("generateObject", func(call goja.FunctionCall) goja.Value {
		if b.caps.AI == nil {
			b.throw(fmt.Errorf("ai.generateObject: no AI generator configured"))
		}

		cfg, ok := call.Argument(0).Export().(map[string]any)
		if !ok {
			b.throw(fmt.Errorf("ai.generateObject: expected a config object"))
		}

		req, err := aiRequestFromConfig(cfg)
		if err != nil {
			b.throw(err)
		}

		object, err := b.caps.AI.GenerateObject(b.ctx, req)
		if err != nil {
			b.throw(err)
		}
		return b.vm.ToValue(map[string]any{"object": object})
	})

	return ai
}

// aiRequestFromConfig decodes the script-side {model, messages, schema}
// config. The schema is either a CUE source string or a handle produced by
// schema.compile; either way it passes through opaquely.
func aiRequestFromConfig(cfg map[string]any) (aigen.Request, error) {
	var req aigen.Request

	if m, ok := cfg["model"].(string); ok {
		req.Model = m
	}

	msgs, ok := cfg["messages"].([]any)
	if !ok || len(msgs) == 0 {
		return req, fmt.Errorf("ai.generateObject: 'messages' array is required")
	}
	for i, raw := range msgs {
		m, ok := raw.(map[string]any)
		if !ok {
			return req, fmt.Errorf("ai.generateObject: message %d is not an object", i)
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if role == "" || content == "" {
			return req, fmt.Errorf("ai.generateObject: message %d needs 'role' and 'content'", i)
		}
		req.Messages = append(req.Messages, aigen.Message{Role: role, Content: content})
	}

	switch schema := cfg["schema"].(type) {
	case nil:
	case string:
		req.SchemaSource = schema
	case map[string]any:
		src, ok := schema["source"].(string)
		if !ok {
			return req, fmt.Errorf("ai.generateObject: schema object has no source")
		}
		req.SchemaSource = src
	default:
		return req, fmt.Errorf("ai.generateObject: unsupported schema type %T", schema)
	}

	return req, nil
}

// schemaObject is the schema-validation helper handed through to ai calls.
// compile wraps a CUE source into an opaque handle; validate checks a value
// directly and throws on mismatch.
func (b *binder) schemaObject() *goja.Object {
	schema := b.vm.NewObject()

	_ = schema.Set("compile", func(call goja.FunctionCall) goja.Value {
		src := call.Argument(0).String()
		if src == "" {
			b.throw(fmt.Errorf("schema.compile: source is required"))
		}
		return b.vm.ToValue(map[string]any{"source": src})
	})

	_ = schema.Set("validate", func(call goja.FunctionCall) goja.Value {
		src := call.Argument(0).String()
		if handle, ok := call.Argument(0).Export().(map[string]any); ok {
			if s, ok := handle["source"].(string); ok {
				src = s
			}
		}
		if err := aigen.ValidateObject(src, call.Argument(1).Export()); err != nil {
			b.throw(err)
		}
		return b.vm.ToValue(true)
	})

	return schema
}
