// Package sandbox wraps a generated script into a callable unit, injects
// the fixed capability surface, executes it, and normalizes any failure
// into a single error channel.
//
// The capability object is the entire world a script can reach: the eight
// db operations, the caller's input parameters and environment variables, a
// namespaced console, a few deterministic helpers, the AI structured-
// generation call, and the schema helper. Capabilities are passed
// explicitly into the embedded engine call - never through global or
// ambient state.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/runlet/runlet/internal/aigen"
	"github.com/runlet/runlet/internal/record"
)

// Capabilities is the full surface a generated script may use.
// Nothing else is reachable from script code.
type Capabilities struct {
	// Query and Mutator are bound to the current invocation's record store.
	Query   *record.Query
	Mutator *record.Mutator

	// Input holds caller-supplied parameters, opaque to the sandbox;
	// scripts validate these themselves.
	Input map[string]any

	// EnvVars simulates environment/secrets as a plain string map.
	EnvVars map[string]string

	// AI is the structured-generation collaborator, or nil when
	// unavailable (scripts calling it then fail with a clear message).
	AI aigen.ObjectGenerator

	// Logger receives console output; the engine pre-binds the execution
	// identifier so script logging is namespaced.
	Logger *slog.Logger

	// Now is the clock used by the date/id helpers.
	Now func() time.Time
}

// scriptParams is the declared parameter list of the compiled callable, in
// order. It matches the capability object's keys exactly.
const scriptParams = "db, input, envVars, console, generateId, formatDate, validateRequired, ai, schema"

// Run compiles the script into an async function over the capability
// parameters, invokes it, and awaits its result. Exactly one of (result,
// error) is populated. Anything the script throws - including db and
// helper failures - arrives on the error channel with a normalized
// "Execution error:" prefix added by the internal catch wrapper.
//
// No timeout or cancellation is enforced on the script itself; ctx bounds
// only the AI collaborator calls.
func Run(ctx context.Context, script string, caps *Capabilities) (any, error) {
	if caps.Logger == nil {
		caps.Logger = slog.Default()
	}
	if caps.Now == nil {
		caps.Now = time.Now
	}

	vm := goja.New()
	b := &binder{vm: vm, ctx: ctx, caps: caps}

	wrapped := "(async function(" + scriptParams + ") {\n" +
		"try {\n" + script + "\n} catch (err) {\n" +
		"throw new Error(\"Execution error: \" + (err && err.message ? err.message : String(err)));\n" +
		"}\n})"

	prog, err := goja.Compile("script.js", wrapped, true)
	if err != nil {
		return nil, fmt.Errorf("Execution error: script does not parse: %v", err)
	}

	fnValue, err := vm.RunProgram(prog)
	if err != nil {
		return nil, errors.New(exceptionMessage(err))
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, errors.New("Execution error: script did not compile to a function")
	}

	res, err := fn(goja.Undefined(),
		b.dbObject(),
		vm.ToValue(caps.Input),
		vm.ToValue(caps.EnvVars),
		b.consoleObject(),
		vm.ToValue(b.generateID),
		vm.ToValue(b.formatDate),
		vm.ToValue(b.validateRequired),
		b.aiObject(),
		b.schemaObject(),
	)
	if err != nil {
		return nil, errors.New(exceptionMessage(err))
	}

	// The callable is async, so the normal return is a promise. All host
	// capabilities are synchronous, which means the promise has settled by
	// the time control returns here.
	if p, ok := res.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return p.Result().Export(), nil
		case goja.PromiseStateRejected:
			return nil, errors.New(valueMessage(p.Result()))
		default:
			return nil, errors.New("Execution error: script left asynchronous work pending")
		}
	}

	return res.Export(), nil
}

// binder holds the per-run state shared by the capability bindings.
type binder struct {
	vm   *goja.Runtime
	ctx  context.Context
	caps *Capabilities
}

// throw surfaces a Go error as a JS exception inside the script, where the
// catch wrapper normalizes it.
func (b *binder) throw(err error) {
	panic(b.vm.NewGoError(err))
}

// exceptionMessage extracts the thrown value's message from a goja error.
func exceptionMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return valueMessage(ex.Value())
	}
	return err.Error()
}

// valueMessage renders a thrown JS value: an Error's message when present,
// otherwise its string form.
func valueMessage(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) && !goja.IsNull(msg) {
			return msg.String()
		}
	}
	return v.String()
}
