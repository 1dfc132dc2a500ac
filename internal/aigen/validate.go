package aigen

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ValidateObject checks a concrete value against a CUE schema source.
//
// The schema is compiled, unified with the value, and validated for
// concreteness, so both missing required fields and type mismatches are
// reported. Scripts describe their structured-output expectations this way
// through the sandbox schema helper, and generated AI objects are checked
// before being handed back to the script.
func ValidateObject(schemaSource string, value any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	encoded := ctx.Encode(value)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	unified := schema.Unify(encoded)
	if err := unified.Err(); err != nil {
		return fmt.Errorf("value does not satisfy schema: %w", err)
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("value does not satisfy schema: %w", err)
	}

	return nil
}
