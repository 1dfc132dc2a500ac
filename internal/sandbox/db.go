package sandbox

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/runlet/runlet/internal/docval"
	"github.com/runlet/runlet/internal/record"
)

// dbObject builds the db capability: the eight query/mutation operations
// bound to the current record store.
func (b *binder) dbObject() *goja.Object {
	db := b.vm.NewObject()

	must := func(name string, fn func(goja.FunctionCall) goja.Value) {
		if err := db.Set(name, fn); err != nil {
			panic(fmt.Errorf("bind db.%s: %v", name, err))
		}
	}

	must("findMany", b.findMany)
	must("findUnique", b.findUnique)
	must("create", b.create)
	must("createMany", b.createMany)
	must("update", b.update)
	must("updateMany", b.updateMany)
	must("delete", b.deleteOne)
	must("deleteMany", b.deleteMany)

	return db
}

func (b *binder) findMany(call goja.FunctionCall) goja.Value {
	model := call.Argument(0).String()
	opts, err := b.exportFindOptions(call.Argument(1))
	if err != nil {
		b.throw(err)
	}

	results, err := b.caps.Query.FindMany(model, opts)
	if err != nil {
		b.throw(err)
	}

	out := make([]any, len(results))
	for i, p := range results {
		out[i] = map[string]any(p)
	}
	return b.vm.ToValue(out)
}

func (b *binder) findUnique(call goja.FunctionCall) goja.Value {
	model := call.Argument(0).String()
	where, err := b.exportObject(call.Argument(1))
	if err != nil {
		b.throw(err)
	}

	proj, err := b.caps.Query.FindUnique(model, where)
	if err != nil {
		b.throw(err)
	}
	if proj == nil {
		return goja.Null()
	}
	return b.vm.ToValue(map[string]any(proj))
}

func (b *binder) create(call goja.FunctionCall) goja.Value {
	model := call.Argument(0).String()
	data, err := b.exportObject(call.Argument(1))
	if err != nil {
		b.throw(err)
	}

	proj, err := b.caps.Mutator.Create(model, data)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(map[string]any(proj))
}

func (b *binder) createMany(call goja.FunctionCall) goja.Value {
	model := call.Argument(0).String()
	items, err := b.exportObjectSlice(call.Argument(1))
	if err != nil {
		b.throw(err)
	}

	result, err := b.caps.Mutator.CreateMany(model, items)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(batchValue(result))
}

func (b *binder) update(call goja.FunctionCall) goja.Value {
	model := call.Argument(0).String()
	where, err := b.exportObject(call.Argument(1))
	if err != nil {
		b.throw(err)
	}
	data, err := b.exportObject(call.Argument(2))
	if err != nil {
		b.throw(err)
	}

	proj, err := b.caps.Mutator.Update(model, where, data)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(map[string]any(proj))
}

func (b *binder) updateMany(call goja.FunctionCall) goja.Value {
	model := call.Argument(0).String()
	where, err := b.exportObject(call.Argument(1))
	if err != nil {
		b.throw(err)
	}
	data, err := b.exportObject(call.Argument(2))
	if err != nil {
		b.throw(err)
	}

	result, err := b.caps.Mutator.UpdateMany(model, where, data)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(batchValue(result))
}

func (b *binder) deleteOne(call goja.FunctionCall) goja.Value {
	model := call.Argument(0).String()
	where, err := b.exportObject(call.Argument(1))
	if err != nil {
		b.throw(err)
	}

	result, err := b.caps.Mutator.Delete(model, where)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(map[string]any{
		"id":      result.ID,
		"deleted": result.Deleted,
	})
}

func (b *binder) deleteMany(call goja.FunctionCall) goja.Value {
	model := call.Argument(0).String()
	where, err := b.exportObject(call.Argument(1))
	if err != nil {
		b.throw(err)
	}

	result, err := b.caps.Mutator.DeleteMany(model, where)
	if err != nil {
		b.throw(err)
	}
	return b.vm.ToValue(batchValue(result))
}

// batchValue flattens a BatchResult into plain script values.
func batchValue(r *record.BatchResult) map[string]any {
	records := make([]any, len(r.Records))
	for i, p := range r.Records {
		records[i] = map[string]any(p)
	}
	return map[string]any{
		"count":   r.Count,
		"records": records,
	}
}

// exportObject converts a script value into a data bag. Undefined and null
// export to a nil object.
func (b *binder) exportObject(v goja.Value) (docval.Object, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	m, ok := v.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %s", v.ExportType())
	}
	obj, err := docval.ObjectFromAny(m)
	if err != nil {
		return nil, fmt.Errorf("invalid object: %w", err)
	}
	return obj, nil
}

// exportObjectSlice converts a script array of objects (createMany input).
func (b *binder) exportObjectSlice(v goja.Value) ([]docval.Object, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	raw, ok := v.Export().([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of objects, got %s", v.ExportType())
	}
	items := make([]docval.Object, len(raw))
	for i, elem := range raw {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object at index %d, got %T", i, elem)
		}
		obj, err := docval.ObjectFromAny(m)
		if err != nil {
			return nil, fmt.Errorf("invalid object at index %d: %w", i, err)
		}
		items[i] = obj
	}
	return items, nil
}

// exportFindOptions converts the optional {where, limit} argument.
func (b *binder) exportFindOptions(v goja.Value) (record.FindOptions, error) {
	var opts record.FindOptions
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return opts, nil
	}

	m, ok := v.Export().(map[string]any)
	if !ok {
		return opts, fmt.Errorf("expected an options object, got %s", v.ExportType())
	}

	if w, ok := m["where"]; ok && w != nil {
		wm, ok := w.(map[string]any)
		if !ok {
			return opts, fmt.Errorf("expected 'where' to be an object, got %T", w)
		}
		where, err := docval.ObjectFromAny(wm)
		if err != nil {
			return opts, fmt.Errorf("invalid 'where': %w", err)
		}
		opts.Where = where
	}

	if l, ok := m["limit"]; ok && l != nil {
		switch n := l.(type) {
		case int64:
			opts.Limit = int(n)
		case float64:
			opts.Limit = int(n)
		default:
			return opts, fmt.Errorf("expected 'limit' to be a number, got %T", l)
		}
	}

	return opts, nil
}
