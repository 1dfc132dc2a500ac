package record

import (
	"time"

	"github.com/runlet/runlet/internal/docval"
)

// FindOptions narrows a FindMany call. Where filters on strict equality of
// every listed key; a positive Limit truncates the filtered result from the
// front. No operators, no partial matching, no sort beyond insertion order -
// this surface is intentionally minimal.
type FindOptions struct {
	Where docval.Object
	Limit int
}

// Query provides read-only lookups over a record store. Every call is
// logged, including reads, so the change log is a complete operational
// trace rather than a mutation trace.
type Query struct {
	store *Store
	log   *ChangeLog
	now   func() time.Time
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// WithQueryClock overrides the wall clock used to stamp log entries.
// Used by tests for deterministic timestamps.
func WithQueryClock(now func() time.Time) QueryOption {
	return func(q *Query) {
		q.now = now
	}
}

// NewQuery creates a query engine bound to one store and change log.
func NewQuery(store *Store, log *ChangeLog, opts ...QueryOption) *Query {
	q := &Query{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// FindMany returns projections of every record matching opts.Where, in
// insertion order, truncated to opts.Limit when positive.
// Returns ModelNotFound if the model is absent.
func (q *Query) FindMany(modelName string, opts FindOptions) ([]Projection, error) {
	model := q.store.Model(modelName)
	if model == nil {
		return nil, NewModelNotFound(modelName)
	}

	var matched []*Record
	for _, rec := range model.Records {
		if matchesData(rec, opts.Where) {
			matched = append(matched, rec)
		}
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	results := make([]Projection, len(matched))
	for i, rec := range matched {
		results[i] = Project(rec)
	}

	q.log.Append(Entry{
		ModelName: modelName,
		Operation: OpFind,
		Data: docval.Object{
			"found":   docval.Number(len(results)),
			"options": findOptionsValue(opts),
		},
		Timestamp: q.now(),
	})

	return results, nil
}

// FindUnique returns the first record where every where key equals either
// the data field of the same name or the record's ID, so callers may search
// by primary id or by any attribute through the same call.
// Returns nil (not an error) when nothing matches; a find entry is logged
// only when a record is actually found.
func (q *Query) FindUnique(modelName string, where docval.Object) (Projection, error) {
	model := q.store.Model(modelName)
	if model == nil {
		return nil, NewModelNotFound(modelName)
	}

	rec := findFirst(model, where)
	if rec == nil {
		return nil, nil
	}

	q.log.Append(Entry{
		ModelName: modelName,
		Operation: OpFind,
		RecordID:  rec.ID,
		Data:      where.Clone(),
		Timestamp: q.now(),
	})

	return Project(rec), nil
}

// findFirst returns the first record matching where under id-or-field
// semantics, or nil.
func findFirst(model *Model, where docval.Object) *Record {
	for _, rec := range model.Records {
		if matchesDataOrID(rec, where) {
			return rec
		}
	}
	return nil
}

// matchesData reports whether every where key strictly equals the
// corresponding data field. An empty where matches everything.
func matchesData(rec *Record, where docval.Object) bool {
	for k, want := range where {
		got, ok := rec.Data[k]
		if !ok || !docval.Equal(got, want) {
			return false
		}
	}
	return true
}

// matchesDataOrID is matchesData extended with the id escape hatch: a where
// value also matches when it equals the record's ID.
func matchesDataOrID(rec *Record, where docval.Object) bool {
	for k, want := range where {
		if s, ok := want.(docval.String); ok && string(s) == rec.ID {
			continue
		}
		got, ok := rec.Data[k]
		if !ok || !docval.Equal(got, want) {
			return false
		}
	}
	return true
}

// findOptionsValue records the caller's options in the find audit entry.
func findOptionsValue(opts FindOptions) docval.Object {
	out := docval.Object{}
	if opts.Where != nil {
		out["where"] = opts.Where.Clone()
	}
	if opts.Limit > 0 {
		out["limit"] = docval.Number(opts.Limit)
	}
	return out
}
