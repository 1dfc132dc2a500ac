package record

import (
	"time"

	"github.com/runlet/runlet/internal/docval"
)

// BatchResult is the payload returned by the *Many mutations.
type BatchResult struct {
	Count   int          `json:"count"`
	Records []Projection `json:"records"`
}

// DeleteResult is the payload returned by Delete.
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Mutator provides the write operations over a record store. Each
// operation produces both a result payload and one or more change-log
// entries.
//
// The testMode flag is supplied once at construction and governs all
// operations uniformly for the duration of one script execution. In test
// mode no record is ever read from or written to the backing store; the
// mutator synthesizes plausible results, still logs every operation, and
// substitutes an explicit placeholder for previousData.
type Mutator struct {
	store    *Store
	log      *ChangeLog
	testMode bool
	now      func() time.Time
}

// MutatorOption configures a Mutator.
type MutatorOption func(*Mutator)

// WithMutatorClock overrides the wall clock used for record timestamps,
// generated IDs, and log entries. Used by tests.
func WithMutatorClock(now func() time.Time) MutatorOption {
	return func(m *Mutator) {
		m.now = now
	}
}

// NewMutator creates a mutation engine bound to one store and change log.
func NewMutator(store *Store, log *ChangeLog, testMode bool, opts ...MutatorOption) *Mutator {
	m := &Mutator{store: store, log: log, testMode: testMode, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TestMode reports whether this mutator simulates all effects.
func (m *Mutator) TestMode() bool {
	return m.testMode
}

// Create synthesizes an ID, stamps createdAt/updatedAt, appends the record
// to the model, and logs a create entry. Returns ModelNotFound if the model
// is absent (non-test mode only; test mode never consults the store).
func (m *Mutator) Create(modelName string, data docval.Object) (Projection, error) {
	now := m.now()

	if m.testMode {
		rec := &Record{
			ID:        NewTestRecordID(now),
			Data:      data.Clone(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.logEntry(Entry{
			ModelName: modelName,
			Operation: OpCreate,
			RecordID:  rec.ID,
			Data:      data.Clone(),
		})
		return Project(rec), nil
	}

	model := m.store.Model(modelName)
	if model == nil {
		return nil, NewModelNotFound(modelName)
	}

	rec := &Record{
		ID:        NewRecordID(model.Name, now),
		ModelID:   model.ID,
		Data:      data.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	model.Records = append(model.Records, rec)

	m.logEntry(Entry{
		ModelName: modelName,
		Operation: OpCreate,
		RecordID:  rec.ID,
		Data:      data.Clone(),
	})

	return Project(rec), nil
}

// CreateMany applies Create semantics per item. Atomicity is
// all-or-nothing at the start: a missing model fails before any item is
// processed, and no mid-loop failure case exists.
func (m *Mutator) CreateMany(modelName string, items []docval.Object) (*BatchResult, error) {
	if !m.testMode {
		if m.store.Model(modelName) == nil {
			return nil, NewModelNotFound(modelName)
		}
	}

	result := &BatchResult{Records: make([]Projection, 0, len(items))}
	for _, data := range items {
		proj, err := m.Create(modelName, data)
		if err != nil {
			return nil, err
		}
		result.Records = append(result.Records, proj)
		result.Count++
	}

	return result, nil
}

// Update merges data into the first record matching where (id-or-field
// semantics, as FindUnique). The merge is shallow: listed keys overwrite,
// unlisted keys survive. updatedAt is refreshed, createdAt untouched, and
// previousData is captured before the merge.
// Returns RecordNotFound if nothing matches (non-test mode only - test mode
// never looks anything up).
func (m *Mutator) Update(modelName string, where, data docval.Object) (Projection, error) {
	now := m.now()

	if m.testMode {
		rec := &Record{
			ID:        simulatedID(where, now),
			Data:      data.Clone(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.logEntry(Entry{
			ModelName:    modelName,
			Operation:    OpUpdate,
			RecordID:     rec.ID,
			Data:         data.Clone(),
			PreviousData: SimulatedPreviousData(),
		})
		return Project(rec), nil
	}

	model := m.store.Model(modelName)
	if model == nil {
		return nil, NewModelNotFound(modelName)
	}

	rec := findFirst(model, where)
	if rec == nil {
		return nil, NewRecordNotFound(modelName)
	}

	prev := rec.Data.Clone()
	m.merge(rec, data, now)

	m.logEntry(Entry{
		ModelName:    modelName,
		Operation:    OpUpdate,
		RecordID:     rec.ID,
		Data:         data.Clone(),
		PreviousData: prev,
	})

	return Project(rec), nil
}

// UpdateMany applies Update's merge semantics to every record whose data
// fields match where. Each updated record produces its own entry with its
// own previousData.
func (m *Mutator) UpdateMany(modelName string, where, data docval.Object) (*BatchResult, error) {
	if m.testMode {
		m.logEntry(Entry{
			ModelName:    modelName,
			Operation:    OpUpdateMany,
			Data:         data.Clone(),
			PreviousData: SimulatedPreviousData(),
		})
		return &BatchResult{Records: []Projection{}}, nil
	}

	model := m.store.Model(modelName)
	if model == nil {
		return nil, NewModelNotFound(modelName)
	}

	now := m.now()
	result := &BatchResult{Records: []Projection{}}
	for _, rec := range model.Records {
		if !matchesData(rec, where) {
			continue
		}

		prev := rec.Data.Clone()
		m.merge(rec, data, now)

		m.logEntry(Entry{
			ModelName:    modelName,
			Operation:    OpUpdateMany,
			RecordID:     rec.ID,
			Data:         data.Clone(),
			PreviousData: prev,
		})

		result.Records = append(result.Records, Project(rec))
		result.Count++
	}

	return result, nil
}

// Delete removes the first record matching where (id-or-field semantics),
// preserving the order of the remaining records. previousData captures the
// full data bag so the entry is a valid undo record.
// Returns RecordNotFound if nothing matches (non-test mode only).
func (m *Mutator) Delete(modelName string, where docval.Object) (*DeleteResult, error) {
	if m.testMode {
		id := simulatedID(where, m.now())
		m.logEntry(Entry{
			ModelName:    modelName,
			Operation:    OpDelete,
			RecordID:     id,
			PreviousData: SimulatedPreviousData(),
		})
		return &DeleteResult{ID: id, Deleted: true}, nil
	}

	model := m.store.Model(modelName)
	if model == nil {
		return nil, NewModelNotFound(modelName)
	}

	idx := -1
	for i, rec := range model.Records {
		if matchesDataOrID(rec, where) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, NewRecordNotFound(modelName)
	}

	rec := model.Records[idx]
	model.Records = append(model.Records[:idx], model.Records[idx+1:]...)

	m.logEntry(Entry{
		ModelName:    modelName,
		Operation:    OpDelete,
		RecordID:     rec.ID,
		PreviousData: rec.Data.Clone(),
	})

	return &DeleteResult{ID: rec.ID, Deleted: true}, nil
}

// DeleteMany removes every record whose data fields match where. Each
// removed record produces its own entry with its full previousData.
func (m *Mutator) DeleteMany(modelName string, where docval.Object) (*BatchResult, error) {
	if m.testMode {
		m.logEntry(Entry{
			ModelName:    modelName,
			Operation:    OpDeleteMany,
			PreviousData: SimulatedPreviousData(),
		})
		return &BatchResult{Records: []Projection{}}, nil
	}

	model := m.store.Model(modelName)
	if model == nil {
		return nil, NewModelNotFound(modelName)
	}

	result := &BatchResult{Records: []Projection{}}
	kept := model.Records[:0]
	for _, rec := range model.Records {
		if !matchesData(rec, where) {
			kept = append(kept, rec)
			continue
		}

		m.logEntry(Entry{
			ModelName:    modelName,
			Operation:    OpDeleteMany,
			RecordID:     rec.ID,
			PreviousData: rec.Data.Clone(),
		})

		result.Records = append(result.Records, Project(rec))
		result.Count++
	}
	model.Records = kept

	return result, nil
}

// merge applies the shallow update: data fields overwrite same-named keys,
// unspecified keys are preserved. Merge-on-update matches how generated
// scripts patch a subset of fields without dropping the rest.
func (m *Mutator) merge(rec *Record, data docval.Object, now time.Time) {
	if rec.Data == nil {
		rec.Data = docval.Object{}
	}
	for k, v := range data {
		rec.Data[k] = v
	}
	rec.UpdatedAt = now
}

// logEntry stamps and appends a change-log entry.
func (m *Mutator) logEntry(e Entry) {
	e.Timestamp = m.now()
	m.log.Append(e)
}

// simulatedID picks the ID reported for a test-mode update/delete: the
// caller's where.id when it is a string, otherwise a fresh test ID.
func simulatedID(where docval.Object, now time.Time) string {
	if v, ok := where["id"]; ok {
		if s, ok := v.(docval.String); ok {
			return string(s)
		}
	}
	return NewTestRecordID(now)
}
