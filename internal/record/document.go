package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/runlet/runlet/internal/docval"
)

// Model is a named collection of records within a document, loosely
// analogous to a database table. Name is the lookup key used by scripts and
// is case-sensitive and unique within a document.
type Model struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Records []*Record `json:"records"`
}

// Record is one schema-less data item belonging to exactly one model.
// ID is generated at creation time and never reassigned. ModelID always
// matches the owning model's ID; records are never shared between models.
type Record struct {
	ID        string        `json:"id"`
	ModelID   string        `json:"modelId"`
	Data      docval.Object `json:"data"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// HistoryEntry is one persisted execution-history record. The document
// keeps a bounded ring of these (most recent first evicted last).
type HistoryEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	ExecutionTimeMs int64     `json:"executionTime"`
	Success         bool      `json:"success"`
	TestMode        bool      `json:"testMode"`
	Type            string    `json:"type"`
	Error           string    `json:"error,omitempty"`
	Changelog       []Entry   `json:"changelog"`
}

// Document is the deserialized form of one document's content blob:
// the models with their records, the bounded execution history, and any
// other agent metadata, which is preserved untouched across a round-trip.
type Document struct {
	Models           []*Model
	ExecutionHistory []HistoryEntry

	// meta holds every top-level key other than models/executionHistory,
	// raw, so reconciliation re-serializes the whole blob without
	// understanding the rest of the agent definition.
	meta map[string]json.RawMessage
}

// ParseDocument deserializes a content blob. The blob must be a JSON object
// with a "models" array; anything else is InvalidContent.
func ParseDocument(content []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, NewInvalidContent(fmt.Sprintf("not a JSON object: %v", err))
	}

	modelsRaw, ok := raw["models"]
	if !ok {
		return nil, NewInvalidContent("missing 'models' array")
	}

	doc := &Document{meta: raw}

	if err := json.Unmarshal(modelsRaw, &doc.Models); err != nil {
		return nil, NewInvalidContent(fmt.Sprintf("bad 'models' array: %v", err))
	}
	delete(raw, "models")

	if historyRaw, ok := raw["executionHistory"]; ok {
		if err := json.Unmarshal(historyRaw, &doc.ExecutionHistory); err != nil {
			return nil, NewInvalidContent(fmt.Sprintf("bad 'executionHistory' array: %v", err))
		}
		delete(raw, "executionHistory")
	}

	return doc, nil
}

// Marshal re-serializes the whole blob: mutated models, updated history,
// and every preserved metadata key. There is no partial update - the
// caller replaces the persisted content with these bytes.
func (d *Document) Marshal() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.meta)+2)
	for k, v := range d.meta {
		out[k] = v
	}

	modelsJSON, err := json.Marshal(d.Models)
	if err != nil {
		return nil, fmt.Errorf("marshal models: %w", err)
	}
	out["models"] = modelsJSON

	history := d.ExecutionHistory
	if history == nil {
		history = []HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal execution history: %w", err)
	}
	out["executionHistory"] = historyJSON

	return json.Marshal(out)
}

// Meta returns the raw bytes of a preserved metadata key, if present.
// Used by the schedule runner to read the document's schedule definitions.
func (d *Document) Meta(key string) (json.RawMessage, bool) {
	v, ok := d.meta[key]
	return v, ok
}

// Store is the in-memory representation of one document's data for the
// duration of a single invocation. It is built fresh from the persisted
// blob, mutated in place by the mutation engine, and discarded afterwards.
// It is not safe for concurrent use; one invocation owns it exclusively.
type Store struct {
	models []*Model
}

// NewStore wraps a document's models. The slice is shared with the
// document so reconciliation sees every mutation.
func NewStore(models []*Model) *Store {
	return &Store{models: models}
}

// Model returns the model with the given name, or nil.
// Lookup is case-sensitive.
func (s *Store) Model(name string) *Model {
	for _, m := range s.models {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Models returns the models in document order.
func (s *Store) Models() []*Model {
	return s.models
}

// Projection is the flattened {id, ...data, createdAt, updatedAt} view of a
// record returned to scripts. modelId is never exposed to script-level code.
type Projection map[string]any

// Project flattens a record for script consumption. Timestamps are RFC 3339
// strings, matching the serialized document form.
func Project(r *Record) Projection {
	p := make(Projection, len(r.Data)+3)
	for k, v := range r.Data {
		p[k] = docval.ToAny(v)
	}
	p["id"] = r.ID
	p["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	p["updatedAt"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return p
}

var lowerCaser = cases.Lower(language.Und)

// NewRecordID builds a record ID of the form
// "<modelNameLowercased>_<epochMillis>_<randomSuffix>". IDs are generated
// once at creation and never reassigned.
func NewRecordID(modelName string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", lowerCaser.String(modelName), now.UnixMilli(), randomSuffix())
}

// NewTestRecordID builds the simulated-record ID used in test mode.
func NewTestRecordID(now time.Time) string {
	return fmt.Sprintf("test_%d_%s", now.UnixMilli(), randomSuffix())
}

// randomSuffix returns a short random tail for record IDs. Uniqueness
// within a millisecond is all that is needed.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}
