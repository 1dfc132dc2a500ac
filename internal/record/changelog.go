package record

import (
	"time"

	"github.com/runlet/runlet/internal/docval"
)

// Operation identifies one audited operation kind.
type Operation string

const (
	OpFind       Operation = "find"
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpUpdateMany Operation = "updateMany"
	OpDeleteMany Operation = "deleteMany"
)

// IsMutation reports whether the operation changes records. Reads are
// logged too, so the change log is a complete operational trace, but only
// mutations gate the write-back decision.
func (op Operation) IsMutation() bool {
	return op != OpFind
}

// Entry is one audited operation performed during a single execution.
// PreviousData is captured before mutation for update/delete so the entry
// is a valid undo record; in simulated mode it is replaced with an explicit
// placeholder since no real record exists to read from.
type Entry struct {
	ModelName    string        `json:"modelName"`
	Operation    Operation     `json:"operation"`
	RecordID     string        `json:"recordId,omitempty"`
	Data         docval.Object `json:"data,omitempty"`
	PreviousData docval.Object `json:"previousData,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SimulatedPreviousData is the placeholder stored instead of real prior
// state when a mutation runs in test mode.
func SimulatedPreviousData() docval.Object {
	return docval.Object{"simulated": docval.Bool(true)}
}

// ChangeLog is the append-only, request-scoped ordered sequence of every
// operation performed during one execution, reads included. It is the
// single source of truth for what the caller sees as "changes made", for
// the persisted execution history, and for whether reconciliation has
// anything to write back. It is audit data, not a replay mechanism.
type ChangeLog struct {
	entries []Entry
}

// NewChangeLog creates an empty change log.
func NewChangeLog() *ChangeLog {
	return &ChangeLog{}
}

// Append adds an entry. Entries are ordered by emission; ties in timestamp
// are broken by insertion order.
func (l *ChangeLog) Append(e Entry) {
	l.entries = append(l.entries, e)
}

// Entries returns the logged entries in order. The returned slice is a
// copy; the log itself stays append-only.
func (l *ChangeLog) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of logged entries.
func (l *ChangeLog) Len() int {
	return len(l.entries)
}

// MutationCount returns how many entries are mutations (non-find).
func (l *ChangeLog) MutationCount() int {
	n := 0
	for _, e := range l.entries {
		if e.Operation.IsMutation() {
			n++
		}
	}
	return n
}

// ForModel returns this model's entries, optionally restricted to
// mutations. Used to build the per-model change summary in the response.
func (l *ChangeLog) ForModel(name string, mutationsOnly bool) []Entry {
	var out []Entry
	for _, e := range l.entries {
		if e.ModelName != name {
			continue
		}
		if mutationsOnly && !e.Operation.IsMutation() {
			continue
		}
		out = append(out, e)
	}
	return out
}
