// Package schedule runs documents' declared schedules: scripts that fire
// on a fixed interval instead of an explicit action call.
//
// Schedules are declared inside the document blob under the top-level
// "schedules" key, which the record layer preserves as opaque metadata.
// The runner polls, computes which schedules are due from an in-memory
// last-run map, and executes each due script through the engine with the
// schedule execution type.
package schedule

import (
	"encoding/json"
	"fmt"
	"time"
)

// Schedule is one declared recurring script.
type Schedule struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Every   string         `json:"every"`
	Script  string         `json:"script"`
	Input   map[string]any `json:"input,omitempty"`
	Enabled bool           `json:"enabled"`
}

// Interval parses the Every field ("30s", "5m", "1h30m").
func (s *Schedule) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(s.Every)
	if err != nil {
		return 0, fmt.Errorf("schedule %s: bad interval %q: %w", s.ID, s.Every, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule %s: interval %q is not positive", s.ID, s.Every)
	}
	return d, nil
}

// Parse decodes a document's "schedules" metadata blob. A missing or null
// blob is an empty list; a malformed blob is an error so the caller can
// log it against the owning document.
func Parse(raw json.RawMessage) ([]Schedule, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var schedules []Schedule
	if err := json.Unmarshal(raw, &schedules); err != nil {
		return nil, fmt.Errorf("bad 'schedules' array: %w", err)
	}
	for i, s := range schedules {
		if s.ID == "" {
			return nil, fmt.Errorf("schedule %d has no id", i)
		}
		if s.Script == "" {
			return nil, fmt.Errorf("schedule %s has no script", s.ID)
		}
	}
	return schedules, nil
}
