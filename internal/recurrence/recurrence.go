// Package recurrence expands cached events into concrete occurrences
// within a query window. Recurrence rules are stored verbatim as RRULE
// content lines; expansion happens only at read time.
package recurrence

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/tempora-hq/calsync-server/internal/events"
	"github.com/tempora-hq/calsync-server/internal/store"
)

// defaultMaxOccurrences caps the expansion of a single event so a
// pathological rule cannot blow up a range query
const defaultMaxOccurrences = 1000

// Occurrence is one concrete instance of a cached event within a window
type Occurrence struct {
	EventID  string `json:"event_id"`
	SourceID string `json:"source_id"`

	Title    string `json:"title"`
	Location string `json:"location,omitempty"`
	AllDay   bool   `json:"all_day"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks that a rule is parseable RRULE content, e.g.
// "FREQ=WEEKLY;BYDAY=MO". Empty rules are valid: the event simply does not
// recur.
func Validate(rule string) error {
	if rule == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(rule); err != nil {
		return fmt.Errorf("invalid recurrence rule %q: %w", rule, err)
	}
	return nil
}

// Expand returns the occurrences of one event that overlap the window,
// capped at maxPerEvent (<= 0 means the default cap). Non-recurring events
// yield at most their single occurrence.
func Expand(ev *events.CachedEvent, window store.TimeRange, maxPerEvent int) ([]Occurrence, error) {
	if maxPerEvent <= 0 {
		maxPerEvent = defaultMaxOccurrences
	}

	if ev.RecurrenceRule == "" {
		if !window.Contains(ev.Start, ev.End) {
			return nil, nil
		}
		return []Occurrence{makeOccurrence(ev, ev.Start, ev.End)}, nil
	}

	rule, err := rrule.StrToRRule(ev.RecurrenceRule)
	if err != nil {
		return nil, fmt.Errorf("event %s: invalid recurrence rule %q: %w", ev.ID, ev.RecurrenceRule, err)
	}
	rule.DTStart(ev.Start)

	from := window.From
	if from.IsZero() {
		from = ev.Start
	}
	to := window.To
	if to.IsZero() {
		// An unbounded window over an unbounded rule cannot terminate
		return nil, fmt.Errorf("event %s: recurrence expansion requires a bounded window", ev.ID)
	}

	duration := ev.End.Sub(ev.Start)

	// The window is half-open, but an occurrence starting before From may
	// still overlap it; widen the lower bound by one duration and filter
	// after expansion.
	times := rule.Between(from.Add(-duration), to, true)

	out := make([]Occurrence, 0, len(times))
	for _, start := range times {
		if len(out) >= maxPerEvent {
			slog.Warn("Truncating recurrence expansion",
				"event", ev.ID,
				"source", ev.SourceID,
				"cap", maxPerEvent)
			break
		}

		end := start.Add(duration)
		if ev.AllDay {
			day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			start = day
			end = day.Add(24 * time.Hour)
			if duration > 24*time.Hour {
				end = day.Add(duration)
			}
		}
		if !window.Contains(start, end) {
			continue
		}
		out = append(out, makeOccurrence(ev, start, end))
	}
	return out, nil
}

// ExpandAll expands a set of cached events into one window, sorted by
// start time. Events with unparseable rules are logged and skipped rather
// than failing the query.
func ExpandAll(evs []*events.CachedEvent, window store.TimeRange) []Occurrence {
	out := make([]Occurrence, 0, len(evs))
	for _, ev := range evs {
		occ, err := Expand(ev, window, 0)
		if err != nil {
			slog.Warn("Skipping event in recurrence expansion",
				"event", ev.ID,
				"source", ev.SourceID,
				"error", err)
			continue
		}
		out = append(out, occ...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

func makeOccurrence(ev *events.CachedEvent, start, end time.Time) Occurrence {
	return Occurrence{
		EventID:  ev.ID,
		SourceID: ev.SourceID,
		Title:    ev.Title,
		Location: ev.Location,
		AllDay:   ev.AllDay,
		Start:    start,
		End:      end,
	}
}
