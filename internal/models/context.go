package models

import "time"

// ScheduleContext is the single consistent snapshot of participant state a
// scheduling run operates on. The engine never re-reads any of these inputs
// mid-computation, so one invocation always produces a stable result.
type ScheduleContext struct {
	Criteria CriteriaContext
	// Events maps event ids to their canonical anchor timestamps.
	Events map[string]time.Time
	// Now and Until bound recurring expansion; no generated instance is
	// enumerated past Until.
	Now   time.Time
	Until time.Time
	// TimeZone is the participant's IANA zone name for localizing fire times.
	TimeZone string
	// Materialized holds instance guids already persisted by the activity
	// store, used to suppress regeneration of persistent instances.
	Materialized map[string]bool
}

// EventTime looks up the anchor timestamp for an event id.
func (c ScheduleContext) EventTime(eventID string) (time.Time, bool) {
	t, ok := c.Events[eventID]
	return t, ok
}

// Location resolves the participant's time zone, falling back to UTC when the
// zone is unset or unknown.
func (c ScheduleContext) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsMaterialized reports whether an instance guid already exists in the
// external activity store.
func (c ScheduleContext) IsMaterialized(guid string) bool {
	return c.Materialized[guid]
}
