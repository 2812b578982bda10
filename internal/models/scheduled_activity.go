package models

import (
	"encoding/json"
	"sort"
	"time"
)

// ScheduledActivityStatus is the derived lifecycle status of a scheduled
// activity instance. It is computed on read and never stored.
type ScheduledActivityStatus string

const (
	// StatusScheduled means the instance's scheduled time is in the future.
	StatusScheduled ScheduledActivityStatus = "scheduled"
	// StatusAvailable means the instance can be started now.
	StatusAvailable ScheduledActivityStatus = "available"
	// StatusStarted means the participant has started but not finished it.
	StatusStarted ScheduledActivityStatus = "started"
	// StatusFinished means the participant completed the instance (terminal).
	StatusFinished ScheduledActivityStatus = "finished"
	// StatusExpired means the instance lapsed unfinished (terminal).
	StatusExpired ScheduledActivityStatus = "expired"
	// StatusDeleted means the participant removed the instance (terminal,
	// overrides all other states).
	StatusDeleted ScheduledActivityStatus = "deleted"
)

// ScheduledActivity is one concrete, per-participant instance of an Activity.
//
// The guid is derived deterministically from the plan guid, activity guid,
// and scheduled time, so repeated expansion is idempotent. HealthCode and
// SchedulePlanGuid are internal correlation fields and are filtered out of
// the serialized representation.
type ScheduledActivity struct {
	Guid             string     `json:"guid"`
	SchedulePlanGuid string     `json:"-"`
	HealthCode       string     `json:"-"`
	Activity         Activity   `json:"activity"`
	ScheduledOn      *time.Time `json:"scheduledOn,omitempty"`
	ExpiresOn        *time.Time `json:"expiresOn,omitempty"`
	StartedOn        *time.Time `json:"startedOn,omitempty"`
	FinishedOn       *time.Time `json:"finishedOn,omitempty"`
	Persistent       bool       `json:"persistent"`
	Deleted          bool       `json:"deleted,omitempty"`
	TimeZone         string     `json:"timeZone,omitempty"`
}

// Status derives the instance's lifecycle status at the given time. Expired
// is only reachable from scheduled/available/started; a finished instance
// stays finished regardless of its expiration time.
func (sa ScheduledActivity) Status(now time.Time) ScheduledActivityStatus {
	switch {
	case sa.Deleted:
		return StatusDeleted
	case sa.FinishedOn != nil:
		return StatusFinished
	case sa.ExpiresOn != nil && now.After(*sa.ExpiresOn):
		return StatusExpired
	case sa.StartedOn != nil:
		return StatusStarted
	case sa.ScheduledOn != nil && !now.Before(*sa.ScheduledOn):
		return StatusAvailable
	default:
		return StatusScheduled
	}
}

// Location resolves the instance's time zone, falling back to UTC when the
// zone is unset or unknown.
func (sa ScheduledActivity) Location() *time.Location {
	if sa.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(sa.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MarshalJSON emits the client-facing representation: internal correlation
// fields are dropped via struct tags, the derived status is attached, and
// timestamps are rendered in the participant's time zone.
func (sa ScheduledActivity) MarshalJSON() ([]byte, error) {
	loc := sa.Location()
	localized := sa
	localized.ScheduledOn = inLocation(sa.ScheduledOn, loc)
	localized.ExpiresOn = inLocation(sa.ExpiresOn, loc)
	localized.StartedOn = inLocation(sa.StartedOn, loc)
	localized.FinishedOn = inLocation(sa.FinishedOn, loc)

	type alias ScheduledActivity
	return json.Marshal(struct {
		alias
		Status ScheduledActivityStatus `json:"status"`
	}{alias(localized), sa.Status(time.Now())})
}

func inLocation(t *time.Time, loc *time.Location) *time.Time {
	if t == nil {
		return nil
	}
	local := t.In(loc)
	return &local
}

// CompareScheduledActivities orders instances soonest first. Instances with
// no scheduled time sort after all timestamped instances; among timestamped
// instances ties are broken by activity label, ascending.
func CompareScheduledActivities(a, b ScheduledActivity) int {
	if a.ScheduledOn == nil {
		if b.ScheduledOn == nil {
			return 0
		}
		return 1
	}
	if b.ScheduledOn == nil {
		return -1
	}
	if a.ScheduledOn.Before(*b.ScheduledOn) {
		return -1
	}
	if a.ScheduledOn.After(*b.ScheduledOn) {
		return 1
	}
	switch {
	case a.Activity.Label < b.Activity.Label:
		return -1
	case a.Activity.Label > b.Activity.Label:
		return 1
	default:
		return 0
	}
}

// SortScheduledActivities sorts instances in place using
// CompareScheduledActivities, preserving the order of equal elements.
func SortScheduledActivities(activities []ScheduledActivity) {
	sort.SliceStable(activities, func(i, j int) bool {
		return CompareScheduledActivities(activities[i], activities[j]) < 0
	})
}
