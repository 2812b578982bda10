package models

import (
	"errors"
	"fmt"
	"time"
)

// EventEnrollment is the default anchor event for relative schedules. It is
// immutable once published: later writes must not shift a participant's
// entire schedule baseline.
const EventEnrollment = "enrollment"

// Error variables for activity event validation.
var (
	ErrEmptyHealthCode  = errors.New("health code cannot be empty")
	ErrEmptyEventID     = errors.New("event id cannot be empty")
	ErrInvalidEventTime = errors.New("event timestamp must be positive epoch milliseconds")
)

// ActivityFinishedEventID returns the event id published when the scheduled
// activity with the given guid is finished.
func ActivityFinishedEventID(activityGuid string) string {
	return fmt.Sprintf("activity:%s:finished", activityGuid)
}

// SurveyFinishedEventID returns the event id published when a survey response
// is completed.
func SurveyFinishedEventID(surveyGuid string) string {
	return fmt.Sprintf("survey:%s:finished", surveyGuid)
}

// QuestionAnsweredEventID returns the event id published when an individual
// survey question is answered.
func QuestionAnsweredEventID(questionGuid string) string {
	return fmt.Sprintf("question:%s:answered", questionGuid)
}

// ActivityEvent is one named, timestamped domain occurrence for a
// participant. The store keeps the latest timestamp per (healthCode, eventId)
// pair as the canonical anchor, except for enrollment (first write wins).
type ActivityEvent struct {
	HealthCode string `json:"-"`
	EventID    string `json:"eventId"`
	Timestamp  int64  `json:"timestamp"` // epoch milliseconds
}

// Time returns the event timestamp as a UTC time.
func (e ActivityEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Validate checks that the event is fully specified.
func (e ActivityEvent) Validate() error {
	if e.HealthCode == "" {
		return ErrEmptyHealthCode
	}
	if e.EventID == "" {
		return ErrEmptyEventID
	}
	if e.Timestamp <= 0 {
		return ErrInvalidEventTime
	}
	return nil
}
