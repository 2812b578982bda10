package models

import (
	"errors"
	"time"
)

// ActivityType identifies the payload carried by an Activity.
type ActivityType string

const (
	// ActivityTypeTask references a locally defined task the app runs.
	ActivityTypeTask ActivityType = "task"
	// ActivityTypeSurvey references a published survey.
	ActivityTypeSurvey ActivityType = "survey"
	// ActivityTypeCompound bundles multiple task and survey references.
	ActivityTypeCompound ActivityType = "compound"
)

// Error variables for activity validation.
var (
	ErrMissingActivityLabel       = errors.New("activity label cannot be empty")
	ErrMissingActivityGuid        = errors.New("activity guid cannot be empty")
	ErrMissingActivityPayload     = errors.New("activity requires a task, survey, or compound payload")
	ErrConflictingActivityPayload = errors.New("activity must carry exactly one payload")
	ErrMissingSurveyGuid          = errors.New("survey reference guid cannot be empty")
)

// TaskReference points at a task definition known to the client app.
type TaskReference struct {
	Identifier string `json:"identifier"`
}

// SurveyReference points at a specific published revision of a survey.
type SurveyReference struct {
	Guid       string     `json:"guid"`
	Identifier string     `json:"identifier,omitempty"`
	CreatedOn  *time.Time `json:"createdOn,omitempty"`
}

// CompoundActivity bundles several task and survey references under one
// identifier so they can be scheduled and completed as a unit.
type CompoundActivity struct {
	Identifier       string            `json:"identifier"`
	TaskReferences   []TaskReference   `json:"taskReferences,omitempty"`
	SurveyReferences []SurveyReference `json:"surveyReferences,omitempty"`
}

// Activity is one immutable unit of work a participant can be asked to
// perform. Exactly one of Task, Survey, or Compound is set.
type Activity struct {
	Label    string            `json:"label"`
	Guid     string            `json:"guid"`
	Task     *TaskReference    `json:"task,omitempty"`
	Survey   *SurveyReference  `json:"survey,omitempty"`
	Compound *CompoundActivity `json:"compoundActivity,omitempty"`
}

// Type returns the activity's payload type, or the empty string when no
// payload is set.
func (a Activity) Type() ActivityType {
	switch {
	case a.Task != nil:
		return ActivityTypeTask
	case a.Survey != nil:
		return ActivityTypeSurvey
	case a.Compound != nil:
		return ActivityTypeCompound
	default:
		return ""
	}
}

// Validate checks that the activity is fully specified with a single payload.
func (a Activity) Validate() error {
	if a.Label == "" {
		return ErrMissingActivityLabel
	}
	if a.Guid == "" {
		return ErrMissingActivityGuid
	}
	count := 0
	if a.Task != nil {
		count++
	}
	if a.Survey != nil {
		count++
		if a.Survey.Guid == "" {
			return ErrMissingSurveyGuid
		}
	}
	if a.Compound != nil {
		count++
	}
	if count == 0 {
		return ErrMissingActivityPayload
	}
	if count > 1 {
		return ErrConflictingActivityPayload
	}
	return nil
}
