package models

import (
	"errors"
	"time"

	"github.com/sosodev/duration"
)

// ScheduleType defines whether a schedule fires once or recurs.
type ScheduleType string

const (
	// ScheduleTypeOnce fires a single instance at the anchor plus delay.
	ScheduleTypeOnce ScheduleType = "once"
	// ScheduleTypeRecurring fires repeatedly via a cron trigger or interval.
	ScheduleTypeRecurring ScheduleType = "recurring"
)

// StrategyType identifies how a plan selects a schedule for a participant.
type StrategyType string

const (
	// StrategyTypeSimple returns the plan's single schedule unconditionally.
	StrategyTypeSimple StrategyType = "simple"
	// StrategyTypeABTest assigns participants to percentage-weighted groups.
	StrategyTypeABTest StrategyType = "abtest"
)

// Error variables for schedule and plan validation.
var (
	ErrInvalidScheduleType    = errors.New("invalid schedule type")
	ErrInvalidStrategyType    = errors.New("invalid strategy type")
	ErrMissingSimpleSchedule  = errors.New("simple strategy requires a schedule")
	ErrMissingScheduleGroups  = errors.New("abtest strategy requires schedule groups")
	ErrInvalidGroupPercentage = errors.New("schedule group percentage must be in 1..100")
	ErrGroupPercentageSum     = errors.New("schedule group percentages cannot exceed 100")
	ErrMissingPlanGuid        = errors.New("schedule plan guid cannot be empty")
	ErrMissingStudyKey        = errors.New("schedule plan study key cannot be empty")
	ErrMissingScheduleLabel   = errors.New("schedule label cannot be empty")
	ErrMissingActivities      = errors.New("schedule requires at least one activity")
	ErrInvalidDuration        = errors.New("invalid ISO-8601 duration")
	ErrInvalidTimeOfDay       = errors.New("times entries must be in HH:MM format")
)

// IsValidScheduleType checks if the given schedule type is supported.
func IsValidScheduleType(st ScheduleType) bool {
	switch st {
	case ScheduleTypeOnce, ScheduleTypeRecurring:
		return true
	default:
		return false
	}
}

// Schedule describes when and how often a set of activities is issued to a
// participant, relative to a named anchor event.
//
// Durations (Interval, Delay, Expires) are ISO-8601 strings such as "P1D" or
// "PT1H". Times entries are wall-clock fire times ("08:00") applied per
// interval boundary in the participant's time zone.
type Schedule struct {
	Label        string       `json:"label"`
	ScheduleType ScheduleType `json:"scheduleType"`
	CronTrigger  string       `json:"cronTrigger,omitempty"`
	Interval     string       `json:"interval,omitempty"`
	Delay        string       `json:"delay,omitempty"`
	Expires      string       `json:"expires,omitempty"`
	Times        []string     `json:"times,omitempty"`
	EventID      string       `json:"eventId,omitempty"`
	Activities   []Activity   `json:"activities"`
}

// AnchorEventID returns the event the schedule is anchored on, defaulting to
// the enrollment event.
func (s Schedule) AnchorEventID() string {
	if s.EventID == "" {
		return EventEnrollment
	}
	return s.EventID
}

// DelayDuration parses the schedule's delay offset. An unset delay is zero.
func (s Schedule) DelayDuration() (time.Duration, error) {
	return parseISODuration(s.Delay)
}

// IntervalDuration parses the schedule's recurrence interval. An unset
// interval is zero.
func (s Schedule) IntervalDuration() (time.Duration, error) {
	return parseISODuration(s.Interval)
}

// ExpiresDuration parses the schedule's expiration period. Zero means
// generated instances never expire.
func (s Schedule) ExpiresDuration() (time.Duration, error) {
	return parseISODuration(s.Expires)
}

// FireTimes parses the Times entries into wall-clock offsets from midnight.
func (s Schedule) FireTimes() ([]time.Duration, error) {
	offsets := make([]time.Duration, 0, len(s.Times))
	for _, entry := range s.Times {
		t, err := time.Parse("15:04", entry)
		if err != nil {
			return nil, ErrInvalidTimeOfDay
		}
		offsets = append(offsets, time.Duration(t.Hour())*time.Hour+time.Duration(t.Minute())*time.Minute)
	}
	return offsets, nil
}

// IsPersistent reports whether the schedule produces persistent instances of
// the given activity. A once-type schedule anchored on the completion of its
// own activity re-offers that activity every time it is finished; such
// instances are materialized once and never regenerated.
func (s Schedule) IsPersistent(a Activity) bool {
	if s.ScheduleType != ScheduleTypeOnce {
		return false
	}
	if s.EventID == ActivityFinishedEventID(a.Guid) {
		return true
	}
	return a.Survey != nil && s.EventID == SurveyFinishedEventID(a.Survey.Guid)
}

// Validate checks structural integrity of the schedule, including its
// duration strings and fire times, so bad configuration is caught at plan
// save time. Cron triggers are parsed during expansion; an invalid trigger
// degrades that schedule to zero instances.
func (s Schedule) Validate() error {
	if s.Label == "" {
		return ErrMissingScheduleLabel
	}
	if !IsValidScheduleType(s.ScheduleType) {
		return ErrInvalidScheduleType
	}
	if len(s.Activities) == 0 {
		return ErrMissingActivities
	}
	for _, a := range s.Activities {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	if _, err := s.DelayDuration(); err != nil {
		return err
	}
	if _, err := s.IntervalDuration(); err != nil {
		return err
	}
	if _, err := s.ExpiresDuration(); err != nil {
		return err
	}
	if _, err := s.FireTimes(); err != nil {
		return err
	}
	return nil
}

// ScheduleGroup is one weighted arm of an A/B test strategy.
type ScheduleGroup struct {
	Percentage int      `json:"percentage"`
	Schedule   Schedule `json:"schedule"`
}

// ScheduleStrategy selects the concrete schedule that applies to a
// participant. It is a closed tagged variant: Type determines which of the
// payload fields is meaningful.
type ScheduleStrategy struct {
	Type     StrategyType    `json:"type"`
	Schedule *Schedule       `json:"schedule,omitempty"`
	Groups   []ScheduleGroup `json:"scheduleGroups,omitempty"`
}

// Validate checks the strategy's structure. Group percentages may sum to less
// than 100; the remainder of participants receive no schedule from the plan.
func (s ScheduleStrategy) Validate() error {
	switch s.Type {
	case StrategyTypeSimple:
		if s.Schedule == nil {
			return ErrMissingSimpleSchedule
		}
		return s.Schedule.Validate()
	case StrategyTypeABTest:
		if len(s.Groups) == 0 {
			return ErrMissingScheduleGroups
		}
		sum := 0
		for _, g := range s.Groups {
			if g.Percentage < 1 || g.Percentage > 100 {
				return ErrInvalidGroupPercentage
			}
			sum += g.Percentage
			if err := g.Schedule.Validate(); err != nil {
				return err
			}
		}
		if sum > 100 {
			return ErrGroupPercentageSum
		}
		return nil
	default:
		return ErrInvalidStrategyType
	}
}

// SchedulePlan is study-level configuration binding a strategy (and therefore
// one or more schedules) to a study. Plans are authored by study
// administrators and are immutable inputs to each scheduling run.
type SchedulePlan struct {
	Guid           string           `json:"guid"`
	StudyKey       string           `json:"studyKey"`
	Label          string           `json:"label,omitempty"`
	MinAppVersions map[string]int   `json:"minAppVersions,omitempty"`
	MaxAppVersions map[string]int   `json:"maxAppVersions,omitempty"`
	Strategy       ScheduleStrategy `json:"strategy"`
}

// VersionCriteria exposes the plan-level app version bounds as Criteria so
// plan gating shares the criteria matcher.
func (p SchedulePlan) VersionCriteria() Criteria {
	return Criteria{MinAppVersions: p.MinAppVersions, MaxAppVersions: p.MaxAppVersions}
}

// Validate checks the plan's structure, including its strategy and schedules.
func (p SchedulePlan) Validate() error {
	if p.Guid == "" {
		return ErrMissingPlanGuid
	}
	if p.StudyKey == "" {
		return ErrMissingStudyKey
	}
	return p.Strategy.Validate()
}

// parseISODuration parses an ISO-8601 duration string such as "P1D" or
// "PT1H30M". The empty string parses to zero.
func parseISODuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, ErrInvalidDuration
	}
	return d.ToTimeDuration(), nil
}
