package sched

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// EventStore is the persistence boundary for activity events. Writes must be
// atomic per (healthCode, eventId) and idempotent under retry; the enrollment
// first-write-wins rule is a conditional write at this boundary, not a
// read-then-write in the service.
type EventStore interface {
	PublishEvent(event models.ActivityEvent) error
	GetActivityEventMap(healthCode string) (map[string]time.Time, error)
	DeleteActivityEvents(healthCode string) error
}

// EventService publishes and reads the named, timestamped domain events that
// anchor relative schedules.
type EventService struct {
	store EventStore
}

// NewEventService creates an EventService over the given store.
func NewEventService(store EventStore) *EventService {
	return &EventService{store: store}
}

// PublishEvent records a custom event for a participant.
func (s *EventService) PublishEvent(healthCode, eventID string, timestamp int64) error {
	event := models.ActivityEvent{HealthCode: healthCode, EventID: eventID, Timestamp: timestamp}
	if err := event.Validate(); err != nil {
		return err
	}
	if err := s.store.PublishEvent(event); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", eventID, err)
	}
	slog.Debug("EventService published event", "eventId", eventID)
	return nil
}

// PublishEnrollmentEvent records the participant's enrollment. The store
// keeps the first enrollment timestamp it sees; republishing is a no-op.
func (s *EventService) PublishEnrollmentEvent(healthCode string, enrolledOn time.Time) error {
	return s.PublishEvent(healthCode, models.EventEnrollment, enrolledOn.UnixMilli())
}

// PublishActivityFinishedEvent records completion of a scheduled activity so
// plans anchored on it can fire. Instances without a finished timestamp or an
// activity reference are skipped silently; they predate event anchoring.
func (s *EventService) PublishActivityFinishedEvent(instance models.ScheduledActivity) error {
	if instance.FinishedOn == nil || instance.Activity.Guid == "" {
		slog.Debug("EventService skipping finished event for incomplete instance", "guid", instance.Guid)
		return nil
	}
	eventID := models.ActivityFinishedEventID(instance.Activity.Guid)
	return s.PublishEvent(instance.HealthCode, eventID, instance.FinishedOn.UnixMilli())
}

// PublishSurveyFinishedEvent records completion of a survey response.
func (s *EventService) PublishSurveyFinishedEvent(healthCode, surveyGuid string, completedOn time.Time) error {
	return s.PublishEvent(healthCode, models.SurveyFinishedEventID(surveyGuid), completedOn.UnixMilli())
}

// PublishQuestionAnsweredEvent records an answer to one survey question.
func (s *EventService) PublishQuestionAnsweredEvent(healthCode, questionGuid string, answeredOn time.Time) error {
	return s.PublishEvent(healthCode, models.QuestionAnsweredEventID(questionGuid), answeredOn.UnixMilli())
}

// GetActivityEventMap returns the participant's canonical anchor timestamp
// for every event id.
func (s *EventService) GetActivityEventMap(healthCode string) (map[string]time.Time, error) {
	if healthCode == "" {
		return nil, models.ErrEmptyHealthCode
	}
	events, err := s.store.GetActivityEventMap(healthCode)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity event map: %w", err)
	}
	return events, nil
}

// DeleteActivityEvents removes all of a participant's events.
func (s *EventService) DeleteActivityEvents(healthCode string) error {
	if healthCode == "" {
		return models.ErrEmptyHealthCode
	}
	if err := s.store.DeleteActivityEvents(healthCode); err != nil {
		return fmt.Errorf("failed to delete activity events: %w", err)
	}
	slog.Debug("EventService deleted activity events")
	return nil
}
