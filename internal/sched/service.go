package sched

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// DefaultDaysAhead bounds the expansion window when the caller does not ask
// for a specific horizon.
const DefaultDaysAhead = 4

// MaxDaysAhead is the largest expansion horizon a caller may request;
// bounding context.until is the engine's only defense against unbounded work.
const MaxDaysAhead = 31

// ErrMissingInstanceGuid is returned when an activity update carries no guid.
var ErrMissingInstanceGuid = errors.New("scheduled activity update requires a guid")

// PlanLister supplies the schedule plans configured for a study.
type PlanLister interface {
	ListSchedulePlans(studyKey string) ([]models.SchedulePlan, error)
}

// ActivityStore is the persistent store of materialized instances. It
// suppresses regeneration of persistent instances and records the
// started/finished state clients report back.
type ActivityStore interface {
	GetScheduledActivity(healthCode, guid string) (*models.ScheduledActivity, error)
	UpsertScheduledActivity(instance models.ScheduledActivity) error
	GetMaterializedGuids(healthCode string) (map[string]bool, error)
}

// Service is the scheduling orchestrator. It iterates a study's plans,
// resolves each to a concrete schedule, expands the schedule over the context
// window, and merges the results into one ordered activity list.
type Service struct {
	plans      PlanLister
	activities ActivityStore
	events     *EventService
}

// NewService creates the orchestrator over its collaborators.
func NewService(plans PlanLister, activities ActivityStore, events *EventService) *Service {
	return &Service{plans: plans, activities: activities, events: events}
}

// Events exposes the event service the orchestrator publishes through.
func (s *Service) Events() *EventService {
	return s.events
}

// BuildScheduleContext assembles the consistent snapshot one scheduling run
// operates on: the participant's event map and already-materialized instance
// guids, plus the [now, until] window.
func (s *Service) BuildScheduleContext(criteria models.CriteriaContext, timeZone string, now time.Time, daysAhead int) (models.ScheduleContext, error) {
	if daysAhead <= 0 {
		daysAhead = DefaultDaysAhead
	}
	if daysAhead > MaxDaysAhead {
		daysAhead = MaxDaysAhead
	}
	events, err := s.events.GetActivityEventMap(criteria.HealthCode)
	if err != nil {
		return models.ScheduleContext{}, err
	}
	materialized, err := s.activities.GetMaterializedGuids(criteria.HealthCode)
	if err != nil {
		return models.ScheduleContext{}, fmt.Errorf("failed to load materialized instances: %w", err)
	}
	return models.ScheduleContext{
		Criteria:     criteria,
		Events:       events,
		Now:          now,
		Until:        now.AddDate(0, 0, daysAhead),
		TimeZone:     timeZone,
		Materialized: materialized,
	}, nil
}

// GetScheduledActivities computes the participant's ordered activity list for
// a study. It is a pure read: no external state is mutated.
func (s *Service) GetScheduledActivities(studyKey string, ctx models.ScheduleContext) ([]models.ScheduledActivity, error) {
	plans, err := s.plans.ListSchedulePlans(studyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule plans for %s: %w", studyKey, err)
	}

	var merged []models.ScheduledActivity
	for _, plan := range plans {
		if !Matches(plan.VersionCriteria(), ctx.Criteria) {
			slog.Debug("GetScheduledActivities: plan filtered by app version", "plan", plan.Guid)
			continue
		}
		schedule := Resolve(plan, ctx.Criteria)
		if schedule == nil {
			continue
		}
		merged = append(merged, Expand(plan, *schedule, ctx)...)
	}

	// Deterministic guids make recomputed instances line up with materialized
	// ones, so client-reported lifecycle state survives recomputation.
	for i := range merged {
		if !ctx.IsMaterialized(merged[i].Guid) {
			continue
		}
		stored, err := s.activities.GetScheduledActivity(ctx.Criteria.HealthCode, merged[i].Guid)
		if err != nil {
			return nil, fmt.Errorf("failed to load instance %s: %w", merged[i].Guid, err)
		}
		if stored != nil {
			merged[i].StartedOn = stored.StartedOn
			merged[i].FinishedOn = stored.FinishedOn
			merged[i].Deleted = stored.Deleted
		}
	}

	models.SortScheduledActivities(merged)
	slog.Debug("GetScheduledActivities computed", "study", studyKey, "plans", len(plans), "instances", len(merged))
	return merged, nil
}

// UpdateScheduledActivities applies client-reported lifecycle updates
// (startedOn, finishedOn, deleted) to materialized instances and republishes
// completion events into the event store so event-anchored plans can fire.
func (s *Service) UpdateScheduledActivities(healthCode string, updates []models.ScheduledActivity) ([]models.ScheduledActivity, error) {
	saved := make([]models.ScheduledActivity, 0, len(updates))
	for _, update := range updates {
		if update.Guid == "" {
			return nil, ErrMissingInstanceGuid
		}
		update.HealthCode = healthCode

		instance := update
		wasFinished := false
		existing, err := s.activities.GetScheduledActivity(healthCode, update.Guid)
		if err != nil {
			return nil, fmt.Errorf("failed to load instance %s: %w", update.Guid, err)
		}
		if existing != nil {
			wasFinished = existing.FinishedOn != nil
			instance = *existing
			instance.StartedOn = update.StartedOn
			instance.FinishedOn = update.FinishedOn
			instance.Deleted = update.Deleted
		}

		if err := s.activities.UpsertScheduledActivity(instance); err != nil {
			return nil, fmt.Errorf("failed to save instance %s: %w", update.Guid, err)
		}
		if instance.FinishedOn != nil && !wasFinished {
			if err := s.events.PublishActivityFinishedEvent(instance); err != nil {
				return nil, err
			}
		}
		saved = append(saved, instance)
	}
	slog.Debug("UpdateScheduledActivities applied", "count", len(saved))
	return saved, nil
}
