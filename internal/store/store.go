// Package store provides storage backends for StudyPipe.
//
// It persists activity events, materialized scheduled activity instances, and
// schedule plans, with in-memory, SQLite, and PostgreSQL implementations. The
// enrollment event is immutable once written; both SQL backends enforce this
// with a guarded upsert rather than a read-then-write.
package store

import (
	"sync"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// Store is the persistence interface shared by all backends.
type Store interface {
	// PublishEvent records an event atomically per (healthCode, eventId).
	// The latest timestamp wins, except enrollment: first write wins.
	PublishEvent(event models.ActivityEvent) error
	GetActivityEventMap(healthCode string) (map[string]time.Time, error)
	DeleteActivityEvents(healthCode string) error

	GetScheduledActivity(healthCode, guid string) (*models.ScheduledActivity, error)
	UpsertScheduledActivity(instance models.ScheduledActivity) error
	// GetMaterializedGuids returns every instance guid already persisted for
	// the participant, used to suppress regeneration of persistent instances.
	GetMaterializedGuids(healthCode string) (map[string]bool, error)

	SaveSchedulePlan(plan models.SchedulePlan) error
	ListSchedulePlans(studyKey string) ([]models.SchedulePlan, error)
	DeleteSchedulePlan(studyKey, guid string) error

	Close() error
}

// InMemoryStore is a mutex-guarded in-memory Store, used when no database DSN
// is configured and throughout the test suites.
type InMemoryStore struct {
	mu         sync.RWMutex
	events     map[string]map[string]time.Time                // healthCode -> eventId -> timestamp
	activities map[string]map[string]models.ScheduledActivity // healthCode -> guid -> instance
	plans      map[string]map[string]models.SchedulePlan      // studyKey -> guid -> plan
	planOrder  map[string][]string                            // studyKey -> guids in insertion order
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:     make(map[string]map[string]time.Time),
		activities: make(map[string]map[string]models.ScheduledActivity),
		plans:      make(map[string]map[string]models.SchedulePlan),
		planOrder:  make(map[string][]string),
	}
}

func (s *InMemoryStore) PublishEvent(event models.ActivityEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.events[event.HealthCode]
	if !ok {
		byID = make(map[string]time.Time)
		s.events[event.HealthCode] = byID
	}
	if event.EventID == models.EventEnrollment {
		if _, exists := byID[event.EventID]; exists {
			return nil
		}
	}
	byID[event.EventID] = event.Time()
	return nil
}

func (s *InMemoryStore) GetActivityEventMap(healthCode string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.events[healthCode]))
	for id, t := range s.events[healthCode] {
		out[id] = t
	}
	return out, nil
}

func (s *InMemoryStore) DeleteActivityEvents(healthCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, healthCode)
	return nil
}

func (s *InMemoryStore) GetScheduledActivity(healthCode, guid string) (*models.ScheduledActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sa, ok := s.activities[healthCode][guid]
	if !ok {
		return nil, nil
	}
	return &sa, nil
}

func (s *InMemoryStore) UpsertScheduledActivity(instance models.ScheduledActivity) error {
	if instance.HealthCode == "" {
		return models.ErrEmptyHealthCode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byGuid, ok := s.activities[instance.HealthCode]
	if !ok {
		byGuid = make(map[string]models.ScheduledActivity)
		s.activities[instance.HealthCode] = byGuid
	}
	byGuid[instance.Guid] = instance
	return nil
}

func (s *InMemoryStore) GetMaterializedGuids(healthCode string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.activities[healthCode]))
	for guid := range s.activities[healthCode] {
		out[guid] = true
	}
	return out, nil
}

func (s *InMemoryStore) SaveSchedulePlan(plan models.SchedulePlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byGuid, ok := s.plans[plan.StudyKey]
	if !ok {
		byGuid = make(map[string]models.SchedulePlan)
		s.plans[plan.StudyKey] = byGuid
	}
	if _, exists := byGuid[plan.Guid]; !exists {
		s.planOrder[plan.StudyKey] = append(s.planOrder[plan.StudyKey], plan.Guid)
	}
	byGuid[plan.Guid] = plan
	return nil
}

func (s *InMemoryStore) ListSchedulePlans(studyKey string) ([]models.SchedulePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guids := s.planOrder[studyKey]
	out := make([]models.SchedulePlan, 0, len(guids))
	for _, guid := range guids {
		if plan, ok := s.plans[studyKey][guid]; ok {
			out = append(out, plan)
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeleteSchedulePlan(studyKey, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans[studyKey], guid)
	order := s.planOrder[studyKey]
	for i, g := range order {
		if g == guid {
			s.planOrder[studyKey] = append(order[:i], order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
