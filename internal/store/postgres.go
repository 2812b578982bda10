// Package store provides storage backends for StudyPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/StudyPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// PublishEvent records an event with a guarded upsert: the latest timestamp
// wins except for enrollment, whose first write is final.
func (s *PostgresStore) PublishEvent(event models.ActivityEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO activity_events (health_code, event_id, timestamp) VALUES ($1, $2, $3)
		ON CONFLICT (health_code, event_id) DO UPDATE SET timestamp = EXCLUDED.timestamp
		WHERE activity_events.event_id <> $4`,
		event.HealthCode, event.EventID, event.Timestamp, models.EventEnrollment)
	if err != nil {
		slog.Error("PostgresStore PublishEvent failed", "error", err, "eventId", event.EventID)
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
	}
	slog.Debug("PostgresStore PublishEvent succeeded", "eventId", event.EventID)
	return nil
}

func (s *PostgresStore) GetActivityEventMap(healthCode string) (map[string]time.Time, error) {
	rows, err := s.db.Query(`SELECT event_id, timestamp FROM activity_events WHERE health_code = $1`, healthCode)
	if err != nil {
		slog.Error("PostgresStore GetActivityEventMap query failed", "error", err)
		return nil, fmt.Errorf("failed to query activity events: %w", err)
	}
	defer rows.Close()

	events := make(map[string]time.Time)
	for rows.Next() {
		var eventID string
		var timestamp int64
		if err := rows.Scan(&eventID, &timestamp); err != nil {
			slog.Error("PostgresStore GetActivityEventMap scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan activity event row: %w", err)
		}
		events[eventID] = time.UnixMilli(timestamp).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity event rows: %w", err)
	}
	slog.Debug("PostgresStore GetActivityEventMap succeeded", "count", len(events))
	return events, nil
}

func (s *PostgresStore) DeleteActivityEvents(healthCode string) error {
	_, err := s.db.Exec(`DELETE FROM activity_events WHERE health_code = $1`, healthCode)
	if err != nil {
		slog.Error("PostgresStore DeleteActivityEvents failed", "error", err)
		return fmt.Errorf("failed to delete activity events: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScheduledActivity(healthCode, guid string) (*models.ScheduledActivity, error) {
	row := s.db.QueryRow(`
		SELECT health_code, guid, plan_guid, activity, scheduled_on, expires_on,
		       started_on, finished_on, persistent, deleted, time_zone
		FROM scheduled_activities WHERE health_code = $1 AND guid = $2`, healthCode, guid)
	sa, err := scanScheduledActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Error("PostgresStore GetScheduledActivity failed", "error", err, "guid", guid)
		return nil, err
	}
	return &sa, nil
}

func (s *PostgresStore) UpsertScheduledActivity(instance models.ScheduledActivity) error {
	if instance.HealthCode == "" {
		return models.ErrEmptyHealthCode
	}
	activityJSON, err := json.Marshal(instance.Activity)
	if err != nil {
		return fmt.Errorf("failed to encode activity payload: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO scheduled_activities
		(health_code, guid, plan_guid, activity, scheduled_on, expires_on, started_on, finished_on, persistent, deleted, time_zone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (health_code, guid) DO UPDATE SET
			activity = EXCLUDED.activity,
			scheduled_on = EXCLUDED.scheduled_on,
			expires_on = EXCLUDED.expires_on,
			started_on = EXCLUDED.started_on,
			finished_on = EXCLUDED.finished_on,
			persistent = EXCLUDED.persistent,
			deleted = EXCLUDED.deleted,
			time_zone = EXCLUDED.time_zone`,
		instance.HealthCode, instance.Guid, instance.SchedulePlanGuid, string(activityJSON),
		millisOrNil(instance.ScheduledOn), millisOrNil(instance.ExpiresOn),
		millisOrNil(instance.StartedOn), millisOrNil(instance.FinishedOn),
		instance.Persistent, instance.Deleted, instance.TimeZone)
	if err != nil {
		slog.Error("PostgresStore UpsertScheduledActivity failed", "error", err, "guid", instance.Guid)
		return fmt.Errorf("failed to upsert scheduled activity %s: %w", instance.Guid, err)
	}
	return nil
}

func (s *PostgresStore) GetMaterializedGuids(healthCode string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT guid FROM scheduled_activities WHERE health_code = $1`, healthCode)
	if err != nil {
		slog.Error("PostgresStore GetMaterializedGuids query failed", "error", err)
		return nil, fmt.Errorf("failed to query materialized guids: %w", err)
	}
	defer rows.Close()

	guids := make(map[string]bool)
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("failed to scan guid row: %w", err)
		}
		guids[guid] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guid rows: %w", err)
	}
	return guids, nil
}

func (s *PostgresStore) SaveSchedulePlan(plan models.SchedulePlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode schedule plan: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO schedule_plans (study_key, guid, data, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (study_key, guid) DO UPDATE SET data = EXCLUDED.data`,
		plan.StudyKey, plan.Guid, string(data), time.Now().UnixMilli())
	if err != nil {
		slog.Error("PostgresStore SaveSchedulePlan failed", "error", err, "guid", plan.Guid)
		return fmt.Errorf("failed to save schedule plan %s: %w", plan.Guid, err)
	}
	return nil
}

func (s *PostgresStore) ListSchedulePlans(studyKey string) ([]models.SchedulePlan, error) {
	rows, err := s.db.Query(`SELECT data FROM schedule_plans WHERE study_key = $1 ORDER BY created_at, guid`, studyKey)
	if err != nil {
		slog.Error("PostgresStore ListSchedulePlans query failed", "error", err)
		return nil, fmt.Errorf("failed to query schedule plans: %w", err)
	}
	defer rows.Close()

	var plans []models.SchedulePlan
	for rows.Next() {
		plan, err := scanSchedulePlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedule plan rows: %w", err)
	}
	return plans, nil
}

func (s *PostgresStore) DeleteSchedulePlan(studyKey, guid string) error {
	_, err := s.db.Exec(`DELETE FROM schedule_plans WHERE study_key = $1 AND guid = $2`, studyKey, guid)
	if err != nil {
		slog.Error("PostgresStore DeleteSchedulePlan failed", "error", err, "guid", guid)
		return fmt.Errorf("failed to delete schedule plan %s: %w", guid, err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
