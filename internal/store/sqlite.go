// Package store provides storage backends for StudyPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/StudyPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path to the SQLite database file; a missing directory is created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// PublishEvent records an event with a guarded upsert: the latest timestamp
// wins except for enrollment, whose first write is final.
func (s *SQLiteStore) PublishEvent(event models.ActivityEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO activity_events (health_code, event_id, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(health_code, event_id) DO UPDATE SET timestamp = excluded.timestamp
		WHERE activity_events.event_id != ?`,
		event.HealthCode, event.EventID, event.Timestamp, models.EventEnrollment)
	if err != nil {
		slog.Error("SQLiteStore PublishEvent failed", "error", err, "eventId", event.EventID)
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
	}
	slog.Debug("SQLiteStore PublishEvent succeeded", "eventId", event.EventID)
	return nil
}

func (s *SQLiteStore) GetActivityEventMap(healthCode string) (map[string]time.Time, error) {
	rows, err := s.db.Query(`SELECT event_id, timestamp FROM activity_events WHERE health_code = ?`, healthCode)
	if err != nil {
		slog.Error("SQLiteStore GetActivityEventMap query failed", "error", err)
		return nil, fmt.Errorf("failed to query activity events: %w", err)
	}
	defer rows.Close()

	events := make(map[string]time.Time)
	for rows.Next() {
		var eventID string
		var timestamp int64
		if err := rows.Scan(&eventID, &timestamp); err != nil {
			slog.Error("SQLiteStore GetActivityEventMap scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan activity event row: %w", err)
		}
		events[eventID] = time.UnixMilli(timestamp).UTC()
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetActivityEventMap rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate activity event rows: %w", err)
	}
	slog.Debug("SQLiteStore GetActivityEventMap succeeded", "count", len(events))
	return events, nil
}

func (s *SQLiteStore) DeleteActivityEvents(healthCode string) error {
	_, err := s.db.Exec(`DELETE FROM activity_events WHERE health_code = ?`, healthCode)
	if err != nil {
		slog.Error("SQLiteStore DeleteActivityEvents failed", "error", err)
		return fmt.Errorf("failed to delete activity events: %w", err)
	}
	slog.Debug("SQLiteStore DeleteActivityEvents succeeded")
	return nil
}

func (s *SQLiteStore) GetScheduledActivity(healthCode, guid string) (*models.ScheduledActivity, error) {
	row := s.db.QueryRow(`
		SELECT health_code, guid, plan_guid, activity, scheduled_on, expires_on,
		       started_on, finished_on, persistent, deleted, time_zone
		FROM scheduled_activities WHERE health_code = ? AND guid = ?`, healthCode, guid)
	sa, err := scanScheduledActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Error("SQLiteStore GetScheduledActivity failed", "error", err, "guid", guid)
		return nil, err
	}
	return &sa, nil
}

func (s *SQLiteStore) UpsertScheduledActivity(instance models.ScheduledActivity) error {
	if instance.HealthCode == "" {
		return models.ErrEmptyHealthCode
	}
	activityJSON, err := json.Marshal(instance.Activity)
	if err != nil {
		return fmt.Errorf("failed to encode activity payload: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO scheduled_activities
		(health_code, guid, plan_guid, activity, scheduled_on, expires_on, started_on, finished_on, persistent, deleted, time_zone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.HealthCode, instance.Guid, instance.SchedulePlanGuid, string(activityJSON),
		millisOrNil(instance.ScheduledOn), millisOrNil(instance.ExpiresOn),
		millisOrNil(instance.StartedOn), millisOrNil(instance.FinishedOn),
		instance.Persistent, instance.Deleted, instance.TimeZone)
	if err != nil {
		slog.Error("SQLiteStore UpsertScheduledActivity failed", "error", err, "guid", instance.Guid)
		return fmt.Errorf("failed to upsert scheduled activity %s: %w", instance.Guid, err)
	}
	slog.Debug("SQLiteStore UpsertScheduledActivity succeeded", "guid", instance.Guid)
	return nil
}

func (s *SQLiteStore) GetMaterializedGuids(healthCode string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT guid FROM scheduled_activities WHERE health_code = ?`, healthCode)
	if err != nil {
		slog.Error("SQLiteStore GetMaterializedGuids query failed", "error", err)
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

func (s *SQLiteStore) SaveSchedulePlan(plan models.SchedulePlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode schedule plan: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO schedule_plans (study_key, guid, data, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(study_key, guid) DO UPDATE SET data = excluded.data`,
		plan.StudyKey, plan.Guid, string(data), time.Now().UnixMilli())
	if err != nil {
		slog.Error("SQLiteStore SaveSchedulePlan failed", "error", err, "guid", plan.Guid)
		return fmt.Errorf("failed to save schedule plan %s: %w", plan.Guid, err)
	}
	slog.Debug("SQLiteStore SaveSchedulePlan succeeded", "guid", plan.Guid)
	return nil
}

func (s *SQLiteStore) ListSchedulePlans(studyKey string) ([]models.SchedulePlan, error) {
	rows, err := s.db.Query(`SELECT data FROM schedule_plans WHERE study_key = ? ORDER BY created_at, guid`, studyKey)
	if err != nil {
		slog.Error("SQLiteStore ListSchedulePlans query failed", "error", err)
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
	slog.Debug("SQLiteStore ListSchedulePlans succeeded", "study", studyKey, "count", len(plans))
	return plans, nil
}

func (s *SQLiteStore) DeleteSchedulePlan(studyKey, guid string) error {
	_, err := s.db.Exec(`DELETE FROM schedule_plans WHERE study_key = ? AND guid = ?`, studyKey, guid)
	if err != nil {
		slog.Error("SQLiteStore DeleteSchedulePlan failed", "error", err, "guid", guid)
		return fmt.Errorf("failed to delete schedule plan %s: %w", guid, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
