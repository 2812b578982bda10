package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// millisOrNil converts an optional timestamp to epoch milliseconds for a
// nullable database column.
func millisOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// timeFromMillis converts a nullable epoch-milliseconds column back to a UTC
// timestamp pointer.
func timeFromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// scanScheduledActivity reads one scheduled_activities row.
func scanScheduledActivity(row rowScanner) (models.ScheduledActivity, error) {
	var sa models.ScheduledActivity
	var activityJSON string
	var scheduledOn, expiresOn, startedOn, finishedOn sql.NullInt64
	err := row.Scan(
		&sa.HealthCode, &sa.Guid, &sa.SchedulePlanGuid, &activityJSON,
		&scheduledOn, &expiresOn, &startedOn, &finishedOn,
		&sa.Persistent, &sa.Deleted, &sa.TimeZone,
	)
	if err != nil {
		return sa, fmt.Errorf("scan scheduled activity failed: %w", err)
	}
	if err := json.Unmarshal([]byte(activityJSON), &sa.Activity); err != nil {
		return sa, fmt.Errorf("decode activity payload failed: %w", err)
	}
	sa.ScheduledOn = timeFromMillis(scheduledOn)
	sa.ExpiresOn = timeFromMillis(expiresOn)
	sa.StartedOn = timeFromMillis(startedOn)
	sa.FinishedOn = timeFromMillis(finishedOn)
	return sa, nil
}

// scanSchedulePlan reads one schedule_plans row's JSON payload.
func scanSchedulePlan(row rowScanner) (models.SchedulePlan, error) {
	var plan models.SchedulePlan
	var data string
	if err := row.Scan(&data); err != nil {
		return plan, fmt.Errorf("scan schedule plan failed: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return plan, fmt.Errorf("decode schedule plan failed: %w", err)
	}
	return plan, nil
}
