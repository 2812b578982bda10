package sched

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// cronParser pins the cron dialect for trigger expressions: five fields at
// minute resolution, with an optional leading seconds field; day-of-week 0 is
// Sunday. Fire times are computed in the participant's time zone.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// maxInstancesPerSchedule caps how many fire times a single schedule may
// enumerate in one window, so a dense trigger (e.g. every second) cannot
// balloon a participant's activity list.
const maxInstancesPerSchedule = 500

// instanceNamespace is the UUIDv5 namespace for deterministic instance guids.
var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("studypipe/scheduled-activity"))

// InstanceGuid derives the deterministic guid for one scheduled activity
// instance. The same (plan, activity, fire time) triple always yields the
// same guid, which is what makes re-expansion idempotent.
func InstanceGuid(planGuid, activityGuid string, scheduledOn time.Time) string {
	key := fmt.Sprintf("%s:%s:%d", planGuid, activityGuid, scheduledOn.UnixMilli())
	return uuid.NewSHA1(instanceNamespace, []byte(key)).String()
}

// Expand materializes the concrete activity instances a resolved schedule
// produces for the participant within the context window.
//
// A missing anchor event yields no instances: the schedule simply cannot fire
// yet. Malformed schedule configuration (bad durations, an unparseable cron
// trigger, a recurring schedule with neither interval nor trigger) also
// degrades to zero instances rather than failing the whole listing.
func Expand(plan models.SchedulePlan, schedule models.Schedule, ctx models.ScheduleContext) []models.ScheduledActivity {
	anchor, ok := ctx.EventTime(schedule.AnchorEventID())
	if !ok {
		slog.Debug("Expand: anchor event has not occurred", "plan", plan.Guid, "event", schedule.AnchorEventID())
		return nil
	}
	delay, err := schedule.DelayDuration()
	if err != nil {
		slog.Warn("Expand: invalid delay, schedule produces no instances", "plan", plan.Guid, "delay", schedule.Delay)
		return nil
	}
	expires, err := schedule.ExpiresDuration()
	if err != nil {
		slog.Warn("Expand: invalid expires, schedule produces no instances", "plan", plan.Guid, "expires", schedule.Expires)
		return nil
	}

	first := anchor.Add(delay)
	loc := ctx.Location()

	var fireTimes []time.Time
	switch schedule.ScheduleType {
	case models.ScheduleTypeOnce:
		if !first.After(ctx.Until) {
			fireTimes = []time.Time{first.In(loc)}
		}
	case models.ScheduleTypeRecurring:
		switch {
		case schedule.CronTrigger != "":
			fireTimes = cronFireTimes(schedule.CronTrigger, first, expires, ctx, loc)
		default:
			fireTimes = intervalFireTimes(schedule, first, ctx, loc)
		}
	default:
		slog.Warn("Expand: unknown schedule type", "plan", plan.Guid, "type", schedule.ScheduleType)
		return nil
	}
	if len(fireTimes) == 0 {
		return nil
	}

	instances := make([]models.ScheduledActivity, 0, len(fireTimes)*len(schedule.Activities))
	for _, fire := range fireTimes {
		for _, activity := range schedule.Activities {
			guid := InstanceGuid(plan.Guid, activity.Guid, fire)
			persistent := schedule.IsPersistent(activity)
			if persistent && ctx.IsMaterialized(guid) {
				// Persistent instances are generated once and never again,
				// even while unfinished.
				continue
			}
			scheduledOn := fire
			sa := models.ScheduledActivity{
				Guid:             guid,
				SchedulePlanGuid: plan.Guid,
				HealthCode:       ctx.Criteria.HealthCode,
				Activity:         activity,
				ScheduledOn:      &scheduledOn,
				Persistent:       persistent,
				TimeZone:         ctx.TimeZone,
			}
			if expires > 0 {
				expiresOn := fire.Add(expires)
				sa.ExpiresOn = &expiresOn
			}
			instances = append(instances, sa)
		}
	}
	return instances
}

// cronFireTimes enumerates trigger fire times within
// [max(first, now - expires), until]. The lookback keeps still-unexpired
// instances from the immediate past in the listing without walking unbounded
// history; schedules without an expiry look back no further than now.
func cronFireTimes(expr string, first time.Time, expires time.Duration, ctx models.ScheduleContext, loc *time.Location) []time.Time {
	trigger, err := cronParser.Parse(expr)
	if err != nil {
		slog.Warn("cronFireTimes: unparseable cron trigger", "expr", expr, "error", err)
		return nil
	}

	start := ctx.Now
	if expires > 0 {
		start = start.Add(-expires)
	}
	if first.After(start) {
		start = first
	}

	var fires []time.Time
	// Back up one second so a fire time landing exactly on the window start
	// is included; Next is strictly exclusive of its argument.
	cursor := start.Add(-time.Second).In(loc)
	for len(fires) < maxInstancesPerSchedule {
		next := trigger.Next(cursor)
		if next.IsZero() || next.After(ctx.Until) {
			break
		}
		fires = append(fires, next)
		cursor = next
	}
	if len(fires) == maxInstancesPerSchedule {
		slog.Warn("cronFireTimes: truncated dense trigger expansion", "expr", expr, "count", len(fires))
	}
	return fires
}

// intervalFireTimes enumerates fire times for interval-based recurrence.
// Interval boundaries run from the first candidate to the end of the window;
// each boundary day contributes one fire time per Times entry, localized to
// the participant's zone. Fire times landing before the first candidate
// (possible when a time-of-day precedes the boundary's wall clock) are
// dropped so the delay offset is honored.
func intervalFireTimes(schedule models.Schedule, first time.Time, ctx models.ScheduleContext, loc *time.Location) []time.Time {
	interval, err := schedule.IntervalDuration()
	if err != nil || interval <= 0 {
		// A recurring schedule with times but no interval (and no cron
		// trigger) is a configuration error; produce nothing.
		slog.Warn("intervalFireTimes: recurring schedule without a usable interval", "label", schedule.Label, "interval", schedule.Interval)
		return nil
	}
	offsets, err := schedule.FireTimes()
	if err != nil {
		slog.Warn("intervalFireTimes: invalid times entries", "label", schedule.Label)
		return nil
	}

	var fires []time.Time
	seen := make(map[int64]bool)
	for boundary := first; !boundary.After(ctx.Until) && len(fires) < maxInstancesPerSchedule; boundary = boundary.Add(interval) {
		local := boundary.In(loc)
		if len(offsets) == 0 {
			fires = appendFire(fires, seen, local, first)
			continue
		}
		year, month, day := local.Date()
		midnight := time.Date(year, month, day, 0, 0, 0, 0, loc)
		for _, offset := range offsets {
			fires = appendFire(fires, seen, midnight.Add(offset), first)
		}
	}
	return fires
}

func appendFire(fires []time.Time, seen map[int64]bool, fire, first time.Time) []time.Time {
	if fire.Before(first) {
		return fires
	}
	key := fire.UnixMilli()
	if seen[key] {
		return fires
	}
	seen[key] = true
	return append(fires, fire)
}
