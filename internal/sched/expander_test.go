package sched

import (
	"reflect"
	"testing"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

var testPlan = models.SchedulePlan{Guid: "plan-1", StudyKey: "study"}

func testContext(now, until time.Time, events map[string]time.Time) models.ScheduleContext {
	return models.ScheduleContext{
		Criteria: models.CriteriaContext{HealthCode: "health-code", UserID: "user-1"},
		Events:   events,
		Now:      now,
		Until:    until,
	}
}

func surveyActivity(guid string) models.Activity {
	return models.Activity{Label: "Survey " + guid, Guid: guid, Survey: &models.SurveyReference{Guid: "survey-" + guid}}
}

func TestExpandIntervalWithDelayAndTimes(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Daily check-in",
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     "P1D",
		Delay:        "P1D",
		Times:        []string{"08:00"},
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(enrollment, time.Date(2020, 1, 4, 0, 0, 0, 0, time.UTC),
		map[string]time.Time{models.EventEnrollment: enrollment})

	instances := Expand(testPlan, schedule, ctx)
	if len(instances) != 3 {
		t.Fatalf("got %d instances, want 3", len(instances))
	}
	want := []time.Time{
		time.Date(2020, 1, 2, 8, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 3, 8, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 4, 8, 0, 0, 0, time.UTC),
	}
	for i, w := range want {
		if !instances[i].ScheduledOn.Equal(w) {
			t.Errorf("instance %d: scheduledOn %v, want %v", i, instances[i].ScheduledOn, w)
		}
	}
}

func TestExpandTwoFireTimesPerDay(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Morning and evening",
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     "P1D",
		Times:        []string{"08:00", "20:00"},
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(enrollment, enrollment.AddDate(0, 0, 2),
		map[string]time.Time{models.EventEnrollment: enrollment})

	instances := Expand(testPlan, schedule, ctx)
	// Boundaries on Jan 1, 2, 3 with two fire times each.
	if len(instances) != 6 {
		t.Fatalf("got %d instances, want 6", len(instances))
	}
	if h := instances[0].ScheduledOn.Hour(); h != 8 {
		t.Errorf("first fire hour %d, want 8", h)
	}
	if h := instances[1].ScheduledOn.Hour(); h != 20 {
		t.Errorf("second fire hour %d, want 20", h)
	}
}

func TestExpandIsDeterministic(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Daily check-in",
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     "P1D",
		Times:        []string{"08:00"},
		Expires:      "PT1H",
		Activities:   []models.Activity{surveyActivity("act-1"), surveyActivity("act-2")},
	}
	ctx := testContext(enrollment, enrollment.AddDate(0, 0, 4),
		map[string]time.Time{models.EventEnrollment: enrollment})

	first := Expand(testPlan, schedule, ctx)
	second := Expand(testPlan, schedule, ctx)
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated expansion produced different results")
	}
	if len(first) == 0 {
		t.Fatal("expected instances")
	}
	guids := make(map[string]bool)
	for _, sa := range first {
		if guids[sa.Guid] {
			t.Errorf("duplicate instance guid %s", sa.Guid)
		}
		guids[sa.Guid] = true
	}
}

func TestExpandMissingAnchorYieldsNothing(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Follow-up",
		ScheduleType: models.ScheduleTypeOnce,
		EventID:      models.ActivityFinishedEventID("act-0"),
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(now, now.AddDate(0, 0, 4),
		map[string]time.Time{models.EventEnrollment: now})

	if got := Expand(testPlan, schedule, ctx); len(got) != 0 {
		t.Errorf("got %d instances, want 0 before anchor event occurs", len(got))
	}
}

func TestExpandOnce(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Welcome survey",
		ScheduleType: models.ScheduleTypeOnce,
		Delay:        "PT2H",
		Expires:      "P1D",
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(enrollment, enrollment.AddDate(0, 0, 4),
		map[string]time.Time{models.EventEnrollment: enrollment})

	instances := Expand(testPlan, schedule, ctx)
	if len(instances) != 1 {
		t.Fatalf("got %d instances, want 1", len(instances))
	}
	sa := instances[0]
	wantOn := enrollment.Add(2 * time.Hour)
	if !sa.ScheduledOn.Equal(wantOn) {
		t.Errorf("scheduledOn %v, want %v", sa.ScheduledOn, wantOn)
	}
	if sa.ExpiresOn == nil || !sa.ExpiresOn.Equal(wantOn.Add(24*time.Hour)) {
		t.Errorf("expiresOn %v, want %v", sa.ExpiresOn, wantOn.Add(24*time.Hour))
	}
	if sa.Persistent {
		t.Error("enrollment-anchored once schedule is not persistent")
	}
}

func TestExpandOncePastWindowYieldsNothing(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Distant follow-up",
		ScheduleType: models.ScheduleTypeOnce,
		Delay:        "P30D",
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(enrollment, enrollment.AddDate(0, 0, 4),
		map[string]time.Time{models.EventEnrollment: enrollment})

	if got := Expand(testPlan, schedule, ctx); len(got) != 0 {
		t.Errorf("got %d instances, want 0", len(got))
	}
}

func TestExpandCronTrigger(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Daily at nine",
		ScheduleType: models.ScheduleTypeRecurring,
		CronTrigger:  "0 0 9 * * *",
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	until := time.Date(2020, 1, 4, 0, 0, 0, 0, time.UTC)
	ctx := testContext(enrollment, until,
		map[string]time.Time{models.EventEnrollment: enrollment})

	instances := Expand(testPlan, schedule, ctx)
	if len(instances) != 3 {
		t.Fatalf("got %d instances, want 3", len(instances))
	}
	for i, sa := range instances {
		if sa.ScheduledOn.Hour() != 9 || sa.ScheduledOn.Day() != i+1 {
			t.Errorf("instance %d fired at %v", i, sa.ScheduledOn)
		}
		if sa.ScheduledOn.After(until) {
			t.Errorf("instance %d fired past the window: %v", i, sa.ScheduledOn)
		}
	}
}

func TestExpandCronFiveFieldExpression(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Noon reminder",
		ScheduleType: models.ScheduleTypeRecurring,
		CronTrigger:  "0 12 * * *",
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(enrollment, enrollment.AddDate(0, 0, 2),
		map[string]time.Time{models.EventEnrollment: enrollment})

	instances := Expand(testPlan, schedule, ctx)
	if len(instances) != 2 {
		t.Fatalf("got %d instances, want 2", len(instances))
	}
	if instances[0].ScheduledOn.Hour() != 12 {
		t.Errorf("fired at %v", instances[0].ScheduledOn)
	}
}

func TestExpandBadCronTriggerDegradesToNothing(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Broken",
		ScheduleType: models.ScheduleTypeRecurring,
		CronTrigger:  "whenever",
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(enrollment, enrollment.AddDate(0, 0, 4),
		map[string]time.Time{models.EventEnrollment: enrollment})

	if got := Expand(testPlan, schedule, ctx); len(got) != 0 {
		t.Errorf("got %d instances, want 0", len(got))
	}
}

func TestExpandRecurringWithoutIntervalOrCronYieldsNothing(t *testing.T) {
	enrollment := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Misconfigured",
		ScheduleType: models.ScheduleTypeRecurring,
		Times:        []string{"08:00"},
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(enrollment, enrollment.AddDate(0, 0, 4),
		map[string]time.Time{models.EventEnrollment: enrollment})

	if got := Expand(testPlan, schedule, ctx); len(got) != 0 {
		t.Errorf("got %d instances, want 0", len(got))
	}
}

func TestExpandPersistentSuppression(t *testing.T) {
	finished := time.Date(2020, 1, 2, 10, 0, 0, 0, time.UTC)
	activity := surveyActivity("act-9")
	schedule := models.Schedule{
		Label:        "Do it again",
		ScheduleType: models.ScheduleTypeOnce,
		EventID:      models.ActivityFinishedEventID("act-9"),
		Activities:   []models.Activity{activity},
	}
	ctx := testContext(finished, finished.AddDate(0, 0, 4), map[string]time.Time{
		models.EventEnrollment:                        finished.AddDate(0, 0, -10),
		models.ActivityFinishedEventID("act-9"):       finished,
	})

	instances := Expand(testPlan, schedule, ctx)
	if len(instances) != 1 {
		t.Fatalf("got %d instances, want 1", len(instances))
	}
	if !instances[0].Persistent {
		t.Fatal("instance should be persistent")
	}

	// Once materialized, the same expansion produces nothing.
	ctx.Materialized = map[string]bool{instances[0].Guid: true}
	if got := Expand(testPlan, schedule, ctx); len(got) != 0 {
		t.Errorf("got %d instances after materialization, want 0", len(got))
	}
}

func TestExpandLocalizesToTimeZone(t *testing.T) {
	enrollment := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	schedule := models.Schedule{
		Label:        "Daily check-in",
		ScheduleType: models.ScheduleTypeRecurring,
		Interval:     "P1D",
		Delay:        "P1D",
		Times:        []string{"08:00"},
		Activities:   []models.Activity{surveyActivity("act-1")},
	}
	ctx := testContext(enrollment, enrollment.AddDate(0, 0, 4),
		map[string]time.Time{models.EventEnrollment: enrollment})
	ctx.TimeZone = "America/Los_Angeles"

	instances := Expand(testPlan, schedule, ctx)
	if len(instances) == 0 {
		t.Fatal("expected instances")
	}
	for _, sa := range instances {
		local := sa.ScheduledOn
		if local.Hour() != 8 {
			t.Errorf("fire time %v not at 08:00 local", local)
		}
		if zone, _ := local.Zone(); zone == "UTC" {
			t.Errorf("fire time not localized: %v", local)
		}
		if sa.TimeZone != "America/Los_Angeles" {
			t.Errorf("instance zone %q", sa.TimeZone)
		}
	}
}

func TestInstanceGuidDerivation(t *testing.T) {
	at := time.Date(2020, 1, 2, 8, 0, 0, 0, time.UTC)
	a := InstanceGuid("plan-1", "act-1", at)
	b := InstanceGuid("plan-1", "act-1", at)
	if a != b {
		t.Error("guid derivation is not deterministic")
	}
	if InstanceGuid("plan-2", "act-1", at) == a {
		t.Error("plan guid must contribute to identity")
	}
	if InstanceGuid("plan-1", "act-2", at) == a {
		t.Error("activity guid must contribute to identity")
	}
	if InstanceGuid("plan-1", "act-1", at.Add(time.Minute)) == a {
		t.Error("scheduled time must contribute to identity")
	}
}
