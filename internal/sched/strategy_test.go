package sched

import (
	"fmt"
	"testing"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

func abTestPlan(percentages ...int) models.SchedulePlan {
	groups := make([]models.ScheduleGroup, len(percentages))
	for i, pct := range percentages {
		groups[i] = models.ScheduleGroup{
			Percentage: pct,
			Schedule:   models.Schedule{Label: fmt.Sprintf("group-%d", i), ScheduleType: models.ScheduleTypeOnce},
		}
	}
	return models.SchedulePlan{
		Guid:     "plan-1",
		StudyKey: "study",
		Strategy: models.ScheduleStrategy{Type: models.StrategyTypeABTest, Groups: groups},
	}
}

func TestResolveSimpleReturnsSchedule(t *testing.T) {
	schedule := models.Schedule{Label: "the one schedule", ScheduleType: models.ScheduleTypeOnce}
	plan := models.SchedulePlan{
		Guid:     "plan-1",
		Strategy: models.ScheduleStrategy{Type: models.StrategyTypeSimple, Schedule: &schedule},
	}
	got := Resolve(plan, models.CriteriaContext{UserID: "user-1"})
	if got == nil || got.Label != "the one schedule" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveUnknownStrategyReturnsNil(t *testing.T) {
	plan := models.SchedulePlan{Strategy: models.ScheduleStrategy{Type: "roulette"}}
	if got := Resolve(plan, models.CriteriaContext{UserID: "user-1"}); got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestABTestAssignmentIsStable(t *testing.T) {
	plan := abTestPlan(40, 40, 20)
	for i := 0; i < 50; i++ {
		userID := fmt.Sprintf("user-%d", i)
		ctx := models.CriteriaContext{UserID: userID}
		first := Resolve(plan, ctx)
		for call := 0; call < 10; call++ {
			again := Resolve(plan, ctx)
			if (first == nil) != (again == nil) {
				t.Fatalf("user %s: assignment changed between calls", userID)
			}
			if first != nil && first.Label != again.Label {
				t.Fatalf("user %s: got %q then %q", userID, first.Label, again.Label)
			}
		}
		if first == nil {
			t.Errorf("user %s: full-coverage percentages should always assign a group", userID)
		}
	}
}

func TestABTestAssignmentIgnoresOtherParticipants(t *testing.T) {
	plan := abTestPlan(40, 40, 20)
	ctx := models.CriteriaContext{UserID: "user-of-interest"}
	want := Resolve(plan, ctx)

	// Interleave assignments for many other participants; ours must not move.
	for i := 0; i < 200; i++ {
		Resolve(plan, models.CriteriaContext{UserID: fmt.Sprintf("noise-%d", i)})
		got := Resolve(plan, ctx)
		if (want == nil) != (got == nil) || (want != nil && got.Label != want.Label) {
			t.Fatal("assignment shifted as other participants were hashed")
		}
	}
}

func TestABTestResidualParticipantsGetNoSchedule(t *testing.T) {
	// A single 1% group leaves 99% of buckets unassigned.
	plan := abTestPlan(1)
	assigned, unassigned := 0, 0
	for i := 0; i < 500; i++ {
		if Resolve(plan, models.CriteriaContext{UserID: fmt.Sprintf("user-%d", i)}) != nil {
			assigned++
		} else {
			unassigned++
		}
	}
	if unassigned == 0 {
		t.Error("expected residual participants with no schedule")
	}
	if assigned > unassigned {
		t.Errorf("1%% group should assign rarely: %d assigned vs %d unassigned", assigned, unassigned)
	}
}

func TestAssignmentBucketRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		bucket := AssignmentBucket(fmt.Sprintf("user-%d", i))
		if bucket < 0 || bucket >= 100 {
			t.Fatalf("bucket %d out of [0,100)", bucket)
		}
	}
}

func TestABTestGroupDistribution(t *testing.T) {
	plan := abTestPlan(40, 40, 20)
	counts := make(map[string]int)
	const n = 2000
	for i := 0; i < n; i++ {
		if s := Resolve(plan, models.CriteriaContext{UserID: fmt.Sprintf("user-%d", i)}); s != nil {
			counts[s.Label]++
		}
	}
	// Loose tolerance: the property is a roughly uniform hash, not exact splits.
	if counts["group-0"] < n/4 || counts["group-1"] < n/4 {
		t.Errorf("40%% groups underfilled: %v", counts)
	}
	if counts["group-2"] < n/20 || counts["group-2"] > n/2 {
		t.Errorf("20%% group implausibly filled: %v", counts)
	}
}
