package sched

import (
	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// abTestBuckets is the range the participant hash is mapped into; group
// percentages carve half-open ranges out of [0, 100).
const abTestBuckets = 100

// Resolve selects the one concrete schedule the plan yields for this
// participant, or nil when no schedule applies. Plan-level app version gating
// has already happened by the time the resolver runs.
func Resolve(plan models.SchedulePlan, ctx models.CriteriaContext) *models.Schedule {
	strategy := plan.Strategy
	switch strategy.Type {
	case models.StrategyTypeSimple:
		return strategy.Schedule
	case models.StrategyTypeABTest:
		return resolveABTest(plan, ctx)
	default:
		slog.Warn("Resolve: unknown strategy type, skipping plan", "plan", plan.Guid, "type", strategy.Type)
		return nil
	}
}

// resolveABTest assigns the participant to a weighted group. Assignment is a
// pure, stable function of the participant identifier: the same participant
// always lands in the same bucket no matter when the call happens or how
// other participants hash. When the hashed bucket falls past the last
// declared range (percentages summing under 100) the participant gets no
// schedule from this plan.
func resolveABTest(plan models.SchedulePlan, ctx models.CriteriaContext) *models.Schedule {
	bucket := AssignmentBucket(ctx.UserID)
	cumulative := 0
	for i, group := range plan.Strategy.Groups {
		cumulative += group.Percentage
		if bucket < cumulative {
			slog.Debug("resolveABTest assigned group", "plan", plan.Guid, "user", ctx.UserID, "bucket", bucket, "group", i)
			return &plan.Strategy.Groups[i].Schedule
		}
	}
	slog.Debug("resolveABTest: bucket past declared ranges, no schedule", "plan", plan.Guid, "user", ctx.UserID, "bucket", bucket)
	return nil
}

// AssignmentBucket hashes a participant identifier into [0, 100).
func AssignmentBucket(userID string) int {
	return int(xxhash.Sum64String(userID) % abTestBuckets)
}
