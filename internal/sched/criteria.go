// Package sched implements the activity scheduling engine for StudyPipe.
//
// It covers criteria matching, schedule strategy resolution, expansion of
// schedules into concrete per-participant activity instances, and the
// orchestration that merges results across a study's schedule plans. All
// engine functions are pure computations over caller-supplied snapshots:
// given the same plans, context, and event map they return identical results.
package sched

import (
	"github.com/BTreeMap/StudyPipe/internal/models"
)

// Matches reports whether the participant context satisfies the criteria.
//
// It is total over well-typed input: absent fields mean "no constraint", and
// malformed criteria never panic or error. App version bounds apply per
// platform; when the context carries no platform the bounds cannot be
// evaluated and are treated as satisfied.
func Matches(criteria models.Criteria, ctx models.CriteriaContext) bool {
	if ctx.Platform != "" {
		if min, ok := criteria.MinAppVersions[ctx.Platform]; ok && ctx.AppVersion < min {
			return false
		}
		if max, ok := criteria.MaxAppVersions[ctx.Platform]; ok && ctx.AppVersion > max {
			return false
		}
	}
	for _, group := range criteria.AllOfGroups {
		if !ctx.HasDataGroup(group) {
			return false
		}
	}
	for _, group := range criteria.NoneOfGroups {
		if ctx.HasDataGroup(group) {
			return false
		}
	}
	if criteria.Language != "" && ctx.Language != "" && criteria.Language != ctx.Language {
		return false
	}
	return true
}
