// Package models defines the core data structures for StudyPipe.
//
// It includes schedule plans and strategies, activities, per-participant
// scheduled activity instances, and the activity events that anchor relative
// schedules. These types are shared across the engine, store, and API modules.
package models

// Criteria constrains which participants a rule applies to.
//
// App version bounds are keyed by platform (e.g. "iphone_os", "android"); a
// missing key means unbounded for that platform. Group constraints are
// evaluated against the participant's data groups. The zero value matches
// every participant.
type Criteria struct {
	MinAppVersions map[string]int `json:"minAppVersions,omitempty"`
	MaxAppVersions map[string]int `json:"maxAppVersions,omitempty"`
	AllOfGroups    []string       `json:"allOfGroups,omitempty"`
	NoneOfGroups   []string       `json:"noneOfGroups,omitempty"`
	Language       string         `json:"language,omitempty"`
}

// CriteriaContext carries the participant's live facts used for criteria
// matching. It is constructed per request and never persisted.
type CriteriaContext struct {
	StudyKey   string   `json:"studyKey"`
	UserID     string   `json:"userId"`
	HealthCode string   `json:"-"`
	Platform   string   `json:"platform,omitempty"`
	AppVersion int      `json:"appVersion,omitempty"`
	DataGroups []string `json:"dataGroups,omitempty"`
	Language   string   `json:"language,omitempty"`
}

// HasDataGroup reports whether the participant belongs to the named data group.
func (c CriteriaContext) HasDataGroup(group string) bool {
	for _, g := range c.DataGroups {
		if g == group {
			return true
		}
	}
	return false
}
