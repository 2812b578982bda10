package sched

import (
	"testing"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

func TestMatches(t *testing.T) {
	ctx := models.CriteriaContext{
		Platform:   "iphone_os",
		AppVersion: 12,
		DataGroups: []string{"group_a", "group_b"},
		Language:   "en",
	}

	cases := []struct {
		name     string
		criteria models.Criteria
		want     bool
	}{
		{"empty criteria matches everything", models.Criteria{}, true},
		{"min version satisfied", models.Criteria{MinAppVersions: map[string]int{"iphone_os": 10}}, true},
		{"min version too high", models.Criteria{MinAppVersions: map[string]int{"iphone_os": 13}}, false},
		{"max version satisfied", models.Criteria{MaxAppVersions: map[string]int{"iphone_os": 12}}, true},
		{"max version exceeded", models.Criteria{MaxAppVersions: map[string]int{"iphone_os": 11}}, false},
		{"bounds for another platform ignored", models.Criteria{MinAppVersions: map[string]int{"android": 99}}, true},
		{"allOf present", models.Criteria{AllOfGroups: []string{"group_a", "group_b"}}, true},
		{"allOf missing one", models.Criteria{AllOfGroups: []string{"group_a", "group_c"}}, false},
		{"noneOf absent", models.Criteria{NoneOfGroups: []string{"group_c"}}, true},
		{"noneOf present", models.Criteria{NoneOfGroups: []string{"group_b"}}, false},
		{"language match", models.Criteria{Language: "en"}, true},
		{"language mismatch", models.Criteria{Language: "fr"}, false},
	}
	for _, tc := range cases {
		if got := Matches(tc.criteria, ctx); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMatchesWithoutPlatformSkipsVersionBounds(t *testing.T) {
	criteria := models.Criteria{MinAppVersions: map[string]int{"iphone_os": 10}}
	ctx := models.CriteriaContext{AppVersion: 2}
	if !Matches(criteria, ctx) {
		t.Error("version bounds should not be evaluated without a platform")
	}
}

func TestMatchesEmptyContextLanguage(t *testing.T) {
	criteria := models.Criteria{Language: "en"}
	if !Matches(criteria, models.CriteriaContext{}) {
		t.Error("a participant with no preferred language is not excluded")
	}
}
