package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// maxRemindedActivities bounds the number of activities listed in one SMS so
// the message stays within a few segments.
const maxRemindedActivities = 5

// BuildReminderText renders an SMS body listing the participant's currently
// available activities. It returns an empty string when nothing is available,
// meaning no reminder should be sent.
func BuildReminderText(activities []models.ScheduledActivity, now time.Time) string {
	var available []models.ScheduledActivity
	for _, sa := range activities {
		if sa.Status(now) == models.StatusAvailable {
			available = append(available, sa)
		}
	}
	if len(available) == 0 {
		return ""
	}

	var b strings.Builder
	if len(available) == 1 {
		b.WriteString("You have 1 study activity waiting:\n")
	} else {
		fmt.Fprintf(&b, "You have %d study activities waiting:\n", len(available))
	}
	for i, sa := range available {
		if i == maxRemindedActivities {
			fmt.Fprintf(&b, "...and %d more", len(available)-maxRemindedActivities)
			break
		}
		label := sa.Activity.Label
		if label == "" {
			label = "Activity"
		}
		if sa.ExpiresOn != nil {
			fmt.Fprintf(&b, "- %s (due %s)\n", label, sa.ExpiresOn.In(sa.Location()).Format("Jan 2 3:04 PM"))
		} else {
			fmt.Fprintf(&b, "- %s\n", label)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
