package followup

import (
	"regexp"
	"strings"

	"github.com/david/govcapture/internal/models"
)

var (
	lostHint      = regexp.MustCompile(`\b(not selected|not awarded|no award|unsuccessful|lost|rejected|declined)\b`)
	cancelledHint = regexp.MustCompile(`\b(cancel|canceled|cancelled|cancellation|withdrawn|rescinded)\b`)
	awardedHint   = regexp.MustCompile(`\b(award|awarded|won|winner)\b`)
	pendingHint   = regexp.MustCompile(`\b(pending|pre-award|anticipated|expected|forthcoming)\b`)
	spaces        = regexp.MustCompile(`\s+`)
)

func normalize(s string) string {
	return spaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// Terminal maps a raw portal status onto a terminal outcome, if it names one.
// An award that is still pending is not an outcome.
func Terminal(found string) (models.FollowUpStatus, bool) {
	n := normalize(found)
	switch {
	case n == "":
		return "", false
	case lostHint.MatchString(n):
		return models.FollowUpLost, true
	case cancelledHint.MatchString(n):
		return models.FollowUpCancelled, true
	case awardedHint.MatchString(n) && !pendingHint.MatchString(n):
		return models.FollowUpAwarded, true
	}
	return "", false
}

// Classify compares a fresh finding against the last known status.
func Classify(previous, found string) models.FollowUpStatus {
	if t, ok := Terminal(found); ok {
		return t
	}
	prev, cur := normalize(previous), normalize(found)
	switch {
	case cur == "" && prev != "":
		return models.FollowUpNoChange
	case prev == "":
		return models.FollowUpChecked
	case cur == prev:
		return models.FollowUpNoChange
	}
	return models.FollowUpUpdated
}
