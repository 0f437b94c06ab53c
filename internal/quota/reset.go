package quota

import (
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// ApplyReset returns q with usage cleared when the plan resets daily and the
// calendar date of now in loc is after that of q.LastReset. The bool reports
// whether a reset happened.
func ApplyReset(q models.Quota, plan plans.Plan, now time.Time, loc *time.Location) (models.Quota, bool) {
	if !plan.ResetsDaily() {
		return q, false
	}
	if !dayOf(now, loc).After(dayOf(q.LastReset, loc)) {
		return q, false
	}
	q.MinutesUsed = 0
	q.LastReset = now
	return q, true
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
