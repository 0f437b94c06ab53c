package quota

import "github.com/therealutkarshpriyadarshi/transcribe/pkg/models"

// tolerance absorbs float rounding so that an exact fit is admitted
const tolerance = 1e-9

// Decision is the result of an admission check
type Decision struct {
	Admitted  bool    `json:"admitted"`
	Plan      string  `json:"plan"`
	Unlimited bool    `json:"unlimited"`
	Requested float64 `json:"requested"`
	Used      float64 `json:"used"`
	Held      float64 `json:"held"`
	Limit     int     `json:"limit"`
	Bonus     float64 `json:"bonus"`
	Remaining float64 `json:"remaining"`
}

// Decide admits requested minutes when used + held + requested fits within
// limit + bonus. Unlimited quotas always admit. It does not mutate q.
func Decide(q models.Quota, held, requested float64) Decision {
	d := Decision{
		Plan:      q.PlanType,
		Unlimited: q.IsUnlimited(),
		Requested: requested,
		Used:      q.MinutesUsed,
		Held:      held,
		Limit:     q.MinutesLimit,
		Bonus:     q.BonusMinutes,
	}

	if d.Unlimited {
		d.Admitted = true
		d.Remaining = models.UnlimitedMinutes
		return d
	}

	allowance := q.Allowance()
	d.Remaining = allowance - q.MinutesUsed - held
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.Admitted = q.MinutesUsed+held+requested <= allowance+tolerance
	return d
}
