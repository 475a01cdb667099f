// backend/src/processors/stepup.go
package processors

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/utils"
)

var hundred = decimal.NewFromInt(100)

// Schedule returns the contribution amount for the given step-up period.
// periodIndex counts completed step-up intervals since the schedule start,
// so index 0 is always the unmodified base amount.
//
// Percentage rules compound: round(base * (1 + value/100)^periodIndex).
// Fixed-amount rules grow linearly: round(base + value*periodIndex).
// Rounding is to the nearest whole currency unit, half up, matching what the
// registration form preview shows the user.
//
// An enabled rule with value 0 behaves like a disabled one; the form allows
// toggling the step-up checkbox before a value is typed.
func Schedule(base decimal.Decimal, rule models.StepUpRule, periodIndex int) decimal.Decimal {
	if periodIndex <= 0 || !rule.Enabled || rule.Value.IsZero() {
		return base
	}

	n := decimal.NewFromInt(int64(periodIndex))
	switch rule.Kind {
	case models.StepUpPercentage:
		factor := decimal.NewFromInt(1).Add(rule.Value.Div(hundred)).Pow(n)
		return base.Mul(factor).Round(0)
	case models.StepUpFixedAmount:
		return base.Add(rule.Value.Mul(n)).Round(0)
	default:
		return base
	}
}

// Preview returns the contribution amounts for periods 1..n, used by the
// registration form to show the upcoming step-up values live.
func Preview(base decimal.Decimal, rule models.StepUpRule, n int) []decimal.Decimal {
	values := make([]decimal.Decimal, 0, n)
	for period := 1; period <= n; period++ {
		values = append(values, Schedule(base, rule, period))
	}
	return values
}

// PeriodsElapsed converts a calendar distance from the SIP start date into
// the number of completed step-up intervals at 'on'. Dates before the start
// count as zero periods.
func PeriodsElapsed(start, on time.Time, rule models.StepUpRule) int {
	if !rule.Enabled {
		return 0
	}
	return utils.MonthsBetween(start, on) / rule.MonthsPerPeriod()
}
