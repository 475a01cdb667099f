// backend/src/processors/installments.go
package processors

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/utils"
)

// GenerateInstallments derives the expected contribution cadence between the
// SIP start date and 'today'. The start date itself is the first installment;
// every following month contributes on sipDay, clamped to the month's last
// day (SIP day 31 lands on Feb 28/29). Installments strictly before today
// are PAID; one falling on today is PENDING awaiting confirmation; nothing
// is generated past today, and a future start date yields no installments.
//
// Amounts follow the step-up schedule: each installment carries the amount
// for the number of step-up periods completed by its date. Units stay zero;
// allocation comes from the statement import, never from the cadence.
//
// The generation is deterministic: the same inputs always produce the same
// sequence, so it can be re-run on every statement refresh.
func GenerateInstallments(startDate string, sipDay int, base decimal.Decimal, rule models.StepUpRule, today time.Time) ([]models.Installment, error) {
	start := utils.ParseDate(startDate)
	if start.IsZero() {
		return nil, fmt.Errorf("%w: invalid SIP start date %q", ErrValidation, startDate)
	}
	if sipDay < 1 || sipDay > 31 {
		return nil, fmt.Errorf("%w: SIP day must be between 1 and 31, got %d", ErrValidation, sipDay)
	}

	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if start.After(today) {
		return nil, nil
	}

	var installments []models.Installment
	appendOn := func(due time.Time) {
		status := models.InstallmentStatusPaid
		if due.Equal(today) {
			status = models.InstallmentStatusPending
		}
		periods := PeriodsElapsed(start, due, rule)
		installments = append(installments, models.Installment{
			Date:   utils.FormatDate(due),
			Amount: Schedule(base, rule, periods),
			Units:  decimal.Zero,
			Status: status,
		})
	}

	appendOn(start)

	// Subsequent installments fall on sipDay of each following month.
	year, month := start.Year(), start.Month()
	for {
		month++
		if month > time.December {
			month = time.January
			year++
		}
		due := utils.DayInMonth(year, month, sipDay)
		if due.After(today) {
			break
		}
		appendOn(due)
	}

	return installments, nil
}
