package processors

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/sipfolio/backend/src/models"
)

var noStepUp models.StepUpRule

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestGenerateInstallmentsCadence(t *testing.T) {
	base := decimal.NewFromInt(1000)
	installments, err := GenerateInstallments("01-01-2023", 5, base, noStepUp, day(2023, time.April, 10))
	require.NoError(t, err)
	require.Len(t, installments, 4)

	// The start date itself is the first installment; the rest fall on the
	// SIP day of each following month.
	assert.Equal(t, "01-01-2023", installments[0].Date)
	assert.Equal(t, "05-02-2023", installments[1].Date)
	assert.Equal(t, "05-03-2023", installments[2].Date)
	assert.Equal(t, "05-04-2023", installments[3].Date)
	for _, inst := range installments {
		assert.Equal(t, models.InstallmentStatusPaid, inst.Status, inst.Date)
		assert.True(t, inst.Amount.Equal(base))
		assert.True(t, inst.Units.IsZero())
	}
}

func TestGenerateInstallmentsDueTodayIsPending(t *testing.T) {
	installments, err := GenerateInstallments("01-01-2023", 5, decimal.NewFromInt(1000), noStepUp, day(2023, time.February, 5))
	require.NoError(t, err)
	require.Len(t, installments, 2)
	assert.Equal(t, models.InstallmentStatusPaid, installments[0].Status)
	assert.Equal(t, models.InstallmentStatusPending, installments[1].Status)
}

func TestGenerateInstallmentsFutureStartYieldsNothing(t *testing.T) {
	installments, err := GenerateInstallments("01-06-2023", 5, decimal.NewFromInt(1000), noStepUp, day(2023, time.April, 10))
	require.NoError(t, err)
	assert.Empty(t, installments)
}

func TestGenerateInstallmentsClampsSipDayToMonthEnd(t *testing.T) {
	installments, err := GenerateInstallments("31-01-2023", 31, decimal.NewFromInt(1000), noStepUp, day(2023, time.May, 1))
	require.NoError(t, err)
	require.Len(t, installments, 4)
	assert.Equal(t, "31-01-2023", installments[0].Date)
	assert.Equal(t, "28-02-2023", installments[1].Date)
	assert.Equal(t, "31-03-2023", installments[2].Date)
	assert.Equal(t, "30-04-2023", installments[3].Date)
}

func TestGenerateInstallmentsAppliesStepUpSchedule(t *testing.T) {
	rule := models.StepUpRule{
		Enabled:   true,
		Kind:      models.StepUpPercentage,
		Value:     decimal.NewFromInt(10),
		Frequency: models.StepUpQuarterly,
	}
	installments, err := GenerateInstallments("01-01-2023", 1, decimal.NewFromInt(1000), rule, day(2023, time.May, 15))
	require.NoError(t, err)
	require.Len(t, installments, 5)

	// First quarterly step-up kicks in with the April installment.
	assert.True(t, installments[0].Amount.Equal(decimal.NewFromInt(1000)), "jan")
	assert.True(t, installments[2].Amount.Equal(decimal.NewFromInt(1000)), "mar")
	assert.True(t, installments[3].Amount.Equal(decimal.NewFromInt(1100)), "apr: got %s", installments[3].Amount)
	assert.True(t, installments[4].Amount.Equal(decimal.NewFromInt(1100)), "may")
}

func TestGenerateInstallmentsRejectsBadInput(t *testing.T) {
	_, err := GenerateInstallments("2023-01-01", 5, decimal.NewFromInt(1000), noStepUp, day(2023, time.April, 10))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = GenerateInstallments("01-01-2023", 35, decimal.NewFromInt(1000), noStepUp, day(2023, time.April, 10))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGenerateInstallmentsIsDeterministic(t *testing.T) {
	today := day(2024, time.March, 3)
	first, err := GenerateInstallments("15-06-2022", 15, decimal.NewFromInt(2500), noStepUp, today)
	require.NoError(t, err)
	second, err := GenerateInstallments("15-06-2022", 15, decimal.NewFromInt(2500), noStepUp, today)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
