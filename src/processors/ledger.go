// backend/src/processors/ledger.go
package processors

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/utils"
)

// costValueWarnRatio is the divergence between the statement's cost value and
// the raw installment sum above which Summarize logs a warning. The cost
// value legitimately exceeds the raw sum by stamp duty and charges, but a
// sharp divergence usually means a mis-parsed statement.
var costValueWarnRatio = decimal.NewFromFloat(0.05)

// LedgerSummary is the reconciled view of a ledger's contribution history.
type LedgerSummary struct {
	Count         int             `json:"count"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalUnits    decimal.Decimal `json:"total_units"`
}

// Ledger is the ordered ground truth of past SIP contributions, built either
// from statement-imported records or manually typed rows. Entries are kept in
// chronological order and never mutated; a corrected import builds a new
// ledger. At most one trailing entry may be pending (units not yet allocated).
type Ledger struct {
	installments []models.Installment
	costValue    *decimal.Decimal
	hasPending   bool
}

// LedgerFromImport builds a ledger from installments returned by the external
// statement-parsing service. costValue, when the statement carries one, is
// the authoritative "Total Cost Value" including stamp duty; Summarize
// prefers it over the raw amount sum.
func LedgerFromImport(records []models.Installment, costValue *decimal.Decimal) (*Ledger, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: statement contained no purchase transactions", ErrEmptyLedger)
	}

	installments := make([]models.Installment, 0, len(records))
	for i, rec := range records {
		if rec.Date == "" || utils.ParseDate(rec.Date).IsZero() {
			return nil, fmt.Errorf("%w: imported record %d has no usable date (%q)", ErrValidation, i+1, rec.Date)
		}
		if !rec.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: imported record %d (%s) has non-positive amount %s", ErrValidation, i+1, rec.Date, rec.Amount)
		}
		if rec.Units.IsNegative() {
			return nil, fmt.Errorf("%w: imported record %d (%s) has negative units %s", ErrValidation, i+1, rec.Date, rec.Units)
		}
		if rec.Status == "" {
			rec.Status = models.InstallmentStatusPaid
		}
		installments = append(installments, rec)
	}

	sortChronologically(installments)
	return &Ledger{installments: installments, costValue: costValue}, nil
}

// LedgerFromManualEntries builds a ledger from user-typed rows. Rows missing
// a date, amount, or units are silently dropped (the form keeps blank rows
// around); if nothing usable remains the ledger is rejected.
func LedgerFromManualEntries(entries []models.Installment) (*Ledger, error) {
	var kept []models.Installment
	for _, entry := range entries {
		if entry.Date == "" || utils.ParseDate(entry.Date).IsZero() {
			continue
		}
		if !entry.Amount.IsPositive() || !entry.Units.IsPositive() {
			continue
		}
		entry.Status = models.InstallmentStatusPaid
		kept = append(kept, entry)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no manual entry has date, amount and units", ErrEmptyLedger)
	}

	sortChronologically(kept)
	return &Ledger{installments: kept}, nil
}

// AppendPending records a contribution whose debit has happened but whose
// unit allocation the fund house has not published yet. A ledger holds at
// most one such entry and it must be the chronologically last one.
func (l *Ledger) AppendPending(inst models.Installment) error {
	if l.hasPending {
		return fmt.Errorf("%w: ledger already has a pending installment", ErrValidation)
	}
	if !inst.Units.IsZero() {
		return fmt.Errorf("%w: pending installment must have zero units, got %s", ErrValidation, inst.Units)
	}
	if !inst.Amount.IsPositive() {
		return fmt.Errorf("%w: pending installment must have a positive amount", ErrValidation)
	}
	date := utils.ParseDate(inst.Date)
	if date.IsZero() {
		return fmt.Errorf("%w: pending installment has no usable date (%q)", ErrValidation, inst.Date)
	}
	if last := l.lastDate(); !last.IsZero() && date.Before(last) {
		return fmt.Errorf("%w: pending installment (%s) must be the last ledger entry", ErrValidation, inst.Date)
	}

	inst.Status = models.InstallmentStatusPending
	l.installments = append(l.installments, inst)
	l.hasPending = true
	return nil
}

// Installments returns the entries in chronological order.
func (l *Ledger) Installments() []models.Installment {
	return l.installments
}

func (l *Ledger) IsEmpty() bool {
	return l == nil || len(l.installments) == 0
}

// Summarize reconciles the ledger into authoritative totals. TotalUnits
// excludes the pending entry (its allocation is unknown); TotalInvested sums
// all amounts, but defers to the statement's cost value when one was
// supplied, since that figure includes stamp duty and charges the raw
// amounts do not carry.
func (l *Ledger) Summarize() LedgerSummary {
	rawInvested := decimal.Zero
	totalUnits := decimal.Zero
	for _, inst := range l.installments {
		rawInvested = rawInvested.Add(inst.Amount)
		if inst.Status != models.InstallmentStatusPending {
			totalUnits = totalUnits.Add(inst.Units)
		}
	}

	totalInvested := rawInvested
	if l.costValue != nil {
		if rawInvested.IsPositive() {
			divergence := l.costValue.Sub(rawInvested).Abs()
			if divergence.GreaterThan(rawInvested.Mul(costValueWarnRatio)) && logger.L != nil {
				logger.L.Warn("Statement cost value diverges sharply from installment sum",
					"costValue", l.costValue.String(),
					"installmentSum", rawInvested.String())
			}
		}
		totalInvested = *l.costValue
	}

	return LedgerSummary{
		Count:         len(l.installments),
		TotalInvested: totalInvested,
		TotalUnits:    totalUnits,
	}
}

func (l *Ledger) lastDate() (last time.Time) {
	if len(l.installments) == 0 {
		return last
	}
	return utils.ParseDate(l.installments[len(l.installments)-1].Date)
}

func sortChronologically(installments []models.Installment) {
	sort.SliceStable(installments, func(i, j int) bool {
		return utils.ParseDate(installments[i].Date).Before(utils.ParseDate(installments[j].Date))
	})
}
