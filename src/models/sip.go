// backend/src/models/sip.go
package models

import "github.com/shopspring/decimal"

// Installment statuses. CAS-imported rows arrive already PAID; a PENDING row
// represents a debit whose unit allocation the fund house has not published yet.
const (
	InstallmentStatusPaid    = "PAID"
	InstallmentStatusPending = "PENDING"
)

// Installment is a single SIP contribution: the date the amount was debited
// and the units the fund house allocated for it. Immutable once persisted;
// a corrected statement import supersedes rows, it never edits them.
type Installment struct {
	Date        string          `json:"date"` // DD-MM-YYYY
	Amount      decimal.Decimal `json:"amount"`
	Units       decimal.Decimal `json:"units"`
	NAV         decimal.Decimal `json:"nav,omitempty"`
	Status      string          `json:"status"`
	Description string          `json:"description,omitempty"`
}

// StepUpKind selects how the contribution grows per elapsed period.
type StepUpKind string

const (
	StepUpPercentage  StepUpKind = "percentage"
	StepUpFixedAmount StepUpKind = "amount"
)

// StepUpFrequency values match the registration form options.
type StepUpFrequency string

const (
	StepUpAnnual     StepUpFrequency = "Annual"
	StepUpHalfYearly StepUpFrequency = "Half-Yearly"
	StepUpQuarterly  StepUpFrequency = "Quarterly"
)

// StepUpRule governs how the nominal monthly contribution grows over elapsed
// whole periods. A disabled rule (or an enabled rule whose value is still
// zero, mid-edit in the form) always yields the base amount.
type StepUpRule struct {
	Enabled   bool            `json:"enabled"`
	Kind      StepUpKind      `json:"kind"`
	Value     decimal.Decimal `json:"value"`
	Frequency StepUpFrequency `json:"frequency"`
}

// MonthsPerPeriod returns the length of one step-up interval in months.
func (r StepUpRule) MonthsPerPeriod() int {
	switch r.Frequency {
	case StepUpHalfYearly:
		return 6
	case StepUpQuarterly:
		return 3
	default:
		return 12
	}
}

// Registration lifecycle states.
const (
	StateDraft                 = "draft"
	StatePendingSchemeSelected = "pending-scheme-selection"
	StateFinalized             = "finalized"
)

// SipRegistration is the canonical record of a registered SIP. Totals on a
// finalized record are the only figures downstream valuation trusts.
type SipRegistration struct {
	ID            int64           `json:"id"`
	FundName      string          `json:"fund_name"`
	Nickname      string          `json:"nickname,omitempty"`
	SchemeCode    string          `json:"scheme_code,omitempty"`
	MonthlyAmount decimal.Decimal `json:"sip_amount"`
	SipDay        int             `json:"sip_day"`
	StartDate     string          `json:"start_date"` // DD-MM-YYYY
	StepUp        StepUpRule      `json:"stepup"`
	Installments  []Installment   `json:"installments,omitempty"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalUnits    decimal.Decimal `json:"total_units"`
	State         string          `json:"state"`
	CreatedAt     string          `json:"created_at,omitempty"`
}

// SchemeCandidate is one possible canonical scheme for a free-text fund name.
// Transient: it exists only while a registration awaits scheme selection.
type SchemeCandidate struct {
	SchemeCode       string `json:"schemeCode"`
	SchemeName       string `json:"schemeName"`
	TransactionCount int    `json:"transaction_count,omitempty"`
}
