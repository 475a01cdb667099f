package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/processors"
)

// ParsedScheme is one fund scheme found inside a consolidated statement.
type ParsedScheme struct {
	Name             string `json:"name"`
	AmfiCode         string `json:"amfi,omitempty"`
	ISIN             string `json:"isin,omitempty"`
	TransactionCount int    `json:"transaction_count"`
}

// StatementResult is the transaction history the parsing service extracted
// for a single scheme. CostValue is the statement's own "Total Cost Value"
// (stamp duty inclusive) when present; Pending is a synthesized installment
// for the current month when the SIP day has passed but the statement does
// not show the debit yet.
type StatementResult struct {
	Transactions        []models.Installment
	MissingCurrentMonth bool
	Pending             *models.Installment
	CostValue           *decimal.Decimal
	CloseUnits          *decimal.Decimal
}

// StatementParser is the external document-parsing service. Bad passwords
// and corrupt documents surface as processors.ErrValidation (the caller can
// correct them), distinct from ErrServiceUnavailable.
type StatementParser interface {
	ParseSchemes(ctx context.Context, fileBytes []byte, password string) ([]ParsedScheme, error)
	ParseTransactions(ctx context.Context, fileBytes []byte, password, schemeName string, sipDay int) (*StatementResult, error)
}

// SchemeDirectory resolves a free-text fund name to candidate scheme codes.
type SchemeDirectory interface {
	Search(ctx context.Context, query string) ([]models.SchemeCandidate, error)
}

// RegistrationDraft is everything the reconciler needs to register a SIP.
// It exclusively owns its ledger until finalization; the two totals
// strategies are mutually exclusive: an itemized ledger, or a baseline
// units/invested pair for users without full history.
type RegistrationDraft struct {
	FundName      string
	Nickname      string
	MonthlyAmount decimal.Decimal
	SipDay        int
	StartDate     string // DD-MM-YYYY
	StepUp        models.StepUpRule
	HasDocument   bool

	Ledger *processors.Ledger

	BaselineUnits    *decimal.Decimal
	BaselineInvested *decimal.Decimal

	// Filled by the reconciler before submission.
	TotalInvested decimal.Decimal
	TotalUnits    decimal.Decimal
}

// SubmitResponse is the registration boundary's answer to a draft. Either
// the record was finalized directly, or scheme identity was ambiguous and
// the caller must pick one of Candidates against PendingID.
type SubmitResponse struct {
	RequiresSelection bool
	PendingID         string
	Candidates        []models.SchemeCandidate
	Record            *models.SipRegistration
}

// RegistrationBoundary accepts validated drafts and binds scheme identity.
type RegistrationBoundary interface {
	Submit(ctx context.Context, draft *RegistrationDraft) (*SubmitResponse, error)
	PatchScheme(ctx context.Context, pendingID, schemeCode string) (*models.SipRegistration, error)
}

// FundListNotifier is the fire-and-forget signal emitted after a successful
// finalization so the fund listing re-fetches. No acknowledgment expected.
type FundListNotifier interface {
	FundListChanged()
}
