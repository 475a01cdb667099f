// backend/src/services/reconciler.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/processors"
	"github.com/username/sipfolio/backend/src/utils"
)

// Outcome statuses of a registration attempt.
const (
	OutcomeFinalized         = "finalized"
	OutcomeAwaitingSelection = "awaiting_selection"
	OutcomeRejected          = "rejected"
)

// Machine-distinguishable rejection kinds. The reason string next to them is
// for humans; the kind is what callers branch on.
const (
	RejectServiceUnreachable = "service_unreachable"
	RejectRemoteValidation   = "service_rejected"
	RejectMalformedResponse  = "malformed_response"
)

// Outcome is the result of Register or SelectScheme. Exactly one of the
// three statuses applies; Rejected outcomes carry a kind and a reason and
// are never retried automatically.
type Outcome struct {
	Status     string                   `json:"status"`
	Record     *models.SipRegistration  `json:"record,omitempty"`
	PendingID  string                   `json:"pending_id,omitempty"`
	Candidates []models.SchemeCandidate `json:"candidates,omitempty"`
	RejectKind string                   `json:"reject_kind,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
}

// ReconcilerService orchestrates SIP registration end to end: input
// validation, totals reconciliation, submission to the registration
// boundary, and the scheme disambiguation sub-flow. It exclusively owns
// each draft until finalization.
type ReconcilerService struct {
	boundary RegistrationBoundary
	notifier FundListNotifier

	// Resolvers for registrations awaiting scheme selection, keyed by
	// pending id. Entries expire with the pending registration itself.
	resolvers *cache.Cache
}

func NewReconcilerService(boundary RegistrationBoundary, notifier FundListNotifier, pendingTTL time.Duration) *ReconcilerService {
	return &ReconcilerService{
		boundary:  boundary,
		notifier:  notifier,
		resolvers: cache.New(pendingTTL, 2*pendingTTL),
	}
}

// Register validates the draft, reconciles its totals, and submits it.
// Validation failures are returned as errors before any network call is
// made; boundary failures come back as a Rejected outcome.
func (s *ReconcilerService) Register(ctx context.Context, draft *RegistrationDraft) (*Outcome, error) {
	if err := s.validateDraft(draft); err != nil {
		return nil, err
	}

	s.reconcileTotals(draft)

	resp, err := s.boundary.Submit(ctx, draft)
	if err != nil {
		return rejectedOutcome(err), nil
	}

	if resp.RequiresSelection {
		resolver := NewSchemeResolver(s.boundary)
		if err := resolver.BeginSelection(resp.PendingID, resp.Candidates); err != nil {
			return rejectedOutcome(fmt.Errorf("%w: selection offered without pending id or candidates", ErrAmbiguousResponse)), nil
		}
		s.resolvers.SetDefault(resp.PendingID, resolver)
		if logger.L != nil {
			logger.L.Info("Registration awaiting scheme selection",
				"fundName", draft.FundName, "pendingID", resp.PendingID, "candidateCount", len(resp.Candidates))
		}
		return &Outcome{
			Status:     OutcomeAwaitingSelection,
			PendingID:  resp.PendingID,
			Candidates: resp.Candidates,
		}, nil
	}

	if resp.Record == nil {
		return rejectedOutcome(fmt.Errorf("%w: boundary reported success without a record", ErrAmbiguousResponse)), nil
	}

	s.notifier.FundListChanged()
	return &Outcome{Status: OutcomeFinalized, Record: resp.Record}, nil
}

// SelectScheme finalizes a pending registration with the chosen scheme.
// Unknown or expired pending ids are validation errors; a duplicate call
// while one is in flight fails with ErrResolutionInProgress.
func (s *ReconcilerService) SelectScheme(ctx context.Context, pendingID, schemeCode string) (*Outcome, error) {
	cached, found := s.resolvers.Get(pendingID)
	if !found {
		return nil, fmt.Errorf("%w: no pending registration %q (unknown or expired)", processors.ErrValidation, pendingID)
	}
	resolver := cached.(*SchemeResolver)

	record, err := resolver.SelectScheme(ctx, schemeCode)
	if err != nil {
		if errors.Is(err, ErrResolutionInProgress) || errors.Is(err, processors.ErrValidation) {
			return nil, err
		}
		// Boundary failure: the resolver stays awaiting-selection for retry.
		return rejectedOutcome(err), nil
	}

	s.resolvers.Delete(pendingID)
	s.notifier.FundListChanged()
	return &Outcome{Status: OutcomeFinalized, Record: record}, nil
}

// Candidates returns the retained candidate list for a pending registration.
func (s *ReconcilerService) Candidates(pendingID string) ([]models.SchemeCandidate, bool) {
	cached, found := s.resolvers.Get(pendingID)
	if !found {
		return nil, false
	}
	return cached.(*SchemeResolver).Candidates(), true
}

// DiscardPending abandons a registration awaiting selection. The external
// system may still hold the pending registration; that is its concern.
func (s *ReconcilerService) DiscardPending(pendingID string) {
	s.resolvers.Delete(pendingID)
}

// validateDraft enforces the submission preconditions, short-circuiting on
// the first failure. Nothing here touches the network.
func (s *ReconcilerService) validateDraft(draft *RegistrationDraft) error {
	if draft.FundName == "" {
		return fmt.Errorf("%w: fund name is mandatory", processors.ErrValidation)
	}
	if !draft.HasDocument {
		return fmt.Errorf("%w: holdings document is mandatory", processors.ErrValidation)
	}
	if !draft.MonthlyAmount.IsPositive() {
		return fmt.Errorf("%w: SIP amount must be greater than zero", processors.ErrValidation)
	}
	if draft.StartDate == "" || utils.ParseDate(draft.StartDate).IsZero() {
		return fmt.Errorf("%w: SIP start date is mandatory (DD-MM-YYYY)", processors.ErrValidation)
	}
	if draft.SipDay < 1 || draft.SipDay > 31 {
		return fmt.Errorf("%w: SIP day must be between 1 and 31, got %d", processors.ErrValidation, draft.SipDay)
	}
	if draft.Ledger.IsEmpty() {
		if draft.BaselineUnits == nil || draft.BaselineInvested == nil {
			return fmt.Errorf("%w: without contribution history, total units held and total invested amount are required (enter 0 when starting fresh)", processors.ErrEmptyLedger)
		}
		if draft.BaselineUnits.IsNegative() || draft.BaselineInvested.IsNegative() {
			return fmt.Errorf("%w: baseline totals cannot be negative", processors.ErrValidation)
		}
	}
	if draft.StepUp.Enabled && !draft.StepUp.Value.IsPositive() {
		return fmt.Errorf("%w: step-up value must be greater than zero when step-up is enabled", processors.ErrValidation)
	}
	return nil
}

// reconcileTotals computes the authoritative baseline: itemized ledger
// summary when history exists, otherwise the supplied baseline pair.
func (s *ReconcilerService) reconcileTotals(draft *RegistrationDraft) {
	if !draft.Ledger.IsEmpty() {
		summary := draft.Ledger.Summarize()
		draft.TotalInvested = summary.TotalInvested
		draft.TotalUnits = summary.TotalUnits
		return
	}
	draft.TotalInvested = *draft.BaselineInvested
	draft.TotalUnits = *draft.BaselineUnits
}

func rejectedOutcome(err error) *Outcome {
	kind := RejectMalformedResponse
	switch {
	case errors.Is(err, ErrServiceUnavailable):
		kind = RejectServiceUnreachable
	case errors.Is(err, processors.ErrValidation):
		kind = RejectRemoteValidation
	case errors.Is(err, ErrAmbiguousResponse):
		kind = RejectMalformedResponse
	}
	return &Outcome{Status: OutcomeRejected, RejectKind: kind, Reason: err.Error()}
}
