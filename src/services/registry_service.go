// backend/src/services/registry_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/sipfolio/backend/src/database"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/processors"
)

// pendingRegistration is a submitted draft parked until its scheme identity
// is chosen. Held in memory with a TTL; an abandoned one simply expires.
type pendingRegistration struct {
	draft      *RegistrationDraft
	candidates []models.SchemeCandidate
}

type registryServiceImpl struct {
	directory SchemeDirectory
	pending   *cache.Cache
}

// NewRegistryService creates the registration boundary backed by the scheme
// directory and the local database. Drafts whose fund name matches exactly
// one directory scheme finalize immediately; several matches park the draft
// under a fresh pending id until SelectScheme picks one.
func NewRegistryService(directory SchemeDirectory, pendingTTL time.Duration) RegistrationBoundary {
	return &registryServiceImpl{
		directory: directory,
		pending:   cache.New(pendingTTL, 2*pendingTTL),
	}
}

func (s *registryServiceImpl) Submit(ctx context.Context, draft *RegistrationDraft) (*SubmitResponse, error) {
	candidates, err := s.directory.Search(ctx, draft.FundName)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: no scheme matches fund name %q", processors.ErrValidation, draft.FundName)
	case 1:
		record, err := s.persistRegistration(draft, candidates[0].SchemeCode)
		if err != nil {
			return nil, err
		}
		logger.L.Info("Registration finalized with unambiguous scheme",
			"fundName", draft.FundName, "schemeCode", candidates[0].SchemeCode)
		return &SubmitResponse{Record: record}, nil
	default:
		pendingID := uuid.NewString()
		s.pending.SetDefault(pendingID, &pendingRegistration{draft: draft, candidates: candidates})
		logger.L.Info("Registration requires scheme selection",
			"fundName", draft.FundName, "pendingID", pendingID, "candidateCount", len(candidates))
		return &SubmitResponse{
			RequiresSelection: true,
			PendingID:         pendingID,
			Candidates:        candidates,
		}, nil
	}
}

func (s *registryServiceImpl) PatchScheme(ctx context.Context, pendingID, schemeCode string) (*models.SipRegistration, error) {
	cached, found := s.pending.Get(pendingID)
	if !found {
		return nil, fmt.Errorf("%w: unknown or expired pending registration %q", processors.ErrValidation, pendingID)
	}
	parked := cached.(*pendingRegistration)

	valid := false
	for _, c := range parked.candidates {
		if c.SchemeCode == schemeCode {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: scheme %q was not offered for pending registration %q", processors.ErrValidation, schemeCode, pendingID)
	}

	record, err := s.persistRegistration(parked.draft, schemeCode)
	if err != nil {
		return nil, err
	}
	s.pending.Delete(pendingID)
	logger.L.Info("Pending registration finalized", "pendingID", pendingID, "schemeCode", schemeCode)
	return record, nil
}

// persistRegistration writes the finalized record and its ledger in one
// database transaction and returns the canonical record.
func (s *registryServiceImpl) persistRegistration(draft *RegistrationDraft, schemeCode string) (*models.SipRegistration, error) {
	dbTx, err := database.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	res, err := dbTx.Exec(`INSERT INTO sip_registrations
		(fund_name, nickname, scheme_code, monthly_amount, sip_day, start_date,
		 stepup_enabled, stepup_kind, stepup_value, stepup_frequency,
		 total_invested, total_units, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.FundName, draft.Nickname, schemeCode,
		draft.MonthlyAmount.String(), draft.SipDay, draft.StartDate,
		draft.StepUp.Enabled, string(draft.StepUp.Kind), draft.StepUp.Value.String(), string(draft.StepUp.Frequency),
		draft.TotalInvested.String(), draft.TotalUnits.String(), models.StateFinalized)
	if err != nil {
		return nil, fmt.Errorf("error inserting registration for %q: %w", draft.FundName, err)
	}
	registrationID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("error reading registration id: %w", err)
	}

	var installments []models.Installment
	if !draft.Ledger.IsEmpty() {
		installments = draft.Ledger.Installments()
		stmt, err := dbTx.Prepare(`INSERT INTO sip_installments
			(registration_id, date, amount, units, nav, status, description)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return nil, fmt.Errorf("error preparing installment insert: %w", err)
		}
		defer stmt.Close()

		for _, inst := range installments {
			_, err := stmt.Exec(registrationID, inst.Date, inst.Amount.String(), inst.Units.String(),
				inst.NAV.String(), inst.Status, inst.Description)
			if err != nil {
				return nil, fmt.Errorf("error inserting installment (%s): %w", inst.Date, err)
			}
		}
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing registration: %w", err)
	}

	return &models.SipRegistration{
		ID:            registrationID,
		FundName:      draft.FundName,
		Nickname:      draft.Nickname,
		SchemeCode:    schemeCode,
		MonthlyAmount: draft.MonthlyAmount,
		SipDay:        draft.SipDay,
		StartDate:     draft.StartDate,
		StepUp:        draft.StepUp,
		Installments:  installments,
		TotalInvested: draft.TotalInvested,
		TotalUnits:    draft.TotalUnits,
		State:         models.StateFinalized,
	}, nil
}
