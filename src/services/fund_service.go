// backend/src/services/fund_service.go
package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/sipfolio/backend/src/database"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/processors"
)

const fundListCacheKey = "fund_list"

// FundService reads back registered SIPs. The fund list is cached and the
// cache is dropped whenever a registration finalizes (FundListChanged) or a
// fund is deleted, so it also serves as the FundListNotifier.
type FundService struct {
	listCache *cache.Cache
}

func NewFundService(cacheTTL time.Duration) *FundService {
	return &FundService{listCache: cache.New(cacheTTL, 2*cacheTTL)}
}

// FundListChanged drops the cached listing after a finalization.
func (s *FundService) FundListChanged() {
	s.listCache.Delete(fundListCacheKey)
	logger.L.Debug("Fund list cache invalidated")
}

// ListFunds returns all registered SIPs, newest first.
func (s *FundService) ListFunds() ([]models.SipRegistration, error) {
	if cached, found := s.listCache.Get(fundListCacheKey); found {
		return cached.([]models.SipRegistration), nil
	}

	rows, err := database.DB.Query(`SELECT id, fund_name, nickname, scheme_code,
		monthly_amount, sip_day, start_date,
		stepup_enabled, stepup_kind, stepup_value, stepup_frequency,
		total_invested, total_units, state, created_at
		FROM sip_registrations ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("error querying fund list: %w", err)
	}
	defer rows.Close()

	funds := []models.SipRegistration{}
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fund list: %w", err)
	}

	s.listCache.SetDefault(fundListCacheKey, funds)
	return funds, nil
}

// GetFund returns one registration or processors.ErrValidation when the id
// does not exist.
func (s *FundService) GetFund(id int64) (*models.SipRegistration, error) {
	row := database.DB.QueryRow(`SELECT id, fund_name, nickname, scheme_code,
		monthly_amount, sip_day, start_date,
		stepup_enabled, stepup_kind, stepup_value, stepup_frequency,
		total_invested, total_units, state, created_at
		FROM sip_registrations WHERE id = ?`, id)
	reg, err := scanRegistration(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no registration with id %d", processors.ErrValidation, id)
	}
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// DeleteFund removes a registration and its installments.
func (s *FundService) DeleteFund(id int64) error {
	dbTx, err := database.DB.Begin()
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.Exec(`DELETE FROM sip_installments WHERE registration_id = ?`, id); err != nil {
		return fmt.Errorf("error deleting installments for registration %d: %w", id, err)
	}
	res, err := dbTx.Exec(`DELETE FROM sip_registrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("error deleting registration %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: no registration with id %d", processors.ErrValidation, id)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("error committing delete: %w", err)
	}
	s.FundListChanged()
	logger.L.Info("Fund registration deleted", "registrationID", id)
	return nil
}

// ListInstallments returns the contribution ledger of one registration in
// chronological order. Registrations that came in without itemized history
// (simple mode) have no stored rows; for those the expected cadence is
// derived from the SIP terms instead, so the installment view is never empty
// for a running SIP.
func (s *FundService) ListInstallments(registrationID int64) ([]models.Installment, error) {
	reg, err := s.GetFund(registrationID)
	if err != nil {
		return nil, err
	}

	rows, err := database.DB.Query(`SELECT date, amount, units, nav, status, description
		FROM sip_installments WHERE registration_id = ? ORDER BY id`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("error querying installments for registration %d: %w", registrationID, err)
	}
	defer rows.Close()

	installments := []models.Installment{}
	for rows.Next() {
		var inst models.Installment
		var amount, units, nav string
		if err := rows.Scan(&inst.Date, &amount, &units, &nav, &inst.Status, &inst.Description); err != nil {
			return nil, fmt.Errorf("error scanning installment row: %w", err)
		}
		if inst.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("error parsing stored amount %q: %w", amount, err)
		}
		if inst.Units, err = decimal.NewFromString(units); err != nil {
			return nil, fmt.Errorf("error parsing stored units %q: %w", units, err)
		}
		if inst.NAV, err = decimal.NewFromString(nav); err != nil {
			return nil, fmt.Errorf("error parsing stored nav %q: %w", nav, err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installments: %w", err)
	}

	if len(installments) == 0 {
		generated, err := processors.GenerateInstallments(reg.StartDate, reg.SipDay, reg.MonthlyAmount, reg.StepUp, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("error deriving installment cadence for registration %d: %w", registrationID, err)
		}
		return generated, nil
	}
	return installments, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*models.SipRegistration, error) {
	var reg models.SipRegistration
	var monthlyAmount, stepupValue, totalInvested, totalUnits string
	var stepupKind, stepupFrequency string
	err := row.Scan(&reg.ID, &reg.FundName, &reg.Nickname, &reg.SchemeCode,
		&monthlyAmount, &reg.SipDay, &reg.StartDate,
		&reg.StepUp.Enabled, &stepupKind, &stepupValue, &stepupFrequency,
		&totalInvested, &totalUnits, &reg.State, &reg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning registration row: %w", err)
	}

	reg.StepUp.Kind = models.StepUpKind(stepupKind)
	reg.StepUp.Frequency = models.StepUpFrequency(stepupFrequency)
	if reg.MonthlyAmount, err = decimal.NewFromString(monthlyAmount); err != nil {
		return nil, fmt.Errorf("error parsing stored monthly amount %q: %w", monthlyAmount, err)
	}
	if reg.StepUp.Value, err = decimal.NewFromString(stepupValue); err != nil {
		return nil, fmt.Errorf("error parsing stored stepup value %q: %w", stepupValue, err)
	}
	if reg.TotalInvested, err = decimal.NewFromString(totalInvested); err != nil {
		return nil, fmt.Errorf("error parsing stored total invested %q: %w", totalInvested, err)
	}
	if reg.TotalUnits, err = decimal.NewFromString(totalUnits); err != nil {
		return nil, fmt.Errorf("error parsing stored total units %q: %w", totalUnits, err)
	}
	return &reg, nil
}
