package services

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// fakeBoundary scripts the registration boundary's answers and records how
// it was called.
type fakeBoundary struct {
	mu sync.Mutex

	submitResp *SubmitResponse
	submitErr  error
	submitted  []*RegistrationDraft

	patchRecord *models.SipRegistration
	patchErr    error
	patchCalls  int
	// When set, PatchScheme blocks until the channel is closed.
	patchGate chan struct{}
}

func (f *fakeBoundary) Submit(_ context.Context, draft *RegistrationDraft) (*SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, draft)
	return f.submitResp, f.submitErr
}

func (f *fakeBoundary) PatchScheme(_ context.Context, pendingID, schemeCode string) (*models.SipRegistration, error) {
	f.mu.Lock()
	f.patchCalls++
	gate := f.patchGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return nil, f.patchErr
	}
	if f.patchRecord != nil {
		return f.patchRecord, nil
	}
	return &models.SipRegistration{
		ID:         1,
		SchemeCode: schemeCode,
		State:      models.StateFinalized,
	}, nil
}

func (f *fakeBoundary) patchCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patchCalls
}

func (f *fakeBoundary) submitCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeNotifier) FundListChanged() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeDirectory scripts scheme searches for the registry tests.
type fakeDirectory struct {
	candidates []models.SchemeCandidate
	err        error
	queries    []string
}

func (f *fakeDirectory) Search(_ context.Context, query string) ([]models.SchemeCandidate, error) {
	f.queries = append(f.queries, query)
	return f.candidates, f.err
}

func twoCandidates() []models.SchemeCandidate {
	return []models.SchemeCandidate{
		{SchemeCode: "118989", SchemeName: "Parag Parikh Flexi Cap Fund - Direct Growth"},
		{SchemeCode: "122639", SchemeName: "Parag Parikh Flexi Cap Fund - Regular Growth"},
	}
}

func freshStartDraft() *RegistrationDraft {
	zero := decimal.Zero
	return &RegistrationDraft{
		FundName:         "Parag Parikh Flexi Cap Fund",
		MonthlyAmount:    decimal.NewFromInt(1000),
		SipDay:           5,
		StartDate:        "01-01-2023",
		HasDocument:      true,
		BaselineUnits:    &zero,
		BaselineInvested: &zero,
	}
}
