// backend/src/services/resolver.go
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/processors"
)

// ResolverState is the explicit state of the scheme ambiguity sub-flow.
type ResolverState int

const (
	ResolverIdle ResolverState = iota
	ResolverAwaitingSelection
	ResolverResolved
)

func (s ResolverState) String() string {
	switch s {
	case ResolverIdle:
		return "idle"
	case ResolverAwaitingSelection:
		return "awaiting-selection"
	case ResolverResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// SchemeResolver drives scheme disambiguation for one pending registration.
// idle -> awaiting-selection -> resolved, or idle -> resolved directly when
// the registration boundary found a single unambiguous scheme. Resolved is
// terminal. While a selection is in flight, further selection attempts are
// rejected so at most one PatchScheme call is ever outstanding.
type SchemeResolver struct {
	mu         sync.Mutex
	state      ResolverState
	inFlight   bool
	pendingID  string
	candidates []models.SchemeCandidate
	schemeCode string

	boundary RegistrationBoundary
}

func NewSchemeResolver(boundary RegistrationBoundary) *SchemeResolver {
	return &SchemeResolver{state: ResolverIdle, boundary: boundary}
}

// BeginSelection moves the resolver to awaiting-selection, retaining the
// pending registration id and candidate list the boundary reported.
func (r *SchemeResolver) BeginSelection(pendingID string, candidates []models.SchemeCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ResolverIdle {
		return fmt.Errorf("%w: cannot await selection from state %s", processors.ErrValidation, r.state)
	}
	if pendingID == "" || len(candidates) == 0 {
		return fmt.Errorf("%w: selection requires a pending id and candidates", processors.ErrValidation)
	}
	r.state = ResolverAwaitingSelection
	r.pendingID = pendingID
	r.candidates = candidates
	return nil
}

// MarkResolved records the direct idle -> resolved transition taken when the
// boundary returned exactly one scheme and no selection was needed.
func (r *SchemeResolver) MarkResolved(schemeCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ResolverIdle {
		return fmt.Errorf("%w: cannot mark resolved from state %s", processors.ErrValidation, r.state)
	}
	r.state = ResolverResolved
	r.schemeCode = schemeCode
	return nil
}

// SelectScheme submits the chosen scheme against the pending registration.
// Valid only while awaiting selection. A second call while one is still in
// flight fails with ErrResolutionInProgress without touching the boundary.
// A boundary failure leaves the resolver awaiting selection so the user can
// retry with the same or a different candidate.
func (r *SchemeResolver) SelectScheme(ctx context.Context, schemeCode string) (*models.SipRegistration, error) {
	r.mu.Lock()
	if r.state != ResolverAwaitingSelection {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: no scheme selection pending (state %s)", processors.ErrValidation, r.state)
	}
	if r.inFlight {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: pending registration %s", ErrResolutionInProgress, r.pendingID)
	}
	if !r.hasCandidate(schemeCode) {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: scheme %q is not among the offered candidates", processors.ErrValidation, schemeCode)
	}
	r.inFlight = true
	pendingID := r.pendingID
	r.mu.Unlock()

	record, err := r.boundary.PatchScheme(ctx, pendingID, schemeCode)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false
	if err != nil {
		// Stay in awaiting-selection; the caller may retry.
		if logger.L != nil {
			logger.L.Warn("Scheme selection failed, registration still awaiting selection",
				"pendingID", pendingID, "schemeCode", schemeCode, "error", err)
		}
		return nil, err
	}

	r.state = ResolverResolved
	r.schemeCode = schemeCode
	r.candidates = nil
	return record, nil
}

func (r *SchemeResolver) hasCandidate(schemeCode string) bool {
	for _, c := range r.candidates {
		if c.SchemeCode == schemeCode {
			return true
		}
	}
	return false
}

// State reports the current resolver state.
func (r *SchemeResolver) State() ResolverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PendingID returns the boundary's identifier for the pending registration.
func (r *SchemeResolver) PendingID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingID
}

// Candidates returns the candidate list retained for the selection.
func (r *SchemeResolver) Candidates() []models.SchemeCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidates
}

// SchemeCode returns the bound scheme identifier once resolved.
func (r *SchemeResolver) SchemeCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schemeCode
}
