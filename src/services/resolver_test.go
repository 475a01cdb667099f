package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/sipfolio/backend/src/processors"
)

func TestResolverBeginSelection(t *testing.T) {
	resolver := NewSchemeResolver(&fakeBoundary{})
	require.NoError(t, resolver.BeginSelection("pending-1", twoCandidates()))
	assert.Equal(t, ResolverAwaitingSelection, resolver.State())
	assert.Equal(t, "pending-1", resolver.PendingID())
	assert.Len(t, resolver.Candidates(), 2)

	// Awaiting selection is not re-enterable.
	err := resolver.BeginSelection("pending-2", twoCandidates())
	assert.ErrorIs(t, err, processors.ErrValidation)
}

func TestResolverBeginSelectionRequiresPendingIDAndCandidates(t *testing.T) {
	resolver := NewSchemeResolver(&fakeBoundary{})
	assert.ErrorIs(t, resolver.BeginSelection("", twoCandidates()), processors.ErrValidation)
	assert.ErrorIs(t, resolver.BeginSelection("pending-1", nil), processors.ErrValidation)
}

func TestResolverMarkResolvedDirectPath(t *testing.T) {
	resolver := NewSchemeResolver(&fakeBoundary{})
	require.NoError(t, resolver.MarkResolved("118989"))
	assert.Equal(t, ResolverResolved, resolver.State())
	assert.Equal(t, "118989", resolver.SchemeCode())

	// Resolved is terminal.
	assert.ErrorIs(t, resolver.MarkResolved("122639"), processors.ErrValidation)
}

func TestResolverSelectSchemeWithoutPendingSelection(t *testing.T) {
	resolver := NewSchemeResolver(&fakeBoundary{})
	_, err := resolver.SelectScheme(context.Background(), "118989")
	assert.ErrorIs(t, err, processors.ErrValidation)
}

func TestResolverSelectSchemeRejectsUnofferedCandidate(t *testing.T) {
	boundary := &fakeBoundary{}
	resolver := NewSchemeResolver(boundary)
	require.NoError(t, resolver.BeginSelection("pending-1", twoCandidates()))

	_, err := resolver.SelectScheme(context.Background(), "999999")
	assert.ErrorIs(t, err, processors.ErrValidation)
	assert.Zero(t, boundary.patchCallCount(), "boundary must not be called for an unoffered scheme")
}

func TestResolverSelectSchemeResolves(t *testing.T) {
	resolver := NewSchemeResolver(&fakeBoundary{})
	require.NoError(t, resolver.BeginSelection("pending-1", twoCandidates()))

	record, err := resolver.SelectScheme(context.Background(), "122639")
	require.NoError(t, err)
	assert.Equal(t, "122639", record.SchemeCode)
	assert.Equal(t, ResolverResolved, resolver.State())
	assert.Empty(t, resolver.Candidates())
}

func TestResolverBoundaryFailureKeepsAwaitingSelection(t *testing.T) {
	boundary := &fakeBoundary{patchErr: ErrServiceUnavailable}
	resolver := NewSchemeResolver(boundary)
	require.NoError(t, resolver.BeginSelection("pending-1", twoCandidates()))

	_, err := resolver.SelectScheme(context.Background(), "118989")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, ResolverAwaitingSelection, resolver.State())

	// Retry succeeds once the boundary recovers.
	boundary.mu.Lock()
	boundary.patchErr = nil
	boundary.mu.Unlock()
	record, err := resolver.SelectScheme(context.Background(), "118989")
	require.NoError(t, err)
	assert.Equal(t, "118989", record.SchemeCode)
	assert.Equal(t, 2, boundary.patchCallCount())
}

func TestResolverDuplicateSelectionWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	boundary := &fakeBoundary{patchGate: gate}
	resolver := NewSchemeResolver(boundary)
	require.NoError(t, resolver.BeginSelection("pending-1", twoCandidates()))

	firstStarted := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(firstStarted)
		_, err := resolver.SelectScheme(context.Background(), "118989")
		assert.NoError(t, err)
	}()

	<-firstStarted
	// Wait until the first call has actually reached the boundary.
	for boundary.patchCallCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	_, err := resolver.SelectScheme(context.Background(), "122639")
	assert.True(t, errors.Is(err, ErrResolutionInProgress), "got %v", err)

	close(gate)
	wg.Wait()

	assert.Equal(t, 1, boundary.patchCallCount(), "exactly one selection may reach the boundary")
	assert.Equal(t, ResolverResolved, resolver.State())
	assert.Equal(t, "118989", resolver.SchemeCode())
}
