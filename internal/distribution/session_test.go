// internal/distribution/session_test.go
package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cannatrace/internal/limits"
)

func validResult() limits.Result {
	return limits.Result{
		Valid:            true,
		RemainingDaily:   decimal.NewFromInt(1),
		RemainingMonthly: decimal.NewFromInt(1),
	}
}

func invalidResult() limits.Result {
	return limits.Result{
		Valid:        false,
		ExceedsDaily: true,
	}
}

func sessionInProducts(t *testing.T) *Session {
	t.Helper()
	s := newSession()
	require.NoError(t, s.setRecipient(uuid.New(), limits.TierAdult, limits.Consumption{}))
	return s
}

func sessionInReview(t *testing.T) *Session {
	t.Helper()
	s := sessionInProducts(t)
	unit := limits.Unit{ID: uuid.New(), WeightGrams: decimal.NewFromInt(5)}
	require.NoError(t, s.setSelection([]limits.Unit{unit}, []uuid.UUID{unit.ID}, "", limits.Consumption{}, validResult()))
	advanced, err := s.advanceToReview(validResult())
	require.NoError(t, err)
	require.True(t, advanced)
	return s
}

func TestSessionStartsAtSelectRecipient(t *testing.T) {
	s := newSession()
	view := s.View()
	assert.Equal(t, StateSelectRecipient, view.State)
	assert.Nil(t, view.RecipientID)
}

func TestSetRecipientOnlyFromSelectRecipient(t *testing.T) {
	s := sessionInProducts(t)
	err := s.setRecipient(uuid.New(), limits.TierAdult, limits.Consumption{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvanceRequiresSelection(t *testing.T) {
	s := sessionInProducts(t)
	_, err := s.advanceToReview(validResult())
	assert.ErrorIs(t, err, ErrEmptySelection)
}

func TestAdvanceWithInvalidVerdictStaysPut(t *testing.T) {
	s := sessionInProducts(t)
	unit := limits.Unit{ID: uuid.New(), WeightGrams: decimal.NewFromInt(30)}
	require.NoError(t, s.setSelection([]limits.Unit{unit}, []uuid.UUID{unit.ID}, "", limits.Consumption{}, invalidResult()))

	advanced, err := s.advanceToReview(invalidResult())
	require.NoError(t, err)
	assert.False(t, advanced)

	view := s.View()
	assert.Equal(t, StateSelectProducts, view.State)
	require.NotNil(t, view.Validation)
	assert.False(t, view.Validation.Valid)
}

func TestBackFromReviewKeepsSelection(t *testing.T) {
	s := sessionInReview(t)
	require.NoError(t, s.back())

	view := s.View()
	assert.Equal(t, StateSelectProducts, view.State)
	assert.Len(t, view.SelectedUnitIDs, 1)
}

func TestBackFromProductsClearsSelection(t *testing.T) {
	s := sessionInReview(t)
	require.NoError(t, s.back())
	require.NoError(t, s.back())

	view := s.View()
	assert.Equal(t, StateSelectRecipient, view.State)
	assert.Empty(t, view.SelectedUnitIDs)
	assert.Nil(t, view.RecipientID)
}

func TestBackRejectedWhileAuthorizing(t *testing.T) {
	s := sessionInReview(t)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.beginAuthorizing(cancel))

	assert.ErrorIs(t, s.back(), ErrAuthorizationInProgress)
	assert.Equal(t, StateAuthorizing, s.View().State)
}

func TestBeginAuthorizingOnlyFromReview(t *testing.T) {
	s := sessionInProducts(t)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.ErrorIs(t, s.beginAuthorizing(cancel), ErrInvalidTransition)
}

func TestCancelAuthorizationFiresCancelFunc(t *testing.T) {
	s := sessionInReview(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.beginAuthorizing(cancel))

	require.NoError(t, s.cancelAuthorization())
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel func was not fired")
	}
}

func TestCancelAuthorizationOutsideAuthorizing(t *testing.T) {
	s := sessionInReview(t)
	assert.ErrorIs(t, s.cancelAuthorization(), ErrInvalidTransition)
}

func TestFailAuthorizationReturnsToReview(t *testing.T) {
	s := sessionInReview(t)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.beginAuthorizing(cancel))

	s.failAuthorization("verification failed")

	view := s.View()
	assert.Equal(t, StateReview, view.State)
	assert.Len(t, view.SelectedUnitIDs, 1)
	assert.Contains(t, view.LastError, "verification failed")
}

func TestFailConcurrentLimitReturnsToProducts(t *testing.T) {
	s := sessionInReview(t)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.beginAuthorizing(cancel))

	result := invalidResult()
	s.failConcurrentLimit(&result)

	view := s.View()
	assert.Equal(t, StateSelectProducts, view.State)
	assert.Len(t, view.SelectedUnitIDs, 1)
	require.NotNil(t, view.Validation)
	assert.False(t, view.Validation.Valid)
	assert.Equal(t, ErrConcurrentLimitExceeded.Error(), view.LastError)
}

func TestCompleteSetsDistributionAndAuthorizer(t *testing.T) {
	s := sessionInReview(t)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.beginAuthorizing(cancel))

	distributorID := uuid.New()
	dist := &Distribution{ID: uuid.New(), DistributorID: distributorID}
	s.complete(dist, distributorID)

	view := s.View()
	assert.Equal(t, StateCommitted, view.State)
	require.NotNil(t, view.Distribution)
	assert.Equal(t, distributorID, view.Distribution.DistributorID)
}

func TestManagerGetUnknownSession(t *testing.T) {
	m := NewManager()
	_, err := m.Get(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerSingleAuthorizationSlot(t *testing.T) {
	m := NewManager()
	first := m.Create()
	second := m.Create()

	require.NoError(t, m.BeginAuthorizing(first.id))
	assert.ErrorIs(t, m.BeginAuthorizing(second.id), ErrAuthorizationBusy)

	// Re-entry by the holder is fine.
	assert.NoError(t, m.BeginAuthorizing(first.id))

	m.EndAuthorizing(first.id)
	assert.NoError(t, m.BeginAuthorizing(second.id))
}

func TestManagerRemoveFreesAuthorizationSlot(t *testing.T) {
	m := NewManager()
	first := m.Create()
	second := m.Create()

	require.NoError(t, m.BeginAuthorizing(first.id))
	m.Remove(first.id)
	assert.NoError(t, m.BeginAuthorizing(second.id))
}
