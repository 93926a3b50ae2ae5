// internal/distribution/implementation_test.go
package distribution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cannatrace/internal/inventory"
	"cannatrace/internal/limits"
	"cannatrace/internal/membership"
	"cannatrace/internal/rfid"
	"cannatrace/pkg/eventstore"
)

type fakeDirectory struct {
	members map[uuid.UUID]*membership.Member
}

func (d *fakeDirectory) GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	member, ok := d.members[id]
	if !ok {
		return nil, errors.New("member not found")
	}
	return member, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	units    map[uuid.UUID]*inventory.Unit
	consumed []uuid.UUID
	released []uuid.UUID

	consumeErr error
}

func (c *fakeCatalog) GetUnit(ctx context.Context, id uuid.UUID) (*inventory.Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	unit, ok := c.units[id]
	if !ok {
		return nil, errors.New("unit not found")
	}
	copied := *unit
	return &copied, nil
}

func (c *fakeCatalog) ConsumeUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeErr != nil {
		return c.consumeErr
	}
	c.consumed = append(c.consumed, ids...)
	return nil
}

func (c *fakeCatalog) ReleaseUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, ids...)
	return nil
}

type fakeQuota struct {
	mu          sync.Mutex
	consumption limits.Consumption
}

func (q *fakeQuota) Consumption(ctx context.Context, memberID uuid.UUID, at time.Time) (limits.Consumption, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumption, nil
}

func (q *fakeQuota) set(daily, monthly int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumption = limits.Consumption{
		Daily:   decimal.NewFromInt(daily),
		Monthly: decimal.NewFromInt(monthly),
	}
}

type fakeLedger struct {
	mu        sync.Mutex
	version   int
	conflicts int
	appended  []eventstore.Event
}

func (l *fakeLedger) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version, nil
}

func (l *fakeLedger) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventstore.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conflicts > 0 {
		l.conflicts--
		return eventstore.ErrConcurrencyConflict
	}
	if expectedVersion != l.version {
		return eventstore.ErrConcurrencyConflict
	}
	l.version += len(events)
	l.appended = append(l.appended, events...)
	return nil
}

type fakeRecords struct {
	mu       sync.Mutex
	inserted []*Distribution
	deleted  []uuid.UUID

	insertErr error
}

func (r *fakeRecords) Insert(ctx context.Context, dist *Distribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, dist)
	return nil
}

func (r *fakeRecords) Delete(ctx context.Context, distributionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, distributionID)
	return nil
}

// stubProvider drives the handshake from tests. With blockBind set, Bind
// parks until the context ends, simulating a reader waiting for a card.
type stubProvider struct {
	blockBind bool
	identity  *rfid.Identity

	mu        sync.Mutex
	cancelled []string
}

func (p *stubProvider) Bind(ctx context.Context) (*rfid.Binding, error) {
	if p.blockBind {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &rfid.Binding{Token: "tok-1", UserID: "card-7", UserName: "J. Distributor"}, nil
}

func (p *stubProvider) Verify(ctx context.Context, token, userName string) (*rfid.Identity, error) {
	if p.identity == nil {
		return nil, rfid.ErrVerificationFailed
	}
	return p.identity, nil
}

func (p *stubProvider) Cancel(ctx context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, token)
	return nil
}

type fixture struct {
	svc      Service
	manager  *Manager
	catalog  *fakeCatalog
	quota    *fakeQuota
	ledger   *fakeLedger
	records  *fakeRecords
	provider *stubProvider

	recipientID   uuid.UUID
	distributorID uuid.UUID
	unitID        uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	recipientID := uuid.New()
	distributorID := uuid.New()
	unitID := uuid.New()

	weight := decimal.RequireFromString("4.5")
	f := &fixture{
		manager: NewManager(),
		catalog: &fakeCatalog{
			units: map[uuid.UUID]*inventory.Unit{
				unitID: {
					ID:          unitID,
					BatchRef:    "B-100",
					WeightGrams: weight,
					ProductType: inventory.ProductMarijuana,
					Status:      inventory.StatusAvailable,
				},
			},
		},
		quota:   &fakeQuota{},
		ledger:  &fakeLedger{},
		records: &fakeRecords{},
		provider: &stubProvider{
			identity: &rfid.Identity{MemberID: distributorID, MemberName: "J. Distributor"},
		},
		recipientID:   recipientID,
		distributorID: distributorID,
		unitID:        unitID,
	}

	directory := &fakeDirectory{
		members: map[uuid.UUID]*membership.Member{
			recipientID: {
				ID:        recipientID,
				Name:      "R. Member",
				BirthDate: time.Date(1990, 3, 14, 0, 0, 0, 0, time.UTC),
				Status:    "active",
			},
		},
	}

	f.svc = NewService(
		f.manager,
		directory,
		f.catalog,
		f.quota,
		f.provider,
		f.ledger,
		f.records,
		limits.DefaultPolicy(),
		2*time.Second,
		zap.NewNop(),
	)
	return f
}

// sessionAtReview drives a fixture session up to REVIEW.
func (f *fixture) sessionAtReview(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	view, err := f.svc.StartSession(ctx)
	require.NoError(t, err)

	view, err = f.svc.SetRecipient(ctx, view.ID, f.recipientID)
	require.NoError(t, err)
	require.Equal(t, StateSelectProducts, view.State)

	view, err = f.svc.SelectUnits(ctx, view.ID, []uuid.UUID{f.unitID}, "evening pickup")
	require.NoError(t, err)
	require.NotNil(t, view.Validation)
	require.True(t, view.Validation.Valid)

	view, err = f.svc.AdvanceToReview(ctx, view.ID)
	require.NoError(t, err)
	require.Equal(t, StateReview, view.State)
	return view.ID
}

func TestAuthorizeCommitsDistribution(t *testing.T) {
	f := newFixture(t)
	id := f.sessionAtReview(t)

	view, err := f.svc.Authorize(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, view.State)
	require.NotNil(t, view.Distribution)
	assert.Equal(t, f.recipientID, view.Distribution.RecipientID)
	assert.Equal(t, f.distributorID, view.Distribution.DistributorID)
	assert.Equal(t, "4.5", view.Distribution.TotalGrams.String())
	assert.Equal(t, "evening pickup", view.Distribution.Notes)

	assert.Equal(t, []uuid.UUID{f.unitID}, f.catalog.consumed)
	assert.Len(t, f.records.inserted, 1)
	require.Len(t, f.ledger.appended, 1)
	assert.Equal(t, "DistributionCommitted", f.ledger.appended[0].EventType)

	// Terminal sessions are destroyed.
	_, err = f.svc.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAuthorizeFailsClosedWhenLimitConsumedMeanwhile(t *testing.T) {
	f := newFixture(t)
	id := f.sessionAtReview(t)

	// Another distribution lands while the card is being scanned: the
	// recipient has 23g on the day, so 4.5g no longer fits under 25g.
	f.quota.set(23, 23)

	view, err := f.svc.Authorize(context.Background(), id)
	require.ErrorIs(t, err, ErrConcurrentLimitExceeded)

	assert.Equal(t, StateSelectProducts, view.State)
	assert.Equal(t, []uuid.UUID{f.unitID}, view.SelectedUnitIDs)
	require.NotNil(t, view.Validation)
	assert.True(t, view.Validation.ExceedsDaily)

	// The re-check fired before any write.
	assert.Empty(t, f.catalog.consumed)
	assert.Empty(t, f.records.inserted)
	assert.Empty(t, f.ledger.appended)
}

func TestAuthorizeCompensatesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	id := f.sessionAtReview(t)

	// Conflict on every attempt.
	f.ledger.conflicts = maxCommitRetries

	view, err := f.svc.Authorize(context.Background(), id)
	require.ErrorIs(t, err, ErrConcurrentLimitExceeded)
	assert.Equal(t, StateSelectProducts, view.State)

	// Every consumed unit was released and every inserted row removed.
	assert.Equal(t, len(f.catalog.consumed), len(f.catalog.released))
	assert.Equal(t, len(f.records.inserted), len(f.records.deleted))
	assert.Empty(t, f.ledger.appended)
}

func TestAuthorizeRetriesPastSingleConflict(t *testing.T) {
	f := newFixture(t)
	id := f.sessionAtReview(t)

	f.ledger.conflicts = 1

	view, err := f.svc.Authorize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, view.State)
	assert.Len(t, f.ledger.appended, 1)
}

func TestCancelledHandshakeNeverCommits(t *testing.T) {
	f := newFixture(t)
	id := f.sessionAtReview(t)
	f.provider.blockBind = true

	done := make(chan View, 1)
	go func() {
		view, err := f.svc.Authorize(context.Background(), id)
		assert.NoError(t, err)
		done <- view
	}()

	// Wait for the session to enter AUTHORIZING, then cancel.
	require.Eventually(t, func() bool {
		view, err := f.svc.GetSession(context.Background(), id)
		return err == nil && view.State == StateAuthorizing
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, f.svc.CancelAuthorization(context.Background(), id))

	select {
	case view := <-done:
		assert.Equal(t, StateAborted, view.State)
	case <-time.After(3 * time.Second):
		t.Fatal("authorize did not return after cancellation")
	}

	assert.Empty(t, f.ledger.appended)
	assert.Empty(t, f.records.inserted)
	assert.Empty(t, f.catalog.consumed)

	_, err := f.svc.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestVerificationFailureReturnsToReview(t *testing.T) {
	f := newFixture(t)
	id := f.sessionAtReview(t)
	f.provider.identity = nil

	view, err := f.svc.Authorize(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, StateReview, view.State)
	assert.Equal(t, []uuid.UUID{f.unitID}, view.SelectedUnitIDs)
	assert.Contains(t, view.LastError, "verification failed")
	assert.Empty(t, f.ledger.appended)
}

func TestWriteFailureKeepsSessionInReview(t *testing.T) {
	f := newFixture(t)
	id := f.sessionAtReview(t)
	f.records.insertErr = errors.New("connection refused")

	view, err := f.svc.Authorize(context.Background(), id)
	require.ErrorIs(t, err, ErrWriteFailed)

	assert.Equal(t, StateReview, view.State)
	assert.Equal(t, []uuid.UUID{f.unitID}, view.SelectedUnitIDs)
	// The consumed units were handed back.
	assert.Equal(t, []uuid.UUID{f.unitID}, f.catalog.released)
}

func TestSecondAuthorizationRejectedWhileFirstRuns(t *testing.T) {
	f := newFixture(t)
	first := f.sessionAtReview(t)
	f.provider.blockBind = true

	go f.svc.Authorize(context.Background(), first)
	require.Eventually(t, func() bool {
		view, err := f.svc.GetSession(context.Background(), first)
		return err == nil && view.State == StateAuthorizing
	}, time.Second, 5*time.Millisecond)

	second := f.sessionAtReview(t)
	_, err := f.svc.Authorize(context.Background(), second)
	assert.ErrorIs(t, err, ErrAuthorizationBusy)

	require.NoError(t, f.svc.CancelAuthorization(context.Background(), first))
}

func TestSetRecipientRejectsInactiveMember(t *testing.T) {
	f := newFixture(t)
	suspendedID := uuid.New()
	fd := &fakeDirectory{
		members: map[uuid.UUID]*membership.Member{
			suspendedID: {
				ID:        suspendedID,
				BirthDate: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
				Status:    "suspended",
			},
		},
	}
	svc := NewService(f.manager, fd, f.catalog, f.quota, f.provider, f.ledger, f.records,
		limits.DefaultPolicy(), time.Second, zap.NewNop())

	view, err := svc.StartSession(context.Background())
	require.NoError(t, err)

	_, err = svc.SetRecipient(context.Background(), view.ID, suspendedID)
	assert.ErrorIs(t, err, ErrRecipientInactive)
}

func TestAbortDestroysSession(t *testing.T) {
	f := newFixture(t)
	id := f.sessionAtReview(t)

	require.NoError(t, f.svc.Abort(context.Background(), id))
	_, err := f.svc.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
