package rfid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider scripts the provider side of the handshake. bindReady gates
// the scan so tests can decide when (or whether) the card arrives.
type fakeProvider struct {
	mu        sync.Mutex
	bindReady chan struct{}
	binding   Binding
	identity  Identity
	verifyErr error

	// lateBinding makes Bind return its success even after ctx is done,
	// simulating a scan response racing the cancellation.
	lateBinding bool

	cancelled []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		bindReady: make(chan struct{}),
		binding:   Binding{Token: "tok-1", UserID: "card-9", UserName: "Desk"},
		identity:  Identity{MemberID: uuid.New(), MemberName: "Desk"},
	}
}

func (f *fakeProvider) Bind(ctx context.Context) (*Binding, error) {
	select {
	case <-f.bindReady:
		b := f.binding
		return &b, nil
	case <-ctx.Done():
		if f.lateBinding {
			// The reader answered anyway; the response is on the wire.
			b := f.binding
			return &b, nil
		}
		return nil, ctx.Err()
	}
}

func (f *fakeProvider) Verify(ctx context.Context, token, userName string) (*Identity, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	id := f.identity
	return &id, nil
}

func (f *fakeProvider) Cancel(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, token)
	return nil
}

func (f *fakeProvider) cancelledTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func TestHandshakeSuccess(t *testing.T) {
	provider := newFakeProvider()
	close(provider.bindReady)
	handshake := NewHandshake(provider, time.Second, zap.NewNop())

	identity, err := handshake.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.identity.MemberID, identity.MemberID)
	assert.Empty(t, provider.cancelledTokens(), "a verified session is consumed, not cancelled")
}

func TestHandshakeCancelDuringBind(t *testing.T) {
	provider := newFakeProvider() // bindReady never closes: no scan arrives
	handshake := NewHandshake(provider, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := handshake.Run(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled handshake did not return within bound")
	}
}

func TestHandshakeLateBindSuccessIsDiscarded(t *testing.T) {
	provider := newFakeProvider()
	provider.lateBinding = true
	handshake := NewHandshake(provider, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the scan response lands

	_, err := handshake.Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)

	// The late binding was real: the provider session it opened must be
	// released, and the identity must never surface.
	assert.Equal(t, []string{"tok-1"}, provider.cancelledTokens())
}

func TestHandshakeTimeoutBehavesLikeCancellation(t *testing.T) {
	provider := newFakeProvider() // no scan
	handshake := NewHandshake(provider, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	_, err := handshake.Run(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandshakeVerificationFailureReleasesToken(t *testing.T) {
	provider := newFakeProvider()
	close(provider.bindReady)
	provider.verifyErr = ErrVerificationFailed
	handshake := NewHandshake(provider, time.Second, zap.NewNop())

	_, err := handshake.Run(context.Background())
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, []string{"tok-1"}, provider.cancelledTokens())
}

func TestHandshakeProviderErrorPassesThrough(t *testing.T) {
	provider := newFakeProvider()
	close(provider.bindReady)
	provider.verifyErr = errors.New("reader offline")
	handshake := NewHandshake(provider, time.Second, zap.NewNop())

	_, err := handshake.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, []string{"tok-1"}, provider.cancelledTokens())
}
