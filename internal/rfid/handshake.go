// internal/rfid/handshake.go
package rfid

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// releaseTimeout bounds the best-effort cancel notification so a dead
// provider cannot hold the session open.
const releaseTimeout = 5 * time.Second

// Handshake runs the two-phase authorization protocol: bind the provider
// session to the next physical card scan, then verify the bound identity.
//
// Cancellation is cooperative through the context and is re-checked at
// every resumption point, so a success response that arrives after the
// operator cancelled is discarded instead of acted on. Whatever the
// outcome, the provider-side session is torn down: verify consumes it,
// every other exit releases the token.
type Handshake struct {
	provider Provider
	timeout  time.Duration
	logger   *zap.Logger
}

func NewHandshake(provider Provider, timeout time.Duration, logger *zap.Logger) *Handshake {
	return &Handshake{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run executes the handshake and returns the verified identity. A timeout
// expiry behaves exactly like an explicit cancellation: ErrCancelled,
// never a partial result.
func (h *Handshake) Run(ctx context.Context) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	binding, err := h.provider.Bind(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, err
	}

	// Resumption point: the scan may have landed just as the operator
	// cancelled. The binding is real, so release it.
	if ctx.Err() != nil {
		h.release(binding.Token)
		return nil, ErrCancelled
	}

	identity, err := h.provider.Verify(ctx, binding.Token, binding.UserName)
	if err != nil {
		h.release(binding.Token)
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		if errors.Is(err, ErrVerificationFailed) {
			return nil, ErrVerificationFailed
		}
		return nil, err
	}

	// Resumption point: a verify success that raced the cancellation must
	// not authorize anything.
	if ctx.Err() != nil {
		h.release(binding.Token)
		return nil, ErrCancelled
	}

	h.logger.Info("handshake verified",
		zap.String("bound_user", binding.UserName),
		zap.String("authorizing_member", identity.MemberID.String()),
	)
	return identity, nil
}

// release notifies the provider that the bound session is dead. Detached
// from the caller's context: the caller may already be cancelled, and the
// session must still be torn down locally within a bounded time even if the
// provider never answers.
func (h *Handshake) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := h.provider.Cancel(ctx, token); err != nil {
		h.logger.Warn("failed to release provider session", zap.Error(err))
	}
}
