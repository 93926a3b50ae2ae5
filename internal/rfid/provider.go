// internal/rfid/provider.go
package rfid

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrBindingIncomplete means the provider answered the bind call without
	// all three fields (token, user id, user name). This is a hard failure,
	// not a retryable condition.
	ErrBindingIncomplete = errors.New("binding incomplete: provider returned a partial session")

	// ErrVerificationFailed means the provider rejected the session token or
	// could not map the bound card to a member.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrCancelled is the terminal outcome of a cancelled or timed-out
	// handshake. It is never shown to the user as an error.
	ErrCancelled = errors.New("handshake cancelled")
)

// Binding is the provider's answer to a bind call: an opaque session token
// tied to the next physical card scan, plus the identity the reader saw.
type Binding struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Identity is the internal member resolved from a verified binding. It
// becomes the distribution's authorizing member.
type Identity struct {
	MemberID   uuid.UUID `json:"member_id"`
	MemberName string    `json:"member_name"`
}

// Provider is the external RFID reader service. Bind blocks until a card is
// scanned or the context ends; Verify resolves the bound identity; Cancel
// releases a bound session token and is best-effort only.
type Provider interface {
	Bind(ctx context.Context) (*Binding, error)
	Verify(ctx context.Context, token, userName string) (*Identity, error)
	Cancel(ctx context.Context, token string) error
}
