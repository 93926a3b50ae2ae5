// internal/distribution/domain.go
package distribution

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cannatrace/internal/limits"
)

// State is a named step of the distribution workflow. The original screens
// tracked progress with loose UI flags; here every transition is guarded.
type State string

const (
	StateSelectRecipient State = "SELECT_RECIPIENT"
	StateSelectProducts  State = "SELECT_PRODUCTS"
	StateReview          State = "REVIEW"
	StateAuthorizing     State = "AUTHORIZING"
	StateCommitted       State = "COMMITTED"
	StateAborted         State = "ABORTED"
)

var (
	ErrSessionNotFound = errors.New("distribution session not found")

	// ErrInvalidTransition means the requested step is not legal from the
	// session's current state.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrAuthorizationBusy means another session is mid-handshake; only one
	// authorization may run at a time per workstation.
	ErrAuthorizationBusy = errors.New("another session is authorizing")

	// ErrAuthorizationInProgress rejects backward navigation while the
	// handshake runs; it must be cancelled first.
	ErrAuthorizationInProgress = errors.New("authorization in progress, cancel it first")

	ErrEmptySelection = errors.New("no units selected")

	// ErrConcurrentLimitExceeded is the fail-closed outcome of the final
	// pre-commit re-check: a concurrent distribution consumed the
	// remaining allowance while this session was authorizing.
	ErrConcurrentLimitExceeded = errors.New("member limit exceeded by a concurrent distribution")

	// ErrWriteFailed wraps storage/collaborator errors during commit. The
	// session survives it and can retry.
	ErrWriteFailed = errors.New("distribution write failed")

	ErrRecipientInactive = errors.New("recipient is not an active member")
)

// Distribution is the persisted outcome of a committed session: the only
// durable fact quota is ever recomputed from.
type Distribution struct {
	ID            uuid.UUID       `json:"id"`
	RecipientID   uuid.UUID       `json:"recipient_id"`
	DistributorID uuid.UUID       `json:"distributor_id"`
	UnitIDs       []uuid.UUID     `json:"unit_ids"`
	TotalGrams    decimal.Decimal `json:"total_grams"`
	Notes         string          `json:"notes,omitempty"`
	CommittedAt   time.Time       `json:"committed_at"`
}

// DistributionCommittedEvent is appended to the recipient's event stream.
// The stream's version CAS is the per-member serialization point that makes
// two same-recipient commits impossible to interleave unchecked.
type DistributionCommittedEvent struct {
	DistributionID uuid.UUID       `json:"distribution_id"`
	RecipientID    uuid.UUID       `json:"recipient_id"`
	DistributorID  uuid.UUID       `json:"distributor_id"`
	UnitIDs        []uuid.UUID     `json:"unit_ids"`
	TotalGrams     decimal.Decimal `json:"total_grams"`
	Notes          string          `json:"notes,omitempty"`
}

// View is the session snapshot returned to callers. Sessions themselves are
// in-memory only and never serialized wholesale.
type View struct {
	ID              uuid.UUID      `json:"id"`
	State           State          `json:"state"`
	RecipientID     *uuid.UUID     `json:"recipient_id,omitempty"`
	RecipientTier   limits.Tier    `json:"recipient_tier,omitempty"`
	SelectedUnitIDs []uuid.UUID    `json:"selected_unit_ids,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	Validation      *limits.Result `json:"validation,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	Distribution    *Distribution  `json:"distribution,omitempty"`
}
