// internal/distribution/session.go
package distribution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cannatrace/internal/limits"
)

// Session is one in-flight distribution attempt. It exists only in memory:
// created when the operator starts a distribution, destroyed on commit,
// abort or cancellation, gone on restart. Durability belongs exclusively to
// committed Distribution records.
type Session struct {
	mu sync.Mutex

	id    uuid.UUID
	state State

	recipientID   uuid.UUID
	recipientTier limits.Tier

	selectedUnits []limits.Unit
	unitIDs       []uuid.UUID
	notes         string

	// consumption is the step-scoped snapshot fetched on entering product
	// selection. Display only; commit never trusts it.
	consumption limits.Consumption

	validation *limits.Result
	lastError  string

	authorizingMemberID *uuid.UUID
	cancelAuth          context.CancelFunc

	distribution *Distribution

	createdAt time.Time
}

func newSession() *Session {
	return &Session{
		id:        uuid.New(),
		state:     StateSelectRecipient,
		createdAt: time.Now().UTC(),
	}
}

// View returns a caller-facing snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	view := View{
		ID:              s.id,
		State:           s.state,
		SelectedUnitIDs: append([]uuid.UUID(nil), s.unitIDs...),
		Notes:           s.notes,
		Validation:      s.validation,
		LastError:       s.lastError,
		Distribution:    s.distribution,
	}
	if s.recipientID != uuid.Nil {
		id := s.recipientID
		view.RecipientID = &id
		view.RecipientTier = s.recipientTier
	}
	return view
}

// setRecipient moves SELECT_RECIPIENT -> SELECT_PRODUCTS.
func (s *Session) setRecipient(recipientID uuid.UUID, tier limits.Tier, consumption limits.Consumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectRecipient {
		return ErrInvalidTransition
	}
	s.recipientID = recipientID
	s.recipientTier = tier
	s.consumption = consumption
	s.state = StateSelectProducts
	s.lastError = ""
	return nil
}

// setSelection records a candidate selection and its verdict. The session
// stays in SELECT_PRODUCTS whether or not the selection is valid; advancing
// is a separate, guarded step.
func (s *Session) setSelection(units []limits.Unit, unitIDs []uuid.UUID, notes string, consumption limits.Consumption, result limits.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectProducts {
		return ErrInvalidTransition
	}
	s.selectedUnits = units
	s.unitIDs = unitIDs
	s.notes = notes
	s.consumption = consumption
	s.validation = &result
	s.lastError = ""
	return nil
}

// advanceToReview moves SELECT_PRODUCTS -> REVIEW iff the selection is
// non-empty and the given fresh verdict is valid. An invalid verdict is
// recorded and the session stays put; it is not an error.
func (s *Session) advanceToReview(result limits.Result) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectProducts {
		return false, ErrInvalidTransition
	}
	if len(s.unitIDs) == 0 {
		return false, ErrEmptySelection
	}
	s.validation = &result
	if !result.Valid {
		return false, nil
	}
	s.state = StateReview
	s.lastError = ""
	return true, nil
}

// back navigates one step backward. Rejected while authorizing: the
// handshake must be cancelled first.
func (s *Session) back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReview:
		s.state = StateSelectProducts
	case StateSelectProducts:
		s.state = StateSelectRecipient
		s.recipientID = uuid.Nil
		s.recipientTier = ""
		s.selectedUnits = nil
		s.unitIDs = nil
		s.validation = nil
	case StateAuthorizing:
		return ErrAuthorizationInProgress
	default:
		return ErrInvalidTransition
	}
	s.lastError = ""
	return nil
}

// beginAuthorizing moves REVIEW -> AUTHORIZING and stores the cancel hook
// for the in-flight handshake.
func (s *Session) beginAuthorizing(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReview {
		return ErrInvalidTransition
	}
	if len(s.unitIDs) == 0 {
		return ErrEmptySelection
	}
	s.state = StateAuthorizing
	s.cancelAuth = cancel
	s.lastError = ""
	return nil
}

// cancelAuthorization fires the stored cancel hook. Idempotent; callable
// only while authorizing.
func (s *Session) cancelAuthorization() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthorizing {
		return ErrInvalidTransition
	}
	if s.cancelAuth != nil {
		s.cancelAuth()
	}
	return nil
}

// failAuthorization returns an unverified session to REVIEW with the
// failure recorded. Selections survive: the operator retries or cancels.
func (s *Session) failAuthorization(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthorizing {
		return
	}
	s.state = StateReview
	s.cancelAuth = nil
	s.lastError = message
}

// failConcurrentLimit is the fail-closed landing after the pre-commit
// re-check: back to product selection with the fresh verdict attached.
func (s *Session) failConcurrentLimit(result *limits.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateSelectProducts
	s.cancelAuth = nil
	s.validation = result
	s.lastError = ErrConcurrentLimitExceeded.Error()
}

// failWrite preserves the session in REVIEW after a storage failure so the
// operator's work is not lost.
func (s *Session) failWrite(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateReview
	s.cancelAuth = nil
	s.lastError = message
}

// complete moves AUTHORIZING -> COMMITTED. The authorizing member id is set
// here and nowhere else: no code path reaches COMMITTED without a verified
// handshake identity.
func (s *Session) complete(dist *Distribution, authorizingMemberID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateCommitted
	s.cancelAuth = nil
	id := authorizingMemberID
	s.authorizingMemberID = &id
	s.distribution = dist
	s.lastError = ""
}

// abort moves the session to its terminal ABORTED state.
func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAborted
	s.cancelAuth = nil
}

// commitInputs returns an immutable copy of everything commit needs.
func (s *Session) commitInputs() (recipientID uuid.UUID, tier limits.Tier, units []limits.Unit, unitIDs []uuid.UUID, notes string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipientID, s.recipientTier,
		append([]limits.Unit(nil), s.selectedUnits...),
		append([]uuid.UUID(nil), s.unitIDs...),
		s.notes
}

// Manager owns the live sessions of one workstation process and enforces
// the single-authorizing rule.
type Manager struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*Session
	authorizing uuid.UUID
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[uuid.UUID]*Session)}
}

// Create opens a new session in SELECT_RECIPIENT.
func (m *Manager) Create() *Session {
	session := newSession()
	m.mu.Lock()
	m.sessions[session.id] = session
	m.mu.Unlock()
	return session
}

func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Remove destroys a session. Terminal states only reach callers through the
// View captured before removal.
func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	if m.authorizing == id {
		m.authorizing = uuid.Nil
	}
}

// BeginAuthorizing claims the workstation's single authorization slot.
func (m *Manager) BeginAuthorizing(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authorizing != uuid.Nil && m.authorizing != id {
		return ErrAuthorizationBusy
	}
	m.authorizing = id
	return nil
}

// EndAuthorizing releases the slot.
func (m *Manager) EndAuthorizing(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authorizing == id {
		m.authorizing = uuid.Nil
	}
}
