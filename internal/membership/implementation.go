// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cannatrace/internal/limits"
	"cannatrace/pkg/eventstore"
)

// service implements the Service interface.
type service struct {
	eventStore  *eventstore.EventStore
	db          *sql.DB
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewService creates a new membership service instance.
func NewService(es *eventstore.EventStore, db *sql.DB, logger *zap.Logger) Service {
	return &service{
		eventStore:  es,
		db:          db,
		rateLimiter: rate.NewLimiter(rate.Every(1*time.Minute), 5), // 5 requests per minute
		logger:      logger,
	}
}

// RegisterMember creates a new member.
func (s *service) RegisterMember(ctx context.Context, email, name string, birthDate time.Time, password string) (*Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, fmt.Errorf("rate limit exceeded")
	}

	id := uuid.New()
	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	eventData := MemberRegisteredEvent{
		ID:        id,
		Email:     email,
		Name:      name,
		BirthDate: birthDate,
	}

	jsonData, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		AggregateID:   id,
		AggregateType: "member",
		EventType:     "MemberRegistered",
		EventData:     jsonData,
		Version:       1,
	}

	if err := s.eventStore.AppendEvents(ctx, id, "member", 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	now := time.Now().UTC()
	member := &Member{
		ID:        id,
		Email:     email,
		Name:      name,
		BirthDate: birthDate,
		AgeTier:   limits.TierFor(birthDate, now),
		Status:    "active",
		CreatedAt: now,
		Version:   1,
	}
	credential := &Credential{
		MemberID:     id,
		PasswordHash: passwordHash,
		Salt:         salt,
	}

	if err := s.insertMemberIntoReadModel(ctx, member, credential); err != nil {
		return nil, fmt.Errorf("failed to update read model: %w", err)
	}

	s.logger.Info("member registered",
		zap.String("member_id", id.String()),
		zap.String("age_tier", string(member.AgeTier)),
	)
	return member, nil
}

func (s *service) insertMemberIntoReadModel(ctx context.Context, member *Member, credential *Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	memberQuery := `
		INSERT INTO members (id, email, name, birth_date, status, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, memberQuery, member.ID, member.Email, member.Name, member.BirthDate, member.Status, member.Version)
	if err != nil {
		return err
	}

	credQuery := `
		INSERT INTO credentials (member_id, password_hash, salt)
		VALUES ($1, $2, $3)
	`
	_, err = tx.ExecContext(ctx, credQuery, credential.MemberID, credential.PasswordHash, credential.Salt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Authenticate verifies a member's credentials and returns the member if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, fmt.Errorf("rate limit exceeded")
	}

	member, err := s.getMemberByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	credential, err := s.getCredentialByMemberID(ctx, member.ID)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("authentication failed: invalid credentials")
	}

	return member, nil
}

func (s *service) getMemberByEmail(ctx context.Context, email string) (*Member, error) {
	query := `
		SELECT id, email, name, birth_date, status, version
		FROM members
		WHERE email = $1
	`
	member := &Member{}
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&member.ID,
		&member.Email,
		&member.Name,
		&member.BirthDate,
		&member.Status,
		&member.Version,
	)
	if err != nil {
		return nil, err
	}
	member.AgeTier = limits.TierFor(member.BirthDate, time.Now().UTC())
	return member, nil
}

func (s *service) getCredentialByMemberID(ctx context.Context, memberID uuid.UUID) (*Credential, error) {
	query := `
		SELECT member_id, password_hash, salt
		FROM credentials
		WHERE member_id = $1
	`
	credential := &Credential{}
	err := s.db.QueryRowContext(ctx, query, memberID).Scan(
		&credential.MemberID,
		&credential.PasswordHash,
		&credential.Salt,
	)
	if err != nil {
		return nil, err
	}
	return credential, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	query := `
		SELECT id, email, name, birth_date, status, version, created_at, updated_at
		FROM members
		WHERE id = $1
	`
	member := &Member{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&member.ID,
		&member.Email,
		&member.Name,
		&member.BirthDate,
		&member.Status,
		&member.Version,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("member with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get member from read model: %w", err)
	}

	member.AgeTier = limits.TierFor(member.BirthDate, time.Now().UTC())
	return member, nil
}

// SetMemberStatus suspends or reinstates a member.
func (s *service) SetMemberStatus(ctx context.Context, id uuid.UUID, newStatus string) error {
	member, err := s.GetMember(ctx, id)
	if err != nil {
		return err
	}

	eventData := MemberStatusChangedEvent{
		ID:        id,
		NewStatus: newStatus,
	}

	jsonData, err := json.Marshal(eventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		AggregateID:   id,
		AggregateType: "member",
		EventType:     "MemberStatusChanged",
		EventData:     jsonData,
		Version:       member.Version + 1,
	}

	if err := s.eventStore.AppendEvents(ctx, id, "member", member.Version, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Update read model
	query := `
		UPDATE members
		SET status = $1, version = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err = s.db.ExecContext(ctx, query, newStatus, member.Version+1, id)
	return err
}
