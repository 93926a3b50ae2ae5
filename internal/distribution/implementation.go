// internal/distribution/implementation.go
package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cannatrace/internal/inventory"
	"cannatrace/internal/limits"
	"cannatrace/internal/membership"
	"cannatrace/internal/quota"
	"cannatrace/internal/rfid"
	"cannatrace/pkg/eventstore"
)

// maxCommitRetries bounds the re-read/re-validate loop after a version
// conflict on the recipient's stream.
const maxCommitRetries = 3

// MemberDirectory supplies recipient identity and birth date.
type MemberDirectory interface {
	GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error)
}

// Ledger is the recipient event stream. Its version CAS is the per-member
// serialization point of the commit.
type Ledger interface {
	GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventstore.Event) error
}

// RecordStore holds committed distribution records, the read model quota is
// recomputed from. Delete exists only as commit compensation.
type RecordStore interface {
	Insert(ctx context.Context, dist *Distribution) error
	Delete(ctx context.Context, distributionID uuid.UUID) error
}

// UnitCatalog supplies candidate units and carries out the exactly-once
// consume step (with release as compensation).
type UnitCatalog interface {
	GetUnit(ctx context.Context, id uuid.UUID) (*inventory.Unit, error)
	ConsumeUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error
	ReleaseUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error
}

// service implements the Service interface.
type service struct {
	manager     *Manager
	members     MemberDirectory
	catalog     UnitCatalog
	consumption quota.Source
	provider    rfid.Provider
	ledger      Ledger
	records     RecordStore

	policy           limits.Policy
	handshakeTimeout time.Duration

	logger *zap.Logger
	tracer trace.Tracer
}

// NewService creates a new distribution service instance.
func NewService(
	manager *Manager,
	members MemberDirectory,
	catalog UnitCatalog,
	consumption quota.Source,
	provider rfid.Provider,
	ledger Ledger,
	records RecordStore,
	policy limits.Policy,
	handshakeTimeout time.Duration,
	logger *zap.Logger,
) Service {
	return &service{
		manager:          manager,
		members:          members,
		catalog:          catalog,
		consumption:      consumption,
		provider:         provider,
		ledger:           ledger,
		records:          records,
		policy:           policy,
		handshakeTimeout: handshakeTimeout,
		logger:           logger,
		tracer:           otel.Tracer("cannatrace/distribution"),
	}
}

func (s *service) StartSession(ctx context.Context) (View, error) {
	session := s.manager.Create()
	return session.View(), nil
}

func (s *service) GetSession(ctx context.Context, id uuid.UUID) (View, error) {
	session, err := s.manager.Get(id)
	if err != nil {
		return View{}, err
	}
	return session.View(), nil
}

// SetRecipient resolves the recipient and enters product selection with a
// fresh consumption snapshot for display.
func (s *service) SetRecipient(ctx context.Context, id, memberID uuid.UUID) (View, error) {
	session, err := s.manager.Get(id)
	if err != nil {
		return View{}, err
	}

	member, err := s.members.GetMember(ctx, memberID)
	if err != nil {
		return View{}, fmt.Errorf("failed to get member: %w", err)
	}
	if member.Status != "active" {
		return View{}, ErrRecipientInactive
	}

	tier := limits.TierFor(member.BirthDate, time.Now().UTC())
	consumption, err := s.consumption.Consumption(ctx, memberID, time.Now().UTC())
	if err != nil {
		return View{}, fmt.Errorf("failed to read consumption: %w", err)
	}

	if err := session.setRecipient(memberID, tier, consumption); err != nil {
		return View{}, err
	}
	return session.View(), nil
}

// SelectUnits records a candidate selection together with its verdict. An
// invalid selection is not an error: the full violation list comes back in
// the view and the session stays in SELECT_PRODUCTS.
func (s *service) SelectUnits(ctx context.Context, id uuid.UUID, unitIDs []uuid.UUID, notes string) (View, error) {
	session, err := s.manager.Get(id)
	if err != nil {
		return View{}, err
	}

	recipientID, tier, _, _, _ := session.commitInputs()
	if recipientID == uuid.Nil {
		return View{}, ErrInvalidTransition
	}

	seen := make(map[uuid.UUID]bool, len(unitIDs))
	var units []limits.Unit
	var ids []uuid.UUID
	for _, unitID := range unitIDs {
		if seen[unitID] {
			continue
		}
		seen[unitID] = true

		unit, err := s.catalog.GetUnit(ctx, unitID)
		if err != nil {
			return View{}, fmt.Errorf("failed to get unit: %w", err)
		}
		if unit.Status != inventory.StatusAvailable {
			return View{}, fmt.Errorf("unit %s: %w", unitID, inventory.ErrUnitUnavailable)
		}
		units = append(units, limits.Unit{
			ID:          unit.ID,
			WeightGrams: unit.WeightGrams,
			THCPercent:  unit.THCPercent,
		})
		ids = append(ids, unitID)
	}

	consumption, err := s.consumption.Consumption(ctx, recipientID, time.Now().UTC())
	if err != nil {
		return View{}, fmt.Errorf("failed to read consumption: %w", err)
	}

	result := limits.Validate(consumption, s.policy.LimitsFor(tier), units)
	if err := session.setSelection(units, ids, notes, consumption, result); err != nil {
		return View{}, err
	}
	return session.View(), nil
}

// AdvanceToReview re-validates against fresh consumption and moves to
// REVIEW only on a clean verdict.
func (s *service) AdvanceToReview(ctx context.Context, id uuid.UUID) (View, error) {
	session, err := s.manager.Get(id)
	if err != nil {
		return View{}, err
	}

	recipientID, tier, units, unitIDs, _ := session.commitInputs()
	if len(unitIDs) == 0 {
		return View{}, ErrEmptySelection
	}

	consumption, err := s.consumption.Consumption(ctx, recipientID, time.Now().UTC())
	if err != nil {
		return View{}, fmt.Errorf("failed to read consumption: %w", err)
	}

	result := limits.Validate(consumption, s.policy.LimitsFor(tier), units)
	if _, err := session.advanceToReview(result); err != nil {
		return View{}, err
	}
	return session.View(), nil
}

func (s *service) Back(ctx context.Context, id uuid.UUID) (View, error) {
	session, err := s.manager.Get(id)
	if err != nil {
		return View{}, err
	}
	if err := session.back(); err != nil {
		return View{}, err
	}
	return session.View(), nil
}

// Authorize runs the RFID handshake and, on a verified identity, commits
// the distribution. The call blocks for the duration of the handshake; a
// concurrent CancelAuthorization (or client disconnect) cancels it.
func (s *service) Authorize(ctx context.Context, id uuid.UUID) (View, error) {
	session, err := s.manager.Get(id)
	if err != nil {
		return View{}, err
	}

	if err := s.manager.BeginAuthorizing(id); err != nil {
		return View{}, err
	}
	defer s.manager.EndAuthorizing(id)

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := session.beginAuthorizing(cancel); err != nil {
		return View{}, err
	}

	handshake := rfid.NewHandshake(s.provider, s.handshakeTimeout, s.logger)
	identity, err := handshake.Run(hctx)
	if err != nil {
		switch {
		case errors.Is(err, rfid.ErrCancelled):
			// Cancellation is terminal and never a user-facing error.
			session.abort()
			view := session.View()
			s.manager.Remove(id)
			s.logger.Info("authorization cancelled", zap.String("session_id", id.String()))
			return view, nil
		default:
			// Binding/verification failures are recoverable: back to
			// REVIEW with the selections intact.
			session.failAuthorization(err.Error())
			s.logger.Warn("authorization failed",
				zap.String("session_id", id.String()),
				zap.Error(err),
			)
			return session.View(), nil
		}
	}

	return s.commit(ctx, session, identity)
}

// commit is the terminal write step. It happens-after the verify success
// and re-validates against a consumption snapshot read under the version it
// hands to the ledger CAS, which is what closes the same-member double-spend
// race. Once started it is not cancellable: the context is detached so a
// departing caller cannot leave units half-consumed.
func (s *service) commit(ctx context.Context, session *Session, identity *rfid.Identity) (View, error) {
	cctx := context.WithoutCancel(ctx)
	recipientID, tier, units, unitIDs, notes := session.commitInputs()

	cctx, span := s.tracer.Start(cctx, "distribution.commit",
		trace.WithAttributes(
			attribute.String("recipient.id", recipientID.String()),
			attribute.String("distributor.id", identity.MemberID.String()),
			attribute.Int("unit.count", len(unitIDs)),
		),
	)
	defer span.End()

	total := decimal.Zero
	for _, unit := range units {
		total = total.Add(unit.WeightGrams)
	}

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		version, err := s.ledger.GetCurrentVersion(cctx, recipientID)
		if err != nil {
			session.failWrite(err.Error())
			return session.View(), fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}

		consumption, err := s.consumption.Consumption(cctx, recipientID, time.Now().UTC())
		if err != nil {
			session.failWrite(err.Error())
			return session.View(), fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}

		// The final gate. Everything before this point was advisory.
		result := limits.Validate(consumption, s.policy.LimitsFor(tier), units)
		if !result.Valid {
			span.SetAttributes(attribute.Bool("limit.recheck_failed", true))
			session.failConcurrentLimit(&result)
			s.logger.Warn("pre-commit limit re-check failed",
				zap.String("recipient_id", recipientID.String()),
			)
			return session.View(), ErrConcurrentLimitExceeded
		}

		dist := &Distribution{
			ID:            uuid.New(),
			RecipientID:   recipientID,
			DistributorID: identity.MemberID,
			UnitIDs:       unitIDs,
			TotalGrams:    total,
			Notes:         notes,
			CommittedAt:   time.Now().UTC(),
		}

		if err := s.catalog.ConsumeUnits(cctx, unitIDs, dist.ID); err != nil {
			if errors.Is(err, inventory.ErrUnitUnavailable) {
				// A concurrent distribution took a unit during the wait.
				session.failConcurrentLimit(nil)
				return session.View(), ErrConcurrentLimitExceeded
			}
			session.failWrite(err.Error())
			return session.View(), fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}

		// Read model before ledger CAS: a concurrent re-check that sees
		// this row before the stream version moves fails closed, never
		// open.
		if err := s.records.Insert(cctx, dist); err != nil {
			s.compensate(cctx, dist, false)
			session.failWrite(err.Error())
			return session.View(), fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}

		eventData, err := json.Marshal(DistributionCommittedEvent{
			DistributionID: dist.ID,
			RecipientID:    dist.RecipientID,
			DistributorID:  dist.DistributorID,
			UnitIDs:        dist.UnitIDs,
			TotalGrams:     dist.TotalGrams,
			Notes:          dist.Notes,
		})
		if err != nil {
			s.compensate(cctx, dist, true)
			session.failWrite(err.Error())
			return session.View(), fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}

		err = s.ledger.AppendEvents(cctx, recipientID, "recipient", version, []eventstore.Event{{
			EventType: "DistributionCommitted",
			EventData: eventData,
		}})
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			// Another distribution to this recipient landed first. Unwind
			// and re-decide against the fresh numbers.
			span.AddEvent("commit.conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
			s.compensate(cctx, dist, true)
			continue
		}
		if err != nil {
			s.compensate(cctx, dist, true)
			session.failWrite(err.Error())
			return session.View(), fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}

		session.complete(dist, identity.MemberID)
		view := session.View()
		s.manager.Remove(session.id)
		s.logger.Info("distribution committed",
			zap.String("distribution_id", dist.ID.String()),
			zap.String("recipient_id", recipientID.String()),
			zap.String("distributor_id", identity.MemberID.String()),
			zap.String("total_grams", total.String()),
		)
		return view, nil
	}

	// Conflict on every attempt: give the operator the fresh picture.
	session.failConcurrentLimit(nil)
	return session.View(), ErrConcurrentLimitExceeded
}

// compensate unwinds a failed commit: releases consumed units and, when the
// read model row exists, deletes it.
func (s *service) compensate(ctx context.Context, dist *Distribution, rowInserted bool) {
	if rowInserted {
		if err := s.records.Delete(ctx, dist.ID); err != nil {
			s.logger.Error("failed to remove distribution row during compensation",
				zap.String("distribution_id", dist.ID.String()),
				zap.Error(err),
			)
		}
	}
	if err := s.catalog.ReleaseUnits(ctx, dist.UnitIDs, dist.ID); err != nil {
		s.logger.Error("failed to release units during compensation",
			zap.String("distribution_id", dist.ID.String()),
			zap.Error(err),
		)
	}
}

// CancelAuthorization cancels an in-flight handshake. The blocked Authorize
// call observes the cancellation and finishes the teardown; this call only
// fires the signal.
func (s *service) CancelAuthorization(ctx context.Context, id uuid.UUID) error {
	session, err := s.manager.Get(id)
	if err != nil {
		return err
	}
	return session.cancelAuthorization()
}

// Abort discards the session. While authorizing it degrades to a
// cancellation so the handshake teardown still runs.
func (s *service) Abort(ctx context.Context, id uuid.UUID) error {
	session, err := s.manager.Get(id)
	if err != nil {
		return err
	}

	if err := session.cancelAuthorization(); err == nil {
		return nil
	}

	session.abort()
	s.manager.Remove(id)
	return nil
}
