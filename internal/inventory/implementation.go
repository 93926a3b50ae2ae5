// internal/inventory/implementation.go
package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cannatrace/internal/limits"
	"cannatrace/pkg/eventstore"
)

// service implements the Service interface.
type service struct {
	eventStore *eventstore.EventStore
	db         *sql.DB
	logger     *zap.Logger
}

// NewService creates a new inventory service instance.
func NewService(es *eventstore.EventStore, db *sql.DB, logger *zap.Logger) Service {
	return &service{
		eventStore: es,
		db:         db,
		logger:     logger,
	}
}

// PackageUnit records a newly packaged unit.
func (s *service) PackageUnit(ctx context.Context, batchRef string, weightGrams decimal.Decimal, productType string, thcPercent *decimal.Decimal) (*Unit, error) {
	if productType != ProductMarijuana && productType != ProductHashish {
		return nil, fmt.Errorf("unknown product type %q", productType)
	}
	if !weightGrams.IsPositive() {
		return nil, fmt.Errorf("weight must be positive, got %s", weightGrams)
	}

	id := uuid.New()
	eventData := UnitPackagedEvent{
		ID:          id,
		BatchRef:    batchRef,
		WeightGrams: weightGrams,
		ProductType: productType,
		THCPercent:  thcPercent,
	}

	jsonData, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		AggregateID:   id,
		AggregateType: "unit",
		EventType:     "UnitPackaged",
		EventData:     jsonData,
		Version:       1,
	}

	if err := s.eventStore.AppendEvents(ctx, id, "unit", 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	unit := &Unit{
		ID:          id,
		BatchRef:    batchRef,
		WeightGrams: weightGrams,
		ProductType: productType,
		THCPercent:  thcPercent,
		Status:      StatusAvailable,
		Version:     1,
	}
	if err := s.insertUnitIntoReadModel(ctx, unit); err != nil {
		return nil, fmt.Errorf("failed to update read model: %w", err)
	}

	return unit, nil
}

func (s *service) insertUnitIntoReadModel(ctx context.Context, unit *Unit) error {
	query := `
		INSERT INTO units (id, batch_ref, weight_grams, product_type, thc_percent, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var thcValue interface{}
	if unit.THCPercent != nil {
		thcValue = unit.THCPercent.String()
	}
	_, err := s.db.ExecContext(ctx, query, unit.ID, unit.BatchRef, unit.WeightGrams.String(), unit.ProductType, thcValue, unit.Status, unit.Version)
	return err
}

// GetUnit retrieves a unit by its ID.
func (s *service) GetUnit(ctx context.Context, id uuid.UUID) (*Unit, error) {
	query := `
		SELECT id, batch_ref, weight_grams, product_type, thc_percent, status, distribution_id, version, created_at, updated_at
		FROM units
		WHERE id = $1
	`
	unit, err := scanUnit(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("unit with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get unit from read model: %w", err)
	}
	return unit, nil
}

// ListAvailable returns units available for distribution, optionally capped
// by a THC ceiling. The ceiling semantics live in limits.Screen so that
// listing and validation can never drift apart: units without a lab value
// pass any ceiling.
func (s *service) ListAvailable(ctx context.Context, maxTHC *decimal.Decimal) ([]*Unit, error) {
	query := `
		SELECT id, batch_ref, weight_grams, product_type, thc_percent, status, distribution_id, version, created_at, updated_at
		FROM units
		WHERE status = 'available'
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []*Unit
	byID := make(map[uuid.UUID]*Unit)
	var candidates []limits.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, unit)
		byID[unit.ID] = unit
		candidates = append(candidates, limits.Unit{
			ID:          unit.ID,
			WeightGrams: unit.WeightGrams,
			THCPercent:  unit.THCPercent,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if maxTHC == nil {
		return units, nil
	}
	eligible, _ := limits.Screen(maxTHC, candidates)
	filtered := make([]*Unit, 0, len(eligible))
	for _, candidate := range eligible {
		filtered = append(filtered, byID[candidate.ID])
	}
	return filtered, nil
}

// ConsumeUnits marks each unit consumed by the given distribution, with an
// optimistic version check per unit. Either every unit is consumed or none
// is: on the first conflict, units already taken in this call are released.
func (s *service) ConsumeUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error {
	var taken []uuid.UUID
	for _, id := range ids {
		if err := s.consumeUnit(ctx, id, distributionID); err != nil {
			if releaseErr := s.ReleaseUnits(ctx, taken, distributionID); releaseErr != nil {
				s.logger.Error("failed to release units after partial consume",
					zap.String("distribution_id", distributionID.String()),
					zap.Error(releaseErr),
				)
			}
			return err
		}
		taken = append(taken, id)
	}
	return nil
}

func (s *service) consumeUnit(ctx context.Context, id, distributionID uuid.UUID) error {
	unit, err := s.GetUnit(ctx, id)
	if err != nil {
		return err
	}
	if unit.Status != StatusAvailable {
		return fmt.Errorf("unit %s: %w", id, ErrUnitUnavailable)
	}

	eventData := UnitConsumedEvent{ID: id, DistributionID: distributionID}
	jsonData, err := json.Marshal(eventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		AggregateID:   id,
		AggregateType: "unit",
		EventType:     "UnitConsumed",
		EventData:     jsonData,
		Version:       unit.Version + 1,
	}

	if err := s.eventStore.AppendEvents(ctx, id, "unit", unit.Version, []eventstore.Event{event}); err != nil {
		if err == eventstore.ErrConcurrencyConflict {
			return fmt.Errorf("unit %s: %w", id, ErrUnitUnavailable)
		}
		return fmt.Errorf("failed to append event: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE units
		SET status = 'consumed', distribution_id = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3 AND status = 'available'
	`, distributionID, id, unit.Version)
	if err != nil {
		return fmt.Errorf("failed to update read model: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("unit %s: %w", id, ErrUnitUnavailable)
	}
	return nil
}

// ReleaseUnits is the compensation path: it hands units back to the shelf
// when a distribution failed after consuming them. Only units held by the
// given distribution are touched.
func (s *service) ReleaseUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error {
	for _, id := range ids {
		unit, err := s.GetUnit(ctx, id)
		if err != nil {
			return err
		}
		if unit.Status != StatusConsumed || unit.DistributionID == nil || *unit.DistributionID != distributionID {
			continue
		}

		eventData := UnitReleasedEvent{ID: id, DistributionID: distributionID}
		jsonData, err := json.Marshal(eventData)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}

		event := eventstore.Event{
			AggregateID:   id,
			AggregateType: "unit",
			EventType:     "UnitReleased",
			EventData:     jsonData,
			Version:       unit.Version + 1,
		}

		if err := s.eventStore.AppendEvents(ctx, id, "unit", unit.Version, []eventstore.Event{event}); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}

		_, err = s.db.ExecContext(ctx, `
			UPDATE units
			SET status = 'available', distribution_id = NULL, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND distribution_id = $2
		`, id, distributionID)
		if err != nil {
			return fmt.Errorf("failed to update read model: %w", err)
		}

		s.logger.Info("unit released",
			zap.String("unit_id", id.String()),
			zap.String("distribution_id", distributionID.String()),
		)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUnit(row rowScanner) (*Unit, error) {
	unit := &Unit{}
	var weight string
	var thcPercent sql.NullString
	var distributionID *uuid.UUID

	err := row.Scan(
		&unit.ID,
		&unit.BatchRef,
		&weight,
		&unit.ProductType,
		&thcPercent,
		&unit.Status,
		&distributionID,
		&unit.Version,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	unit.WeightGrams, err = decimal.NewFromString(weight)
	if err != nil {
		return nil, fmt.Errorf("invalid weight %q: %w", weight, err)
	}
	if thcPercent.Valid {
		thc, err := decimal.NewFromString(thcPercent.String)
		if err != nil {
			return nil, fmt.Errorf("invalid thc %q: %w", thcPercent.String, err)
		}
		unit.THCPercent = &thc
	}
	unit.DistributionID = distributionID
	return unit, nil
}
