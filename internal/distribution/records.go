// internal/distribution/records.go
package distribution

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresRecordStore persists committed distributions. The distributions
// and distribution_units tables are the source the quota projection sums
// over; rows only ever leave through commit compensation.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (r *PostgresRecordStore) Insert(ctx context.Context, dist *Distribution) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO distributions (id, recipient_id, distributor_id, total_grams, notes, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, dist.ID, dist.RecipientID, dist.DistributorID, dist.TotalGrams.String(), dist.Notes, dist.CommittedAt)
	if err != nil {
		return fmt.Errorf("failed to insert distribution: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO distribution_units (distribution_id, unit_id)
		VALUES ($1, $2)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, unitID := range dist.UnitIDs {
		if _, err := stmt.ExecContext(ctx, dist.ID, unitID); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return fmt.Errorf("unit %s already distributed", unitID)
			}
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRecordStore) Delete(ctx context.Context, distributionID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM distribution_units WHERE distribution_id = $1`, distributionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM distributions WHERE id = $1`, distributionID); err != nil {
		return err
	}
	return tx.Commit()
}
