// internal/quota/postgres.go
package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cannatrace/internal/limits"
)

// PostgresSource projects consumption from the distributions read model.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Consumption sums the grams of every distribution committed to the member
// in the current day and calendar month. Day and month boundaries follow
// the database clock's timezone handling of the given instant.
func (s *PostgresSource) Consumption(ctx context.Context, memberID uuid.UUID, at time.Time) (limits.Consumption, error) {
	query := `
		SELECT
			COALESCE(SUM(total_grams) FILTER (WHERE committed_at >= date_trunc('day', $2::timestamptz)), 0),
			COALESCE(SUM(total_grams), 0)
		FROM distributions
		WHERE recipient_id = $1
		AND committed_at >= date_trunc('month', $2::timestamptz)
	`

	var daily, monthly string
	err := s.db.QueryRowContext(ctx, query, memberID, at).Scan(&daily, &monthly)
	if err != nil {
		return limits.Consumption{}, fmt.Errorf("query consumption: %w", err)
	}

	consumption := limits.Consumption{}
	if consumption.Daily, err = decimal.NewFromString(daily); err != nil {
		return limits.Consumption{}, fmt.Errorf("invalid daily sum %q: %w", daily, err)
	}
	if consumption.Monthly, err = decimal.NewFromString(monthly); err != nil {
		return limits.Consumption{}, fmt.Errorf("invalid monthly sum %q: %w", monthly, err)
	}
	return consumption, nil
}
