package storage

import (
	"context"
	"fmt"

	"github.com/stake-scanner/internal/models"
)

// ValidatorRepository maintains the validators reference table
type ValidatorRepository struct {
	db *PostgresDB
}

// NewValidatorRepository creates a validator repository
func NewValidatorRepository(db *PostgresDB) *ValidatorRepository {
	return &ValidatorRepository{db: db}
}

// Upsert inserts or refreshes a validator by operator address and returns its
// row id. Delegation imports call this for every validator they enumerate.
func (r *ValidatorRepository) Upsert(ctx context.Context, v *models.Validator) (int64, error) {
	query := `
		INSERT INTO validators (operator_address, moniker, status, jailed, tokens, commission_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (operator_address) DO UPDATE SET
			moniker = EXCLUDED.moniker,
			status = EXCLUDED.status,
			jailed = EXCLUDED.jailed,
			tokens = EXCLUDED.tokens,
			commission_rate = EXCLUDED.commission_rate,
			updated_at = NOW()
		RETURNING id`

	var id int64
	err := r.db.pool.QueryRow(ctx, query,
		v.OperatorAddress, v.Moniker, v.Status, v.Jailed, v.Tokens, v.CommissionRate,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert validator %s: %w", v.OperatorAddress, err)
	}
	return id, nil
}

// Count returns the number of known validators
func (r *ValidatorRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM validators").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count validators: %w", err)
	}
	return count, nil
}
