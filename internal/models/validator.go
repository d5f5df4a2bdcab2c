package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Validator represents a staking validator known to the scanner.
// Populated as a side effect of delegation imports; the delegations table
// references it through validator_id.
type Validator struct {
	ID              int64           `json:"id" db:"id"`
	OperatorAddress string          `json:"operatorAddress" db:"operator_address"`
	Moniker         string          `json:"moniker" db:"moniker"`
	Status          string          `json:"status" db:"status"`
	Jailed          bool            `json:"jailed" db:"jailed"`
	Tokens          decimal.Decimal `json:"tokens" db:"tokens"`
	CommissionRate  decimal.Decimal `json:"commissionRate" db:"commission_rate"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}
