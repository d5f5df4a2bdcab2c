// Package types provides common type definitions for the stake scanner system.
package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Entity identifies a queryable entity kind. Each entity maps to one table.
type Entity string

const (
	// EntityBalances is the wallet balance snapshot history
	EntityBalances Entity = "balances"
	// EntityDelegations is the stake delegation snapshot history
	EntityDelegations Entity = "delegations"
	// EntityValidators is the validator reference set
	EntityValidators Entity = "validators"
	// EntityNodes is the network node reference set (geo data)
	EntityNodes Entity = "nodes"
)

// Identity is the stable key for a tracked subject: a single wallet address,
// or a (delegator, validator) pair. Parts are ordered and never empty.
type Identity []string

// identitySep joins identity parts into a map key. The separator never occurs
// in bech32 addresses, so the join is unambiguous.
const identitySep = "|"

// Key returns the canonical string form of the identity, usable as a map key.
func (id Identity) Key() string {
	return strings.Join(id, identitySep)
}

// ParseIdentityKey splits a canonical key back into its parts.
func ParseIdentityKey(key string) Identity {
	return Identity(strings.Split(key, identitySep))
}

// ImportClass is the classification assigned to an identity during a
// delta-sync run.
type ImportClass string

const (
	// ClassNew represents an identity with no prior history
	ClassNew ImportClass = "new"
	// ClassChanged represents a value change relative to prior state
	ClassChanged ImportClass = "changed"
	// ClassUnchanged represents no value change, no write
	ClassUnchanged ImportClass = "unchanged"
	// ClassDisappeared represents an identity absent from the current fetch
	ClassDisappeared ImportClass = "disappeared"
)

// ReturnFormat selects the result shape of an aggregation query.
type ReturnFormat string

const (
	// FormatList returns flat entity rows with pagination metadata
	FormatList ReturnFormat = "list"
	// FormatAggregated returns grouped/aggregated rows without pagination
	FormatAggregated ReturnFormat = "aggregated"
	// FormatCountOnly returns only a total count
	FormatCountOnly ReturnFormat = "count_only"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// MicroUnitScale is the number of decimal places in the chain's base
// denomination (micro units). Stored values use the display denomination.
const MicroUnitScale = 6

// FromMicroUnits converts a base-denomination amount string (integer micro
// units) to the display denomination.
func FromMicroUnits(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return d.Shift(-MicroUnitScale), nil
}
