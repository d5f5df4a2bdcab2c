package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stake-scanner/internal/types"
)

func TestIdentityPredicate(t *testing.T) {
	assert.Equal(t, "address = $1",
		identityPredicate(BalanceSnapshots.IdentityCols, 1))
	assert.Equal(t, "delegator_address = $3 AND validator_address = $4",
		identityPredicate(DelegationSnapshots.IdentityCols, 3))
}

func TestIdentityPredicateWithPrefix(t *testing.T) {
	assert.Equal(t, "x.delegator_address = $1 AND x.validator_address = $2",
		identityPredicate(prefixCols("x.", DelegationSnapshots.IdentityCols), 1))
}

func TestIdentityArgs(t *testing.T) {
	args := identityArgs(types.Identity{"celestia1abc", "celestiavaloper1xyz"})
	assert.Equal(t, []any{"celestia1abc", "celestiavaloper1xyz"}, args)
}

// New rows must land already flagged latest. If a run dies between the insert
// and MarkLatest, the identity would otherwise have no latest row and a next
// day with an unchanged value would never repair it.
func TestInsertSQLWritesRowsAsLatest(t *testing.T) {
	r := &SnapshotRepository{table: BalanceSnapshots}
	assert.Equal(t,
		"INSERT INTO balance_history (address, date, balance, is_latest) VALUES ($1, $2, $3, TRUE)",
		r.insertSQL())

	r = &SnapshotRepository{table: DelegationSnapshots}
	assert.Equal(t,
		"INSERT INTO delegations (delegator_address, validator_address, date, amount, is_latest) VALUES ($1, $2, $3, $4, TRUE)",
		r.insertSQL())
}

func TestUpdateSQLRestoresLatest(t *testing.T) {
	r := &SnapshotRepository{table: BalanceSnapshots}
	assert.Equal(t,
		"UPDATE balance_history SET balance = $1, is_latest = TRUE WHERE date = $2 AND address = $3",
		r.updateSQL())
}
