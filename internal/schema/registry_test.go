package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-scanner/internal/types"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	schema, err := r.Lookup(types.EntityBalances)
	require.NoError(t, err)
	assert.Equal(t, "balance_history", schema.Table)
	assert.Contains(t, schema.Columns, "balance")

	_, err = r.Lookup(types.Entity("wallets"))
	assert.Error(t, err)
}

func TestRegistryQueryable(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		entity types.Entity
		field  string
		want   bool
	}{
		{types.EntityBalances, "address", true},
		{types.EntityBalances, "balance", true},
		{types.EntityBalances, "is_latest", true},
		{types.EntityBalances, "id", false},
		{types.EntityBalances, "created_at", false},
		{types.EntityDelegations, "delegator_address", true},
		{types.EntityDelegations, "validator_id", false},
		{types.EntityValidators, "jailed", true},
		{types.EntityNodes, "country", true},
		{types.EntityNodes, "ip", false},
		{types.EntityNodes, "peer_id", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, r.IsQueryable(tt.entity, tt.field),
			"%s.%s", tt.entity, tt.field)
	}
}

func TestQueryableFieldsSorted(t *testing.T) {
	r := NewRegistry()

	fields := r.QueryableFields(types.EntityBalances)
	assert.Equal(t, []string{"address", "balance", "date", "is_latest"}, fields)

	assert.Nil(t, r.QueryableFields(types.Entity("unknown")))
}

func TestComputedColumn(t *testing.T) {
	assert.Equal(t, "count", ComputedColumn(AggCount, ""))
	assert.Equal(t, "count", ComputedColumn(AggCount, "balance"))
	assert.Equal(t, "sum_balance", ComputedColumn(AggSum, "balance"))
	assert.Equal(t, "avg_amount", ComputedColumn(AggAvg, "amount"))
}

func TestResolveOrderTarget(t *testing.T) {
	tests := []struct {
		name      string
		aggregate bool
		aggType   AggregateType
		aggField  string
	}{
		{"count", true, AggCount, ""},
		{"sum_balance", true, AggSum, "balance"},
		{"min_date", true, AggMin, "date"},
		{"max_amount", true, AggMax, "amount"},
		{"avg_balance", true, AggAvg, "balance"},
		{"balance", false, "", ""},
		{"address", false, "", ""},
		{"sum_", false, "", ""},
		{"counter", false, "", ""},
		{"summary", false, "", ""},
	}

	for _, tt := range tests {
		target := ResolveOrderTarget(tt.name)
		assert.Equal(t, tt.aggregate, target.IsAggregate(), tt.name)
		if tt.aggregate {
			require.NotNil(t, target.Aggregate)
			assert.Equal(t, tt.aggType, target.Aggregate.Type)
			assert.Equal(t, tt.aggField, target.Aggregate.Field)
		} else {
			assert.Equal(t, tt.name, target.Column)
		}
		assert.Equal(t, tt.name, target.Name())
	}
}
