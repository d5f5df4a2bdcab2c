// Package schema declares, per entity, which persisted fields may appear in
// filters, group-by, and order-by. The queryable set is a deliberate subset of
// the full column set: internal keys and location internals are persisted but
// not queryable.
package schema

import (
	"sort"
	"strings"

	"github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/types"
)

// EntitySchema describes one entity's table and field sets
type EntitySchema struct {
	Table     string
	Columns   []string // full persisted column set, in flat-row selection order
	queryable map[string]bool
}

// Registry holds the schemas for all known entities
type Registry struct {
	entities map[types.Entity]*EntitySchema
}

// NewRegistry creates a registry with all scanner entities registered
func NewRegistry() *Registry {
	r := &Registry{entities: make(map[types.Entity]*EntitySchema)}

	r.register(types.EntityBalances, &EntitySchema{
		Table:   "balance_history",
		Columns: []string{"id", "address", "date", "balance", "is_latest", "created_at"},
	}, "address", "date", "balance", "is_latest")

	r.register(types.EntityDelegations, &EntitySchema{
		Table:   "delegations",
		Columns: []string{"id", "delegator_address", "validator_address", "amount", "date", "is_latest", "validator_id", "created_at"},
	}, "delegator_address", "validator_address", "amount", "date", "is_latest")

	r.register(types.EntityValidators, &EntitySchema{
		Table:   "validators",
		Columns: []string{"id", "operator_address", "moniker", "status", "jailed", "tokens", "commission_rate", "updated_at"},
	}, "operator_address", "moniker", "status", "jailed", "tokens", "commission_rate")

	r.register(types.EntityNodes, &EntitySchema{
		Table:   "nodes",
		Columns: []string{"id", "peer_id", "ip", "city", "region", "country", "lat", "lon", "org"},
	}, "country", "region", "city", "org")

	return r
}

func (r *Registry) register(entity types.Entity, schema *EntitySchema, queryable ...string) {
	schema.queryable = make(map[string]bool, len(queryable))
	for _, f := range queryable {
		schema.queryable[f] = true
	}
	r.entities[entity] = schema
}

// Lookup returns the schema for an entity
func (r *Registry) Lookup(entity types.Entity) (*EntitySchema, error) {
	schema, ok := r.entities[entity]
	if !ok {
		return nil, errors.NewUnknownEntityError(string(entity))
	}
	return schema, nil
}

// IsQueryable reports whether a field may appear in filters, group-by, or
// order-by for the entity
func (r *Registry) IsQueryable(entity types.Entity, field string) bool {
	schema, ok := r.entities[entity]
	if !ok {
		return false
	}
	return schema.queryable[field]
}

// QueryableFields returns the sorted queryable field names for an entity,
// used to populate the allowed set on InvalidFieldError
func (r *Registry) QueryableFields(entity types.Entity) []string {
	schema, ok := r.entities[entity]
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(schema.queryable))
	for f := range schema.queryable {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// AggregateType identifies an aggregation function
type AggregateType string

const (
	AggCount AggregateType = "count"
	AggSum   AggregateType = "sum"
	AggAvg   AggregateType = "avg"
	AggMin   AggregateType = "min"
	AggMax   AggregateType = "max"
)

// KnownAggregate reports whether t is a supported aggregation type
func KnownAggregate(t AggregateType) bool {
	switch t {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// RequiresField reports whether the aggregate needs a source field.
// count is the only one that does not.
func (t AggregateType) RequiresField() bool {
	return t != AggCount
}

// ComputedColumn returns the deterministic name of the computed column an
// aggregation produces: "count", or "{type}_{field}" for all others.
func ComputedColumn(t AggregateType, field string) string {
	if t == AggCount {
		return "count"
	}
	return string(t) + "_" + field
}

// OrderTarget is the resolved referent of an order-by name: either a stored
// column or a computed aggregate column. Resolution happens once at plan
// build time; nothing downstream re-derives it from string patterns.
type OrderTarget struct {
	Column    string
	Aggregate *AggregateRef
}

// AggregateRef identifies a computed aggregate column
type AggregateRef struct {
	Type  AggregateType
	Field string
}

// IsAggregate reports whether the target is a computed aggregate column
func (t OrderTarget) IsAggregate() bool {
	return t.Aggregate != nil
}

// Name returns the SQL-visible name of the target
func (t OrderTarget) Name() string {
	if t.Aggregate != nil {
		return ComputedColumn(t.Aggregate.Type, t.Aggregate.Field)
	}
	return t.Column
}

// ResolveOrderTarget classifies an order-by name. Names matching the
// computed-column convention (exact "count", or a known aggregate prefix with
// a non-empty remainder) resolve to aggregates; everything else is a stored
// column. Ordering by an aggregate result requires accepting names that do
// not exist on the base schema.
func ResolveOrderTarget(name string) OrderTarget {
	if name == "count" {
		return OrderTarget{Aggregate: &AggregateRef{Type: AggCount}}
	}
	for _, t := range []AggregateType{AggSum, AggAvg, AggMin, AggMax} {
		prefix := string(t) + "_"
		if rest, ok := strings.CutPrefix(name, prefix); ok && rest != "" {
			return OrderTarget{Aggregate: &AggregateRef{Type: t, Field: rest}}
		}
	}
	return OrderTarget{Column: name}
}
