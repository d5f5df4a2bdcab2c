package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/schema"
	"github.com/stake-scanner/internal/types"
)

// Op is a comparison operator accepted in filter specs
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	// OpLike wraps the operand in %...% and renders a SQL LIKE, which is
	// case-sensitive on Postgres.
	OpLike   Op = "like"
	OpIn     Op = "in"
	OpNotIn  Op = "not_in"
	OpIsNull Op = "is_null"
)

// FilterSpec is the wire shape of a filter block. Each field maps either to a
// bare literal (shorthand for eq) or to a map of operator names to operands.
type FilterSpec map[string]any

// Condition is one resolved field comparison
type Condition struct {
	Field string
	Op    Op
	Value any
}

type condKey struct {
	field string
	op    Op
}

// Predicate is a conjunction of conditions keyed by (field, operator).
// Writing the same (field, operator) twice keeps the later operand, which
// makes repeated application of the same spec a no-op.
type Predicate struct {
	conds map[condKey]Condition

	// SkippedOperators counts operator entries that were dropped because the
	// operator name was not recognized.
	SkippedOperators int
}

// NewPredicate returns an empty predicate matching all rows
func NewPredicate() *Predicate {
	return &Predicate{conds: make(map[condKey]Condition)}
}

// BuildPredicate resolves a filter spec against the entity's queryable fields.
// A field outside the queryable set fails the whole build; an unrecognized
// operator on a valid field is skipped with a warning and counted.
func BuildPredicate(registry *schema.Registry, entity types.Entity, spec FilterSpec, logger *logging.Logger) (*Predicate, error) {
	p := NewPredicate()

	fields := make([]string, 0, len(spec))
	for f := range spec {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if !registry.IsQueryable(entity, field) {
			return nil, errors.NewInvalidFieldError(entity, field, registry.QueryableFields(entity))
		}

		value := spec[field]
		opMap, ok := value.(map[string]any)
		if !ok {
			// bare literal is shorthand for equality
			p.set(Condition{Field: field, Op: OpEq, Value: value})
			continue
		}

		for opName, operand := range opMap {
			cond, ok, err := resolveOperator(field, Op(opName), operand)
			if err != nil {
				return nil, err
			}
			if !ok {
				p.SkippedOperators++
				if logger != nil {
					logger.WithFields(map[string]interface{}{
						"entity":   string(entity),
						"field":    field,
						"operator": opName,
					}).Warn("Skipping unknown filter operator")
				}
				continue
			}
			p.set(cond)
		}
	}

	return p, nil
}

func resolveOperator(field string, op Op, operand any) (Condition, bool, error) {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return Condition{Field: field, Op: op, Value: operand}, true, nil
	case OpLike:
		s, ok := operand.(string)
		if !ok {
			return Condition{}, false, errors.NewInvalidParameterError("like", "operand must be a string")
		}
		return Condition{Field: field, Op: op, Value: "%" + s + "%"}, true, nil
	case OpIn, OpNotIn:
		list, ok := operand.([]any)
		if !ok {
			return Condition{}, false, errors.NewInvalidParameterError(string(op), "operand must be a list")
		}
		return Condition{Field: field, Op: op, Value: list}, true, nil
	case OpIsNull:
		b, ok := operand.(bool)
		if !ok {
			return Condition{}, false, errors.NewInvalidParameterError("is_null", "operand must be a boolean")
		}
		return Condition{Field: field, Op: op, Value: b}, true, nil
	}
	return Condition{}, false, nil
}

func (p *Predicate) set(cond Condition) {
	p.conds[condKey{field: cond.Field, op: cond.Op}] = cond
}

// Len returns the number of conditions in the predicate
func (p *Predicate) Len() int {
	return len(p.conds)
}

// Merge folds other's conditions into p. Both predicates constrain the same
// result set, so merge is conjunctive; on a shared (field, operator) key the
// condition from other wins. Merging a predicate with itself changes nothing.
func (p *Predicate) Merge(other *Predicate) {
	if other == nil {
		return
	}
	for k, c := range other.conds {
		p.conds[k] = c
	}
	p.SkippedOperators += other.SkippedOperators
}

// ToSQL renders the predicate as a WHERE clause body with positional
// placeholders starting at startArg. Conditions are emitted in (field,
// operator) order so equal predicates always render to equal SQL.
func (p *Predicate) ToSQL(startArg int) (string, []any) {
	if len(p.conds) == 0 {
		return "", nil
	}

	keys := make([]condKey, 0, len(p.conds))
	for k := range p.conds {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].field != keys[j].field {
			return keys[i].field < keys[j].field
		}
		return keys[i].op < keys[j].op
	})

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	n := startArg

	for _, k := range keys {
		c := p.conds[k]
		switch c.Op {
		case OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpNe:
			clauses = append(clauses, fmt.Sprintf("%s <> $%d", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpGt:
			clauses = append(clauses, fmt.Sprintf("%s > $%d", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpGte:
			clauses = append(clauses, fmt.Sprintf("%s >= $%d", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpLt:
			clauses = append(clauses, fmt.Sprintf("%s < $%d", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpLte:
			clauses = append(clauses, fmt.Sprintf("%s <= $%d", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpLike:
			clauses = append(clauses, fmt.Sprintf("%s LIKE $%d", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpIn:
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpNotIn:
			clauses = append(clauses, fmt.Sprintf("%s <> ALL($%d)", c.Field, n))
			args = append(args, c.Value)
			n++
		case OpIsNull:
			if c.Value == true {
				clauses = append(clauses, c.Field+" IS NULL")
			} else {
				clauses = append(clauses, c.Field+" IS NOT NULL")
			}
		}
	}

	return strings.Join(clauses, " AND "), args
}
