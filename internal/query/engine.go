package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/schema"
	"github.com/stake-scanner/internal/types"
)

// Aggregation is one aggregation directive from the request
type Aggregation struct {
	Type  schema.AggregateType `json:"type"`
	Field string               `json:"field,omitempty"`
}

// Request is a fully parsed query against one entity
type Request struct {
	Entity       types.Entity       `json:"entity"`
	Filters      FilterSpec         `json:"filters,omitempty"`
	GroupBy      []string           `json:"group_by,omitempty"`
	Aggregations []Aggregation      `json:"aggregations,omitempty"`
	OrderBy      map[string]string  `json:"order_by,omitempty"`
	Limit        int                `json:"limit,omitempty"`
	Offset       int                `json:"offset,omitempty"`
	Format       types.ReturnFormat `json:"format,omitempty"`
}

// Querier is the subset of pgxpool.Pool the engine needs
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ResultCache caches serialized query results. Get returns a nil payload on a
// miss; both methods are best effort.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte) error
}

const defaultLimit = 100

// Engine validates requests against the schema registry and executes them
// against Postgres.
type Engine struct {
	db       Querier
	registry *schema.Registry
	cache    ResultCache
	logger   *logging.Logger
}

// NewEngine creates a query engine. cache may be nil to disable caching.
func NewEngine(db Querier, registry *schema.Registry, cache ResultCache, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Engine{db: db, registry: registry, cache: cache, logger: logger}
}

type plan struct {
	sql         string
	args        []any
	grouped     bool
	directCount bool
	limit       int
	offset      int
}

// Execute runs a query and returns its result in the requested format.
// Limit and offset are accepted in grouped queries but not applied; grouped
// result sets are returned whole.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	entitySchema, err := e.registry.Lookup(req.Entity)
	if err != nil {
		return nil, err
	}

	pred, err := BuildPredicate(e.registry, req.Entity, req.Filters, e.logger)
	if err != nil {
		return nil, err
	}

	p, err := e.buildPlan(req, entitySchema, pred)
	if err != nil {
		return nil, err
	}

	cacheable := e.cache != nil && req.Format != types.FormatCountOnly
	var key string
	if cacheable {
		key = cacheKey(req)
		if res, ok := e.cacheGet(ctx, key, req.Format); ok {
			return res, nil
		}
	}

	res, err := e.run(ctx, req, p)
	if err != nil {
		return nil, err
	}

	if cacheable {
		e.cacheSet(ctx, key, res)
	}
	return res, nil
}

func (e *Engine) buildPlan(req Request, entitySchema *schema.EntitySchema, pred *Predicate) (*plan, error) {
	for _, field := range req.GroupBy {
		if !e.registry.IsQueryable(req.Entity, field) {
			return nil, errors.NewInvalidFieldError(req.Entity, field, e.registry.QueryableFields(req.Entity))
		}
	}

	for _, agg := range req.Aggregations {
		if !schema.KnownAggregate(agg.Type) {
			return nil, errors.NewInvalidParameterError("aggregations", fmt.Sprintf("unknown aggregation type %q", agg.Type))
		}
		if agg.Type.RequiresField() {
			if agg.Field == "" {
				return nil, errors.NewMalformedAggregationError(string(agg.Type))
			}
			if !e.registry.IsQueryable(req.Entity, agg.Field) {
				return nil, errors.NewInvalidFieldError(req.Entity, agg.Field, e.registry.QueryableFields(req.Entity))
			}
		}
	}

	grouped := len(req.GroupBy) > 0 || len(req.Aggregations) > 0

	orderClause, err := e.buildOrderBy(req, grouped)
	if err != nil {
		return nil, err
	}

	where, args := pred.ToSQL(1)
	whereClause := ""
	if where != "" {
		whereClause = " WHERE " + where
	}

	if req.Format == types.FormatCountOnly && !grouped {
		return &plan{
			sql:         "SELECT COUNT(*) FROM " + entitySchema.Table + whereClause,
			args:        args,
			directCount: true,
		}, nil
	}

	if grouped {
		projection := make([]string, 0, len(req.GroupBy)+len(req.Aggregations))
		projection = append(projection, req.GroupBy...)
		for _, agg := range req.Aggregations {
			projection = append(projection, aggregateExpr(agg))
		}

		sql := "SELECT " + strings.Join(projection, ", ") + " FROM " + entitySchema.Table + whereClause
		if len(req.GroupBy) > 0 {
			sql += " GROUP BY " + strings.Join(req.GroupBy, ", ")
		}
		sql += orderClause
		return &plan{sql: sql, args: args, grouped: true}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	sql := "SELECT " + strings.Join(entitySchema.Columns, ", ") + " FROM " + entitySchema.Table + whereClause + orderClause
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	return &plan{sql: sql, args: args, limit: limit, offset: offset}, nil
}

// buildOrderBy renders the ORDER BY clause. In grouped queries a target must
// be part of the projection, either a group-by column or the name of a
// computed aggregate; in flat queries it must be a queryable stored column.
func (e *Engine) buildOrderBy(req Request, grouped bool) (string, error) {
	if len(req.OrderBy) == 0 {
		return "", nil
	}

	names := make([]string, 0, len(req.OrderBy))
	for name := range req.OrderBy {
		names = append(names, name)
	}
	sort.Strings(names)

	var allowed map[string]bool
	if grouped {
		allowed = make(map[string]bool, len(req.GroupBy)+len(req.Aggregations))
		for _, f := range req.GroupBy {
			allowed[f] = true
		}
		for _, agg := range req.Aggregations {
			allowed[schema.ComputedColumn(agg.Type, agg.Field)] = true
		}
	}

	terms := make([]string, 0, len(names))
	for _, name := range names {
		target := schema.ResolveOrderTarget(name)

		if grouped {
			if !allowed[target.Name()] {
				projection := make([]string, 0, len(allowed))
				for f := range allowed {
					projection = append(projection, f)
				}
				sort.Strings(projection)
				return "", errors.NewInvalidFieldError(req.Entity, name, projection)
			}
		} else {
			if target.IsAggregate() || !e.registry.IsQueryable(req.Entity, target.Column) {
				return "", errors.NewInvalidFieldError(req.Entity, name, e.registry.QueryableFields(req.Entity))
			}
		}

		dir, err := orderDirection(req.OrderBy[name])
		if err != nil {
			return "", err
		}
		terms = append(terms, target.Name()+" "+dir)
	}

	return " ORDER BY " + strings.Join(terms, ", "), nil
}

func orderDirection(dir string) (string, error) {
	switch strings.ToLower(dir) {
	case "", "asc":
		return "ASC", nil
	case "desc":
		return "DESC", nil
	}
	return "", errors.NewInvalidParameterError("order_by", fmt.Sprintf("direction must be asc or desc, got %q", dir))
}

func aggregateExpr(agg Aggregation) string {
	name := schema.ComputedColumn(agg.Type, agg.Field)
	if agg.Type == schema.AggCount {
		return "COUNT(*) AS " + name
	}
	return fmt.Sprintf("%s(%s) AS %s", strings.ToUpper(string(agg.Type)), agg.Field, name)
}

func (e *Engine) run(ctx context.Context, req Request, p *plan) (*Result, error) {
	log := e.logger.WithFields(map[string]interface{}{
		"entity": string(req.Entity),
		"sql":    p.sql,
	})
	log.Debug("Executing query")

	if p.directCount {
		var total int64
		if err := e.db.QueryRow(ctx, p.sql, p.args...).Scan(&total); err != nil {
			return nil, errors.NewExecutionError(req.Entity, "count", err)
		}
		return &Result{Mode: types.FormatCountOnly, Total: total}, nil
	}

	rows, err := e.db.Query(ctx, p.sql, p.args...)
	if err != nil {
		return nil, errors.NewExecutionError(req.Entity, "query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var results []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.NewExecutionError(req.Entity, "scan", err)
		}
		results = append(results, normalizeRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewExecutionError(req.Entity, "scan", err)
	}

	switch req.Format {
	case types.FormatCountOnly:
		// grouped count: a count directive carries the answer in the first
		// row, otherwise the number of groups is the answer
		return &Result{Mode: types.FormatCountOnly, Total: groupedTotal(req, results)}, nil
	case types.FormatAggregated:
		return &Result{Mode: types.FormatAggregated, Rows: results}, nil
	default:
		return &Result{Mode: types.FormatList, Rows: results, Limit: p.limit, Offset: p.offset}, nil
	}
}

func groupedTotal(req Request, results []map[string]any) int64 {
	hasCount := false
	for _, agg := range req.Aggregations {
		if agg.Type == schema.AggCount {
			hasCount = true
			break
		}
	}
	if hasCount && len(req.GroupBy) == 0 && len(results) > 0 {
		switch v := results[0]["count"].(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return int64(len(results))
}

type cachePayload struct {
	Rows   []map[string]any `json:"rows"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func cacheKey(req Request) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (e *Engine) cacheGet(ctx context.Context, key string, format types.ReturnFormat) (*Result, bool) {
	if key == "" {
		return nil, false
	}
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.WithError(err).Warn("Query cache read failed")
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var payload cachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		e.logger.WithError(err).Warn("Discarding malformed cache entry")
		return nil, false
	}
	return &Result{Mode: format, Rows: payload.Rows, Limit: payload.Limit, Offset: payload.Offset}, true
}

func (e *Engine) cacheSet(ctx context.Context, key string, res *Result) {
	if key == "" {
		return
	}
	data, err := json.Marshal(cachePayload{Rows: res.Rows, Limit: res.Limit, Offset: res.Offset})
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data); err != nil {
		e.logger.WithError(err).Warn("Query cache write failed")
	}
}
