// Package service provides convenience analytics built on the query engine.
package service

import (
	"context"

	"github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/query"
	"github.com/stake-scanner/internal/schema"
	"github.com/stake-scanner/internal/types"
)

// Engine is the query execution dependency
type Engine interface {
	Execute(ctx context.Context, req query.Request) (*query.Result, error)
}

// AnalyticsService answers common analytics questions without requiring the
// caller to assemble a full query request.
type AnalyticsService struct {
	engine Engine
}

// NewAnalyticsService creates an analytics service
func NewAnalyticsService(engine Engine) *AnalyticsService {
	return &AnalyticsService{engine: engine}
}

// TopRecords returns the n records with the highest value in field
func (s *AnalyticsService) TopRecords(ctx context.Context, entity types.Entity, field string, n int) (*query.Result, error) {
	if n <= 0 {
		return nil, errors.NewInvalidParameterError("limit", "must be positive")
	}
	return s.engine.Execute(ctx, query.Request{
		Entity:  entity,
		OrderBy: map[string]string{field: "desc"},
		Limit:   n,
		Format:  types.FormatList,
	})
}

// CountByField returns per-value record counts for field, largest first
func (s *AnalyticsService) CountByField(ctx context.Context, entity types.Entity, field string) (*query.Result, error) {
	return s.engine.Execute(ctx, query.Request{
		Entity:       entity,
		GroupBy:      []string{field},
		Aggregations: []query.Aggregation{{Type: schema.AggCount}},
		OrderBy:      map[string]string{"count": "desc"},
		Format:       types.FormatAggregated,
	})
}

// FieldStatistics returns count, sum, avg, min and max over field in one row
func (s *AnalyticsService) FieldStatistics(ctx context.Context, entity types.Entity, field string) (*query.Result, error) {
	return s.engine.Execute(ctx, query.Request{
		Entity: entity,
		Aggregations: []query.Aggregation{
			{Type: schema.AggCount},
			{Type: schema.AggSum, Field: field},
			{Type: schema.AggAvg, Field: field},
			{Type: schema.AggMin, Field: field},
			{Type: schema.AggMax, Field: field},
		},
		Format: types.FormatAggregated,
	})
}
