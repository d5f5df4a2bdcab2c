package query

import (
	"encoding/json"

	"github.com/stake-scanner/internal/types"
)

// Result is the outcome of an executed query. Its JSON shape depends on the
// return format the caller asked for, so clients always get exactly the
// envelope matching their request.
type Result struct {
	Mode   types.ReturnFormat
	Rows   []map[string]any
	Total  int64
	Limit  int
	Offset int
}

type listEnvelope struct {
	Results []map[string]any `json:"results"`
	Count   int              `json:"count"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

type aggregatedEnvelope struct {
	Results []map[string]any `json:"results"`
	Count   int              `json:"count"`
}

type countEnvelope struct {
	Total int64 `json:"total"`
}

// MarshalJSON renders the format-specific envelope
func (r *Result) MarshalJSON() ([]byte, error) {
	switch r.Mode {
	case types.FormatAggregated:
		return json.Marshal(aggregatedEnvelope{Results: r.rows(), Count: len(r.Rows)})
	case types.FormatCountOnly:
		return json.Marshal(countEnvelope{Total: r.Total})
	default:
		return json.Marshal(listEnvelope{Results: r.rows(), Count: len(r.Rows), Limit: r.Limit, Offset: r.Offset})
	}
}

func (r *Result) rows() []map[string]any {
	if r.Rows == nil {
		return []map[string]any{}
	}
	return r.Rows
}
