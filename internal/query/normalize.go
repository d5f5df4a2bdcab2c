package query

import (
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// normalizeRow converts one scanned row into a name-keyed map with
// JSON-friendly values
func normalizeRow(columns []string, values []any) map[string]any {
	row := make(map[string]any, len(columns))
	for i, name := range columns {
		row[name] = normalizeValue(values[i])
	}
	return row
}

// normalizeValue maps driver types onto the wire representation: dates and
// timestamps become ISO-8601 strings, NUMERIC columns become float64, byte
// slices become strings. Integers stay integral.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case decimal.Decimal:
		return val.InexactFloat64()
	case *big.Int:
		f, _ := new(big.Float).SetInt(val).Float64()
		return f
	case []byte:
		return string(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
