package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stake-scanner/internal/types"
)

// SnapshotTable describes one dated snapshot table: which columns identify a
// row owner and which column carries the tracked value.
type SnapshotTable struct {
	Table        string
	IdentityCols []string
	ValueCol     string
}

// BalanceSnapshots is the balance_history snapshot table
var BalanceSnapshots = SnapshotTable{
	Table:        "balance_history",
	IdentityCols: []string{"address"},
	ValueCol:     "balance",
}

// DelegationSnapshots is the delegations snapshot table. A delegation is
// identified by the delegator and validator pair.
var DelegationSnapshots = SnapshotTable{
	Table:        "delegations",
	IdentityCols: []string{"delegator_address", "validator_address"},
	ValueCol:     "amount",
}

// SnapshotRecord is one value to insert for an identity on a date
type SnapshotRecord struct {
	Identity types.Identity
	Value    decimal.Decimal
}

// SnapshotStats summarizes a snapshot table for progress reporting
type SnapshotStats struct {
	Records  int64
	LastDate *time.Time
}

// SnapshotRepository provides the snapshot primitives for one table
type SnapshotRepository struct {
	db    *PostgresDB
	table SnapshotTable
}

// NewSnapshotRepository creates a repository over a snapshot table
func NewSnapshotRepository(db *PostgresDB, table SnapshotTable) *SnapshotRepository {
	return &SnapshotRepository{db: db, table: table}
}

// Table returns the snapshot table descriptor
func (r *SnapshotRepository) Table() SnapshotTable {
	return r.table
}

// identityPredicate renders "col1 = $n AND col2 = $n+1" for the identity
// columns, starting at placeholder startArg
func identityPredicate(cols []string, startArg int) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s = $%d", col, startArg+i)
	}
	return strings.Join(parts, " AND ")
}

func identityArgs(identity types.Identity) []any {
	args := make([]any, len(identity))
	for i, part := range identity {
		args[i] = part
	}
	return args
}

// LatestBefore returns the value of each identity's most recent snapshot
// strictly before the given date, keyed by identity key.
func (r *SnapshotRepository) LatestBefore(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error) {
	idCols := strings.Join(r.table.IdentityCols, ", ")
	query := fmt.Sprintf(
		"SELECT DISTINCT ON (%s) %s, %s FROM %s WHERE date < $1 ORDER BY %s, date DESC",
		idCols, idCols, r.table.ValueCol, r.table.Table, idCols,
	)

	return r.queryValues(ctx, query, date)
}

// OnDate returns the value of each identity's snapshot on exactly the given
// date, keyed by identity key.
func (r *SnapshotRepository) OnDate(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error) {
	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE date = $1",
		strings.Join(r.table.IdentityCols, ", "), r.table.ValueCol, r.table.Table,
	)

	return r.queryValues(ctx, query, date)
}

func (r *SnapshotRepository) queryValues(ctx context.Context, query string, date time.Time) (map[string]decimal.Decimal, error) {
	rows, err := r.db.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s snapshots: %w", r.table.Table, err)
	}
	defer rows.Close()

	values := make(map[string]decimal.Decimal)
	n := len(r.table.IdentityCols)

	for rows.Next() {
		parts := make([]string, n)
		var value decimal.Decimal

		dest := make([]any, n+1)
		for i := range parts {
			dest[i] = &parts[i]
		}
		dest[n] = &value

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s snapshot: %w", r.table.Table, err)
		}
		values[types.Identity(parts).Key()] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s snapshots: %w", r.table.Table, err)
	}

	return values, nil
}

// insertSQL renders the snapshot insert statement. New rows are written with
// is_latest already true: a row inserted today is the identity's newest by
// construction, and an interrupted run must not leave an identity with no
// latest row at all. MarkLatest only has to clear the stale older flags.
func (r *SnapshotRepository) insertSQL() string {
	cols := append(append([]string{}, r.table.IdentityCols...), "date", r.table.ValueCol)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s, is_latest) VALUES (%s, TRUE)",
		r.table.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
}

// InsertBatch inserts one snapshot per record on the given date
func (r *SnapshotRepository) InsertBatch(ctx context.Context, date time.Time, records []SnapshotRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := r.insertSQL()
	batch := &pgx.Batch{}
	for _, rec := range records {
		args := append(identityArgs(rec.Identity), date, rec.Value)
		batch.Queue(query, args...)
	}

	results := r.db.pool.SendBatch(ctx, batch)
	defer results.Close() // nolint:errcheck // batch close

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert %s snapshots: %w", r.table.Table, err)
		}
	}
	return nil
}

// updateSQL renders the in-place snapshot rewrite. The touched row is the
// identity's row for the target date, so it is restored to latest along with
// the value in case a prior interrupted run left the flag cleared.
func (r *SnapshotRepository) updateSQL() string {
	return fmt.Sprintf(
		"UPDATE %s SET %s = $1, is_latest = TRUE WHERE date = $2 AND %s",
		r.table.Table, r.table.ValueCol, identityPredicate(r.table.IdentityCols, 3),
	)
}

// UpdateValueOnDate rewrites the value of an existing snapshot in place
func (r *SnapshotRepository) UpdateValueOnDate(ctx context.Context, identity types.Identity, date time.Time, value decimal.Decimal) error {
	query := r.updateSQL()

	args := append([]any{value, date}, identityArgs(identity)...)
	if _, err := r.db.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update %s snapshot: %w", r.table.Table, err)
	}
	return nil
}

// ZeroOnDate records a disappearance: a zero-value snapshot on the date
func (r *SnapshotRepository) ZeroOnDate(ctx context.Context, identity types.Identity, date time.Time) error {
	return r.InsertBatch(ctx, date, []SnapshotRecord{{Identity: identity, Value: decimal.Zero}})
}

// MarkLatest recomputes is_latest for exactly the given identities: the row
// holding each identity's maximum date becomes the latest, every other row of
// that identity is cleared. Identities outside the set are not touched.
func (r *SnapshotRepository) MarkLatest(ctx context.Context, identities []types.Identity) error {
	if len(identities) == 0 {
		return nil
	}

	sub := identityPredicate(prefixCols("x.", r.table.IdentityCols), 1)
	outer := identityPredicate(r.table.IdentityCols, 1)
	query := fmt.Sprintf(
		"UPDATE %s SET is_latest = (date = (SELECT MAX(date) FROM %s x WHERE %s)) WHERE %s",
		r.table.Table, r.table.Table, sub, outer,
	)

	batch := &pgx.Batch{}
	for _, identity := range identities {
		batch.Queue(query, identityArgs(identity)...)
	}

	results := r.db.pool.SendBatch(ctx, batch)
	defer results.Close() // nolint:errcheck // batch close

	for range identities {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to mark latest %s snapshots: %w", r.table.Table, err)
		}
	}
	return nil
}

// Stats returns the row count and most recent snapshot date
func (r *SnapshotRepository) Stats(ctx context.Context) (*SnapshotStats, error) {
	query := fmt.Sprintf("SELECT COUNT(*), MAX(date) FROM %s", r.table.Table)

	var stats SnapshotStats
	if err := r.db.pool.QueryRow(ctx, query).Scan(&stats.Records, &stats.LastDate); err != nil {
		return nil, fmt.Errorf("failed to read %s stats: %w", r.table.Table, err)
	}
	return &stats, nil
}

func prefixCols(prefix string, cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = prefix + col
	}
	return out
}
