package importer

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-scanner/internal/fetcher"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/storage"
	"github.com/stake-scanner/internal/types"
)

var targetDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	result *fetcher.FetchResult
	err    error
}

func (f *fakeFetcher) Fetch(context.Context) (*fetcher.FetchResult, error) {
	return f.result, f.err
}

type updateCall struct {
	key   string
	value decimal.Decimal
}

// fakeStore keeps snapshot state in memory and applies writes to the
// target-date view, so repeated runs observe their own effects. It mirrors
// the repository's flag behavior: inserts and in-place updates arrive with
// is_latest already set, MarkLatest only reconciles.
type fakeStore struct {
	prior  map[string]decimal.Decimal
	today  map[string]decimal.Decimal
	latest map[string]bool

	inserts   []storage.SnapshotRecord
	updates   []updateCall
	zeroes    []string
	marked    [][]types.Identity
	insertErr error
	updateErr error
	markErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		prior:  make(map[string]decimal.Decimal),
		today:  make(map[string]decimal.Decimal),
		latest: make(map[string]bool),
	}
}

func (s *fakeStore) writeCount() int {
	return len(s.inserts) + len(s.updates) + len(s.zeroes) + len(s.marked)
}

func (s *fakeStore) LatestBefore(context.Context, time.Time) (map[string]decimal.Decimal, error) {
	return copyValues(s.prior), nil
}

func (s *fakeStore) OnDate(context.Context, time.Time) (map[string]decimal.Decimal, error) {
	return copyValues(s.today), nil
}

func (s *fakeStore) InsertBatch(_ context.Context, _ time.Time, records []storage.SnapshotRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, rec := range records {
		s.inserts = append(s.inserts, rec)
		s.today[rec.Identity.Key()] = rec.Value
		s.latest[rec.Identity.Key()] = true
	}
	return nil
}

func (s *fakeStore) UpdateValueOnDate(_ context.Context, identity types.Identity, _ time.Time, value decimal.Decimal) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, updateCall{key: identity.Key(), value: value})
	s.today[identity.Key()] = value
	s.latest[identity.Key()] = true
	return nil
}

func (s *fakeStore) ZeroOnDate(_ context.Context, identity types.Identity, _ time.Time) error {
	s.zeroes = append(s.zeroes, identity.Key())
	s.today[identity.Key()] = decimal.Zero
	s.latest[identity.Key()] = true
	return nil
}

func (s *fakeStore) MarkLatest(_ context.Context, identities []types.Identity) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = append(s.marked, identities)
	for _, identity := range identities {
		s.latest[identity.Key()] = true
	}
	return nil
}

func copyValues(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fetchOf(values map[string]decimal.Decimal) *fakeFetcher {
	return &fakeFetcher{result: &fetcher.FetchResult{Values: values}}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func markedKeys(store *fakeStore) []string {
	var keys []string
	for _, set := range store.marked {
		for _, identity := range set {
			keys = append(keys, identity.Key())
		}
	}
	return keys
}

func TestRun_NewIdentity(t *testing.T) {
	store := newFakeStore()
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("100")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, &Summary{Processed: 1, New: 1}, summary)
	require.Len(t, store.inserts, 1)
	assert.Equal(t, "x", store.inserts[0].Identity.Key())
	assert.True(t, store.inserts[0].Value.Equal(dec("100")))
	assert.Equal(t, []string{"x"}, markedKeys(store))
}

func TestRun_UnchangedAgainstPrior(t *testing.T) {
	store := newFakeStore()
	store.prior["x"] = dec("100")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("100")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, &Summary{Processed: 1, Unchanged: 1}, summary)
	assert.Zero(t, store.writeCount())
}

func TestRun_ChangedAgainstPrior(t *testing.T) {
	store := newFakeStore()
	store.prior["x"] = dec("100")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("150")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, &Summary{Processed: 1, Changed: 1}, summary)
	require.Len(t, store.inserts, 1)
	assert.True(t, store.inserts[0].Value.Equal(dec("150")))
	assert.Equal(t, []string{"x"}, markedKeys(store))
}

func TestRun_DisappearedWritesZero(t *testing.T) {
	store := newFakeStore()
	store.prior["y"] = dec("50")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("1")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Disappeared)
	assert.Equal(t, []string{"y"}, store.zeroes)
	assert.Contains(t, markedKeys(store), "y")
	// prior history is untouched
	assert.True(t, store.prior["y"].Equal(dec("50")))
}

func TestRun_SameDayCorrection(t *testing.T) {
	store := newFakeStore()
	store.today["x"] = dec("100")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("120")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, &Summary{Processed: 1, Changed: 1}, summary)
	require.Len(t, store.updates, 1)
	assert.Equal(t, "x", store.updates[0].key)
	assert.True(t, store.updates[0].value.Equal(dec("120")))
	assert.Empty(t, store.inserts)
}

func TestRun_SameDayMatchIsUnchanged(t *testing.T) {
	store := newFakeStore()
	store.today["x"] = dec("100")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("100")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, &Summary{Processed: 1, Unchanged: 1}, summary)
	assert.Zero(t, store.writeCount())
}

func TestRun_SameDayDisappearanceZeroesInPlace(t *testing.T) {
	store := newFakeStore()
	store.today["y"] = dec("50")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("1")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Disappeared)
	require.Len(t, store.updates, 1)
	assert.Equal(t, "y", store.updates[0].key)
	assert.True(t, store.updates[0].value.IsZero())
	assert.Empty(t, store.zeroes)
}

func TestRun_DisappearanceIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.prior["y"] = dec("50")
	store.today["y"] = decimal.Zero
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("1")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Disappeared)
	assert.Empty(t, store.updates)
	assert.Empty(t, store.zeroes)
}

func TestRun_ZeroPriorNotReZeroed(t *testing.T) {
	store := newFakeStore()
	store.prior["y"] = decimal.Zero
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("1")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Disappeared)
	assert.Empty(t, store.zeroes)
}

func TestRun_EpsilonAbsorbsStorageNoise(t *testing.T) {
	store := newFakeStore()
	store.prior["x"] = dec("100")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("100.0000005")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, &Summary{Processed: 1, Unchanged: 1}, summary)
	assert.Zero(t, store.writeCount())
}

func TestRun_ChangeBeyondEpsilonDetected(t *testing.T) {
	store := newFakeStore()
	store.prior["x"] = dec("100")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("100.000002")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Changed)
}

func TestRun_EmptyFetchIsFatal(t *testing.T) {
	store := newFakeStore()
	store.prior["x"] = dec("100")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{}), store, nil)

	_, err := im.Run(context.Background(), targetDate)
	require.Error(t, err)
	assert.Zero(t, store.writeCount())
}

func TestRun_FetchErrorIsFatal(t *testing.T) {
	store := newFakeStore()
	im := New(types.EntityBalances, &fakeFetcher{err: stderrors.New("api down")}, store, nil)

	_, err := im.Run(context.Background(), targetDate)
	require.Error(t, err)
	assert.Zero(t, store.writeCount())
}

func TestRun_FetchFailuresCounted(t *testing.T) {
	store := newFakeStore()
	im := New(types.EntityBalances, &fakeFetcher{result: &fetcher.FetchResult{
		Values: map[string]decimal.Decimal{"x": dec("1")},
		Failed: 3,
	}}, store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Errors)
}

func TestRun_InsertFailureCountedNotRaised(t *testing.T) {
	store := newFakeStore()
	store.insertErr = stderrors.New("disk full")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{
		"x": dec("1"),
		"y": dec("2"),
	}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Errors)
	assert.Zero(t, summary.New)
	assert.Empty(t, store.marked)
}

func TestRun_CorrectionFailureDoesNotAbortRun(t *testing.T) {
	store := newFakeStore()
	store.today["x"] = dec("100")
	store.updateErr = stderrors.New("deadlock")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{
		"x": dec("120"),
		"z": dec("5"),
	}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, []string{"z"}, markedKeys(store))
}

func TestRun_WriteFailuresCarryIdentityContext(t *testing.T) {
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	store := newFakeStore()
	store.today["x"] = dec("100")
	store.updateErr = stderrors.New("deadlock")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("120")}), store, logger)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)

	logged := buf.String()
	assert.Contains(t, logged, "WRITE_FAILED")
	assert.Contains(t, logged, "identity x")
}

func TestRun_MarkLatestBoundedToAffected(t *testing.T) {
	store := newFakeStore()
	store.prior["stable"] = dec("10")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{
		"stable": dec("10"),
		"fresh":  dec("7"),
	}), store, nil)

	_, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh"}, markedKeys(store))
}

func TestRun_SecondRunWritesNothing(t *testing.T) {
	store := newFakeStore()
	store.prior["gone"] = dec("9")
	values := map[string]decimal.Decimal{"x": dec("100"), "y": dec("50")}
	im := New(types.EntityBalances, fetchOf(values), store, nil)

	first, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)
	assert.Equal(t, 2, first.New)
	assert.Equal(t, 1, first.Disappeared)

	writesAfterFirst := store.writeCount()

	second, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, store.writeCount(), writesAfterFirst, "second run must not write")
	assert.Equal(t, 2, second.Unchanged)
	assert.Zero(t, second.New)
	assert.Zero(t, second.Changed)
	assert.Zero(t, second.Disappeared)
}

// A run that dies after its inserts but before the flag repair must still
// leave every written row flagged latest. The next day classifies the value
// as unchanged and writes nothing, so the flag would never be repaired if the
// insert had not set it.
func TestRun_InterruptedFlagRepairLeavesRowsLatest(t *testing.T) {
	store := newFakeStore()
	store.markErr = stderrors.New("connection reset")
	im := New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{"x": dec("100")}), store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.Error(t, err)
	assert.Equal(t, 1, summary.New)
	assert.True(t, store.latest["x"], "inserted row must already be latest")

	// next day, same value
	store.markErr = nil
	store.prior = copyValues(store.today)
	store.today = make(map[string]decimal.Decimal)
	writesBefore := store.writeCount()

	second, err := im.Run(context.Background(), targetDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Unchanged)
	assert.Equal(t, writesBefore, store.writeCount())
	assert.True(t, store.latest["x"])
}

// A per-identity fetch failure leaves the identity out of the fetch result,
// so it is zeroed as disappeared alongside the failure count. The false zero
// is corrected by the next run that fetches the identity successfully.
func TestRun_FetchFailureZeroedAsDisappeared(t *testing.T) {
	store := newFakeStore()
	store.prior["flaky"] = dec("40")
	im := New(types.EntityBalances, &fakeFetcher{result: &fetcher.FetchResult{
		Values: map[string]decimal.Decimal{"x": dec("1")},
		Failed: 1,
	}}, store, nil)

	summary, err := im.Run(context.Background(), targetDate)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Disappeared)
	assert.Equal(t, []string{"flaky"}, store.zeroes)

	// a later run that fetches the identity again restores the value
	store.prior = copyValues(store.today)
	store.today = make(map[string]decimal.Decimal)
	im = New(types.EntityBalances, fetchOf(map[string]decimal.Decimal{
		"x":     dec("1"),
		"flaky": dec("40"),
	}), store, nil)

	second, err := im.Run(context.Background(), targetDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Changed)
	assert.True(t, store.today["flaky"].Equal(dec("40")))
}

func TestRun_IdempotenceProperty(t *testing.T) {
	genValues := gen.MapOf(
		gen.RegexMatch(`celestia1[a-z0-9]{8}`),
		gen.Int64Range(0, 1_000_000).Map(func(v int64) decimal.Decimal {
			return decimal.New(v, -2)
		}),
	).SuchThat(func(m map[string]decimal.Decimal) bool { return len(m) > 0 })

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a repeated run against the same state writes nothing", prop.ForAll(
		func(values map[string]decimal.Decimal) bool {
			store := newFakeStore()
			im := New(types.EntityBalances, fetchOf(values), store, nil)

			if _, err := im.Run(context.Background(), targetDate); err != nil {
				return false
			}
			writes := store.writeCount()

			second, err := im.Run(context.Background(), targetDate)
			if err != nil {
				return false
			}
			return store.writeCount() == writes &&
				second.New == 0 && second.Changed == 0 && second.Disappeared == 0
		},
		genValues,
	))

	properties.TestingRun(t)
}
