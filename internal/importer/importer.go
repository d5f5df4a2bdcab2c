// Package importer brings the snapshot store in line with freshly fetched
// chain state for one target date, writing only what changed.
package importer

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/fetcher"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/storage"
	"github.com/stake-scanner/internal/types"
)

// Fetcher supplies the complete current state, keyed by identity
type Fetcher interface {
	Fetch(ctx context.Context) (*fetcher.FetchResult, error)
}

// Store is the snapshot persistence the importer writes through
type Store interface {
	LatestBefore(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error)
	OnDate(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error)
	InsertBatch(ctx context.Context, date time.Time, records []storage.SnapshotRecord) error
	UpdateValueOnDate(ctx context.Context, identity types.Identity, date time.Time, value decimal.Decimal) error
	ZeroOnDate(ctx context.Context, identity types.Identity, date time.Time) error
	MarkLatest(ctx context.Context, identities []types.Identity) error
}

// Summary reports what an import run did. Individual identity failures are
// counted in Errors; they never abort the run.
type Summary struct {
	Processed   int `json:"processed"`
	New         int `json:"new"`
	Changed     int `json:"changed"`
	Unchanged   int `json:"unchanged"`
	Disappeared int `json:"disappeared"`
	Errors      int `json:"errors"`
}

var errFetchEmpty = stderrors.New("fetch returned no identities")

// Epsilon is the change-detection threshold. Values are stored as
// NUMERIC(30,6), so differences at or below one millionth are storage noise,
// not changes.
var Epsilon = decimal.New(1, -types.MicroUnitScale)

// Importer runs the per-identity delta-sync state machine for one entity.
// Runs for the same entity must not overlap; the caller enforces that.
type Importer struct {
	entity  types.Entity
	fetcher Fetcher
	store   Store
	epsilon decimal.Decimal
	logger  *logging.Logger
}

// New creates an importer for one entity
func New(entity types.Entity, f Fetcher, store Store, logger *logging.Logger) *Importer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Importer{
		entity:  entity,
		fetcher: f,
		store:   store,
		epsilon: Epsilon,
		logger:  logger.WithField("entity", string(entity)),
	}
}

// Run synchronizes the store with the fetched state for targetDate. A total
// fetch failure, including an empty fetch, aborts before any write; running
// twice against the same fetched state writes nothing the second time.
func (im *Importer) Run(ctx context.Context, targetDate time.Time) (*Summary, error) {
	log := im.logger.WithField("date", targetDate.Format("2006-01-02"))
	log.Info("Starting import run")

	fetched, err := im.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(fetched.Values) == 0 {
		// zeroing every known identity off an empty fetch would destroy the
		// store; treat it like a total fetch failure
		return nil, errors.NewFetchError(string(im.entity), true, errFetchEmpty)
	}

	summary := &Summary{Errors: fetched.Failed}

	prior, err := im.store.LatestBefore(ctx, targetDate)
	if err != nil {
		return nil, err
	}
	today, err := im.store.OnDate(ctx, targetDate)
	if err != nil {
		return nil, err
	}

	var affected []types.Identity

	affected = append(affected, im.syncFetched(ctx, targetDate, fetched.Values, prior, today, summary, log)...)
	affected = append(affected, im.zeroDisappeared(ctx, targetDate, fetched.Values, prior, today, summary, log)...)

	// the flag repair is the last write; everything before it only adds rows
	// or rewrites values in place
	if len(affected) > 0 {
		if err := im.store.MarkLatest(ctx, affected); err != nil {
			return summary, err
		}
	}

	log.WithFields(map[string]interface{}{
		"processed":   summary.Processed,
		"new":         summary.New,
		"changed":     summary.Changed,
		"unchanged":   summary.Unchanged,
		"disappeared": summary.Disappeared,
		"errors":      summary.Errors,
	}).Info("Import run finished")

	return summary, nil
}

// syncFetched classifies every fetched identity against the target-date and
// prior state, applying same-day corrections individually and collecting new
// and changed values into one bulk insert.
func (im *Importer) syncFetched(
	ctx context.Context,
	targetDate time.Time,
	values map[string]decimal.Decimal,
	prior, today map[string]decimal.Decimal,
	summary *Summary,
	log *logging.Logger,
) []types.Identity {
	keys := sortedKeys(values)

	var affected []types.Identity
	var inserts []storage.SnapshotRecord
	insertNew := 0

	for _, key := range keys {
		summary.Processed++
		current := values[key]
		identity := types.ParseIdentityKey(key)

		if todayValue, ok := today[key]; ok {
			if im.differs(todayValue, current) {
				if err := im.store.UpdateValueOnDate(ctx, identity, targetDate, current); err != nil {
					summary.Errors++
					log.WithError(errors.NewWriteError(im.entity, key, err)).Error("Same-day correction failed")
					continue
				}
				summary.Changed++
				affected = append(affected, identity)
			} else {
				summary.Unchanged++
			}
			continue
		}

		priorValue, hasPrior := prior[key]
		if hasPrior && !im.differs(priorValue, current) {
			summary.Unchanged++
			continue
		}

		inserts = append(inserts, storage.SnapshotRecord{Identity: identity, Value: current})
		if !hasPrior {
			insertNew++
		}
	}

	if len(inserts) == 0 {
		return affected
	}

	if err := im.store.InsertBatch(ctx, targetDate, inserts); err != nil {
		summary.Errors += len(inserts)
		log.WithError(err).WithField("records", len(inserts)).Error("Bulk snapshot insert failed")
		return affected
	}

	summary.New += insertNew
	summary.Changed += len(inserts) - insertNew
	for _, rec := range inserts {
		affected = append(affected, rec.Identity)
	}
	return affected
}

// zeroDisappeared writes a zero-value snapshot for every identity the store
// knows about that the fetch no longer returns. History is preserved; the
// disappearance is a new fact, not a deletion. Absence is judged only by the
// fetch result: an identity whose individual lookup failed is zeroed like any
// other missing one and picks its value back up on the next successful run.
func (im *Importer) zeroDisappeared(
	ctx context.Context,
	targetDate time.Time,
	values map[string]decimal.Decimal,
	prior, today map[string]decimal.Decimal,
	summary *Summary,
	log *logging.Logger,
) []types.Identity {
	candidates := make(map[string]bool, len(prior)+len(today))
	for key := range prior {
		candidates[key] = true
	}
	for key := range today {
		candidates[key] = true
	}

	var affected []types.Identity
	for _, key := range sortedKeys(candidates) {
		if _, fetched := values[key]; fetched {
			continue
		}

		identity := types.ParseIdentityKey(key)

		if todayValue, ok := today[key]; ok {
			// a positive same-day record means the identity disappeared after
			// an earlier write today; an existing zero record means a prior
			// run already recorded the disappearance
			if !todayValue.IsPositive() {
				continue
			}
			if err := im.store.UpdateValueOnDate(ctx, identity, targetDate, decimal.Zero); err != nil {
				summary.Errors++
				log.WithError(errors.NewWriteError(im.entity, key, err)).Error("Disappearance zeroing failed")
				continue
			}
			summary.Disappeared++
			affected = append(affected, identity)
			continue
		}

		if prior[key].IsZero() {
			continue
		}
		if err := im.store.ZeroOnDate(ctx, identity, targetDate); err != nil {
			summary.Errors++
			log.WithError(errors.NewWriteError(im.entity, key, err)).Error("Disappearance write failed")
			continue
		}
		summary.Disappeared++
		affected = append(affected, identity)
	}
	return affected
}

func (im *Importer) differs(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(im.epsilon)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
