package fetcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/models"
	"github.com/stake-scanner/internal/types"
)

// ValidatorStore receives validators discovered during delegation fetches
type ValidatorStore interface {
	Upsert(ctx context.Context, v *models.Validator) (int64, error)
}

// DelegationFetcher retrieves every delegation on chain by enumerating
// validators and walking each validator's delegation list. Discovered
// validators are upserted into the reference table as a side effect.
type DelegationFetcher struct {
	client     *Client
	validators ValidatorStore
	batchSize  int
	logger     *logging.Logger
}

// NewDelegationFetcher creates a delegation fetcher. validators may be nil to
// skip the reference-table upserts.
func NewDelegationFetcher(client *Client, validators ValidatorStore, batchSize int, logger *logging.Logger) *DelegationFetcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &DelegationFetcher{client: client, validators: validators, batchSize: batchSize, logger: logger}
}

// Fetch returns all (delegator, validator) stake amounts. A failed validator
// enumeration is fatal; a failed per-validator delegation walk is counted.
func (f *DelegationFetcher) Fetch(ctx context.Context) (*FetchResult, error) {
	validators, err := f.listValidators(ctx)
	if err != nil {
		return nil, err
	}
	f.logger.WithField("validators", len(validators)).Info("Fetching delegations")

	f.storeValidators(ctx, validators)

	result := &FetchResult{Values: make(map[string]decimal.Decimal)}
	var mu sync.Mutex

	for start := 0; start < len(validators); start += f.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + f.batchSize
		if end > len(validators) {
			end = len(validators)
		}

		var wg sync.WaitGroup
		for _, validator := range validators[start:end] {
			wg.Add(1)
			go func(operator string) {
				defer wg.Done()

				delegations, err := f.delegationsOf(ctx, operator)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
					f.logger.WithError(err).WithField("validator", operator).Warn("Delegation fetch failed")
					return
				}
				for key, amount := range delegations {
					result.Values[key] = amount
				}
			}(validator.OperatorAddress)
		}
		wg.Wait()
	}

	return result, nil
}

type validatorEnvelope struct {
	OperatorAddress string `json:"operator_address"`
	Description     struct {
		Moniker string `json:"moniker"`
	} `json:"description"`
	Status     string `json:"status"`
	Jailed     bool   `json:"jailed"`
	Tokens     string `json:"tokens"`
	Commission struct {
		CommissionRates struct {
			Rate string `json:"rate"`
		} `json:"commission_rates"`
	} `json:"commission"`
}

func (f *DelegationFetcher) listValidators(ctx context.Context) ([]validatorEnvelope, error) {
	var validators []validatorEnvelope
	nextKey := ""

	for {
		var page struct {
			Validators []validatorEnvelope `json:"validators"`
			Pagination pagination          `json:"pagination"`
		}
		if err := f.client.getJSON(ctx, "/cosmos/staking/v1beta1/validators", f.client.pageQuery(nextKey), &page); err != nil {
			return nil, err
		}

		validators = append(validators, page.Validators...)

		nextKey = page.Pagination.NextKey
		if nextKey == "" {
			return validators, nil
		}
	}
}

// storeValidators refreshes the validators reference table. Upsert failures
// are logged and skipped; they do not affect the delegation snapshot.
func (f *DelegationFetcher) storeValidators(ctx context.Context, validators []validatorEnvelope) {
	if f.validators == nil {
		return
	}

	for _, v := range validators {
		tokens, err := types.FromMicroUnits(v.Tokens)
		if err != nil {
			tokens = decimal.Zero
		}
		rate, err := decimal.NewFromString(v.Commission.CommissionRates.Rate)
		if err != nil {
			rate = decimal.Zero
		}

		_, err = f.validators.Upsert(ctx, &models.Validator{
			OperatorAddress: v.OperatorAddress,
			Moniker:         v.Description.Moniker,
			Status:          v.Status,
			Jailed:          v.Jailed,
			Tokens:          tokens,
			CommissionRate:  rate,
		})
		if err != nil {
			f.logger.WithError(err).WithField("validator", v.OperatorAddress).Warn("Validator upsert failed")
		}
	}
}

func (f *DelegationFetcher) delegationsOf(ctx context.Context, operator string) (map[string]decimal.Decimal, error) {
	delegations := make(map[string]decimal.Decimal)
	nextKey := ""

	for {
		var page struct {
			DelegationResponses []struct {
				Delegation struct {
					DelegatorAddress string `json:"delegator_address"`
					ValidatorAddress string `json:"validator_address"`
				} `json:"delegation"`
				Balance coin `json:"balance"`
			} `json:"delegation_responses"`
			Pagination pagination `json:"pagination"`
		}

		path := "/cosmos/staking/v1beta1/validators/" + operator + "/delegations"
		if err := f.client.getJSON(ctx, path, f.client.pageQuery(nextKey), &page); err != nil {
			return nil, err
		}

		for _, resp := range page.DelegationResponses {
			amount, err := types.FromMicroUnits(resp.Balance.Amount)
			if err != nil {
				return nil, fmt.Errorf("invalid delegation amount %q: %w", resp.Balance.Amount, err)
			}
			identity := types.Identity{resp.Delegation.DelegatorAddress, resp.Delegation.ValidatorAddress}
			delegations[identity.Key()] = amount
		}

		nextKey = page.Pagination.NextKey
		if nextKey == "" {
			return delegations, nil
		}
	}
}
