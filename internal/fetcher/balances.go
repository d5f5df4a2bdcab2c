package fetcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/types"
)

const utiaDenom = "utia"

// FetchResult is the outcome of one full fetch pass. Values maps identity
// keys to display-unit amounts; Failed counts identities whose individual
// fetch failed after retries.
type FetchResult struct {
	Values map[string]decimal.Decimal
	Failed int
}

// BalanceFetcher retrieves the utia balance of every account on chain
type BalanceFetcher struct {
	client    *Client
	batchSize int
	logger    *logging.Logger
}

// NewBalanceFetcher creates a balance fetcher
func NewBalanceFetcher(client *Client, batchSize int, logger *logging.Logger) *BalanceFetcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &BalanceFetcher{client: client, batchSize: batchSize, logger: logger}
}

// Fetch enumerates all accounts and fetches their balances batch by batch.
// A failed account enumeration is fatal; failed individual balance lookups
// are counted on the result.
func (f *BalanceFetcher) Fetch(ctx context.Context) (*FetchResult, error) {
	addresses, err := f.listAccounts(ctx)
	if err != nil {
		return nil, err
	}
	f.logger.WithField("accounts", len(addresses)).Info("Fetching balances")

	result := &FetchResult{Values: make(map[string]decimal.Decimal, len(addresses))}
	var mu sync.Mutex

	for start := 0; start < len(addresses); start += f.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + f.batchSize
		if end > len(addresses) {
			end = len(addresses)
		}

		var wg sync.WaitGroup
		for _, address := range addresses[start:end] {
			wg.Add(1)
			go func(address string) {
				defer wg.Done()

				balance, err := f.balanceOf(ctx, address)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
					f.logger.WithError(err).WithField("address", address).Warn("Balance fetch failed")
					return
				}
				result.Values[types.Identity{address}.Key()] = balance
			}(address)
		}
		wg.Wait()
	}

	return result, nil
}

type accountEnvelope struct {
	Address     string `json:"address"`
	BaseAccount *struct {
		Address string `json:"address"`
	} `json:"base_account"`
}

func (a accountEnvelope) address() string {
	if a.Address != "" {
		return a.Address
	}
	if a.BaseAccount != nil {
		return a.BaseAccount.Address
	}
	return ""
}

func (f *BalanceFetcher) listAccounts(ctx context.Context) ([]string, error) {
	var addresses []string
	nextKey := ""

	for {
		var page struct {
			Accounts   []accountEnvelope `json:"accounts"`
			Pagination pagination        `json:"pagination"`
		}
		if err := f.client.getJSON(ctx, "/cosmos/auth/v1beta1/accounts", f.client.pageQuery(nextKey), &page); err != nil {
			return nil, err
		}

		for _, account := range page.Accounts {
			if address := account.address(); address != "" {
				addresses = append(addresses, address)
			}
		}

		nextKey = page.Pagination.NextKey
		if nextKey == "" {
			return addresses, nil
		}
	}
}

type coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// balanceOf returns the address's utia balance in display units. An account
// without a utia entry holds zero.
func (f *BalanceFetcher) balanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	var resp struct {
		Balances []coin `json:"balances"`
	}
	if err := f.client.getJSON(ctx, "/cosmos/bank/v1beta1/balances/"+address, nil, &resp); err != nil {
		return decimal.Zero, err
	}

	for _, c := range resp.Balances {
		if c.Denom == utiaDenom {
			value, err := types.FromMicroUnits(c.Amount)
			if err != nil {
				return decimal.Zero, fmt.Errorf("invalid balance amount %q: %w", c.Amount, err)
			}
			return value, nil
		}
	}
	return decimal.Zero, nil
}
