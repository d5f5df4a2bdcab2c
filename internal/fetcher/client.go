// Package fetcher retrieves chain state from a Cosmos SDK REST endpoint.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/stake-scanner/internal/config"
	"github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/retry"
)

// Client is a rate-limited HTTP client for the chain REST API. Transient
// failures (network errors, 5xx, 429) are retried on a bounded fixed-delay
// schedule; other HTTP errors abort immediately.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retryCfg   *retry.Config
	pageLimit  int
	logger     *logging.Logger
}

// NewClient creates a chain API client
func NewClient(chainCfg *config.ChainConfig, importerCfg *config.ImporterConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: chainCfg.RequestTimeout},
		baseURL:    chainCfg.APIBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(chainCfg.RequestsPerSec), chainCfg.RequestsPerSec),
		retryCfg:   retry.FixedDelayConfig(importerCfg.FetchRetries, importerCfg.FetchRetryDelay),
		pageLimit:  chainCfg.PageLimit,
		logger:     logger,
	}
}

// getJSON fetches path with query parameters and decodes the response into out
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	err := retry.DoWithError(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Abort(err)
		}
		return c.doRequest(ctx, requestURL, out)
	})
	if err != nil {
		return errors.NewFetchError(path, false, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return retry.Abort(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // response body close

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return statusErr
		}
		return retry.Abort(statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Abort(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// pagination is the Cosmos REST pagination envelope
type pagination struct {
	NextKey string `json:"next_key"`
}

func (c *Client) pageQuery(nextKey string) url.Values {
	query := url.Values{}
	query.Set("pagination.limit", fmt.Sprintf("%d", c.pageLimit))
	if nextKey != "" {
		query.Set("pagination.key", nextKey)
	}
	return query
}
