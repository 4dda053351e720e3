package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/httputil"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	SourceName     = "coingecko"

	maxBodyBytes = 16 << 20
)

type Options struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MinInterval time.Duration
	Retry       httputil.RetryPolicy
	Sleep       httputil.Sleeper
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// CoinGeckoClient is a throttled, retrying reader of the CoinGecko v3 API.
// A single client must be shared by all workers of a run so they draw from
// one throttle.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retrier    *httputil.Retrier
}

func NewCoinGeckoClient(opts Options) *CoinGeckoClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = httputil.DefaultRetry
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: hc,
		retrier: &httputil.Retrier{
			Policy:  opts.Retry,
			Limiter: httputil.NewLimiter(opts.MinInterval),
			Sleep:   opts.Sleep,
			Logger:  opts.Logger.With("component", "coingecko"),
		},
	}
}

// Fetch issues a GET against endpoint (relative to the base URL) and returns
// the JSON body. Errors are *httputil.TransientError once retries are
// exhausted or *httputil.PermanentError for non-retryable statuses.
func (c *CoinGeckoClient) Fetch(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	resp, err := c.retrier.Do(ctx, c.httpClient, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("coingecko %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("coingecko %s: read body: %w", endpoint, &httputil.TransientError{Err: err})
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("coingecko %s: response is not valid JSON", endpoint)
	}
	return json.RawMessage(body), nil
}

type MarketCoin struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	MarketCap    *float64 `json:"market_cap"`
	CurrentPrice *float64 `json:"current_price"`
}

type MarketsQuery struct {
	VsCurrency string
	Category   string
	Page       int
	PerPage    int
}

// Markets lists coins ordered by market cap descending.
func (c *CoinGeckoClient) Markets(ctx context.Context, q MarketsQuery) ([]MarketCoin, error) {
	if q.VsCurrency == "" {
		q.VsCurrency = "usd"
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = 100
	}

	params := url.Values{}
	params.Set("vs_currency", q.VsCurrency)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(q.PerPage))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("sparkline", "false")
	if q.Category != "" {
		params.Set("category", q.Category)
	}

	raw, err := c.Fetch(ctx, "/coins/markets", params)
	if err != nil {
		return nil, err
	}
	var coins []MarketCoin
	if err := json.Unmarshal(raw, &coins); err != nil {
		return nil, fmt.Errorf("decode markets page %d: %w", q.Page, err)
	}
	return coins, nil
}

// CategoryIDs returns the coin ids listed under a market category such as
// "stablecoins".
func (c *CoinGeckoClient) CategoryIDs(ctx context.Context, category, vsCurrency string) (map[string]bool, error) {
	coins, err := c.Markets(ctx, MarketsQuery{
		VsCurrency: vsCurrency,
		Category:   category,
		Page:       1,
		PerPage:    250,
	})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(coins))
	for _, coin := range coins {
		ids[coin.ID] = true
	}
	return ids, nil
}

// MarketChart returns the raw daily market_chart payload for a coin. The
// payload is returned undecoded so callers can cache it verbatim.
func (c *CoinGeckoClient) MarketChart(ctx context.Context, coinID, vsCurrency string, days int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("days", strconv.Itoa(days))
	params.Set("interval", "daily")
	return c.Fetch(ctx, "/coins/"+url.PathEscape(coinID)+"/market_chart", params)
}
