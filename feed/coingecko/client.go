// Package coingecko polls live crypto prices and OHLC candles from the
// public CoinGecko API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/papertrader/market"
)

const (
	// PublicURL is the free CoinGecko API.
	PublicURL = "https://api.coingecko.com/api/v3"

	DefaultTimeout = 10 * time.Second

	// errBodyLimit caps how much of an error response ends up in the error.
	errBodyLimit = 200
)

var ErrBadResponse = errors.New("coingecko: bad response")

// StatusError is a non-2xx reply.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("coingecko: http %d: %s", e.Code, e.Body)
}

// Client talks to the CoinGecko REST API.
type Client struct {
	baseURL    string
	vsCurrency string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 10s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a client quoting prices in vsCurrency ("eur" when empty).
func NewClient(baseURL, vsCurrency string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = PublicURL
	}
	if vsCurrency == "" {
		vsCurrency = "eur"
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		vsCurrency: strings.ToLower(vsCurrency),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) VsCurrency() string { return c.vsCurrency }

// simplePriceResponse is {"bitcoin": {"eur": 1.0, "last_updated_at": 1700000000}}
type simplePriceResponse map[string]map[string]float64

// SimplePrices fetches the current price of every asset in one request.
// Assets missing from the reply, or with an unusable price, are left out.
func (c *Client) SimplePrices(ctx context.Context, assets []market.Asset) ([]market.Quote, error) {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.CoinID != "" {
			ids = append(ids, a.CoinID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", c.vsCurrency)
	params.Set("include_last_updated_at", "true")

	var resp simplePriceResponse
	if err := c.getJSON(ctx, "/simple/price", params, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	quotes := make([]market.Quote, 0, len(assets))
	for _, a := range assets {
		row, ok := resp[a.CoinID]
		if !ok {
			continue
		}
		px, ok := row[c.vsCurrency]
		if !ok || !(px > 0) {
			continue
		}
		ts := now
		if u, ok := row["last_updated_at"]; ok && u > 0 {
			ts = time.Unix(int64(u), 0)
		}
		quotes = append(quotes, market.Quote{Symbol: a.Symbol, Price: px, Time: ts})
	}
	return quotes, nil
}

// OHLC fetches candles for coinID over the last days. CoinGecko picks the
// candle width from days; rows are [ms, open, high, low, close].
func (c *Client) OHLC(ctx context.Context, coinID string, days int) ([]market.Candle, error) {
	if coinID == "" {
		return nil, fmt.Errorf("coingecko: missing coin id")
	}
	if !market.ValidDays(days) {
		return nil, fmt.Errorf("coingecko: unsupported days %d", days)
	}

	params := url.Values{}
	params.Set("vs_currency", c.vsCurrency)
	params.Set("days", strconv.Itoa(days))

	var rows [][]float64
	if err := c.getJSON(ctx, "/coins/"+url.PathEscape(coinID)+"/ohlc", params, &rows); err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(rows))
	for i, r := range rows {
		if len(r) < 5 {
			return nil, fmt.Errorf("%w: ohlc row %d has %d fields", ErrBadResponse, i, len(r))
		}
		candles = append(candles, market.Candle{
			Time:  int64(r[0]) / 1000,
			Open:  r[1],
			High:  r[2],
			Low:   r[3],
			Close: r[4],
		})
	}
	return candles, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	apiURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("coingecko: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coingecko: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadResponse, path, err)
	}
	return nil
}
