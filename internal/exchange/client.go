// Package exchange wraps the signer with typed calls for candles, prices,
// account and position snapshots, and market order placement.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/signer"
)

// ErrNoData marks an upstream answer that could not be used. Callers skip
// the symbol or tick; it is never fatal.
var ErrNoData = errors.New("exchange data unavailable")

const (
	PathKlines    = "/fapi/v1/klines"
	PathTicker    = "/fapi/v1/ticker/price"
	PathAccount   = "/fapi/v1/account"
	PathPositions = "/fapi/v1/positionRisk"
	PathOrder     = "/fapi/v1/order"
)

type Candle struct {
	OpenTime time.Time `json:"openTime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

type Options struct {
	Interval    string
	CandleLimit int
	QuoteAsset  string
}

type Client struct {
	signer *signer.Signer
	opts   Options
	log    *zap.Logger
}

func NewClient(s *signer.Signer, opts Options, log *zap.Logger) *Client {
	if opts.Interval == "" {
		opts.Interval = "1m"
	}
	if opts.CandleLimit <= 0 {
		opts.CandleLimit = 100
	}
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{signer: s, opts: opts, log: log}
}

// Klines fetches the candle series for symbol.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	params := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	resp, err := c.signer.Public(ctx, PathKlines, params)
	if err != nil {
		return nil, err
	}
	if err := expectOK(resp); err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, fmt.Errorf("%w: parse klines: %v", ErrNoData, err)
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := range vals {
			var f flexFloat
			if err := json.Unmarshal(row[i+1], &f); err != nil {
				ok = false
				break
			}
			vals[i] = float64(f)
		}
		if !ok {
			continue
		}
		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(openMs).UTC(),
			Open:     vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", ErrNoData, symbol)
	}
	return candles, nil
}

// Closes returns the closing prices of the configured candle window.
func (c *Client) Closes(ctx context.Context, symbol string) ([]float64, error) {
	candles, err := c.Klines(ctx, symbol, c.opts.Interval, c.opts.CandleLimit)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(candles))
	for i, k := range candles {
		out[i] = k.Close
	}
	return out, nil
}

// TickerPrice returns the last (or mark) price for symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	resp, err := c.signer.Public(ctx, PathTicker, url.Values{"symbol": {symbol}})
	if err != nil {
		return 0, err
	}
	if err := expectOK(resp); err != nil {
		return 0, err
	}

	var t struct {
		Price     *flexFloat `json:"price"`
		MarkPrice *flexFloat `json:"markPrice"`
		LastPrice *flexFloat `json:"lastPrice"`
	}
	if err := json.Unmarshal(resp.Body, &t); err != nil {
		return 0, fmt.Errorf("%w: parse ticker: %v", ErrNoData, err)
	}
	for _, p := range []*flexFloat{t.Price, t.MarkPrice, t.LastPrice} {
		if p != nil && *p > 0 {
			return float64(*p), nil
		}
	}
	return 0, fmt.Errorf("%w: no price for %s", ErrNoData, symbol)
}

// Account returns the raw private account snapshot.
func (c *Client) Account(ctx context.Context) (json.RawMessage, error) {
	return c.private(ctx, PathAccount)
}

// Positions returns the raw private position snapshot.
func (c *Client) Positions(ctx context.Context) (json.RawMessage, error) {
	return c.private(ctx, PathPositions)
}

// AvailableBalance extracts the quote-asset available balance from the
// account snapshot. Both flat and per-asset layouts are understood.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	raw, err := c.Account(ctx)
	if err != nil {
		return 0, err
	}
	bal, ok := ParseAvailableBalance(raw, c.opts.QuoteAsset)
	if !ok {
		return 0, fmt.Errorf("%w: no available balance in account snapshot", ErrNoData)
	}
	return bal, nil
}

type balanceAsset struct {
	Asset            string     `json:"asset"`
	AvailableBalance *flexFloat `json:"availableBalance"`
	Balance          *flexFloat `json:"balance"`
}

func ParseAvailableBalance(raw []byte, quote string) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var assets []balanceAsset
		if err := json.Unmarshal(raw, &assets); err != nil {
			return 0, false
		}
		return pickAsset(assets, quote)
	}

	var acct struct {
		AvailableBalance *flexFloat     `json:"availableBalance"`
		Assets           []balanceAsset `json:"assets"`
	}
	if err := json.Unmarshal(raw, &acct); err != nil {
		return 0, false
	}
	if acct.AvailableBalance != nil {
		return float64(*acct.AvailableBalance), true
	}
	return pickAsset(acct.Assets, quote)
}

func pickAsset(assets []balanceAsset, quote string) (float64, bool) {
	for _, a := range assets {
		if !strings.EqualFold(a.Asset, quote) {
			continue
		}
		if a.AvailableBalance != nil {
			return float64(*a.AvailableBalance), true
		}
		if a.Balance != nil {
			return float64(*a.Balance), true
		}
	}
	return 0, false
}

type OrderRequest struct {
	Symbol        string
	Side          string
	Quantity      string
	ClientOrderID string
}

// PlaceMarketOrder submits a market order with the query-signature scheme.
// The raw response is returned for any HTTP status; only transport and
// configuration failures are errors.
func (c *Client) PlaceMarketOrder(ctx context.Context, o OrderRequest) (*signer.Response, error) {
	params := url.Values{
		"symbol":   {o.Symbol},
		"side":     {o.Side},
		"type":     {"MARKET"},
		"quantity": {o.Quantity},
	}
	if o.ClientOrderID != "" {
		params.Set("newClientOrderId", o.ClientOrderID)
	}
	return c.signer.DoQuery(ctx, http.MethodPost, PathOrder, params)
}

func (c *Client) private(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.signer.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := expectOK(resp); err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("%w: invalid JSON from %s", ErrNoData, resp.Path)
	}
	return json.RawMessage(resp.Body), nil
}

func expectOK(resp *signer.Response) error {
	if resp == nil {
		return ErrNoData
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("%w: %s returned HTTP %d", ErrNoData, resp.Path, resp.Status)
	}
	return nil
}

// flexFloat accepts both quoted and bare JSON numbers.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty number")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}
