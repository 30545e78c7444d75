// Package volatility builds implied-volatility surfaces from the Deribit
// options chain, with hard-coded default vols for symbols Deribit doesn't
// list and an optional realized-vol mode fed by the spot oracle's history.
//
// Surface construction per supported symbol:
//
//  1. Current underlying from the index price endpoint (or the live WS feed).
//  2. Active option instruments → ATM strike = closest strike to underlying.
//  3. Nearest-expiry ATM call ticker → mark IV (percent → decimal).
//  4. For the nearest three expiries, up to ten strikes per expiry
//     (closest-to-ATM first, bounded to [0.5·S, 2.0·S]): call + put tickers
//     populate the per-strike map with IVs and deltas.
//
// Failures degrade, never fail: a dead ATM ticker falls back to the mean of
// the per-strike call IVs, and a fully dead chain falls back to the default
// vol with an empty smile.
package volatility

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polyarb/pkg/types"
)

// DefaultVols are the fallback annualized vols per symbol; unknown symbols
// use DefaultVolFallback.
var DefaultVols = map[string]float64{
	"BTC": 0.55,
	"ETH": 0.65,
	"SOL": 0.90,
}

// DefaultVolFallback applies to symbols with no entry in DefaultVols.
const DefaultVolFallback = 0.70

// optionSupported is the set of symbols Deribit lists options for.
var optionSupported = map[string]bool{
	"BTC": true,
	"ETH": true,
}

const (
	maxExpiries     = 3
	maxStrikes      = 10
	strikeLowerMult = 0.5
	strikeUpperMult = 2.0
	// Delta from a neighboring strike is only trusted within this relative
	// distance of the claim's target; beyond it the caller recomputes from IV.
	deltaStrikeTolerance = 0.20
)

// deribitResult wraps every Deribit public API response.
type deribitResult[T any] struct {
	Result T `json:"result"`
}

type indexPrice struct {
	IndexPrice float64 `json:"index_price"`
}

type instrument struct {
	InstrumentName string  `json:"instrument_name"` // e.g. BTC-27JUN26-120000-C
	Strike         float64 `json:"strike"`
	OptionType     string  `json:"option_type"` // "call" or "put"
	ExpirationMs   int64   `json:"expiration_timestamp"`
	IsActive       bool    `json:"is_active"`
}

type ticker struct {
	InstrumentName  string  `json:"instrument_name"`
	MarkIV          float64 `json:"mark_iv"` // percent, e.g. 55.3
	UnderlyingPrice float64 `json:"underlying_price"`
	Greeks          struct {
		Delta float64 `json:"delta"`
	} `json:"greeks"`
}

// IndexSource supplies a live underlying price, bypassing the REST index
// call when fresh. Satisfied by *IndexFeed.
type IndexSource interface {
	Price(symbol string) (float64, bool)
}

// Provider fetches IV surfaces from Deribit.
type Provider struct {
	http   *resty.Client
	live   IndexSource // optional; nil when the WS feed is disabled
	logger *slog.Logger
}

// NewProvider creates a Deribit surface provider. live may be nil.
func NewProvider(baseURL string, live IndexSource, logger *slog.Logger) *Provider {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Provider{
		http:   httpClient,
		live:   live,
		logger: logger.With("component", "volatility"),
	}
}

// DefaultSurface returns the empty-smile fallback surface for a symbol.
func DefaultSurface(symbol string, underlying float64) *types.IVSurface {
	vol, ok := DefaultVols[strings.ToUpper(symbol)]
	if !ok {
		vol = DefaultVolFallback
	}
	return &types.IVSurface{
		Symbol:          strings.ToUpper(symbol),
		UnderlyingPrice: underlying,
		ATMIV:           vol,
		IsDefault:       true,
		FetchedAt:       time.Now().UTC(),
	}
}

// Supported reports whether the options exchange lists the symbol.
func Supported(symbol string) bool {
	return optionSupported[strings.ToUpper(symbol)]
}

// Surface returns the IV surface for a symbol. For unsupported symbols, or
// when the whole chain is unreachable, it returns the default surface; the
// only error returned is context cancellation.
func (p *Provider) Surface(ctx context.Context, symbol string) (*types.IVSurface, error) {
	sym := strings.ToUpper(symbol)
	if !optionSupported[sym] {
		return DefaultSurface(sym, 0), nil
	}

	underlying, err := p.underlyingPrice(ctx, sym)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("index price unavailable, using default vol", "symbol", sym, "error", err)
		return DefaultSurface(sym, 0), nil
	}

	instruments, err := p.fetchInstruments(ctx, sym)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("instrument list unavailable, using default vol", "symbol", sym, "error", err)
		return DefaultSurface(sym, underlying), nil
	}

	surface := &types.IVSurface{
		Symbol:          sym,
		UnderlyingPrice: underlying,
		PerStrike:       make(map[float64]types.StrikeQuote),
		FetchedAt:       time.Now().UTC(),
	}

	chain := organizeChain(instruments)
	if len(chain) == 0 {
		p.logger.Warn("no active options, using default vol", "symbol", sym)
		return DefaultSurface(sym, underlying), nil
	}

	p.populateSmile(ctx, surface, chain, underlying)

	atmIV, atmErr := p.atmIV(ctx, chain, underlying)
	switch {
	case atmErr == nil && atmIV > 0 && atmIV <= 5:
		surface.ATMIV = atmIV
	case len(surface.PerStrike) > 0:
		var sum float64
		for _, q := range surface.PerStrike {
			sum += q.CallIV
		}
		surface.ATMIV = sum / float64(len(surface.PerStrike))
		p.logger.Warn("ATM ticker failed, using mean of smile call IVs",
			"symbol", sym, "atm_iv", surface.ATMIV, "error", atmErr)
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("options chain unreachable, using default vol", "symbol", sym, "error", atmErr)
		return DefaultSurface(sym, underlying), nil
	}

	return surface, nil
}

// IVForStrike looks up the smile at the claim's target strike. It returns
// the closest strike's call IV, plus its call delta only when that strike is
// within 20% relative distance of the target — otherwise the caller must
// compute delta from the IV itself.
func IVForStrike(surface *types.IVSurface, target float64) (iv float64, delta *float64) {
	if surface == nil {
		return DefaultVolFallback, nil
	}
	if len(surface.PerStrike) == 0 {
		return surface.ATMIV, nil
	}

	bestStrike := 0.0
	bestDist := math.MaxFloat64
	for strike := range surface.PerStrike {
		d := math.Abs(strike - target)
		if d < bestDist {
			bestDist = d
			bestStrike = strike
		}
	}

	quote := surface.PerStrike[bestStrike]
	iv = quote.CallIV
	if iv <= 0 {
		iv = surface.ATMIV
	}
	if target > 0 && math.Abs(bestStrike-target)/target < deltaStrikeTolerance {
		delta = quote.CallDelta
	}
	return iv, delta
}

// expirySlice is the call/put instrument pair per strike for one expiry.
type expirySlice struct {
	expiry  time.Time
	strikes map[float64]*strikePair
}

type strikePair struct {
	call *instrument
	put  *instrument
}

// organizeChain groups active instruments by expiry, sorted nearest first.
func organizeChain(instruments []instrument) []expirySlice {
	byExpiry := make(map[int64]*expirySlice)
	for i := range instruments {
		inst := instruments[i]
		if !inst.IsActive || inst.Strike <= 0 {
			continue
		}
		slice, ok := byExpiry[inst.ExpirationMs]
		if !ok {
			slice = &expirySlice{
				expiry:  time.UnixMilli(inst.ExpirationMs).UTC(),
				strikes: make(map[float64]*strikePair),
			}
			byExpiry[inst.ExpirationMs] = slice
		}
		pair, ok := slice.strikes[inst.Strike]
		if !ok {
			pair = &strikePair{}
			slice.strikes[inst.Strike] = pair
		}
		switch inst.OptionType {
		case "call":
			pair.call = &instruments[i]
		case "put":
			pair.put = &instruments[i]
		}
	}

	now := time.Now()
	out := make([]expirySlice, 0, len(byExpiry))
	for _, slice := range byExpiry {
		if slice.expiry.After(now) {
			out = append(out, *slice)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].expiry.Before(out[j].expiry) })
	return out
}

// populateSmile fills surface.PerStrike from the nearest expiries. Strikes
// already present (from a nearer expiry) are not overwritten.
func (p *Provider) populateSmile(ctx context.Context, surface *types.IVSurface, chain []expirySlice, underlying float64) {
	expiries := chain
	if len(expiries) > maxExpiries {
		expiries = expiries[:maxExpiries]
	}

	lower := underlying * strikeLowerMult
	upper := underlying * strikeUpperMult

	for _, slice := range expiries {
		strikes := make([]float64, 0, len(slice.strikes))
		for strike := range slice.strikes {
			if strike >= lower && strike <= upper {
				strikes = append(strikes, strike)
			}
		}
		sort.Slice(strikes, func(i, j int) bool {
			return math.Abs(strikes[i]-underlying) < math.Abs(strikes[j]-underlying)
		})
		if len(strikes) > maxStrikes {
			strikes = strikes[:maxStrikes]
		}

		days := time.Until(slice.expiry).Hours() / 24
		for _, strike := range strikes {
			if _, ok := surface.PerStrike[strike]; ok {
				continue
			}
			pair := slice.strikes[strike]
			if pair.call == nil {
				continue
			}

			callTick, err := p.fetchTicker(ctx, pair.call.InstrumentName)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			quote := types.StrikeQuote{
				CallIV:       callTick.MarkIV / 100,
				Expiry:       slice.expiry,
				DaysToExpiry: days,
			}
			if d := callTick.Greeks.Delta; d != 0 {
				quote.CallDelta = &d
			}

			if pair.put != nil {
				if putTick, err := p.fetchTicker(ctx, pair.put.InstrumentName); err == nil {
					quote.PutIV = putTick.MarkIV / 100
					if d := putTick.Greeks.Delta; d != 0 {
						quote.PutDelta = &d
					}
				}
			}

			if quote.CallIV > 0 {
				surface.PerStrike[strike] = quote
			}
		}
	}
}

// atmIV reads the nearest-expiry ATM call's mark IV (decimal).
func (p *Provider) atmIV(ctx context.Context, chain []expirySlice, underlying float64) (float64, error) {
	nearest := chain[0]

	atmStrike := 0.0
	bestDist := math.MaxFloat64
	for strike, pair := range nearest.strikes {
		if pair.call == nil {
			continue
		}
		d := math.Abs(strike - underlying)
		if d < bestDist {
			bestDist = d
			atmStrike = strike
		}
	}
	if atmStrike == 0 {
		return 0, fmt.Errorf("no ATM call in nearest expiry")
	}

	tick, err := p.fetchTicker(ctx, nearest.strikes[atmStrike].call.InstrumentName)
	if err != nil {
		return 0, err
	}
	return tick.MarkIV / 100, nil
}

func (p *Provider) underlyingPrice(ctx context.Context, symbol string) (float64, error) {
	if p.live != nil {
		if price, ok := p.live.Price(symbol); ok {
			return price, nil
		}
	}

	var result deribitResult[indexPrice]
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("index_name", strings.ToLower(symbol)+"_usd").
		SetResult(&result).
		Get("/public/get_index_price")
	if err != nil {
		return 0, fmt.Errorf("get index price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get index price: status %d", resp.StatusCode())
	}
	if result.Result.IndexPrice <= 0 {
		return 0, fmt.Errorf("get index price: empty result")
	}
	return result.Result.IndexPrice, nil
}

func (p *Provider) fetchInstruments(ctx context.Context, symbol string) ([]instrument, error) {
	var result deribitResult[[]instrument]
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"currency": symbol,
			"kind":     "option",
			"expired":  "false",
		}).
		SetResult(&result).
		Get("/public/get_instruments")
	if err != nil {
		return nil, fmt.Errorf("get instruments: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get instruments: status %d", resp.StatusCode())
	}
	return result.Result, nil
}

func (p *Provider) fetchTicker(ctx context.Context, instrumentName string) (*ticker, error) {
	var result deribitResult[ticker]
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("instrument_name", instrumentName).
		SetResult(&result).
		Get("/public/ticker")
	if err != nil {
		return nil, fmt.Errorf("ticker %s: %w", instrumentName, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("ticker %s: status %d", instrumentName, resp.StatusCode())
	}
	if result.Result.MarkIV <= 0 {
		return nil, fmt.Errorf("ticker %s: no mark IV", instrumentName)
	}
	return &result.Result, nil
}
