// Package prices implements the spot-price oracle client (CoinGecko).
//
// One bulk /coins/markets call covers every symbol the pipeline needs per
// cycle. A 429 from the upstream is surfaced as ErrRateLimited so the trading
// loop can back off instead of hammering; all upstream calls run through a
// circuit breaker so a flapping oracle fails fast rather than eating the
// cycle's deadline on every request.
package prices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"polyarb/pkg/types"
)

// ErrRateLimited signals an upstream 429. The caller aborts the cycle and
// doubles its next poll interval.
var ErrRateLimited = errors.New("spot oracle rate limited")

// coinIDs maps canonical symbols to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"DOGE":  "dogecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
}

// coinMarket is the JSON shape of one entry in /coins/markets.
type coinMarket struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price"`
	Change24hPc  float64 `json:"price_change_percentage_24h"`
	TotalVolume  float64 `json:"total_volume"`
}

// marketChart is the JSON shape of /coins/{id}/market_chart.
// Each point is [unix_millis, value].
type marketChart struct {
	Prices [][2]float64 `json:"prices"`
}

// Client fetches spot prices and daily history from the oracle.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates an oracle client with retry and a circuit breaker.
func NewClient(baseURL string, logger *slog.Logger) *Client {
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
			// Never retry a 429 in-call; the loop handles backoff.
			return r.StatusCode() >= 500
		})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "spot-oracle",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		logger:  logger.With("component", "prices"),
	}
}

// Prices bulk-fetches current USD prices for the given symbols in a single
// upstream call. Unknown symbols are omitted from the result map; a partial
// map is not an error. A 429 returns ErrRateLimited.
func (c *Client) Prices(ctx context.Context, symbols []string) (map[string]types.SpotPrice, error) {
	ids := make([]string, 0, len(symbols))
	idToSymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		id, ok := coinIDs[strings.ToUpper(sym)]
		if !ok {
			c.logger.Debug("symbol not mapped to oracle id", "symbol", sym)
			continue
		}
		ids = append(ids, id)
		idToSymbol[id] = strings.ToUpper(sym)
	}
	if len(ids) == 0 {
		return map[string]types.SpotPrice{}, nil
	}

	res, err := c.breaker.Execute(func() (any, error) {
		var page []coinMarket
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"vs_currency": "usd",
				"ids":         strings.Join(ids, ","),
			}).
			SetResult(&page).
			Get("/coins/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch spot prices: %w", err)
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return nil, ErrRateLimited
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("fetch spot prices: status %d: %s", resp.StatusCode(), resp.String())
		}
		return page, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("spot oracle unavailable: %w", err)
		}
		return nil, err
	}

	now := time.Now().UTC()
	out := make(map[string]types.SpotPrice)
	for _, cm := range res.([]coinMarket) {
		sym, ok := idToSymbol[cm.ID]
		if !ok || cm.CurrentPrice <= 0 {
			continue
		}
		out[sym] = types.SpotPrice{
			Symbol:      sym,
			Price:       cm.CurrentPrice,
			Change24hPc: cm.Change24hPc,
			Volume24h:   cm.TotalVolume,
			AsOf:        now,
		}
	}
	return out, nil
}

// HistoricalSeries returns up to the last `days` daily closes for a symbol,
// oldest first. Used by the realized-volatility mode.
func (c *Client) HistoricalSeries(ctx context.Context, symbol string, days int) ([]float64, error) {
	id, ok := coinIDs[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("symbol %q not mapped to oracle id", symbol)
	}

	res, err := c.breaker.Execute(func() (any, error) {
		var chart marketChart
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"vs_currency": "usd",
				"days":        fmt.Sprintf("%d", days),
				"interval":    "daily",
			}).
			SetResult(&chart).
			Get("/coins/" + id + "/market_chart")
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return nil, ErrRateLimited
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode())
		}
		return &chart, nil
	})
	if err != nil {
		return nil, err
	}

	chart := res.(*marketChart)
	out := make([]float64, 0, len(chart.Prices))
	for _, point := range chart.Prices {
		if point[1] > 0 {
			out = append(out, point[1])
		}
	}
	return out, nil
}

// RealizedVol annualizes the standard deviation of daily log returns.
// Returns false when the series is too short to estimate from.
func RealizedVol(dailyCloses []float64) (float64, bool) {
	if len(dailyCloses) < 3 {
		return 0, false
	}
	returns := make([]float64, 0, len(dailyCloses)-1)
	for i := 1; i < len(dailyCloses); i++ {
		if dailyCloses[i-1] <= 0 || dailyCloses[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(dailyCloses[i]/dailyCloses[i-1]))
	}
	if len(returns) < 2 {
		return 0, false
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(365), true
}
