package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyarb/internal/gamma"
	"polyarb/internal/prices"
	"polyarb/internal/volatility"
	"polyarb/pkg/types"
)

type fakeMarkets struct {
	markets []gamma.Market
	err     error
}

func (f *fakeMarkets) ActiveMarkets(context.Context, int) ([]gamma.Market, error) {
	return f.markets, f.err
}

type fakePrices struct {
	spots  map[string]types.SpotPrice
	err    error
	series map[string][]float64
}

func (f *fakePrices) Prices(context.Context, []string) (map[string]types.SpotPrice, error) {
	return f.spots, f.err
}

func (f *fakePrices) HistoricalSeries(_ context.Context, symbol string, _ int) ([]float64, error) {
	s, ok := f.series[symbol]
	if !ok {
		return nil, fmt.Errorf("no series for %s", symbol)
	}
	return s, nil
}

type fakeSurfaces struct {
	surfaces map[string]*types.IVSurface
}

func (f *fakeSurfaces) Surface(_ context.Context, symbol string) (*types.IVSurface, error) {
	if s, ok := f.surfaces[symbol]; ok {
		return s, nil
	}
	return volatility.DefaultSurface(symbol, 0), nil
}

func btcMarket(id, question string, price float64, endDate time.Time) gamma.Market {
	return gamma.Market{
		ID:            id,
		ConditionID:   "cond-" + id,
		Question:      question,
		Active:        true,
		EndDate:       endDate.Format(time.RFC3339),
		Volume24hr:    1000,
		Outcomes:      types.FlexStrings{"Yes", "No"},
		OutcomePrices: types.FlexFloats{price, 1 - price},
		ClobTokenIds:  types.FlexStrings{"yes-" + id, "no-" + id},
	}
}

func spotBTC(price float64) map[string]types.SpotPrice {
	return map[string]types.SpotPrice{
		"BTC": {Symbol: "BTC", Price: price, AsOf: time.Now().UTC()},
	}
}

func newTestPipeline(m MarketSource, p PriceSource, s SurfaceSource, opts Options) *Pipeline {
	return New(m, p, s, opts, slog.New(slog.DiscardHandler))
}

func TestScanFiltersAndRanks(t *testing.T) {
	t.Parallel()
	future := time.Now().Add(60 * 24 * time.Hour)

	markets := &fakeMarkets{markets: []gamma.Market{
		btcMarket("a", "Will Bitcoin hit $200,000 by "+future.Format("January 2, 2006")+"?", 0.40, future),
		btcMarket("b", "Will Bitcoin market cap exceed $3T in 2027?", 0.50, future), // unparseable
		btcMarket("c", "Will Bitcoin hit $1,000,000 by "+future.Format("January 2, 2006")+"?", 0.30, future),
		btcMarket("d", "Will Bitcoin hit $150,000 by "+future.Format("January 2, 2006")+"?", 1.0, future), // resolved
	}}

	p := newTestPipeline(markets, &fakePrices{spots: spotBTC(100_000)}, &fakeSurfaces{}, Options{Limit: 10})
	opps, err := p.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, opps, 2, "unparseable and resolved markets must be dropped")
	// Both model probabilities are tiny at these strikes, so the edges are
	// roughly the market prices and the 0.40 market ranks first.
	assert.Equal(t, "cond-a", opps[0].Snapshot.Claim.MarketID)
	assert.Equal(t, "cond-c", opps[1].Snapshot.Claim.MarketID)
	assert.GreaterOrEqual(t, opps[0].RankScore(), opps[1].RankScore())

	for _, o := range opps {
		assert.NotZero(t, o.Signal)
		assert.NotNil(t, o.Surface)
		assert.True(t, o.Surface.IsDefault, "no smile was provided")
		assert.Nil(t, o.DeltaEstimate, "default surface must not produce a delta estimate")
	}
}

func TestScanLimit(t *testing.T) {
	t.Parallel()
	future := time.Now().Add(60 * 24 * time.Hour)

	var ms []gamma.Market
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("m%d", i)
		ms = append(ms, btcMarket(id, "Will Bitcoin hit $200,000 by "+future.Format("January 2, 2006")+"?", 0.40, future))
	}

	p := newTestPipeline(&fakeMarkets{markets: ms}, &fakePrices{spots: spotBTC(100_000)}, &fakeSurfaces{}, Options{Limit: 3})
	opps, err := p.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, opps, 3)
}

func TestScanRateLimited(t *testing.T) {
	t.Parallel()
	future := time.Now().Add(60 * 24 * time.Hour)

	markets := &fakeMarkets{markets: []gamma.Market{
		btcMarket("a", "Will Bitcoin hit $200,000 by "+future.Format("January 2, 2006")+"?", 0.40, future),
	}}
	p := newTestPipeline(markets, &fakePrices{err: prices.ErrRateLimited}, &fakeSurfaces{}, Options{})

	_, err := p.Scan(context.Background())
	assert.ErrorIs(t, err, prices.ErrRateLimited)
}

func TestScanPricesUnavailable(t *testing.T) {
	t.Parallel()
	future := time.Now().Add(60 * 24 * time.Hour)

	markets := &fakeMarkets{markets: []gamma.Market{
		btcMarket("a", "Will Bitcoin hit $200,000 by "+future.Format("January 2, 2006")+"?", 0.40, future),
	}}

	p := newTestPipeline(markets, &fakePrices{err: fmt.Errorf("oracle down")}, &fakeSurfaces{}, Options{})
	_, err := p.Scan(context.Background())
	assert.ErrorIs(t, err, ErrPricesUnavailable)

	p = newTestPipeline(markets, &fakePrices{spots: map[string]types.SpotPrice{}}, &fakeSurfaces{}, Options{})
	_, err = p.Scan(context.Background())
	assert.ErrorIs(t, err, ErrPricesUnavailable)
}

func TestScanDeltaFromSmile(t *testing.T) {
	t.Parallel()
	future := time.Now().Add(60 * 24 * time.Hour)

	markets := &fakeMarkets{markets: []gamma.Market{
		btcMarket("a", "Will Bitcoin hit $200,000 by "+future.Format("January 2, 2006")+"?", 0.40, future),
	}}
	quoted := 0.22
	surfaces := &fakeSurfaces{surfaces: map[string]*types.IVSurface{
		"BTC": {
			Symbol:          "BTC",
			UnderlyingPrice: 100_000,
			ATMIV:           0.55,
			PerStrike: map[float64]types.StrikeQuote{
				200_000: {CallIV: 0.70, CallDelta: &quoted},
			},
		},
	}}

	p := newTestPipeline(markets, &fakePrices{spots: spotBTC(100_000)}, surfaces, Options{})
	opps, err := p.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	require.NotNil(t, opp.DeltaEstimate, "a real smile must produce a delta estimate")
	require.NotNil(t, opp.EdgeDelta)
	assert.Equal(t, types.MethodOptionsDelta, opp.DeltaEstimate.Method)
	// One-touch above with quoted delta 0.22: P = min(1, 2*0.22) = 0.44.
	assert.InDelta(t, 0.44, opp.DeltaEstimate.Probability, 1e-9)
	assert.InDelta(t, 0.40-0.44, *opp.EdgeDelta, 1e-9)
	assert.InDelta(t, opp.EffectiveEdge(), *opp.EdgeDelta, 1e-12)
}

func TestScanRealizedVolMode(t *testing.T) {
	t.Parallel()
	future := time.Now().Add(60 * 24 * time.Hour)

	markets := &fakeMarkets{markets: []gamma.Market{
		btcMarket("a", "Will Bitcoin hit $200,000 by "+future.Format("January 2, 2006")+"?", 0.40, future),
	}}
	px := &fakePrices{
		spots: spotBTC(100_000),
		series: map[string][]float64{
			"BTC": {100, 110, 99, 105, 120, 98, 107},
		},
	}

	p := newTestPipeline(markets, px, &fakeSurfaces{}, Options{Mode: VolRealized, RealizedWindowDays: 7})
	opps, err := p.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)

	rv, ok := prices.RealizedVol(px.series["BTC"])
	require.True(t, ok)
	assert.InDelta(t, rv, opps[0].ZScoreEstimate.VolatilityUsed, 1e-12)
}

func TestScanMarketSourceError(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&fakeMarkets{err: fmt.Errorf("gamma down")}, &fakePrices{}, &fakeSurfaces{}, Options{})
	_, err := p.Scan(context.Background())
	assert.Error(t, err)
}
