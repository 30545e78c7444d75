// Package pipeline discovers tradable opportunities: it pulls the most
// active markets from the Gamma API, parses their questions into price
// claims, enriches each claim with spot prices and a volatility surface,
// prices it with the probability models, and ranks the results by edge.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"polyarb/internal/gamma"
	"polyarb/internal/parser"
	"polyarb/internal/prices"
	"polyarb/internal/probability"
	"polyarb/internal/volatility"
	"polyarb/pkg/types"
)

// ErrPricesUnavailable signals a total spot-oracle outage. The trading loop
// skips the cycle rather than pricing claims against stale or missing spots.
var ErrPricesUnavailable = errors.New("no spot prices available")

// VolMode selects the volatility input for the z-score model.
type VolMode string

const (
	VolImplied  VolMode = "implied"  // ATM IV from the options exchange
	VolRealized VolMode = "realized" // annualized realized vol from daily closes
)

// MarketSource lists open markets, most active first.
type MarketSource interface {
	ActiveMarkets(ctx context.Context, limit int) ([]gamma.Market, error)
}

// PriceSource supplies current spots and historical closes.
type PriceSource interface {
	Prices(ctx context.Context, symbols []string) (map[string]types.SpotPrice, error)
	HistoricalSeries(ctx context.Context, symbol string, days int) ([]float64, error)
}

// SurfaceSource builds IV surfaces per symbol.
type SurfaceSource interface {
	Surface(ctx context.Context, symbol string) (*types.IVSurface, error)
}

// Options tunes a Pipeline.
type Options struct {
	Limit              int     // max opportunities per scan
	MaxConcurrency     int     // parallel surface fetches, capped at 10
	Mode               VolMode // volatility source for the z-score model
	RealizedWindowDays int     // lookback for realized vol
}

// Pipeline runs one full discovery scan per trading cycle.
type Pipeline struct {
	markets  MarketSource
	prices   PriceSource
	surfaces SurfaceSource
	opts     Options
	logger   *slog.Logger
}

// New assembles a pipeline. Zero or out-of-range option values fall back to
// safe defaults.
func New(markets MarketSource, px PriceSource, surfaces SurfaceSource, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.MaxConcurrency <= 0 || opts.MaxConcurrency > 10 {
		opts.MaxConcurrency = 10
	}
	if opts.Mode == "" {
		opts.Mode = VolImplied
	}
	if opts.RealizedWindowDays <= 0 {
		opts.RealizedWindowDays = 30
	}
	return &Pipeline{
		markets:  markets,
		prices:   px,
		surfaces: surfaces,
		opts:     opts,
		logger:   logger.With("component", "pipeline"),
	}
}

// Scan runs one discovery pass and returns opportunities sorted by edge
// magnitude, largest first. A rate-limited oracle propagates
// prices.ErrRateLimited; a fully dead oracle returns ErrPricesUnavailable.
func (p *Pipeline) Scan(ctx context.Context) ([]types.Opportunity, error) {
	snapshots, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	symbols := uniqueSymbols(snapshots)

	spots, err := p.prices.Prices(ctx, symbols)
	if err != nil {
		if errors.Is(err, prices.ErrRateLimited) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPricesUnavailable, err)
	}
	if len(spots) == 0 {
		return nil, ErrPricesUnavailable
	}

	surfaces, err := p.fetchSurfaces(ctx, symbols)
	if err != nil {
		return nil, err
	}

	realized := p.realizedVols(ctx, symbols)

	now := time.Now().UTC()
	out := make([]types.Opportunity, 0, len(snapshots))
	for _, snap := range snapshots {
		opp, ok := p.price(snap, spots, surfaces, realized, now)
		if !ok {
			continue
		}
		out = append(out, opp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].RankScore(), out[j].RankScore()
		if si != sj {
			return si > sj
		}
		vi, vj := out[i].Snapshot.Volume24h, out[j].Snapshot.Volume24h
		if vi != vj {
			return vi > vj
		}
		return out[i].Snapshot.Claim.Expiry.Before(out[j].Snapshot.Claim.Expiry)
	})

	p.logger.Info("scan complete",
		"markets_considered", len(snapshots),
		"opportunities", len(out),
	)
	return out, nil
}

// discover fetches three pages' worth of markets relative to the limit and
// keeps the first Limit parseable, still-live ones.
func (p *Pipeline) discover(ctx context.Context) ([]types.MarketSnapshot, error) {
	markets, err := p.markets.ActiveMarkets(ctx, 3*p.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("discover markets: %w", err)
	}

	now := time.Now().UTC()
	snapshots := make([]types.MarketSnapshot, 0, p.opts.Limit)
	for i := range markets {
		m := &markets[i]
		if len(snapshots) >= p.opts.Limit {
			break
		}

		hint, _ := m.EndDateTime()
		claim, err := parser.Parse(m.MarketID(), m.Question, hint)
		if err != nil {
			continue
		}
		if !claim.Expiry.After(now) {
			continue
		}
		prob, ok := m.FirstOutcomePrice()
		if !ok || prob <= 0 || prob >= 1 {
			// Effectively resolved, or the listing omitted prices.
			continue
		}

		yes, no, _ := m.TokenIDs()
		snapshots = append(snapshots, types.MarketSnapshot{
			Claim:          claim,
			PolymarketProb: prob,
			YesTokenID:     yes,
			NoTokenID:      no,
			Volume24h:      m.Volume24hr,
		})
	}

	p.logger.Debug("markets parsed", "fetched", len(markets), "kept", len(snapshots))
	return snapshots, nil
}

// fetchSurfaces builds one surface per symbol with bounded parallelism.
// Surface construction degrades internally, so the only error out of the
// group is context cancellation.
func (p *Pipeline) fetchSurfaces(ctx context.Context, symbols []string) (map[string]*types.IVSurface, error) {
	out := make(map[string]*types.IVSurface, len(symbols))
	results := make([]*types.IVSurface, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxConcurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			surface, err := p.surfaces.Surface(gctx, sym)
			if err != nil {
				return err
			}
			results[i] = surface
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch surfaces: %w", err)
	}

	for i, sym := range symbols {
		out[sym] = results[i]
	}
	return out, nil
}

// realizedVols computes annualized realized vol per symbol when the pipeline
// runs in realized mode. Symbols with a too-short series just fall back to
// the surface vol at pricing time.
func (p *Pipeline) realizedVols(ctx context.Context, symbols []string) map[string]float64 {
	if p.opts.Mode != VolRealized {
		return nil
	}

	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		series, err := p.prices.HistoricalSeries(ctx, sym, p.opts.RealizedWindowDays)
		if err != nil {
			p.logger.Warn("historical series unavailable", "symbol", sym, "error", err)
			continue
		}
		if vol, ok := prices.RealizedVol(series); ok {
			out[sym] = vol
		}
	}
	return out
}

// price turns one snapshot into an opportunity. Returns false when a required
// input (spot, positive time to expiry) is missing.
func (p *Pipeline) price(
	snap types.MarketSnapshot,
	spots map[string]types.SpotPrice,
	surfaces map[string]*types.IVSurface,
	realized map[string]float64,
	now time.Time,
) (types.Opportunity, bool) {
	spot, ok := spots[snap.Claim.Symbol]
	if !ok {
		p.logger.Debug("no spot price, skipping", "market", snap.Claim.MarketID, "symbol", snap.Claim.Symbol)
		return types.Opportunity{}, false
	}

	timeYears := snap.Claim.Expiry.Sub(now).Hours() / 24 / 365
	if timeYears <= 0 {
		return types.Opportunity{}, false
	}

	surface := surfaces[snap.Claim.Symbol]
	if surface == nil {
		surface = volatility.DefaultSurface(snap.Claim.Symbol, spot.Price)
	}

	vol := surface.ATMIV
	if rv, ok := realized[snap.Claim.Symbol]; ok && rv > 0 {
		vol = rv
	}

	zEst := probability.ZScoreEstimate(snap.Claim, spot.Price, vol, timeYears)
	edgeZ, signal, conf := probability.ClassifyEdge(snap.PolymarketProb, zEst.Probability)

	opp := types.Opportunity{
		Snapshot:       snap,
		Spot:           spot,
		Surface:        surface,
		ZScoreEstimate: zEst,
		EdgeZ:          edgeZ,
		Signal:         signal,
		Confidence:     conf,
	}

	// The delta model only adds information when the exchange actually
	// quotes a smile for the symbol.
	if !surface.IsDefault {
		iv, quotedDelta := volatility.IVForStrike(surface, snap.Claim.TargetPrice)
		if dEst, ok := probability.DeltaEstimate(snap.Claim, spot.Price, iv, timeYears, quotedDelta); ok {
			edgeDelta, signal, conf := probability.ClassifyEdge(snap.PolymarketProb, dEst.Probability)
			opp.DeltaEstimate = &dEst
			opp.EdgeDelta = &edgeDelta
			opp.Signal = signal
			opp.Confidence = conf
		}
	}

	return opp, true
}

func uniqueSymbols(snapshots []types.MarketSnapshot) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 4)
	for _, snap := range snapshots {
		sym := strings.ToUpper(snap.Claim.Symbol)
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}
