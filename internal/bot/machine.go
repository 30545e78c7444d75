// Package bot runs the trading state machine: a single-writer loop that
// scans for opportunities each cycle, marks open positions, exits the ones
// whose edge has decayed or flipped, enters new ones through the gate chain,
// and persists the whole state atomically as the last step of the cycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polyarb/internal/config"
	"polyarb/internal/executor"
	"polyarb/internal/prices"
	"polyarb/internal/store"
	"polyarb/pkg/types"
)

// Scanner produces the ranked opportunity list for one cycle.
type Scanner interface {
	Scan(ctx context.Context) ([]types.Opportunity, error)
}

// Machine is the trading state machine. It is the sole mutator of the
// persisted BotState; cycles never overlap because the loop runs them inline.
type Machine struct {
	cfg     config.TradingConfig
	scanner Scanner
	exec    executor.Executor
	store   *store.Store
	logger  *slog.Logger

	state *types.BotState
	// Set when a cycle hit the oracle's rate limit; the next wait doubles
	// once, then the interval returns to normal.
	backoffOnce bool
}

// New loads persisted state (or seeds a fresh one from the starting balance)
// and assembles the machine. A corrupt state file is a hard startup error.
func New(cfg config.TradingConfig, scanner Scanner, exec executor.Executor, st *store.Store, logger *slog.Logger) (*Machine, error) {
	state, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		state = &types.BotState{
			StartingBalance: cfg.StartingBalance,
			CurrentBalance:  cfg.StartingBalance,
			OpenPositions:   make(map[string]*types.Position),
		}
		logger.Info("starting fresh", "balance", cfg.StartingBalance)
	} else {
		logger.Info("state restored",
			"balance", state.CurrentBalance,
			"open_positions", len(state.OpenPositions),
			"realized_pnl", state.TotalRealizedPnL,
		)
	}

	return &Machine{
		cfg:     cfg,
		scanner: scanner,
		exec:    exec,
		store:   st,
		logger:  logger.With("component", "bot", "executor", exec.Name()),
		state:   state,
	}, nil
}

// State returns the live state document. Read-only use outside the loop.
func (m *Machine) State() *types.BotState { return m.state }

// Run executes cycles until the context is canceled, then persists a final
// snapshot with IsRunning cleared.
func (m *Machine) Run(ctx context.Context) error {
	m.state.IsRunning = true

	timer := time.NewTimer(0) // first cycle immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.state.IsRunning = false
			m.state.LastUpdate = time.Now().UTC()
			if err := m.store.Save(m.state); err != nil {
				m.logger.Error("final save failed", "error", err)
				return err
			}
			m.logger.Info("stopped", "balance", m.state.CurrentBalance)
			return ctx.Err()
		case <-timer.C:
			m.cycle(ctx, time.Now().UTC())

			wait := m.cfg.PollInterval
			if m.backoffOnce {
				wait *= 2
				m.backoffOnce = false
				m.logger.Warn("rate limited, doubling next wait", "wait", wait)
			}
			timer.Reset(wait)
		}
	}
}

// cycle is one full pass: scan, mark, exit, enter, persist. Any scan failure
// aborts the cycle before positions are touched.
func (m *Machine) cycle(ctx context.Context, now time.Time) {
	opps, err := m.scanner.Scan(ctx)
	switch {
	case errors.Is(err, prices.ErrRateLimited):
		m.state.LastError = "rate-limited"
		m.backoffOnce = true
		m.persist(now)
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("scan failed, skipping cycle", "error", err)
		m.state.LastError = err.Error()
		m.persist(now)
		return
	}
	m.state.LastError = ""

	byMarket := make(map[string]*types.Opportunity, len(opps))
	for i := range opps {
		byMarket[opps[i].Snapshot.Claim.MarketID] = &opps[i]
	}

	m.markPositions(byMarket)
	m.runExits(ctx, byMarket, now)
	m.runEntries(ctx, opps, now)
	m.verifyInvariants()
	m.persist(now)
}

// verifyInvariants audits the state after each cycle. A violation indicates a
// bookkeeping bug; it is logged loudly but the state is still persisted so
// the evidence survives.
func (m *Machine) verifyInvariants() {
	var exposure float64
	for id, pos := range m.state.OpenPositions {
		exposure += pos.Notional
		if pos.Notional > m.cfg.MaxPositionSize {
			m.logger.Error("invariant violated: position exceeds max size",
				"market", id, "notional", pos.Notional, "max", m.cfg.MaxPositionSize)
		}
		shortEdge := pos.EntryEdge > 0
		if shortEdge != (pos.Side == types.SideShort) {
			m.logger.Error("invariant violated: side inconsistent with entry edge",
				"market", id, "side", pos.Side, "entry_edge", pos.EntryEdge)
		}
	}
	if exposure > m.cfg.MaxTotalExposure+1e-9 {
		m.logger.Error("invariant violated: total exposure above cap",
			"exposure", exposure, "cap", m.cfg.MaxTotalExposure)
	}
	if m.state.CurrentBalance < 0 {
		m.logger.Error("invariant violated: negative balance",
			"balance", m.state.CurrentBalance)
	}
}

// markPositions refreshes each open position's price, edge, and unrealized
// PnL from this cycle's scan.
func (m *Machine) markPositions(byMarket map[string]*types.Opportunity) {
	for id, pos := range m.state.OpenPositions {
		opp, ok := byMarket[id]
		if !ok {
			continue
		}
		pos.CurrentPrice = opp.Snapshot.PolymarketProb
		pos.CurrentEdge = opp.EffectiveEdge()
		pos.UnrealizedPnL = pos.MarkPnL(pos.CurrentPrice)
	}
}

// runExits closes positions whose edge has decayed below the exit threshold,
// flipped sign with conviction, or whose market is gone past expiry.
func (m *Machine) runExits(ctx context.Context, byMarket map[string]*types.Opportunity, now time.Time) {
	ids := make([]string, 0, len(m.state.OpenPositions))
	for id := range m.state.OpenPositions {
		ids = append(ids, id)
	}

	for _, id := range ids {
		pos := m.state.OpenPositions[id]
		opp, ok := byMarket[id]
		if !ok {
			// Market left the listing. Settle only once its expiry has
			// passed, at the last price we marked it at.
			if now.After(pos.Expiry) {
				m.settle(pos, nil, pos.CurrentPrice, types.CloseExpired, now)
			}
			continue
		}

		// Both the decayed-edge and flipped-edge branches book as edge-aligned.
		edge := pos.CurrentEdge
		decayed := math.Abs(edge) < m.cfg.MaxEdgeToExit
		flipped := edge*pos.EntryEdge < 0 && math.Abs(edge) >= m.cfg.MinEdgeToEnter
		if !decayed && !flipped {
			continue
		}
		reason := types.CloseEdgeAligned

		fill, err := m.exec.Close(ctx, executor.CloseOrder{
			Position:    *pos,
			YesTokenID:  opp.Snapshot.YesTokenID,
			NoTokenID:   opp.Snapshot.NoTokenID,
			MarketPrice: opp.Snapshot.PolymarketProb,
		})
		if err != nil {
			m.logger.Warn("close failed, keeping position",
				"market", id, "reason", reason, "error", err)
			continue
		}
		m.settle(pos, opp, fill.FilledPrice, reason, now)
	}
}

// settle books a close: realized PnL, balance credit, counters, trade log.
// opp is nil when the market is no longer listed (expiry settles).
func (m *Machine) settle(pos *types.Position, opp *types.Opportunity, price float64, reason types.CloseReason, now time.Time) {
	pnl := roundCents(pos.MarkPnL(price))

	pos.Status = types.StatusClosed
	if reason == types.CloseExpired {
		pos.Status = types.StatusExpired
	}
	pos.CloseReason = reason
	pos.ClosePrice = price
	pos.CloseTime = now
	pos.RealizedPnL = pnl
	pos.CurrentPrice = price
	pos.UnrealizedPnL = 0

	m.state.CurrentBalance = roundCents(m.state.CurrentBalance + pos.Notional + pnl)
	m.state.TotalRealizedPnL = roundCents(m.state.TotalRealizedPnL + pnl)
	if pnl > 0 {
		m.state.WinCount++
	} else if pnl < 0 {
		m.state.LossCount++
	}

	m.state.ClosedPositions = append(m.state.ClosedPositions, *pos)
	delete(m.state.OpenPositions, pos.MarketID)

	trade := types.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Timestamp:  now,
		Action:     "close",
		Side:       pos.Side,
		Price:      price,
		Notional:   pos.Notional,
		Shares:     pos.Shares,
		Edge:       pos.CurrentEdge,
		PnL:        &pnl,
	}
	if opp != nil {
		trade.ZScoreProb = opp.ZScoreEstimate.Probability
		trade.SpotAtTrade = opp.Spot.Price
		if opp.DeltaEstimate != nil {
			v := opp.DeltaEstimate.Probability
			trade.DeltaProb = &v
		}
	}
	m.state.Trades = append(m.state.Trades, trade)

	m.logger.Info("position closed",
		"market", pos.MarketID,
		"reason", reason,
		"price", price,
		"pnl", pnl,
		"balance", m.state.CurrentBalance,
	)
}

// runEntries walks the ranked opportunities through the gate chain and opens
// positions for the survivors.
func (m *Machine) runEntries(ctx context.Context, opps []types.Opportunity, now time.Time) {
	for i := range opps {
		opp := &opps[i]
		id := opp.Snapshot.Claim.MarketID

		if _, open := m.state.OpenPositions[id]; open {
			continue
		}

		prob := opp.Snapshot.PolymarketProb
		if prob <= 0.01 || prob >= 0.99 {
			// Effectively resolved; entering buys settlement risk, not edge.
			continue
		}
		if touched(opp.Snapshot.Claim, opp.Spot.Price) {
			continue
		}

		model := opp.ModelProb()
		if (prob > 0.90 && model > 0.90) || (prob < 0.10 && model < 0.10) {
			// Market and model agree on a near-certain outcome.
			continue
		}

		edge := opp.EffectiveEdge()
		if math.Abs(edge) < m.cfg.MinEdgeToEnter {
			continue
		}
		if days := opp.Snapshot.Claim.Expiry.Sub(now).Hours() / 24; days < m.cfg.MinTimeToExpiry {
			continue
		}

		size := m.positionSize(edge)
		if size <= 0 {
			continue
		}
		if size > m.state.CurrentBalance {
			m.logger.Debug("insufficient balance", "market", id, "size", size,
				"balance", m.state.CurrentBalance)
			continue
		}

		side := types.SideLong
		if edge > 0 {
			side = types.SideShort
		}

		fill, err := m.exec.Open(ctx, executor.OpenOrder{
			Claim:       opp.Snapshot.Claim,
			YesTokenID:  opp.Snapshot.YesTokenID,
			NoTokenID:   opp.Snapshot.NoTokenID,
			Side:        side,
			Notional:    size,
			MarketPrice: prob,
		})
		if err != nil {
			m.logger.Warn("open failed", "market", id, "error", err)
			continue
		}

		pos := &types.Position{
			ID:          uuid.NewString(),
			MarketID:    id,
			Question:    opp.Snapshot.Claim.Question,
			Symbol:      opp.Snapshot.Claim.Symbol,
			TargetPrice: opp.Snapshot.Claim.TargetPrice,
			Direction:   opp.Snapshot.Claim.Direction,
			BetType:     opp.Snapshot.Claim.BetType,
			Expiry:      opp.Snapshot.Claim.Expiry,

			Side:       side,
			EntryPrice: fill.FilledPrice,
			Notional:   size,
			EntryEdge:  edge,
			EntryTime:  now,

			CurrentPrice: fill.FilledPrice,
			CurrentEdge:  edge,
			Status:       types.StatusOpen,
		}
		pos.Shares = size / pos.EffectivePrice()

		m.state.CurrentBalance = roundCents(m.state.CurrentBalance - size)
		m.state.OpenPositions[id] = pos

		var deltaProb *float64
		if opp.DeltaEstimate != nil {
			v := opp.DeltaEstimate.Probability
			deltaProb = &v
		}
		m.state.Trades = append(m.state.Trades, types.Trade{
			ID:          uuid.NewString(),
			PositionID:  pos.ID,
			MarketID:    id,
			Timestamp:   now,
			Action:      "open",
			Side:        side,
			Price:       fill.FilledPrice,
			Notional:    size,
			Shares:      pos.Shares,
			Edge:        edge,
			ZScoreProb:  opp.ZScoreEstimate.Probability,
			DeltaProb:   deltaProb,
			SpotAtTrade: opp.Spot.Price,
		})

		m.logger.Info("position opened",
			"market", id,
			"side", side,
			"size", size,
			"price", fill.FilledPrice,
			"edge", edge,
			"balance", m.state.CurrentBalance,
		)
	}
}

// positionSize is min(max size, remaining exposure, base + |edge|·multiplier),
// rounded to cents. Zero or negative when the exposure cap is exhausted.
func (m *Machine) positionSize(edge float64) float64 {
	remaining := m.cfg.MaxTotalExposure - m.state.OpenExposure()
	if remaining <= 0 {
		return 0
	}
	size := m.cfg.BasePositionSize + math.Abs(edge)*m.cfg.EdgeMultiplier
	size = math.Min(size, m.cfg.MaxPositionSize)
	size = math.Min(size, remaining)
	return roundCents(size)
}

// touched reports whether a one-touch claim's target has already traded,
// which means the market will resolve YES regardless of the model.
func touched(claim types.CryptoClaim, spot float64) bool {
	if claim.BetType != types.BetOneTouch || spot <= 0 {
		return false
	}
	if claim.Direction == types.DirBelow {
		return spot <= claim.TargetPrice
	}
	return spot >= claim.TargetPrice
}

// persist writes the state as the cycle's final step.
func (m *Machine) persist(now time.Time) {
	m.state.LastUpdate = now
	if m.exec.Name() == "live" {
		m.state.MaxExposure = m.cfg.MaxTotalExposure
		m.state.CurrentExposure = m.state.OpenExposure()
	}
	if err := m.store.Save(m.state); err != nil {
		m.logger.Error("persist failed", "error", err)
	}
}

// roundCents rounds a USD amount to two decimal places.
func roundCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
