// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — claims parsed from
// market questions, spot prices, volatility surfaces, probability estimates,
// opportunities, positions, and the persisted bot state. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// BetType distinguishes settle-at-expiry markets from path-dependent ones.
type BetType string

const (
	BetBinary   BetType = "binary"    // pays if price settles past target at expiry
	BetOneTouch BetType = "one-touch" // pays if price touches target any time before expiry
)

// Direction is the side of the target the market asks about.
type Direction string

const (
	DirAbove Direction = "above"
	DirBelow Direction = "below"
)

// Side is our position direction on the market's first outcome.
type Side string

const (
	SideLong  Side = "long"  // own YES exposure: profits if polymarketProb rises
	SideShort Side = "short" // own NO exposure: profits if polymarketProb falls
)

// OrderSide is the wire-level CLOB order direction.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// Signal is the trading recommendation derived from the edge.
type Signal string

const (
	SignalBuy     Signal = "buy"
	SignalSell    Signal = "sell"
	SignalNeutral Signal = "neutral"
)

// Confidence buckets the edge magnitude.
type Confidence string

const (
	ConfHigh   Confidence = "high"   // |edge| > 0.10
	ConfMedium Confidence = "medium" // |edge| > 0.05
	ConfLow    Confidence = "low"
)

// Method identifies which model produced a probability estimate.
type Method string

const (
	MethodZScore         Method = "zscore"
	MethodOptionsDelta   Method = "options-delta"
	MethodVerticalSpread Method = "vertical-spread"
)

// PositionStatus is the lifecycle state of a position. Terminal states
// (closed, expired) are absorbing.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusClosed  PositionStatus = "closed"
	StatusExpired PositionStatus = "expired"
)

// CloseReason records why a position left the open set.
type CloseReason string

const (
	CloseEdgeAligned CloseReason = "edge-aligned" // edge decayed or flipped
	CloseExpired     CloseReason = "expired"
	CloseManual      CloseReason = "manual"
)

// ————————————————————————————————————————————————————————————————————————
// Claims and market snapshots
// ————————————————————————————————————————————————————————————————————————

// CryptoClaim is the structured reading of a free-text price-target question,
// e.g. "Will Bitcoin hit $200k by December 31, 2025?". Immutable once parsed;
// two claims with the same MarketID must be equal.
type CryptoClaim struct {
	MarketID    string    `json:"marketId"`
	Question    string    `json:"question"`
	Symbol      string    `json:"symbol"`      // e.g. "BTC"
	TargetPrice float64   `json:"targetPrice"` // USD, > 0
	Expiry      time.Time `json:"expiry"`      // UTC, future at parse time
	BetType     BetType   `json:"betType"`
	Direction   Direction `json:"direction"`
}

// MarketSnapshot pairs a claim with the market's current pricing.
// PolymarketProb is the first-outcome price in (0,1); 0 or 1 means the
// market has effectively resolved and is excluded upstream.
type MarketSnapshot struct {
	Claim          CryptoClaim `json:"claim"`
	PolymarketProb float64     `json:"polymarketProb"`
	YesTokenID     string      `json:"yesTokenId"`
	NoTokenID      string      `json:"noTokenId"`
	Volume24h      float64     `json:"volume24h"`
}

// SpotPrice is the oracle's current USD quote for one symbol.
type SpotPrice struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Change24hPc float64   `json:"change24hPc"`
	Volume24h   float64   `json:"volume24h"`
	AsOf        time.Time `json:"asOf"`
}

// ————————————————————————————————————————————————————————————————————————
// Volatility
// ————————————————————————————————————————————————————————————————————————

// StrikeQuote holds the options exchange's per-strike implied vols and deltas.
// Deltas are nil when the exchange ticker omitted greeks.
type StrikeQuote struct {
	CallIV       float64   `json:"callIv"` // decimal, e.g. 0.55 = 55%
	CallDelta    *float64  `json:"callDelta,omitempty"`
	PutIV        float64   `json:"putIv"`
	PutDelta     *float64  `json:"putDelta,omitempty"`
	Expiry       time.Time `json:"expiry"`
	DaysToExpiry float64   `json:"daysToExpiry"`
}

// IVSurface is the volatility view for one symbol. For symbols the options
// exchange doesn't list, IsDefault is true, ATMIV is the hard-coded default
// vol, and PerStrike is empty.
type IVSurface struct {
	Symbol          string                  `json:"symbol"`
	UnderlyingPrice float64                 `json:"underlyingPrice"`
	ATMIV           float64                 `json:"atmIv"` // decimal annualized vol
	PerStrike       map[float64]StrikeQuote `json:"perStrike,omitempty"`
	IsDefault       bool                    `json:"isDefault"`
	FetchedAt       time.Time               `json:"fetchedAt"`
}

// ————————————————————————————————————————————————————————————————————————
// Probability estimates and opportunities
// ————————————————————————————————————————————————————————————————————————

// ProbabilityEstimate is one model's view of the claim's true probability.
// AuditTrail is advisory (human-readable derivation steps), not load-bearing.
type ProbabilityEstimate struct {
	Method         Method   `json:"method"`
	Probability    float64  `json:"probability"` // clamped to [0,1]
	VolatilityUsed float64  `json:"volatilityUsed"`
	TimeToExpiry   float64  `json:"timeToExpiry"` // years, >= 0
	ZScore         *float64 `json:"zScore,omitempty"`
	Delta          *float64 `json:"delta,omitempty"`
	AuditTrail     []string `json:"auditTrail,omitempty"`
}

// Opportunity is a fully-enriched market: snapshot + spot + vol + estimates
// + edges. EdgeZ = polymarketProb − zscore model prob; EdgeDelta likewise for
// the options-delta model when available.
type Opportunity struct {
	Snapshot       MarketSnapshot       `json:"snapshot"`
	Spot           SpotPrice            `json:"spot"`
	Surface        *IVSurface           `json:"ivSurface,omitempty"`
	ZScoreEstimate ProbabilityEstimate  `json:"zscoreEstimate"`
	DeltaEstimate  *ProbabilityEstimate `json:"deltaEstimate,omitempty"`
	EdgeZ          float64              `json:"edgeZ"`
	EdgeDelta      *float64             `json:"edgeDelta,omitempty"`
	Signal         Signal               `json:"signal"`
	Confidence     Confidence           `json:"confidence"`
}

// EffectiveEdge prefers the options-delta edge when present, else the
// zscore edge. The entry gates and sizing use this value.
func (o *Opportunity) EffectiveEdge() float64 {
	if o.EdgeDelta != nil {
		return *o.EdgeDelta
	}
	return o.EdgeZ
}

// ModelProb returns the probability from the same model EffectiveEdge uses.
func (o *Opportunity) ModelProb() float64 {
	if o.DeltaEstimate != nil {
		return o.DeltaEstimate.Probability
	}
	return o.ZScoreEstimate.Probability
}

// RankScore is the sort key for the opportunity list: the larger of the two
// edge magnitudes.
func (o *Opportunity) RankScore() float64 {
	score := abs(o.EdgeZ)
	if o.EdgeDelta != nil && abs(*o.EdgeDelta) > score {
		score = abs(*o.EdgeDelta)
	}
	return score
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// ————————————————————————————————————————————————————————————————————————
// Positions, trades, bot state
// ————————————————————————————————————————————————————————————————————————

// Position is one open or closed bet on a market. At most one open position
// exists per MarketID. Shares = Notional / effective price, where the
// effective price is EntryPrice for long and 1−EntryPrice for short.
type Position struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"marketId"`
	Question    string    `json:"question"`
	Symbol      string    `json:"symbol"`
	TargetPrice float64   `json:"targetPrice"`
	Direction   Direction `json:"direction"`
	BetType     BetType   `json:"betType"`
	Expiry      time.Time `json:"expiry"`

	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entryPrice"` // in (0,1)
	Notional   float64   `json:"notional"`   // USD committed
	Shares     float64   `json:"shares"`
	EntryEdge  float64   `json:"entryEdge"`
	EntryTime  time.Time `json:"entryTimestamp"`

	CurrentPrice  float64 `json:"currentPrice"`
	CurrentEdge   float64 `json:"currentEdge"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`

	Status      PositionStatus `json:"status"`
	CloseReason CloseReason    `json:"closeReason,omitempty"`
	ClosePrice  float64        `json:"closePrice,omitempty"`
	CloseTime   time.Time      `json:"closeTimestamp,omitempty"`
	RealizedPnL float64        `json:"realizedPnl,omitempty"`
}

// EffectivePrice returns the per-share cost basis for the position's side.
func (p *Position) EffectivePrice() float64 {
	if p.Side == SideShort {
		return 1 - p.EntryPrice
	}
	return p.EntryPrice
}

// MarkPnL computes PnL for the position at the given market price.
func (p *Position) MarkPnL(price float64) float64 {
	if p.Side == SideShort {
		return p.Shares * (p.EntryPrice - price)
	}
	return p.Shares * (price - p.EntryPrice)
}

// Trade is one row of the append-only trade log.
type Trade struct {
	ID          string    `json:"id"`
	PositionID  string    `json:"positionId"`
	MarketID    string    `json:"marketId"`
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"` // "open" or "close"
	Side        Side      `json:"side"`
	Price       float64   `json:"price"`
	Notional    float64   `json:"notional"`
	Shares      float64   `json:"shares"`
	Edge        float64   `json:"edge"`
	ZScoreProb  float64   `json:"zscoreProb"`
	DeltaProb   *float64  `json:"deltaProb,omitempty"`
	SpotAtTrade float64   `json:"spotAtTrade"`
	PnL         *float64  `json:"pnl,omitempty"` // set only on close
}

// BotState is the single persisted document. Its sole mutator is the trading
// state machine; everything else reads the file the store writes.
//
// Invariant: CurrentBalance + Σ notional(open) = StartingBalance + TotalRealizedPnL.
type BotState struct {
	StartingBalance  float64              `json:"startingBalance"`
	CurrentBalance   float64              `json:"currentBalance"`
	TotalRealizedPnL float64              `json:"totalRealizedPnl"`
	OpenPositions    map[string]*Position `json:"openPositions"` // keyed by MarketID
	ClosedPositions  []Position           `json:"closedPositions"`
	Trades           []Trade              `json:"trades"`
	IsRunning        bool                 `json:"isRunning"`
	LastUpdate       time.Time            `json:"lastUpdate"`
	LastError        string               `json:"lastError,omitempty"`
	WinCount         int                  `json:"winCount"`
	LossCount        int                  `json:"lossCount"`

	// Live-executor extras (real-bot-state.json).
	MaxExposure     float64 `json:"maxExposure,omitempty"`
	CurrentExposure float64 `json:"currentExposure,omitempty"`
}

// OpenExposure sums the notionals of all open positions.
func (s *BotState) OpenExposure() float64 {
	var total float64
	for _, p := range s.OpenPositions {
		total += p.Notional
	}
	return total
}

// Fill reports the executor's result for a submitted order. FilledPrice is
// always on the first-outcome (YES) basis regardless of which token traded,
// so Position.EntryPrice has one convention across executors.
type Fill struct {
	OrderID     string  `json:"orderId"`
	FilledPrice float64 `json:"filledPrice"`
}

// ————————————————————————————————————————————————————————————————————————
// CLOB order book (wire types)
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Price and Size are strings
// because the CLOB API returns them as strings to preserve precision.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
}

// BestAsk returns the lowest ask as a float, or false if the book is empty.
// The CLOB returns asks sorted ascending, best first.
func (b *BookResponse) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	p, err := strconv.ParseFloat(b.Asks[0].Price, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

// BestBid returns the highest bid as a float, or false if the book is empty.
func (b *BookResponse) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	p, err := strconv.ParseFloat(b.Bids[0].Price, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

// ————————————————————————————————————————————————————————————————————————
// Flexible JSON fields
// ————————————————————————————————————————————————————————————————————————
// The Gamma API returns outcomes, outcomePrices, and clobTokenIds either as
// JSON arrays or as string-encoded JSON arrays, depending on endpoint and
// vintage. These types normalize both shapes at the decode boundary so the
// rest of the system handles exactly one.

// FlexStrings decodes ["a","b"] or "[\"a\",\"b\"]" into a []string.
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = nil
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			*f = nil
			return nil
		}
		var out []string
		if err := json.Unmarshal([]byte(inner), &out); err != nil {
			return fmt.Errorf("decode string-encoded array: %w", err)
		}
		*f = out
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*f = out
	return nil
}

// FlexFloats decodes [0.4,0.6], ["0.4","0.6"], or the string-encoded forms
// of either into a []float64.
type FlexFloats []float64

func (f *FlexFloats) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = nil
		return nil
	}
	payload := data
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			*f = nil
			return nil
		}
		payload = []byte(inner)
	}

	var nums []float64
	if err := json.Unmarshal(payload, &nums); err == nil {
		*f = nums
		return nil
	}

	var strs []string
	if err := json.Unmarshal(payload, &strs); err != nil {
		return fmt.Errorf("decode float array: %w", err)
	}
	out := make([]float64, 0, len(strs))
	for _, s := range strs {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse %q as float: %w", s, err)
		}
		out = append(out, v)
	}
	*f = out
	return nil
}
