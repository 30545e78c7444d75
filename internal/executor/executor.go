// Package executor places orders for the trading state machine.
//
// Two implementations sit behind the same contract:
//
//   - DryRun: fills instantly at the market's current probability with a
//     synthetic order id — the paper-trading machine.
//   - Live:   resolves (claim, side) to a YES/NO CLOB token, reads the top
//     of that token's book, and places a fill-or-kill order with L2 HMAC
//     auth (credentials derived lazily via an EIP-712 ClobAuth signature).
//
// The state machine never depends on which implementation is active beyond
// this contract.
package executor

import (
	"context"
	"errors"

	"polyarb/pkg/types"
)

// ErrOrderRejected is returned when the venue declines or fails the order.
// The state machine logs it and leaves state untouched for that attempt.
var ErrOrderRejected = errors.New("order rejected")

// OpenOrder asks for a new position: commit Notional USD to the claim on the
// given side. MarketPrice is the current first-outcome probability, used as
// the fill price in dry-run mode.
type OpenOrder struct {
	Claim       types.CryptoClaim
	YesTokenID  string
	NoTokenID   string
	Side        types.Side
	Notional    float64
	MarketPrice float64
}

// CloseOrder unwinds an open position. MarketPrice is the current
// first-outcome probability; Shares come from the position being closed.
type CloseOrder struct {
	Position    types.Position
	YesTokenID  string
	NoTokenID   string
	MarketPrice float64
}

// Executor is the order-placement capability the state machine consumes.
type Executor interface {
	// Name identifies the implementation in logs and status output.
	Name() string
	// Open submits an opening order and returns the fill.
	Open(ctx context.Context, ord OpenOrder) (types.Fill, error)
	// Close submits a closing order and returns the fill.
	Close(ctx context.Context, ord CloseOrder) (types.Fill, error)
}

// outcomeToken picks the CLOB token for a side: YES when long, NO when short.
func outcomeToken(side types.Side, yesToken, noToken string) string {
	if side == types.SideShort {
		return noToken
	}
	return yesToken
}
