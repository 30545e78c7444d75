package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"polyarb/pkg/types"
)

// DryRun is the paper-trading executor: every order fills immediately at the
// market's current probability with a synthetic order id.
type DryRun struct{}

// NewDryRun creates the paper executor.
func NewDryRun() *DryRun { return &DryRun{} }

// Name implements Executor.
func (d *DryRun) Name() string { return "dry-run" }

// Open implements Executor: instant fill at the market price.
func (d *DryRun) Open(_ context.Context, ord OpenOrder) (types.Fill, error) {
	if ord.Notional <= 0 {
		return types.Fill{}, fmt.Errorf("%w: notional must be > 0", ErrOrderRejected)
	}
	if ord.MarketPrice <= 0 || ord.MarketPrice >= 1 {
		return types.Fill{}, fmt.Errorf("%w: market price %v outside (0,1)", ErrOrderRejected, ord.MarketPrice)
	}
	return types.Fill{
		OrderID:     "dry-" + uuid.NewString(),
		FilledPrice: ord.MarketPrice,
	}, nil
}

// Close implements Executor: instant fill at the market price.
func (d *DryRun) Close(_ context.Context, ord CloseOrder) (types.Fill, error) {
	if ord.MarketPrice <= 0 || ord.MarketPrice >= 1 {
		return types.Fill{}, fmt.Errorf("%w: market price %v outside (0,1)", ErrOrderRejected, ord.MarketPrice)
	}
	return types.Fill{
		OrderID:     "dry-" + uuid.NewString(),
		FilledPrice: ord.MarketPrice,
	}, nil
}
