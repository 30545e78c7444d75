package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"polyarb/pkg/types"
)

// Live places real fill-or-kill orders against the CLOB.
type Live struct {
	clob   *CLOBClient
	logger *slog.Logger
}

// NewLive creates the live executor around a CLOB client.
func NewLive(clob *CLOBClient, logger *slog.Logger) *Live {
	return &Live{
		clob:   clob,
		logger: logger.With("component", "executor"),
	}
}

// Name implements Executor.
func (l *Live) Name() string { return "live" }

// Open implements Executor: buy the outcome token (YES for long, NO for
// short) at the top of its book.
func (l *Live) Open(ctx context.Context, ord OpenOrder) (types.Fill, error) {
	tokenID := outcomeToken(ord.Side, ord.YesTokenID, ord.NoTokenID)
	if tokenID == "" {
		return types.Fill{}, fmt.Errorf("%w: market %s has no token for side %s",
			ErrOrderRejected, ord.Claim.MarketID, ord.Side)
	}

	book, err := l.clob.GetOrderBook(ctx, tokenID)
	if err != nil {
		return types.Fill{}, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}

	// Fill price is the chosen outcome token's best ask for both sides.
	// Note: for a short this is the NO token's own ask, which in practice
	// differs from 1 − ask(YES); kept to match the established behavior.
	price, ok := book.BestAsk()
	if !ok || price >= 1 {
		return types.Fill{}, fmt.Errorf("%w: no ask liquidity for token %s", ErrOrderRejected, tokenID)
	}

	shares := ord.Notional / price

	orderID, err := l.clob.PlaceOrder(ctx, orderRequest{
		TokenID:    tokenID,
		Side:       types.OrderBuy,
		Size:       strconv.FormatFloat(shares, 'f', 2, 64),
		Price:      strconv.FormatFloat(price, 'f', 4, 64),
		Type:       "FOK",
		FeeRateBps: "0",
	})
	if err != nil {
		return types.Fill{}, err
	}

	l.logger.Info("position opened",
		"market", ord.Claim.MarketID,
		"side", ord.Side,
		"price", price,
		"shares", shares,
	)
	return types.Fill{OrderID: orderID, FilledPrice: yesBasis(ord.Side, price)}, nil
}

// Close implements Executor: sell the position's outcome token into the top
// bid of its book.
func (l *Live) Close(ctx context.Context, ord CloseOrder) (types.Fill, error) {
	tokenID := outcomeToken(ord.Position.Side, ord.YesTokenID, ord.NoTokenID)
	if tokenID == "" {
		return types.Fill{}, fmt.Errorf("%w: market %s has no token for side %s",
			ErrOrderRejected, ord.Position.MarketID, ord.Position.Side)
	}

	book, err := l.clob.GetOrderBook(ctx, tokenID)
	if err != nil {
		return types.Fill{}, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	price, ok := book.BestBid()
	if !ok {
		return types.Fill{}, fmt.Errorf("%w: no bid liquidity for token %s", ErrOrderRejected, tokenID)
	}

	orderID, err := l.clob.PlaceOrder(ctx, orderRequest{
		TokenID:    tokenID,
		Side:       types.OrderSell,
		Size:       strconv.FormatFloat(ord.Position.Shares, 'f', 2, 64),
		Price:      strconv.FormatFloat(price, 'f', 4, 64),
		Type:       "FOK",
		FeeRateBps: "0",
	})
	if err != nil {
		return types.Fill{}, err
	}

	l.logger.Info("position closed",
		"market", ord.Position.MarketID,
		"side", ord.Position.Side,
		"price", price,
		"shares", ord.Position.Shares,
	)
	return types.Fill{OrderID: orderID, FilledPrice: yesBasis(ord.Position.Side, price)}, nil
}

// yesBasis converts a NO-token trade price back to the first-outcome basis.
func yesBasis(side types.Side, price float64) float64 {
	if side == types.SideShort {
		return 1 - price
	}
	return price
}
