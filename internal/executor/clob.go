// clob.go is the Polymarket CLOB REST client used by the live executor:
//
//   - GetOrderBook: GET  /book                — top-of-book for a token
//   - PlaceOrder:   POST /order               — fill-or-kill order, L2 auth
//   - DeriveAPIKey: GET  /auth/derive-api-key — bootstrap L2 creds from L1
//
// Requests are rate-limited through per-category token buckets and retried
// on 5xx and transport errors.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polyarb/pkg/types"
)

// orderRequest is the POST /order body.
type orderRequest struct {
	TokenID    string          `json:"tokenID"`
	Side       types.OrderSide `json:"side"`
	Size       string          `json:"size"`  // shares, decimal string
	Price      string          `json:"price"` // decimal string
	Type       string          `json:"type"`  // always "FOK"
	FeeRateBps string          `json:"feeRateBps"`
}

// orderResponse is the POST /order response body.
type orderResponse struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderID"`
	ErrorMsg string `json:"errorMsg"`
}

// CLOBClient talks to the Polymarket CLOB REST API.
type CLOBClient struct {
	http   *resty.Client
	auth   *AuthSession
	rl     *RateLimiter
	logger *slog.Logger
}

// NewCLOBClient creates a CLOB client with rate limiting and retry.
func NewCLOBClient(baseURL string, auth *AuthSession, logger *slog.Logger) *CLOBClient {
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
		}).
		SetHeader("Content-Type", "application/json")

	return &CLOBClient{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "clob"),
	}
}

// GetOrderBook fetches the order book for a single token. No auth required.
func (c *CLOBClient) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// PlaceOrder submits a fill-or-kill order with L2 HMAC headers.
// Any non-2xx status or success=false is reported as ErrOrderRejected.
func (c *CLOBClient) PlaceOrder(ctx context.Context, ord orderRequest) (string, error) {
	if err := c.ensureCredentials(ctx); err != nil {
		return "", err
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(ord)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers(http.MethodPost, "/order", string(body))
	if err != nil {
		return "", fmt.Errorf("l2 headers: %w", err)
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrOrderRejected, resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return "", fmt.Errorf("%w: %s", ErrOrderRejected, result.ErrorMsg)
	}

	c.logger.Info("order placed", "order_id", result.OrderID, "token", ord.TokenID, "side", ord.Side)
	return result.OrderID, nil
}

// ensureCredentials derives the L2 API key triplet lazily on first use.
func (c *CLOBClient) ensureCredentials(ctx context.Context) error {
	if c.auth.HasL2Credentials() {
		return nil
	}

	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return fmt.Errorf("l1 headers: %w", err)
	}

	var creds Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&creds).
		Get("/auth/derive-api-key")
	if err != nil {
		return fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(creds)
	c.logger.Info("API key derived", "api_key", creds.ApiKey)
	return nil
}
