// Package gamma implements the Polymarket Gamma API client used for market
// discovery. The pipeline asks for the most-active markets in one paginated
// call ordered by 24h volume; payload quirks (string-encoded outcome arrays)
// are normalized at the decode boundary by the flex types in pkg/types.
package gamma

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polyarb/pkg/types"
)

const pageSize = 100

// Market is the JSON shape returned by the Gamma API. Outcome fields arrive
// either as arrays or string-encoded arrays depending on vintage.
type Market struct {
	ID            string            `json:"id"`
	ConditionID   string            `json:"conditionId"`
	Question      string            `json:"question"`
	Slug          string            `json:"slug"`
	Active        bool              `json:"active"`
	Closed        bool              `json:"closed"`
	EndDate       string            `json:"endDate"`
	Volume24hr    float64           `json:"volume24hr"`
	Outcomes      types.FlexStrings `json:"outcomes"`
	OutcomePrices types.FlexFloats  `json:"outcomePrices"`
	ClobTokenIds  types.FlexStrings `json:"clobTokenIds"`
}

// MarketID prefers the condition ID, falling back to the Gamma ID.
func (m *Market) MarketID() string {
	if m.ConditionID != "" {
		return m.ConditionID
	}
	return m.ID
}

// FirstOutcomePrice is the market-implied probability of the first outcome.
func (m *Market) FirstOutcomePrice() (float64, bool) {
	if len(m.OutcomePrices) == 0 {
		return 0, false
	}
	return m.OutcomePrices[0], true
}

// TokenIDs returns the YES and NO CLOB token ids.
func (m *Market) TokenIDs() (yes, no string, ok bool) {
	if len(m.ClobTokenIds) < 2 {
		return "", "", false
	}
	return m.ClobTokenIds[0], m.ClobTokenIds[1], true
}

// EndDateTime parses the market's scheduled resolution time.
func (m *Market) EndDateTime() (time.Time, bool) {
	if m.EndDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Client is the Gamma REST API client.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a Gamma client with retry on 5xx and transport errors.
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
			return r.StatusCode() >= 500
		})

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "gamma"),
	}
}

// ActiveMarkets fetches up to `limit` open markets ordered by 24h volume,
// descending, paging until the limit or the end of the listing.
func (c *Client) ActiveMarkets(ctx context.Context, limit int) ([]Market, error) {
	var all []Market
	offset := 0

	for len(all) < limit {
		want := limit - len(all)
		if want > pageSize {
			want = pageSize
		}

		var page []Market
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"active":    "true",
				"closed":    "false",
				"limit":     strconv.Itoa(want),
				"offset":    strconv.Itoa(offset),
				"order":     "volume24hr",
				"ascending": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets offset %d: %w", offset, err)
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return nil, fmt.Errorf("fetch markets: unauthorized")
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("fetch markets: status %d: %s", resp.StatusCode(), resp.String())
		}

		all = append(all, page...)
		if len(page) < want {
			break
		}
		offset += len(page)
	}

	c.logger.Debug("markets fetched", "count", len(all))
	return all, nil
}
