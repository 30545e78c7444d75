package gamma

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestActiveMarketsPaging(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Query().Get("order") != "volume24hr" || r.URL.Query().Get("ascending") != "false" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		offset := r.URL.Query().Get("offset")

		w.Header().Set("Content-Type", "application/json")
		switch offset {
		case "0":
			// Full page of 100, outcome fields string-encoded.
			fmt.Fprint(w, "[")
			for i := 0; i < 100; i++ {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"id":"m%d","conditionId":"c%d","question":"q","volume24hr":5,
					"outcomePrices":"[\"0.4\",\"0.6\"]","clobTokenIds":"[\"y%d\",\"n%d\"]"}`, i, i, i, i)
			}
			fmt.Fprint(w, "]")
		default:
			// Short final page ends the listing.
			fmt.Fprint(w, `[{"id":"m100","conditionId":"c100","question":"q","outcomePrices":[0.7,0.3]}]`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	markets, err := c.ActiveMarkets(context.Background(), 150)
	if err != nil {
		t.Fatalf("ActiveMarkets: %v", err)
	}
	if len(markets) != 101 {
		t.Fatalf("markets = %d, want 101", len(markets))
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}

	m := markets[0]
	if m.MarketID() != "c0" {
		t.Errorf("MarketID = %q, want condition id", m.MarketID())
	}
	if p, ok := m.FirstOutcomePrice(); !ok || p != 0.4 {
		t.Errorf("FirstOutcomePrice = %v %v, want 0.4 (string-encoded)", p, ok)
	}
	if yes, no, ok := m.TokenIDs(); !ok || yes != "y0" || no != "n0" {
		t.Errorf("TokenIDs = %q %q %v", yes, no, ok)
	}

	if p, ok := markets[100].FirstOutcomePrice(); !ok || p != 0.7 {
		t.Errorf("plain-array price = %v %v, want 0.7", p, ok)
	}
}

func TestActiveMarketsUnauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	if _, err := c.ActiveMarkets(context.Background(), 10); err == nil {
		t.Fatal("want error on 401")
	}
}

func TestActiveMarketsStopsAtLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := r.URL.Query().Get("limit")
		if limit != "30" {
			t.Errorf("limit = %s, want 30", limit)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[")
		for i := 0; i < 30; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id":"m%d","question":"q"}`, i)
		}
		fmt.Fprint(w, "]")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	markets, err := c.ActiveMarkets(context.Background(), 30)
	if err != nil {
		t.Fatalf("ActiveMarkets: %v", err)
	}
	if len(markets) != 30 {
		t.Errorf("markets = %d, want 30", len(markets))
	}
}
