package prices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPrices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("vs_currency") != "usd" {
			t.Errorf("vs_currency = %q", r.URL.Query().Get("vs_currency"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id":"bitcoin","symbol":"btc","current_price":100000,"price_change_percentage_24h":1.5,"total_volume":2e9},
			{"id":"ethereum","symbol":"eth","current_price":4000}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	spots, err := c.Prices(context.Background(), []string{"BTC", "ETH", "UNKNOWN"})
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	if len(spots) != 2 {
		t.Fatalf("spots = %d, want 2 (unknown symbol dropped)", len(spots))
	}
	if spots["BTC"].Price != 100_000 || spots["BTC"].Change24hPc != 1.5 {
		t.Errorf("BTC spot = %+v", spots["BTC"])
	}
	if spots["ETH"].Price != 4000 {
		t.Errorf("ETH spot = %+v", spots["ETH"])
	}
}

func TestPricesRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	if _, err := c.Prices(context.Background(), []string{"BTC"}); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestPricesNoKnownSymbols(t *testing.T) {
	t.Parallel()

	// No upstream call happens for unmapped symbols.
	c := NewClient("http://127.0.0.1:1", slog.New(slog.DiscardHandler))
	spots, err := c.Prices(context.Background(), []string{"NOPE"})
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	if len(spots) != 0 {
		t.Errorf("spots = %v, want empty", spots)
	}
}

func TestRealizedVol(t *testing.T) {
	t.Parallel()

	// Constant series: zero vol.
	vol, ok := RealizedVol([]float64{100, 100, 100, 100})
	if !ok {
		t.Fatal("constant series: want ok")
	}
	if vol != 0 {
		t.Errorf("constant series vol = %v, want 0", vol)
	}

	// Alternating +/-10%: daily log-return stdev ~0.0953..., annualized by sqrt(365).
	series := []float64{100, 110, 99, 108.9, 98.01}
	vol, ok = RealizedVol(series)
	if !ok {
		t.Fatal("want ok")
	}
	if vol <= 0 || vol > 5 {
		t.Errorf("vol = %v, want a positive annualized value", vol)
	}

	daily := math.Abs(math.Log(1.1))
	upper := daily * math.Sqrt(365)
	if vol > upper*1.2 {
		t.Errorf("vol = %v exceeds plausible bound %v", vol, upper)
	}

	// Too short to estimate.
	if _, ok := RealizedVol([]float64{100, 101}); ok {
		t.Error("two points: want not ok")
	}
}
