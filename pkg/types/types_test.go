package types

import (
	"encoding/json"
	"testing"
)

func TestFlexStrings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{`["Yes","No"]`, []string{"Yes", "No"}},
		{`"[\"Yes\",\"No\"]"`, []string{"Yes", "No"}},
		{`null`, nil},
		{`""`, nil},
	}
	for _, tt := range tests {
		var f FlexStrings
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Errorf("Unmarshal(%s): %v", tt.in, err)
			continue
		}
		if len(f) != len(tt.want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, f, tt.want)
			continue
		}
		for i := range f {
			if f[i] != tt.want[i] {
				t.Errorf("Unmarshal(%s)[%d] = %q, want %q", tt.in, i, f[i], tt.want[i])
			}
		}
	}
}

func TestFlexFloats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []float64
	}{
		{`[0.4,0.6]`, []float64{0.4, 0.6}},
		{`["0.4","0.6"]`, []float64{0.4, 0.6}},
		{`"[0.4,0.6]"`, []float64{0.4, 0.6}},
		{`"[\"0.4\",\"0.6\"]"`, []float64{0.4, 0.6}},
		{`null`, nil},
	}
	for _, tt := range tests {
		var f FlexFloats
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Errorf("Unmarshal(%s): %v", tt.in, err)
			continue
		}
		if len(f) != len(tt.want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, f, tt.want)
			continue
		}
		for i := range f {
			if f[i] != tt.want[i] {
				t.Errorf("Unmarshal(%s)[%d] = %v, want %v", tt.in, i, f[i], tt.want[i])
			}
		}
	}
}

func TestPositionAccounting(t *testing.T) {
	t.Parallel()

	short := Position{Side: SideShort, EntryPrice: 0.40, Notional: 75, Shares: 125}
	if got := short.EffectivePrice(); got != 0.60 {
		t.Errorf("short effective price = %v, want 0.60", got)
	}
	if got := short.MarkPnL(0.32); got-10 > 1e-9 || got-10 < -1e-9 {
		t.Errorf("short pnl at 0.32 = %v, want 10", got)
	}

	long := Position{Side: SideLong, EntryPrice: 0.40, Shares: 100}
	if got := long.EffectivePrice(); got != 0.40 {
		t.Errorf("long effective price = %v, want 0.40", got)
	}
	if got := long.MarkPnL(0.50); got-10 > 1e-12 || got-10 < -1e-12 {
		t.Errorf("long pnl at 0.50 = %v, want 10", got)
	}
}

func TestOpportunityEffectiveEdge(t *testing.T) {
	t.Parallel()

	o := Opportunity{EdgeZ: 0.10}
	if o.EffectiveEdge() != 0.10 {
		t.Errorf("EffectiveEdge = %v, want zscore edge", o.EffectiveEdge())
	}

	d := -0.04
	o.EdgeDelta = &d
	if o.EffectiveEdge() != -0.04 {
		t.Errorf("EffectiveEdge = %v, want delta edge", o.EffectiveEdge())
	}
	if o.RankScore() != 0.10 {
		t.Errorf("RankScore = %v, want the larger magnitude", o.RankScore())
	}
}

func TestBookBestPrices(t *testing.T) {
	t.Parallel()

	book := BookResponse{
		Bids: []PriceLevel{{Price: "0.39", Size: "100"}},
		Asks: []PriceLevel{{Price: "0.41", Size: "50"}},
	}
	if p, ok := book.BestAsk(); !ok || p != 0.41 {
		t.Errorf("BestAsk = %v %v", p, ok)
	}
	if p, ok := book.BestBid(); !ok || p != 0.39 {
		t.Errorf("BestBid = %v %v", p, ok)
	}

	empty := BookResponse{}
	if _, ok := empty.BestAsk(); ok {
		t.Error("empty book returned an ask")
	}
}
