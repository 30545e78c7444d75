package parser

import (
	"errors"
	"testing"
	"time"

	"polyarb/pkg/types"
)

var testNow = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

func TestParseBitcoinOneTouch(t *testing.T) {
	t.Parallel()

	claim, err := ParseAt("m1", "Will Bitcoin hit $200k by December 31, 2025?", time.Time{}, testNow)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}

	if claim.Symbol != "BTC" {
		t.Errorf("Symbol = %q, want BTC", claim.Symbol)
	}
	if claim.TargetPrice != 200_000 {
		t.Errorf("TargetPrice = %v, want 200000", claim.TargetPrice)
	}
	if claim.BetType != types.BetOneTouch {
		t.Errorf("BetType = %v, want one-touch", claim.BetType)
	}
	if claim.Direction != types.DirAbove {
		t.Errorf("Direction = %v, want above", claim.Direction)
	}
	want := time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC)
	if !claim.Expiry.Equal(want) {
		t.Errorf("Expiry = %v, want %v", claim.Expiry, want)
	}
}

func TestParseRejections(t *testing.T) {
	t.Parallel()

	questions := []string{
		"MegaETH market cap above $5B in 2026",
		"Will Ethereum market cap exceed $1T by 2027?",
		"BTC dominance above 60% in 2026",
		"Will ETH staking yield exceed 5% in 2026?",
		"Will a Solana ETF be approved by 2027?",
		"Will the weather be nice on June 1, 2027?", // no symbol
		"Will Bitcoin fork in 2027?",                // no price
	}
	for _, q := range questions {
		if _, err := ParseAt("m1", q, time.Time{}, testNow); !errors.Is(err, ErrUnparseable) {
			t.Errorf("ParseAt(%q) err = %v, want ErrUnparseable", q, err)
		}
	}
}

func TestParsePriceForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		question string
		want     float64
	}{
		{"Will BTC hit $1.5k by 2030?", 1500},
		{"Will BTC reach 100 thousand by 2030?", 100_000},
		{"Will BTC be above $63,000 on March 31, 2030?", 63_000},
		{"Will DOGE price reach 2 dollars by 2030?", 2},
	}
	for _, tt := range tests {
		claim, err := ParseAt("m1", tt.question, time.Time{}, testNow)
		if err != nil {
			t.Errorf("ParseAt(%q): %v", tt.question, err)
			continue
		}
		if claim.TargetPrice != tt.want {
			t.Errorf("ParseAt(%q) target = %v, want %v", tt.question, claim.TargetPrice, tt.want)
		}
	}
}

func TestParseDateForms(t *testing.T) {
	t.Parallel()

	endOf := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
	}
	tests := []struct {
		question string
		want     time.Time
	}{
		{"Will BTC hit $200k by December 31, 2025?", endOf(2025, time.December, 31)},
		{"Will BTC hit $200k by 31 December 2025?", endOf(2025, time.December, 31)},
		{"Will BTC hit $200k by 06/30/2027?", endOf(2027, time.June, 30)},
		{"Will BTC hit $200k by 2030?", endOf(2030, time.December, 31)},
		{"Will BTC hit $200k by the end of 2030?", endOf(2030, time.December, 31)},
		{"Will BTC hit $200k before 2030?", endOf(2029, time.December, 31)},
		{"Will BTC hit $200k in 2030?", endOf(2030, time.December, 31)},
		{"Will BTC hit $200k on March 3rd, 2030?", endOf(2030, time.March, 3)},
	}
	for _, tt := range tests {
		claim, err := ParseAt("m1", tt.question, time.Time{}, testNow)
		if err != nil {
			t.Errorf("ParseAt(%q): %v", tt.question, err)
			continue
		}
		if !claim.Expiry.Equal(tt.want) {
			t.Errorf("ParseAt(%q) expiry = %v, want %v", tt.question, claim.Expiry, tt.want)
		}
	}
}

func TestParseDirectionAndBetType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		question string
		betType  types.BetType
		dir      types.Direction
	}{
		{"Will ETH dip below $2,000 in 2030?", types.BetOneTouch, types.DirBelow},
		{"Will BTC be above $100,000 on March 31, 2030?", types.BetBinary, types.DirAbove},
		{"Will SOL be under $50 by the end of 2030?", types.BetBinary, types.DirBelow},
		{"Will XRP surpass $5 in 2030?", types.BetOneTouch, types.DirAbove},
		{"Will DOGE crash to $0.05 in 2030?", types.BetOneTouch, types.DirBelow},
	}
	for _, tt := range tests {
		claim, err := ParseAt("m1", tt.question, time.Time{}, testNow)
		if err != nil {
			t.Errorf("ParseAt(%q): %v", tt.question, err)
			continue
		}
		if claim.BetType != tt.betType {
			t.Errorf("ParseAt(%q) betType = %v, want %v", tt.question, claim.BetType, tt.betType)
		}
		if claim.Direction != tt.dir {
			t.Errorf("ParseAt(%q) direction = %v, want %v", tt.question, claim.Direction, tt.dir)
		}
	}
}

func TestParseEndDateHint(t *testing.T) {
	t.Parallel()

	hint := time.Date(2025, time.September, 15, 12, 0, 0, 0, time.UTC)
	claim, err := ParseAt("m1", "Will BTC reach $150,000?", hint, testNow)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	if !claim.Expiry.Equal(hint) {
		t.Errorf("Expiry = %v, want hint %v", claim.Expiry, hint)
	}

	// No date in the question and no hint: unparseable.
	if _, err := ParseAt("m1", "Will BTC reach $150,000?", time.Time{}, testNow); !errors.Is(err, ErrUnparseable) {
		t.Errorf("no expiry: err = %v, want ErrUnparseable", err)
	}

	// Date in the question wins over the hint.
	claim, err = ParseAt("m1", "Will BTC reach $150,000 in 2030?", hint, testNow)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	if claim.Expiry.Year() != 2030 {
		t.Errorf("Expiry = %v, want question date", claim.Expiry)
	}
}

func TestParsePastExpiry(t *testing.T) {
	t.Parallel()

	if _, err := ParseAt("m1", "Will BTC hit $200k by 2024?", time.Time{}, testNow); !errors.Is(err, ErrUnparseable) {
		t.Errorf("past expiry: err = %v, want ErrUnparseable", err)
	}
}

func TestParseSymbolPriority(t *testing.T) {
	t.Parallel()

	// Both BTC and ETH appear; rule order keeps the first match.
	claim, err := ParseAt("m1", "Will Bitcoin hit $200k before Ethereum hits $10k in 2030?", time.Time{}, testNow)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	if claim.Symbol != "BTC" {
		t.Errorf("Symbol = %q, want BTC", claim.Symbol)
	}

	// Word boundaries: "Soladex" must not match SOL.
	if _, err := ParseAt("m1", "Will Soladex hit $1 in 2030?", time.Time{}, testNow); !errors.Is(err, ErrUnparseable) {
		t.Errorf("substring symbol: err = %v, want ErrUnparseable", err)
	}
}

func TestSymbols(t *testing.T) {
	t.Parallel()

	syms := Symbols()
	if len(syms) == 0 || syms[0] != "BTC" {
		t.Errorf("Symbols() = %v, want BTC first", syms)
	}
}
