// Package parser converts free-text Polymarket questions into structured
// crypto price-target claims.
//
// The parser is table-driven: disqualifying patterns, symbol patterns, price
// extractors, and date extractors are ordered package-level rule lists, and
// the first matching rule wins. Keeping the rules as data (rather than
// nested conditionals) makes the ordering explicit — e.g. "MegaETH" is
// disqualified before the ETH symbol pattern ever runs.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"polyarb/pkg/types"
)

// ErrUnparseable is returned for any question that is not a crypto
// price-target market. Callers treat it as "skip this market", not a fault.
var ErrUnparseable = errors.New("question not a crypto price market")

// disqualifiers reject questions about anything other than the asset's spot
// price. Matching any one of these ends parsing immediately.
var disqualifiers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)market\s*cap`),
	regexp.MustCompile(`(?i)\bfdv\b`),
	regexp.MustCompile(`(?i)\btvl\b`),
	regexp.MustCompile(`(?i)\bmcap\b`),
	regexp.MustCompile(`(?i)\bdominance\b`),
	regexp.MustCompile(`(?i)\bfees?\b`),
	regexp.MustCompile(`(?i)\bgas\b`),
	regexp.MustCompile(`(?i)\bstaking\b`),
	regexp.MustCompile(`(?i)\bairdrop\b`),
	regexp.MustCompile(`(?i)\betf\b`),
	regexp.MustCompile(`(?i)\bhalving\b`),
	regexp.MustCompile(`(?i)\b(?:wrapped|staked)\s+\w`),
	regexp.MustCompile(`(?i)megaeth`),
}

// symbolRule maps a word-boundary-anchored pattern to a canonical symbol.
type symbolRule struct {
	re     *regexp.Regexp
	symbol string
}

// symbolRules is scanned in order; the first match wins.
var symbolRules = []symbolRule{
	{regexp.MustCompile(`(?i)\b(?:btc|bitcoin)\b`), "BTC"},
	{regexp.MustCompile(`(?i)\b(?:eth|ethereum|ether)\b`), "ETH"},
	{regexp.MustCompile(`(?i)\b(?:sol|solana)\b`), "SOL"},
	{regexp.MustCompile(`(?i)\b(?:doge|dogecoin)\b`), "DOGE"},
	{regexp.MustCompile(`(?i)\b(?:xrp|ripple)\b`), "XRP"},
	{regexp.MustCompile(`(?i)\b(?:ada|cardano)\b`), "ADA"},
	{regexp.MustCompile(`(?i)\b(?:avax|avalanche)\b`), "AVAX"},
	{regexp.MustCompile(`(?i)\b(?:link|chainlink)\b`), "LINK"},
	{regexp.MustCompile(`(?i)\b(?:dot|polkadot)\b`), "DOT"},
	{regexp.MustCompile(`(?i)\b(?:matic|polygon)\b`), "MATIC"},
}

// priceIntents — at least one must appear for the question to be about price.
var priceIntents = []string{
	"price", "hit", "reach", "above", "below", "exceed",
	"surpass", "over", "under", "dip", "$",
}

// priceRule extracts the numeric target; multiplier handles k/thousand.
type priceRule struct {
	re         *regexp.Regexp
	multiplier float64
}

// priceRules is tried in order: $Nk, N thousand, $N, N dollars/usd.
var priceRules = []priceRule{
	{regexp.MustCompile(`(?i)\$\s*([\d,]+(?:\.\d+)?)\s*k\b`), 1000},
	{regexp.MustCompile(`(?i)\b([\d,]+(?:\.\d+)?)\s*thousand\b`), 1000},
	{regexp.MustCompile(`\$\s*([\d,]+(?:\.\d+)?)`), 1},
	{regexp.MustCompile(`(?i)\b([\d,]+(?:\.\d+)?)\s*(?:dollars|usd)\b`), 1},
}

// oneTouchWords flip the bet type from settle-at-expiry to path-dependent.
var oneTouchWords = []string{"hit", "reach", "touch", "surpass", "exceed", "dip", "drop", "crash"}

// belowWords flip the direction from above to below.
var belowWords = []string{
	"below", "under", "less than", "fall", "dip", "drop",
	"crash", "sink", "plunge", "decline",
}

const monthNames = `january|february|march|april|may|june|july|august|september|october|november|december`

// dateRule extracts an expiry. build returns the UTC expiry instant.
type dateRule struct {
	re    *regexp.Regexp
	build func(m []string) (time.Time, bool)
}

// dateRules is tried in order: Month Day Year, Day Month Year, MM/DD/YYYY,
// by [end of] YYYY, before YYYY (effective year YYYY−1), in YYYY.
// Year-only matches resolve to Dec 31 23:59:59 UTC.
var dateRules = []dateRule{
	{
		re: regexp.MustCompile(`(?i)\b(` + monthNames + `)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})`),
		build: func(m []string) (time.Time, bool) {
			return buildDayDate(m[1], m[2], m[3])
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthNames + `)\s+(\d{4})`),
		build: func(m []string) (time.Time, bool) {
			return buildDayDate(m[2], m[1], m[3])
		},
	},
	{
		re: regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`),
		build: func(m []string) (time.Time, bool) {
			month, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			if month < 1 || month > 12 || day < 1 || day > 31 || !saneYear(year) {
				return time.Time{}, false
			}
			return endOfDay(year, time.Month(month), day), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bby\s+(?:the\s+)?(?:end\s+of\s+)?(\d{4})\b`),
		build: func(m []string) (time.Time, bool) {
			return buildYearEnd(m[1], 0)
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bbefore\s+(\d{4})\b`),
		build: func(m []string) (time.Time, bool) {
			return buildYearEnd(m[1], -1)
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bin\s+(\d{4})\b`),
		build: func(m []string) (time.Time, bool) {
			return buildYearEnd(m[1], 0)
		},
	},
}

func buildDayDate(monthName, dayStr, yearStr string) (time.Time, bool) {
	month, ok := monthByName(monthName)
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(dayStr)
	year, _ := strconv.Atoi(yearStr)
	if day < 1 || day > 31 || !saneYear(year) {
		return time.Time{}, false
	}
	return endOfDay(year, month, day), true
}

func buildYearEnd(yearStr string, offset int) (time.Time, bool) {
	year, _ := strconv.Atoi(yearStr)
	if !saneYear(year) {
		return time.Time{}, false
	}
	return endOfDay(year+offset, time.December, 31), true
}

func monthByName(name string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), name) {
			return m, true
		}
	}
	return 0, false
}

func endOfDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 23, 59, 59, 0, time.UTC)
}

func saneYear(y int) bool { return y >= 2000 && y <= 2100 }

// Parse converts a market question into a CryptoClaim, or returns
// ErrUnparseable. endDateHint, when non-zero, is used as the expiry if the
// question text itself carries no date.
func Parse(marketID, question string, endDateHint time.Time) (types.CryptoClaim, error) {
	return ParseAt(marketID, question, endDateHint, time.Now().UTC())
}

// ParseAt is Parse with an explicit "now" for deterministic expiry checks.
func ParseAt(marketID, question string, endDateHint, now time.Time) (types.CryptoClaim, error) {
	lower := strings.ToLower(question)

	for _, re := range disqualifiers {
		if re.MatchString(question) {
			return types.CryptoClaim{}, fmt.Errorf("%w: disqualified by %q", ErrUnparseable, re.String())
		}
	}

	var symbol string
	for _, rule := range symbolRules {
		if rule.re.MatchString(question) {
			symbol = rule.symbol
			break
		}
	}
	if symbol == "" {
		return types.CryptoClaim{}, fmt.Errorf("%w: no symbol", ErrUnparseable)
	}

	hasIntent := false
	for _, kw := range priceIntents {
		if strings.Contains(lower, kw) {
			hasIntent = true
			break
		}
	}
	if !hasIntent {
		return types.CryptoClaim{}, fmt.Errorf("%w: no price intent", ErrUnparseable)
	}

	var target float64
	for _, rule := range priceRules {
		m := rule.re.FindStringSubmatch(question)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			continue
		}
		target = v * rule.multiplier
		break
	}
	if target <= 0 {
		return types.CryptoClaim{}, fmt.Errorf("%w: no target price", ErrUnparseable)
	}

	betType := types.BetBinary
	for _, kw := range oneTouchWords {
		if strings.Contains(lower, kw) {
			betType = types.BetOneTouch
			break
		}
	}

	direction := types.DirAbove
	for _, kw := range belowWords {
		if strings.Contains(lower, kw) {
			direction = types.DirBelow
			break
		}
	}

	var expiry time.Time
	for _, rule := range dateRules {
		m := rule.re.FindStringSubmatch(question)
		if m == nil {
			continue
		}
		if t, ok := rule.build(m); ok {
			expiry = t
			break
		}
	}
	if expiry.IsZero() {
		if endDateHint.IsZero() {
			return types.CryptoClaim{}, fmt.Errorf("%w: no expiry", ErrUnparseable)
		}
		expiry = endDateHint.UTC()
	}
	if !expiry.After(now) {
		return types.CryptoClaim{}, fmt.Errorf("%w: expiry in the past", ErrUnparseable)
	}

	return types.CryptoClaim{
		MarketID:    marketID,
		Question:    question,
		Symbol:      symbol,
		TargetPrice: target,
		Expiry:      expiry,
		BetType:     betType,
		Direction:   direction,
	}, nil
}

// Symbols returns the canonical list of symbols the parser can detect,
// in rule order.
func Symbols() []string {
	out := make([]string, len(symbolRules))
	for i, r := range symbolRules {
		out[i] = r.symbol
	}
	return out
}
