// Package probability implements the model-side pricing of price-target
// claims: a driftless lognormal z-score model, a Black–Scholes delta model
// fed by the options exchange's implied vols, the one-touch 2x rule, and the
// edge classifier that compares model probability to the market's price.
//
// Everything in this package is pure and deterministic — no clocks, no I/O.
// Each estimate carries a human-readable audit trail of its derivation.
package probability

import (
	"fmt"
	"math"

	"polyarb/pkg/types"
)

// NormCDF is the standard normal CDF using the Abramowitz–Stegun 7.1.26
// polynomial approximation of erf (max error 7.5e-8).
func NormCDF(z float64) float64 {
	if math.IsInf(z, 1) {
		return 1
	}
	if math.IsInf(z, -1) {
		return 0
	}
	x := z / math.Sqrt2
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}

	const (
		p  = 0.3275911
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
	)
	t := 1.0 / (1.0 + p*x)
	poly := ((((a5*t+a4)*t+a3)*t+a2)*t + a1) * t
	erf := 1.0 - poly*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*erf)
}

// ZScore is the standardized log-distance from spot to target under a
// driftless lognormal: ln(K/S) / (σ√T). Degenerate inputs (non-positive
// price, vol, or time) map to ±Inf per the sign of K−S, so downstream
// probabilities collapse to 0, 1/2, or 1 instead of NaN.
func ZScore(spot, target, vol, timeYears float64) float64 {
	if spot <= 0 || target <= 0 || vol <= 0 || timeYears <= 0 {
		switch {
		case target > spot:
			return math.Inf(1)
		case target < spot:
			return math.Inf(-1)
		default:
			return 0
		}
	}
	return math.Log(target/spot) / (vol * math.Sqrt(timeYears))
}

// ProbAbove is P(S_T > K) = 1 − Φ(z) under the driftless lognormal.
func ProbAbove(spot, target, vol, timeYears float64) float64 {
	return 1 - NormCDF(ZScore(spot, target, vol, timeYears))
}

// OneTouchProb applies the reflection-principle 2x rule: with q the
// probability of settling on the target's side of spot, the probability of
// touching the target at any time before expiry is min(1, 2q).
func OneTouchProb(spot, target, vol, timeYears float64) float64 {
	var q float64
	if target > spot {
		q = ProbAbove(spot, target, vol, timeYears)
	} else {
		q = 1 - ProbAbove(spot, target, vol, timeYears)
	}
	return math.Min(1, 2*q)
}

// D1 is the Black–Scholes d1 term with zero risk-free rate:
// [ln(S/K) + 0.5σ²T] / (σ√T).
func D1(spot, strike, vol, timeYears float64) float64 {
	if spot <= 0 || strike <= 0 || vol <= 0 || timeYears <= 0 {
		switch {
		case spot > strike:
			return math.Inf(1)
		case spot < strike:
			return math.Inf(-1)
		default:
			return 0
		}
	}
	return (math.Log(spot/strike) + 0.5*vol*vol*timeYears) / (vol * math.Sqrt(timeYears))
}

// CallDelta is Φ(d1): the risk-neutral probability the call finishes
// in-the-money under Black–Scholes with zero drift.
func CallDelta(spot, strike, vol, timeYears float64) float64 {
	return NormCDF(D1(spot, strike, vol, timeYears))
}

// VerticalSpreadProb derives an implied settle probability from a vertical
// spread's price: clamp(spreadPrice / strikeWidth, 0, 1). Returns an error
// for a non-positive width.
func VerticalSpreadProb(spreadPrice, strikeWidth float64) (float64, error) {
	if strikeWidth <= 0 {
		return 0, fmt.Errorf("strike width must be > 0, got %v", strikeWidth)
	}
	return clamp01(spreadPrice / strikeWidth), nil
}

// ZScoreEstimate prices a claim with the lognormal z-score model.
// Binary claims settle above/below the target at expiry; one-touch claims
// pay if the target trades at any point, via the 2x rule.
func ZScoreEstimate(claim types.CryptoClaim, spot, vol, timeYears float64) types.ProbabilityEstimate {
	z := ZScore(spot, claim.TargetPrice, vol, timeYears)
	pAbove := 1 - NormCDF(z)

	var prob float64
	trail := []string{
		fmt.Sprintf("inputs: S=%.2f K=%.2f vol=%.4f T=%.4fy", spot, claim.TargetPrice, vol, timeYears),
		fmt.Sprintf("z = ln(K/S)/(vol*sqrt(T)) = %.4f", z),
		fmt.Sprintf("P(settle above) = 1 - normCDF(z) = %.4f", pAbove),
	}

	switch claim.BetType {
	case types.BetOneTouch:
		prob = OneTouchProb(spot, claim.TargetPrice, vol, timeYears)
		trail = append(trail, fmt.Sprintf("one-touch rule: P = min(1, 2*tail) = %.4f", prob))
	default:
		if claim.Direction == types.DirBelow {
			prob = 1 - pAbove
			trail = append(trail, fmt.Sprintf("direction below: P = 1 - P(above) = %.4f", prob))
		} else {
			prob = pAbove
		}
	}

	zCopy := z
	return types.ProbabilityEstimate{
		Method:         types.MethodZScore,
		Probability:    clamp01(prob),
		VolatilityUsed: vol,
		TimeToExpiry:   timeYears,
		ZScore:         &zCopy,
		AuditTrail:     trail,
	}
}

// DeltaEstimate prices a claim from a Black–Scholes call delta at the
// claim's target strike. The delta may come straight from the options
// exchange (quotedDelta non-nil) or be computed from the strike's IV.
//
// Returns false when the resulting probability sits at a boundary — a delta
// of exactly 0 or 1 carries no information beyond the zscore model, so no
// estimate is emitted.
func DeltaEstimate(claim types.CryptoClaim, spot, iv, timeYears float64, quotedDelta *float64) (types.ProbabilityEstimate, bool) {
	var delta float64
	trail := []string{
		fmt.Sprintf("inputs: S=%.2f K=%.2f iv=%.4f T=%.4fy", spot, claim.TargetPrice, iv, timeYears),
	}

	if quotedDelta != nil {
		delta = *quotedDelta
		trail = append(trail, fmt.Sprintf("call delta %.4f quoted by exchange", delta))
	} else {
		d1 := D1(spot, claim.TargetPrice, iv, timeYears)
		delta = NormCDF(d1)
		trail = append(trail,
			fmt.Sprintf("d1 = [ln(S/K)+0.5*iv^2*T]/(iv*sqrt(T)) = %.4f", d1),
			fmt.Sprintf("call delta = normCDF(d1) = %.4f", delta),
		)
	}

	var prob float64
	switch claim.BetType {
	case types.BetOneTouch:
		base := delta
		if claim.TargetPrice <= spot {
			base = 1 - delta
		}
		prob = math.Min(1, 2*base)
		trail = append(trail, fmt.Sprintf("one-touch rule: P = min(1, 2*%.4f) = %.4f", base, prob))
	default:
		if claim.Direction == types.DirBelow {
			prob = 1 - delta
			trail = append(trail, fmt.Sprintf("binary below: P = 1 - delta = %.4f", prob))
		} else {
			prob = delta
			trail = append(trail, fmt.Sprintf("binary above: P = delta = %.4f", prob))
		}
	}

	if prob <= 0 || prob >= 1 {
		return types.ProbabilityEstimate{}, false
	}

	deltaCopy := delta
	return types.ProbabilityEstimate{
		Method:         types.MethodOptionsDelta,
		Probability:    prob,
		VolatilityUsed: iv,
		TimeToExpiry:   timeYears,
		Delta:          &deltaCopy,
		AuditTrail:     trail,
	}, true
}

// ClassifyEdge computes the signed edge (market − model) and buckets it into
// a signal and confidence.
//
//	|edge| < 0.03       → neutral
//	edge > 0            → sell (market overpriced vs model)
//	edge < 0            → buy
//	|edge| > 0.10       → high confidence; > 0.05 medium; else low
func ClassifyEdge(marketProb, modelProb float64) (edge float64, signal types.Signal, conf types.Confidence) {
	edge = marketProb - modelProb
	absEdge := math.Abs(edge)

	switch {
	case absEdge < 0.03:
		signal = types.SignalNeutral
	case edge > 0:
		signal = types.SignalSell
	default:
		signal = types.SignalBuy
	}

	switch {
	case absEdge > 0.10:
		conf = types.ConfHigh
	case absEdge > 0.05:
		conf = types.ConfMedium
	default:
		conf = types.ConfLow
	}
	return edge, signal, conf
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
