// Package indicator
package indicator

import (
	"math"

	"github.com/shopspring/decimal"
)

// WMA computes the linearly weighted moving average over the input series.
// The result is aligned to the input tail: out[i] corresponds to
// values[i+period-1], so len(out) == len(values)-period+1. Returns nil when
// there is not enough history.
func WMA(values []decimal.Decimal, period int) []decimal.Decimal {
	if period <= 0 || len(values) < period {
		return nil
	}
	denom := decimal.NewFromInt(int64(period * (period + 1) / 2))
	out := make([]decimal.Decimal, 0, len(values)-period+1)
	for i := period - 1; i < len(values); i++ {
		sum := decimal.Zero
		for j := 0; j < period; j++ {
			weight := decimal.NewFromInt(int64(j + 1))
			sum = sum.Add(values[i-period+1+j].Mul(weight))
		}
		out = append(out, sum.Div(denom))
	}
	return out
}

// HMA computes the Hull Moving Average:
//
//	WMA(2*WMA(n/2) - WMA(n), floor(sqrt(n)))
//
// Result alignment follows WMA. Returns nil until the series carries enough
// bars for every stage.
func HMA(values []decimal.Decimal, period int) []decimal.Decimal {
	if period <= 1 || len(values) < period {
		return nil
	}
	half := period / 2
	sqrtLen := int(math.Floor(math.Sqrt(float64(period))))
	if half < 1 || sqrtLen < 1 {
		return nil
	}

	wmaHalf := WMA(values, half)
	wmaFull := WMA(values, period)
	if wmaHalf == nil || wmaFull == nil {
		return nil
	}

	// Trim the half-period series so both are aligned to the same bars.
	offset := len(wmaHalf) - len(wmaFull)
	raw := make([]decimal.Decimal, len(wmaFull))
	two := decimal.NewFromInt(2)
	for i := range wmaFull {
		raw[i] = two.Mul(wmaHalf[i+offset]).Sub(wmaFull[i])
	}

	return WMA(raw, sqrtLen)
}

// LastHMA returns the most recent HMA value, or false when the series is too
// short for the period.
func LastHMA(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	series := HMA(values, period)
	if len(series) == 0 {
		return decimal.Zero, false
	}
	return series[len(series)-1], true
}
