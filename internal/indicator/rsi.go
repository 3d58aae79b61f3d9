package indicator

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RSI computes the classic Wilder relative-strength index over closing-price
// deltas. The result is aligned to the input tail: the first value
// corresponds to values[period] (the bar completing the first `period`
// deltas). Returns nil until enough deltas are available. All-gain series
// yield 100, all-loss series yield 0.
func RSI(values []decimal.Decimal, period int) []decimal.Decimal {
	if period <= 0 || len(values) < period+1 {
		return nil
	}

	p := decimal.NewFromInt(int64(period))
	pMinusOne := decimal.NewFromInt(int64(period - 1))

	var gain, loss decimal.Decimal
	for i := 1; i <= period; i++ {
		change := values[i].Sub(values[i-1])
		if change.IsPositive() {
			gain = gain.Add(change)
		} else {
			loss = loss.Add(change.Neg())
		}
	}
	avgGain := gain.Div(p)
	avgLoss := loss.Div(p)

	out := make([]decimal.Decimal, 0, len(values)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(values); i++ {
		change := values[i].Sub(values[i-1])
		gain, loss = decimal.Zero, decimal.Zero
		if change.IsPositive() {
			gain = change
		} else {
			loss = change.Neg()
		}
		avgGain = avgGain.Mul(pMinusOne).Add(gain).Div(p)
		avgLoss = avgLoss.Mul(pMinusOne).Add(loss).Div(p)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// LastRSI returns the most recent RSI value, or false when the series is too
// short for the period.
func LastRSI(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	series := RSI(values, period)
	if len(series) == 0 {
		return decimal.Zero, false
	}
	return series[len(series)-1], true
}
