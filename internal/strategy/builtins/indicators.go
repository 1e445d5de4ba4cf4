package builtins

import (
	"math"

	"tradesim/internal/domain"
)

// sma returns the simple moving average of the closes of the last window
// bars ending at index end (inclusive). The caller guarantees end+1 >= window.
func sma(bars []domain.Bar, end, window int) float64 {
	var sum float64
	for i := end - window + 1; i <= end; i++ {
		sum += bars[i].Close
	}
	return sum / float64(window)
}

// sampleStd returns the sample standard deviation (n-1 denominator) of the
// closes of the last window bars ending at end, around mean.
func sampleStd(bars []domain.Bar, end, window int, mean float64) float64 {
	var ss float64
	for i := end - window + 1; i <= end; i++ {
		d := bars[i].Close - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(window-1))
}

// rsi computes the relative strength index over the last period price
// changes ending at end, using simple averages of gains and losses. ok is
// false when there were no price changes at all.
func rsi(bars []domain.Bar, end, period int) (value float64, ok bool) {
	var gain, loss float64
	for i := end - period + 1; i <= end; i++ {
		d := bars[i].Close - bars[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 0, false
	case avgLoss == 0:
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
