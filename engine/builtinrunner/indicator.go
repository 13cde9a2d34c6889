package builtinrunner

import "math"

// sma computes the simple moving average over values using a trailing
// window of length period. Positions before the first full window are NaN.
func sma(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// ema computes the exponential moving average with smoothing factor
// 2/(period+1), seeded by the SMA of the first window.
func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	seed := sma(values, period)
	alpha := 2.0 / (float64(period) + 1.0)
	for i := range values {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		if i == period-1 {
			out[i] = seed[i]
			continue
		}
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsi computes the relative strength index over a trailing window of
// length period using Wilder's smoothing.
func rsi(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	var avgGain, avgLoss float64
	for i := range values {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if i <= period {
			avgGain = ((avgGain * float64(i-1)) + gain) / float64(i)
			avgLoss = ((avgLoss * float64(i-1)) + loss) / float64(i)
		} else {
			avgGain = (avgGain*float64(period-1) + gain) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		}
		if i < period {
			out[i] = math.NaN()
			continue
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - (100 / (1 + rs))
	}
	return out
}

// macd computes the MACD line (fast EMA minus slow EMA) and its signal
// line (EMA of the MACD line).
func macd(values []float64, fastPeriod, slowPeriod, signalPeriod int) (line, signal []float64) {
	fast := ema(values, fastPeriod)
	slow := ema(values, slowPeriod)
	line = make([]float64, len(values))
	for i := range values {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			line[i] = math.NaN()
			continue
		}
		line[i] = fast[i] - slow[i]
	}
	signal = ema(line, signalPeriod)
	return line, signal
}

// bollingerBands computes the middle (SMA), upper and lower bands at
// numStdDev standard deviations over a trailing window.
func bollingerBands(values []float64, period int, numStdDev float64) (mid, upper, lower []float64) {
	mid = sma(values, period)
	upper = make([]float64, len(values))
	lower = make([]float64, len(values))
	for i := range values {
		if i < period-1 {
			upper[i] = math.NaN()
			lower[i] = math.NaN()
			continue
		}
		var sumSq float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mid[i]
			sumSq += d * d
		}
		stddev := math.Sqrt(sumSq / float64(period))
		upper[i] = mid[i] + numStdDev*stddev
		lower[i] = mid[i] - numStdDev*stddev
	}
	return mid, upper, lower
}

// stochastic computes the %K stochastic oscillator over a trailing window
// of the high/low/close series.
func stochastic(high, low, closeVals []float64, period int) []float64 {
	out := make([]float64, len(closeVals))
	for i := range closeVals {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		hh, ll := high[i], low[i]
		for j := i - period + 1; j <= i; j++ {
			if high[j] > hh {
				hh = high[j]
			}
			if low[j] < ll {
				ll = low[j]
			}
		}
		if hh == ll {
			out[i] = 50
			continue
		}
		out[i] = 100 * (closeVals[i] - ll) / (hh - ll)
	}
	return out
}

// averageTrueRange computes Wilder's ATR over the high/low/close series.
func averageTrueRange(high, low, closeVals []float64, period int) []float64 {
	out := make([]float64, len(closeVals))
	trueRanges := make([]float64, len(closeVals))
	for i := range closeVals {
		if i == 0 {
			trueRanges[i] = high[i] - low[i]
			out[i] = math.NaN()
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - closeVals[i-1])
		lc := math.Abs(low[i] - closeVals[i-1])
		trueRanges[i] = math.Max(hl, math.Max(hc, lc))
	}
	var avg float64
	for i := range closeVals {
		if i < period {
			out[i] = math.NaN()
			continue
		}
		if i == period {
			for j := 1; j <= period; j++ {
				avg += trueRanges[j]
			}
			avg /= float64(period)
		} else {
			avg = (avg*float64(period-1) + trueRanges[i]) / float64(period)
		}
		out[i] = avg
	}
	return out
}
