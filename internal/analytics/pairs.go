// Package analytics computes pairwise statistics over aligned close-price
// series: hedge ratio, spread, rolling z-score, rolling correlation and a
// stationarity test. Everything here is a pure function of its arguments;
// there is no store access and no shared state.
//
// Warm-up conditions (too few points) are normal, expected states and are
// reported through ok-flags and NaN holes, never through errors. Callers
// display them as "insufficient data".
package analytics

import (
	"math"
	"time"
)

// Point is one observation of a time-indexed price series.
type Point struct {
	Ts    time.Time
	Value float64
}

// MinHedgeObservations is the minimum aligned sample for an OLS fit.
const MinHedgeObservations = 10

// Align inner-joins two series on identical timestamps. Unmatched
// timestamps are dropped, never forward-filled, and so are pairs where
// either value is NaN. The x series' time order is preserved.
func Align(x, y []Point) (ts []time.Time, xs, ys []float64) {
	byTs := make(map[int64]float64, len(y))
	for _, p := range y {
		byTs[p.Ts.UnixNano()] = p.Value
	}
	for _, p := range x {
		yv, ok := byTs[p.Ts.UnixNano()]
		if !ok || math.IsNaN(p.Value) || math.IsNaN(yv) {
			continue
		}
		ts = append(ts, p.Ts)
		xs = append(xs, p.Value)
		ys = append(ys, yv)
	}
	return ts, xs, ys
}

// HedgeRatio fits X = a + b*Y by ordinary least squares over the full
// aligned series and returns b. With fewer than MinHedgeObservations points
// a fit is meaningless and ok is false.
func HedgeRatio(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n < MinHedgeObservations {
		return 0, false
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varY float64
	for i := 0; i < n; i++ {
		cov += (ys[i] - meanY) * (xs[i] - meanX)
		varY += (ys[i] - meanY) * (ys[i] - meanY)
	}
	if varY == 0 {
		return 0, false
	}
	return cov / varY, true
}

// SpreadAndZScore computes spread = X - b*Y with b fitted on the full
// aligned series, plus the rolling z-score of the spread over a trailing
// window. Rolling mean and standard deviation need at least window/2 points;
// z entries before that threshold, and entries where the rolling deviation
// is zero, are NaN rather than fabricated values. ok is false when the hedge
// ratio itself is unavailable.
func SpreadAndZScore(xs, ys []float64, window int) (spread, z []float64, ok bool) {
	beta, ok := HedgeRatio(xs, ys)
	if !ok {
		return nil, nil, false
	}

	n := len(xs)
	spread = make([]float64, n)
	for i := 0; i < n; i++ {
		spread[i] = xs[i] - beta*ys[i]
	}

	minPeriods := window / 2
	if minPeriods < 1 {
		minPeriods = 1
	}

	z = make([]float64, n)
	for i := 0; i < n; i++ {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		count := i - start + 1
		if count < minPeriods {
			z[i] = math.NaN()
			continue
		}
		mean, std := meanStd(spread[start : i+1])
		if math.IsNaN(std) || std == 0 {
			z[i] = math.NaN()
			continue
		}
		z[i] = (spread[i] - mean) / std
	}
	return spread, z, true
}

// RollingCorrelation computes the trailing-window Pearson correlation of two
// aligned series. With fewer than window points overall there is no full
// window anywhere and the result is nil; otherwise the result is
// index-aligned with the inputs and the first window-1 entries are NaN.
func RollingCorrelation(xs, ys []float64, window int) []float64 {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if window < 2 || n < window {
		return nil
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = pearson(xs[i-window+1:i+1], ys[i-window+1:i+1])
	}
	return out
}

// meanStd returns the mean and sample standard deviation of v.
// Deviation is NaN for a single observation.
func meanStd(v []float64) (float64, float64) {
	n := len(v)
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(n)
	if n < 2 {
		return mean, math.NaN()
	}
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / n
	meanY := sumY / n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	den := math.Sqrt(varX * varY)
	if den == 0 {
		return math.NaN()
	}
	return cov / den
}
