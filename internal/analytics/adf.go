package analytics

import (
	"math"
)

// MinADFObservations is the minimum de-NaN'd sample for the unit-root test.
const MinADFObservations = 20

// ADF runs an augmented Dickey-Fuller unit-root test with constant on the
// spread series and returns the test statistic and its approximate p-value.
// NaN entries are dropped first. Below MinADFObservations the test is
// statistically meaningless and ok is false.
//
// The regression is dy_t = a + g*y_{t-1} + sum b_i*dy_{t-i} + e_t with the
// lag order chosen by AIC over 0..maxlag (Schwert rule), and the p-value
// comes from the MacKinnon (1994) response-surface approximation for the
// constant-only case. The statistic is the t-ratio of g.
func ADF(series []float64) (stat, pvalue float64, ok bool) {
	y := dropNaN(series)
	n := len(y)
	if n < MinADFObservations {
		return 0, 0, false
	}

	maxlag := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	if limit := n/2 - 2; maxlag > limit {
		maxlag = limit
	}
	if maxlag < 0 {
		maxlag = 0
	}

	lag := selectLag(y, maxlag)
	t, fitOK := adfStat(y, lag)
	if !fitOK {
		return 0, 0, false
	}
	return t, mackinnonP(t), true
}

// selectLag picks the augmentation lag by AIC, evaluating every candidate on
// the common sample implied by maxlag so the information criteria are
// comparable.
func selectLag(y []float64, maxlag int) int {
	dy := diff(y)
	nobs := len(dy) - maxlag
	if nobs < 3 {
		return 0
	}

	bestLag := 0
	bestAIC := math.Inf(1)
	for lag := 0; lag <= maxlag; lag++ {
		rows, target := adfDesign(y, dy, lag, maxlag)
		_, _, ssr, fitOK := olsFit(rows, target)
		if !fitOK || ssr <= 0 {
			continue
		}
		nf := float64(len(target))
		k := float64(lag + 2)
		aic := nf*math.Log(ssr/nf) + 2*k
		if aic < bestAIC {
			bestAIC = aic
			bestLag = lag
		}
	}
	return bestLag
}

// adfStat refits with the chosen lag on the largest sample that lag allows
// and returns the t-ratio of the level coefficient.
func adfStat(y []float64, lag int) (float64, bool) {
	dy := diff(y)
	rows, target := adfDesign(y, dy, lag, lag)
	beta, se, _, ok := olsFit(rows, target)
	if !ok || se[1] == 0 || math.IsNaN(se[1]) {
		return 0, false
	}
	return beta[1] / se[1], true
}

// adfDesign builds the regression sample: rows of
// [1, y_{t-1}, dy_{t-1}, ..., dy_{t-lag}] against dy_t, skipping the first
// holdout observations so every row has its lags available.
func adfDesign(y, dy []float64, lag, holdout int) ([][]float64, []float64) {
	rows := make([][]float64, 0, len(dy)-holdout)
	target := make([]float64, 0, len(dy)-holdout)
	for t := holdout; t < len(dy); t++ {
		row := make([]float64, 0, lag+2)
		row = append(row, 1, y[t])
		for i := 1; i <= lag; i++ {
			row = append(row, dy[t-i])
		}
		rows = append(rows, row)
		target = append(target, dy[t])
	}
	return rows, target
}

// mackinnonP approximates the p-value of an ADF t-statistic for the
// regression-with-constant case, MacKinnon (1994). Outside the tabulated
// range the tails saturate at 0 and 1.
func mackinnonP(stat float64) float64 {
	const (
		tauStar = -1.61
		tauMin  = -18.83
		tauMax  = 2.74
	)
	if stat < tauMin {
		return 0
	}
	if stat > tauMax {
		return 1
	}
	var v float64
	if stat <= tauStar {
		small := [3]float64{2.1659, 1.4412, 3.8269e-2}
		v = small[0] + small[1]*stat + small[2]*stat*stat
	} else {
		large := [4]float64{1.7339, 9.3202e-1, -1.2745e-1, -1.0368e-2}
		v = large[0] + large[1]*stat + large[2]*stat*stat + large[3]*stat*stat*stat
	}
	return normCDF(v)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func diff(y []float64) []float64 {
	d := make([]float64, len(y)-1)
	for i := 1; i < len(y); i++ {
		d[i-1] = y[i] - y[i-1]
	}
	return d
}

func dropNaN(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// olsFit solves y = X*beta by normal equations and reports coefficient
// standard errors and the residual sum of squares. Designed for the small
// column counts of the ADF regressions.
func olsFit(rows [][]float64, y []float64) (beta, se []float64, ssr float64, ok bool) {
	n := len(rows)
	if n == 0 {
		return nil, nil, 0, false
	}
	k := len(rows[0])
	if n <= k {
		return nil, nil, 0, false
	}

	// A = X'X, b = X'y.
	a := make([][]float64, k)
	for i := range a {
		a[i] = make([]float64, k)
	}
	b := make([]float64, k)
	for r := 0; r < n; r++ {
		row := rows[r]
		for i := 0; i < k; i++ {
			b[i] += row[i] * y[r]
			for j := 0; j < k; j++ {
				a[i][j] += row[i] * row[j]
			}
		}
	}

	inv, invOK := invert(a)
	if !invOK {
		return nil, nil, 0, false
	}

	beta = make([]float64, k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			beta[i] += inv[i][j] * b[j]
		}
	}

	for r := 0; r < n; r++ {
		pred := 0.0
		for i := 0; i < k; i++ {
			pred += rows[r][i] * beta[i]
		}
		resid := y[r] - pred
		ssr += resid * resid
	}

	s2 := ssr / float64(n-k)
	se = make([]float64, k)
	for i := 0; i < k; i++ {
		se[i] = math.Sqrt(s2 * inv[i][i])
	}
	return beta, se, ssr, true
}

// invert computes the inverse of a symmetric positive matrix by Gauss-Jordan
// elimination with partial pivoting.
func invert(a [][]float64) ([][]float64, bool) {
	k := len(a)
	m := make([][]float64, k)
	for i := range m {
		m[i] = make([]float64, 2*k)
		copy(m[i], a[i])
		m[i][k+i] = 1
	}

	for col := 0; col < k; col++ {
		pivot := col
		for r := col + 1; r < k; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]

		pv := m[col][col]
		for j := col; j < 2*k; j++ {
			m[col][j] /= pv
		}
		for r := 0; r < k; r++ {
			if r == col {
				continue
			}
			f := m[r][col]
			if f == 0 {
				continue
			}
			for j := col; j < 2*k; j++ {
				m[r][j] -= f * m[col][j]
			}
		}
	}

	inv := make([][]float64, k)
	for i := range inv {
		inv[i] = m[i][k:]
	}
	return inv, true
}
