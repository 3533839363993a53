package analytics

import (
	"math"
	"testing"
)

// lcg is a tiny deterministic noise source so test series are reproducible
// without seeding the global rand.
type lcg struct{ state uint64 }

func (l *lcg) next() float64 {
	l.state = l.state*6364136223846793005 + 1442695040888963407
	return float64(l.state>>11)/float64(1<<53)*2 - 1
}

func TestADFBelowMinimumUnavailable(t *testing.T) {
	series := make([]float64, MinADFObservations-1)
	for i := range series {
		series[i] = float64(i % 3)
	}
	if _, _, ok := ADF(series); ok {
		t.Fatalf("expected not-available below %d observations", MinADFObservations)
	}
}

func TestADFDropsNaNBeforeCounting(t *testing.T) {
	// 25 raw points but only 15 finite ones.
	series := make([]float64, 25)
	for i := range series {
		if i%5 == 0 || i%5 == 1 {
			series[i] = math.NaN()
		} else {
			series[i] = float64(i % 4)
		}
	}
	if _, _, ok := ADF(series); ok {
		t.Fatalf("expected NaN entries dropped before the minimum check")
	}
}

func TestADFRejectsUnitRootOnMeanRevertingSeries(t *testing.T) {
	// Strongly mean-reverting AR(1): y_t = 0.3*y_{t-1} + e_t.
	noise := &lcg{state: 42}
	n := 300
	series := make([]float64, n)
	y := 0.0
	for i := 0; i < n; i++ {
		y = 0.3*y + noise.next()
		series[i] = y
	}

	stat, p, ok := ADF(series)
	if !ok {
		t.Fatalf("expected test available on %d points", n)
	}
	if stat >= -3 {
		t.Fatalf("expected strongly negative statistic, got %v", stat)
	}
	if p > 0.05 {
		t.Fatalf("expected small p-value for mean-reverting series, got %v", p)
	}
}

func TestADFDeterministic(t *testing.T) {
	noise := &lcg{state: 7}
	series := make([]float64, 100)
	y := 0.0
	for i := range series {
		y = 0.5*y + noise.next()
		series[i] = y
	}

	s1, p1, ok1 := ADF(series)
	s2, p2, ok2 := ADF(series)
	if !ok1 || !ok2 || s1 != s2 || p1 != p2 {
		t.Fatalf("ADF not deterministic: (%v,%v,%v) vs (%v,%v,%v)", s1, p1, ok1, s2, p2, ok2)
	}
	if p1 < 0 || p1 > 1 {
		t.Fatalf("p-value out of range: %v", p1)
	}
}

func TestMackinnonPSaturatesAtTails(t *testing.T) {
	if p := mackinnonP(-50); p != 0 {
		t.Fatalf("expected 0 at far-left tail, got %v", p)
	}
	if p := mackinnonP(50); p != 1 {
		t.Fatalf("expected 1 at far-right tail, got %v", p)
	}
	// A textbook strongly-stationary statistic sits well under 5%.
	if p := mackinnonP(-4); p >= 0.05 {
		t.Fatalf("expected p < 0.05 at stat=-4, got %v", p)
	}
	// Near zero the test has no evidence against a unit root.
	if p := mackinnonP(0); p <= 0.5 {
		t.Fatalf("expected large p at stat=0, got %v", p)
	}
}
