package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/pairsight/pairsight/internal/config"
	"github.com/pairsight/pairsight/internal/ingest"
	"github.com/pairsight/pairsight/internal/resample"
	"github.com/pairsight/pairsight/internal/storage"
)

// newTestEngine seeds five minutes of 1-second synthetic ticks ending a few
// minutes ago: A[t] = 100 + t and B[t] = 50 + 0.5t, so A = 2B exactly.
func newTestEngine(t *testing.T) (*Engine, time.Time) {
	t.Helper()
	store := storage.NewMemory()
	base := time.Now().UTC().Truncate(time.Minute).Add(-20 * time.Minute)

	for i := 0; i < 300; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		if err := store.Append(storage.Tick{Symbol: "BTCUSDT", Timestamp: ts, Price: 100 + float64(i), Qty: 1}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := store.Append(storage.Tick{Symbol: "ETHUSDT", Timestamp: ts, Price: 50 + 0.5*float64(i), Qty: 2}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	registry := ingest.NewRegistry(store, &config.Connection{}, nil, ingest.Sinks{}, "")
	agg := resample.NewAggregator(store, nil, nil)
	return New(store, registry, agg, nil), base
}

func TestGetBarsFiveMinuteScenario(t *testing.T) {
	eng, base := newTestEngine(t)

	bars, err := eng.GetBars(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, "1m", time.Hour)
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(bars) != 10 {
		t.Fatalf("expected 5 bars per symbol, got %d total", len(bars))
	}

	// First BTC bar covers [base, base+1m): open from second 0, close from
	// second 59.
	b := bars[0]
	if b.Symbol != "BTCUSDT" || !b.BucketStart.Equal(base) {
		t.Fatalf("unexpected first bar: %+v", b)
	}
	if b.Open != 100 || b.Close != 159 {
		t.Fatalf("open/close %v/%v, want 100/159", b.Open, b.Close)
	}
	if b.High != 159 || b.Low != 100 {
		t.Fatalf("high/low %v/%v, want 159/100", b.High, b.Low)
	}
	if b.Volume != 60 {
		t.Fatalf("volume %v, want 60", b.Volume)
	}
}

func TestGetBarsRejectsUnknownTimeframe(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.GetBars(context.Background(), []string{"BTCUSDT"}, "3m", time.Hour)
	if !errors.Is(err, resample.ErrUnknownTimeframe) {
		t.Fatalf("expected ErrUnknownTimeframe, got %v", err)
	}
}

func TestGetPairsAnalyticsPerfectPair(t *testing.T) {
	eng, _ := newTestEngine(t)

	pa, err := eng.GetPairsAnalytics(context.Background(), "BTCUSDT", "ETHUSDT", "1s", time.Hour, 60)
	if err != nil {
		t.Fatalf("get pairs analytics: %v", err)
	}

	if len(pa.Times) != 300 {
		t.Fatalf("expected 300 aligned points, got %d", len(pa.Times))
	}
	if !pa.HedgeRatioOK {
		t.Fatalf("expected hedge ratio available")
	}
	if math.Abs(pa.HedgeRatio-2.0) > 1e-9 {
		t.Fatalf("hedge ratio %v, want 2.0", pa.HedgeRatio)
	}
	if math.Abs(pa.LatestCorr-1.0) > 1e-9 {
		t.Fatalf("latest corr %v, want 1.0", pa.LatestCorr)
	}

	// A = 2B exactly, so the spread is constant zero: every z entry is
	// undefined and the degenerate ADF regression reports not-available.
	for i, s := range pa.Spread {
		if math.Abs(s) > 1e-9 {
			t.Fatalf("spread[%d] = %v, want 0", i, s)
		}
	}
	if !math.IsNaN(pa.LatestZ) {
		t.Fatalf("latest z %v, want NaN on zero-variance spread", pa.LatestZ)
	}
	if pa.ADFOK {
		t.Fatalf("expected ADF not-available on constant spread")
	}
	if ZAlert(pa, 2.0) {
		t.Fatalf("warm-up/undefined z must never alert")
	}
}

func TestGetPairsAnalyticsWarmup(t *testing.T) {
	store := storage.NewMemory()
	base := time.Now().UTC().Truncate(time.Minute).Add(-10 * time.Minute)
	// Only 9 aligned points: below the fit minimum.
	for i := 0; i < 9; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		_ = store.Append(storage.Tick{Symbol: "BTCUSDT", Timestamp: ts, Price: 100, Qty: 1})
		_ = store.Append(storage.Tick{Symbol: "ETHUSDT", Timestamp: ts, Price: 50, Qty: 1})
	}
	registry := ingest.NewRegistry(store, &config.Connection{}, nil, ingest.Sinks{}, "")
	eng := New(store, registry, resample.NewAggregator(store, nil, nil), nil)

	pa, err := eng.GetPairsAnalytics(context.Background(), "BTCUSDT", "ETHUSDT", "1s", time.Hour, 60)
	if err != nil {
		t.Fatalf("warm-up must not be an error: %v", err)
	}
	if pa.HedgeRatioOK || pa.ADFOK {
		t.Fatalf("expected not-available analytics during warm-up")
	}
	if !math.IsNaN(pa.LatestZ) || !math.IsNaN(pa.LatestCorr) {
		t.Fatalf("expected NaN latest values during warm-up")
	}
}

func TestLatestPriceWithoutCache(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.LatestPrice(context.Background(), "BTCUSDT"); err == nil {
		t.Fatalf("expected error without configured cache")
	}
}
