// Package engine is the pull API the dashboard and report collaborators
// consume: start ingestion, fetch bars, fetch pairs analytics. It owns no
// state of its own beyond wiring; all computation happens on request.
package engine

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/pairsight/pairsight/internal/analytics"
	"github.com/pairsight/pairsight/internal/ingest"
	"github.com/pairsight/pairsight/internal/resample"
	"github.com/pairsight/pairsight/internal/storage"
)

// PairsAnalytics is the full analytics result for one symbol pair. Slice
// entries may be NaN during warm-up; HedgeRatioOK and ADFOK report whether
// those outputs exist at all. Consumers render unavailable values as
// "insufficient data", not as failures.
type PairsAnalytics struct {
	Times        []time.Time
	Spread       []float64
	ZScore       []float64
	Correlation  []float64
	HedgeRatio   float64
	HedgeRatioOK bool
	ADFStat      float64
	ADFPValue    float64
	ADFOK        bool
	LatestZ      float64
	LatestCorr   float64
}

// Engine wires the tick store, ingestion registry and bar aggregator behind
// the pull API.
type Engine struct {
	store    storage.TickStore
	registry *ingest.Registry
	agg      *resample.Aggregator
	redis    *storage.Redis
}

// New creates an engine. redis may be nil when no latest-price cache is
// configured.
func New(store storage.TickStore, registry *ingest.Registry, agg *resample.Aggregator, redis *storage.Redis) *Engine {
	return &Engine{store: store, registry: registry, agg: agg, redis: redis}
}

// IngestStart starts ingestion loops for any symbol not already running.
// Idempotent.
func (e *Engine) IngestStart(ctx context.Context, symbols []string) {
	e.registry.Start(ctx, symbols)
}

// IngestStop stops every running ingestion loop.
func (e *Engine) IngestStop() {
	e.registry.StopAll()
}

// RunIngest runs one symbol's ingestion loop to completion. Blocking;
// intended for supervisors that own restart policy. Returns
// ingest.ErrAlreadyRunning when the symbol is already started.
func (e *Engine) RunIngest(ctx context.Context, symbol string) error {
	return e.registry.RunSymbol(ctx, symbol)
}

// GetBars resamples stored ticks into bars of the requested timeframe over
// the trailing lookback window. Unknown timeframes are rejected with a typed
// error.
func (e *Engine) GetBars(ctx context.Context, symbols []string, timeframe string, lookback time.Duration) ([]storage.Bar, error) {
	tf, err := resample.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	until := time.Now().UTC()
	since := until.Add(-lookback)
	return e.agg.Resample(ctx, symbols, tf, since, until)
}

// GetPairsAnalytics builds aligned close-price series for the two symbols
// from resampled bars and computes the pairs statistics over them.
func (e *Engine) GetPairsAnalytics(ctx context.Context, symX, symY string, timeframe string, lookback time.Duration, window int) (PairsAnalytics, error) {
	bars, err := e.GetBars(ctx, []string{symX, symY}, timeframe, lookback)
	if err != nil {
		return PairsAnalytics{}, err
	}

	var seriesX, seriesY []analytics.Point
	for _, bar := range bars {
		p := analytics.Point{Ts: bar.BucketStart, Value: bar.Close}
		switch bar.Symbol {
		case symX:
			seriesX = append(seriesX, p)
		case symY:
			seriesY = append(seriesY, p)
		}
	}

	ts, xs, ys := analytics.Align(seriesX, seriesY)

	pa := PairsAnalytics{
		Times:      ts,
		LatestZ:    math.NaN(),
		LatestCorr: math.NaN(),
	}

	pa.HedgeRatio, pa.HedgeRatioOK = analytics.HedgeRatio(xs, ys)
	if pa.HedgeRatioOK {
		pa.Spread, pa.ZScore, _ = analytics.SpreadAndZScore(xs, ys, window)
		pa.ADFStat, pa.ADFPValue, pa.ADFOK = analytics.ADF(pa.Spread)
	}
	pa.Correlation = analytics.RollingCorrelation(xs, ys, window)

	pa.LatestZ = lastFinite(pa.ZScore)
	pa.LatestCorr = lastFinite(pa.Correlation)
	return pa, nil
}

// LatestPrice returns the cached latest price for a symbol from redis.
func (e *Engine) LatestPrice(ctx context.Context, symbol string) (*storage.LatestPrice, error) {
	if e.redis == nil {
		return nil, errors.New("latest price cache not configured")
	}
	return e.redis.LatestPrice(ctx, symbol)
}

// ZAlert reports whether the latest z-score breaches the alert threshold.
// Always false while the z-score is still warming up.
func ZAlert(pa PairsAnalytics, threshold float64) bool {
	return !math.IsNaN(pa.LatestZ) && math.Abs(pa.LatestZ) >= threshold
}

func lastFinite(v []float64) float64 {
	for i := len(v) - 1; i >= 0; i-- {
		if !math.IsNaN(v[i]) {
			return v[i]
		}
	}
	return math.NaN()
}
