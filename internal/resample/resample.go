package resample

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/pairsight/pairsight/internal/storage"
)

// ErrUnknownTimeframe marks a timeframe outside the fixed enumerated set.
// The original dashboard fell back to a silent 1m default here, which shifts
// bucket alignment invisibly; rejection is deliberate.
var ErrUnknownTimeframe = errors.New("unknown timeframe")

// Timeframe is one bar bucket duration from the fixed enumerated set.
type Timeframe string

// Supported timeframes.
const (
	Timeframe1s Timeframe = "1s"
	Timeframe1m Timeframe = "1m"
	Timeframe5m Timeframe = "5m"
)

// ParseTimeframe validates a timeframe string from the pull API.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case Timeframe1s, Timeframe1m, Timeframe5m:
		return Timeframe(s), nil
	}
	return "", errors.Wrap(ErrUnknownTimeframe, s)
}

// Duration returns the bucket length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1s:
		return time.Second
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	}
	return 0
}

// BarCache persists resampled bars keyed by (symbol, timeframe, bucket start).
// Writes must be idempotent; *storage.MySQL satisfies this.
type BarCache interface {
	UpsertBars(ctx context.Context, data []storage.Bar) error
}

// BarIndexer indexes resampled bars for search; *storage.ElasticSearch
// satisfies this.
type BarIndexer interface {
	CommitBars(ctx context.Context, data []storage.Bar) error
}

// Aggregator resamples stored ticks into OHLCV bars. Cache and indexer are
// optional write-through sinks; neither is ever read back by the core.
type Aggregator struct {
	store   storage.TickStore
	cache   BarCache
	indexer BarIndexer
}

// NewAggregator creates a bar aggregator over the given tick store.
// cache and indexer may be nil.
func NewAggregator(store storage.TickStore, cache BarCache, indexer BarIndexer) *Aggregator {
	return &Aggregator{store: store, cache: cache, indexer: indexer}
}

// Resample queries ticks for [since, until) and aggregates them into bars of
// the given timeframe, per symbol. Bars for the same symbol are
// time-ascending; symbols appear in input order. Empty buckets produce no
// bar. The result is a pure function of the stored ticks and the bucket
// boundaries, so repeated calls over the same range yield identical output.
func (a *Aggregator) Resample(ctx context.Context, symbols []string, tf Timeframe, since, until time.Time) ([]storage.Bar, error) {
	if tf.Duration() == 0 {
		return nil, errors.Wrap(ErrUnknownTimeframe, string(tf))
	}

	ticks, err := a.store.Query(ctx, symbols, since, until)
	if err != nil {
		return nil, err
	}

	perSymbol := make(map[string][]storage.Tick, len(symbols))
	for _, t := range ticks {
		perSymbol[t.Symbol] = append(perSymbol[t.Symbol], t)
	}

	bars := make([]storage.Bar, 0)
	for _, sym := range symbols {
		bars = append(bars, BuildBars(sym, perSymbol[sym], tf)...)
	}

	if a.cache != nil && len(bars) > 0 {
		if err := a.cache.UpsertBars(ctx, bars); err != nil {
			return nil, errors.Wrap(err, "bar cache upsert")
		}
	}
	if a.indexer != nil && len(bars) > 0 {
		if err := a.indexer.CommitBars(ctx, bars); err != nil {
			return nil, errors.Wrap(err, "bar index commit")
		}
	}
	return bars, nil
}

// bucketAgg accumulates one bucket while scanning ticks.
type bucketAgg struct {
	bar     storage.Bar
	firstTs time.Time
	lastTs  time.Time
}

// BuildBars aggregates one symbol's ticks into epoch-aligned half-open
// buckets of the timeframe length. Bucket boundaries are multiples of the
// timeframe since the unix epoch, never anchored to the query start. Open
// and close come from the chronologically first and last tick of the bucket,
// high/low are the exact extrema, volume is the exact quantity sum.
func BuildBars(symbol string, ticks []storage.Tick, tf Timeframe) []storage.Bar {
	d := tf.Duration()
	buckets := make(map[int64]*bucketAgg)

	for _, t := range ticks {
		start := t.Timestamp.Truncate(d)
		key := start.UnixNano()
		agg, ok := buckets[key]
		if !ok {
			buckets[key] = &bucketAgg{
				bar: storage.Bar{
					Symbol:      symbol,
					Timeframe:   string(tf),
					BucketStart: start.UTC(),
					Open:        t.Price,
					High:        t.Price,
					Low:         t.Price,
					Close:       t.Price,
					Volume:      t.Qty,
				},
				firstTs: t.Timestamp,
				lastTs:  t.Timestamp,
			}
			continue
		}
		if t.Price > agg.bar.High {
			agg.bar.High = t.Price
		}
		if t.Price < agg.bar.Low {
			agg.bar.Low = t.Price
		}
		agg.bar.Volume += t.Qty
		if t.Timestamp.Before(agg.firstTs) {
			agg.firstTs = t.Timestamp
			agg.bar.Open = t.Price
		}
		if !t.Timestamp.Before(agg.lastTs) {
			agg.lastTs = t.Timestamp
			agg.bar.Close = t.Price
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	bars := make([]storage.Bar, 0, len(keys))
	for _, k := range keys {
		bars = append(bars, buckets[k].bar)
	}
	return bars
}
