package storage

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrValidation marks a tick rejected at the store boundary.
// Use errors.Is to detect it on the append path.
var ErrValidation = errors.New("tick validation failed")

// Tick represents final form of one normalized trade event received from
// the exchange, ready to store. Immutable once stored.
type Tick struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	Qty       float64
}

// Bar represents one OHLCV aggregate over a fixed time bucket for one symbol.
// Bars are derived from ticks and always recomputable; persisted bars are a
// cache, ticks stay authoritative.
type Bar struct {
	Symbol      string
	Timeframe   string
	BucketStart time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// TickStore is the single consistency point of the pipeline. A tick appended
// successfully is visible to every subsequent Query, and a Query never
// observes a partially written tick.
type TickStore interface {
	Append(tick Tick) error
	Query(ctx context.Context, symbols []string, since, until time.Time) ([]Tick, error)
}

// Validate checks a tick against the store acceptance rules: non-empty
// symbol, finite price and quantity. Normalization upstream is lenient, this
// is the last line of defense before durability.
func Validate(tick Tick) error {
	if tick.Symbol == "" {
		return errors.Wrap(ErrValidation, "empty symbol")
	}
	if math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) {
		return errors.Wrap(ErrValidation, "non-finite price")
	}
	if math.IsNaN(tick.Qty) || math.IsInf(tick.Qty, 0) {
		return errors.Wrap(ErrValidation, "non-finite quantity")
	}
	return nil
}
