package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is the authoritative in-process tick store. All reads and writes
// are serialized through one lock. Coarse by intent: per-tick write cost is
// tiny next to network and parse latency, so a single serialization point is
// nowhere near saturation at stream volumes. Scale past that with per-symbol
// sharded locks, not by bypassing the lock.
type Memory struct {
	mu    sync.RWMutex
	ticks map[string][]Tick
}

// NewMemory creates an empty in-memory tick store.
func NewMemory() *Memory {
	return &Memory{ticks: make(map[string][]Tick)}
}

// Append validates and records one tick. The tick is visible to Query calls
// as soon as Append returns.
func (m *Memory) Append(tick Tick) error {
	if err := Validate(tick); err != nil {
		return err
	}
	m.mu.Lock()
	m.ticks[tick.Symbol] = append(m.ticks[tick.Symbol], tick)
	m.mu.Unlock()
	return nil
}

// Query returns all ticks for the given symbols with timestamp in
// [since, until), time-ascending within each symbol. Symbols appear in the
// order given. Returns an empty slice when nothing matches.
//
// Ticks arrive in stream order per symbol, which is time order, so the
// per-symbol slices are already sorted and a range copy is enough.
func (m *Memory) Query(_ context.Context, symbols []string, since, until time.Time) ([]Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Tick, 0)
	for _, sym := range symbols {
		for _, t := range m.ticks[sym] {
			if t.Timestamp.Before(since) || !t.Timestamp.Before(until) {
				continue
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// Len reports the number of stored ticks for a symbol.
func (m *Memory) Len(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ticks[symbol])
}
