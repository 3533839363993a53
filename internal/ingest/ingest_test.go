package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pairsight/pairsight/internal/config"
	"github.com/pairsight/pairsight/internal/storage"
)

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
}

func TestDecodeTradeFlat(t *testing.T) {
	frame := []byte(`{"e":"trade","E":1714557600123,"T":1714557600100,"s":"BTCUSDT","p":"65000.10","q":"0.250"}`)
	tick, ok := decodeTrade(frame, fixedNow)
	if !ok {
		t.Fatalf("expected accepted trade")
	}
	if tick.Symbol != "BTCUSDT" || tick.Price != 65000.10 || tick.Qty != 0.250 {
		t.Fatalf("unexpected tick: %+v", tick)
	}
	want := time.Unix(0, 1714557600100*int64(time.Millisecond)).UTC()
	if !tick.Timestamp.Equal(want) {
		t.Fatalf("timestamp %v, want trade time %v", tick.Timestamp, want)
	}
}

func TestDecodeTradeNestedUnderData(t *testing.T) {
	frame := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","E":1714557600123,"s":"BTCUSDT","p":"65000.10","q":"0.250"}}`)
	tick, ok := decodeTrade(frame, fixedNow)
	if !ok {
		t.Fatalf("expected accepted trade")
	}
	// No trade time: event time is the fallback.
	want := time.Unix(0, 1714557600123*int64(time.Millisecond)).UTC()
	if !tick.Timestamp.Equal(want) {
		t.Fatalf("timestamp %v, want event time %v", tick.Timestamp, want)
	}
}

func TestDecodeTradeWallClockFallback(t *testing.T) {
	frame := []byte(`{"e":"trade","s":"BTCUSDT","p":"65000.10","q":"0.250"}`)
	tick, ok := decodeTrade(frame, fixedNow)
	if !ok {
		t.Fatalf("expected accepted trade")
	}
	if !tick.Timestamp.Equal(fixedNow()) {
		t.Fatalf("timestamp %v, want wall clock fallback", tick.Timestamp)
	}
}

func TestDecodeTradeNumericFields(t *testing.T) {
	frame := []byte(`{"e":"trade","T":1714557600100,"s":"BTCUSDT","p":65000.10,"q":0.25}`)
	tick, ok := decodeTrade(frame, fixedNow)
	if !ok {
		t.Fatalf("expected accepted trade with numeric price/qty")
	}
	if tick.Price != 65000.10 || tick.Qty != 0.25 {
		t.Fatalf("unexpected tick: %+v", tick)
	}
}

func TestDecodeTradeDiscards(t *testing.T) {
	cases := []string{
		`not json at all`,
		`[1,2,3]`,
		`{"e":"aggTrade","s":"BTCUSDT","p":"1","q":"1"}`,
		`{"e":"trade","s":"BTCUSDT","q":"0.25"}`,
		`{"e":"trade","s":"BTCUSDT","p":"65000.10"}`,
		`{"e":"trade","s":"BTCUSDT","p":"not-a-number","q":"1"}`,
		`{"data":{"e":"depthUpdate","s":"BTCUSDT"}}`,
		`{"result":null,"id":1}`,
	}
	for i, c := range cases {
		if _, ok := decodeTrade([]byte(c), fixedNow); ok {
			t.Fatalf("case %d: expected discard: %s", i, c)
		}
	}
}

// tradeFrame builds a binance-shaped trade message.
func tradeFrame(symbol string, tsMillis int64, price, qty float64) []byte {
	return []byte(fmt.Sprintf(`{"e":"trade","E":%d,"T":%d,"s":"%s","p":"%f","q":"%f"}`, tsMillis, tsMillis, symbol, price, qty))
}

// fakeStream runs a local websocket server that pushes the given frames on
// every new connection, then closes it. conns counts accepted connections.
func fakeStream(t *testing.T, frames [][]byte, hold bool, conns *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		atomic.AddInt32(conns, 1)
		go func() {
			defer conn.Close()
			for _, frame := range frames {
				if err := wsutil.WriteServerText(conn, frame); err != nil {
					return
				}
			}
			if hold {
				// Keep the connection open until the client side closes.
				_, _ = wsutil.ReadClientText(conn)
			}
		}()
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestRegistry(store storage.TickStore, url string) *Registry {
	connCfg := &config.Connection{}
	symbols := []config.Symbol{{ID: "BTCUSDT"}, {ID: "ETHUSDT"}}
	return NewRegistry(store, connCfg, symbols, Sinks{}, url)
}

func TestRunSymbolIngestsStream(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	frames := [][]byte{
		tradeFrame("BTCUSDT", base, 65000, 0.5),
		[]byte(`malformed{{`),
		tradeFrame("BTCUSDT", base+1000, 65001, 0.25),
		[]byte(`{"e":"aggTrade","s":"BTCUSDT","p":"1","q":"1"}`),
		tradeFrame("BTCUSDT", base+2000, 65002, 0.75),
	}
	var conns int32
	srv := fakeStream(t, frames, false, &conns)
	defer srv.Close()

	store := storage.NewMemory()
	reg := newTestRegistry(store, wsURL(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := reg.RunSymbol(ctx, "BTCUSDT")
	if err == nil {
		t.Fatalf("expected transport error after server close")
	}
	if store.Len("BTCUSDT") != 3 {
		t.Fatalf("expected 3 accepted ticks, got %d", store.Len("BTCUSDT"))
	}
	if reg.Running("BTCUSDT") {
		t.Fatalf("loop must deregister itself on exit")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	var conns int32
	srv := fakeStream(t, nil, true, &conns)
	defer srv.Close()

	store := storage.NewMemory()
	reg := newTestRegistry(store, wsURL(srv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx, []string{"BTCUSDT"})
	waitFor(t, func() bool { return reg.Running("BTCUSDT") })

	// Second start for the same symbol must not open another connection.
	reg.Start(ctx, []string{"BTCUSDT"})
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&conns); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}

	reg.StopAll()
	waitFor(t, func() bool { return !reg.Running("BTCUSDT") })
}

func TestStopTerminatesOnlyThatSymbol(t *testing.T) {
	var conns int32
	srv := fakeStream(t, nil, true, &conns)
	defer srv.Close()

	store := storage.NewMemory()
	reg := newTestRegistry(store, wsURL(srv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx, []string{"BTCUSDT", "ETHUSDT"})
	waitFor(t, func() bool { return reg.Running("BTCUSDT") && reg.Running("ETHUSDT") })

	reg.Stop("BTCUSDT")
	waitFor(t, func() bool { return !reg.Running("BTCUSDT") })
	if !reg.Running("ETHUSDT") {
		t.Fatalf("stopping one symbol must not stop another")
	}
	reg.StopAll()
	waitFor(t, func() bool { return !reg.Running("ETHUSDT") })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}
