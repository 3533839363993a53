package ingest

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/pairsight/pairsight/internal/config"
	"github.com/pairsight/pairsight/internal/connector"
	"github.com/pairsight/pairsight/internal/storage"
)

// ErrAlreadyRunning is returned by RunSymbol when an ingestion loop for the
// symbol is active.
var ErrAlreadyRunning = errors.New("ingestion already running for symbol")

// Sinks holds the optional archival storages ticks are fanned out to.
// A nil entry means the sink is not configured.
type Sinks struct {
	Ter   *storage.Terminal
	MySQL *storage.MySQL
	ES    *storage.ElasticSearch
	Redis *storage.Redis
}

// sinkSet is the per-symbol storage selection from config.
type sinkSet struct {
	terStr   bool
	mysqlStr bool
	esStr    bool
	redisStr bool
}

// Registry owns the set of running per-symbol ingestion loops, keyed by
// symbol. It replaces the process-wide singleton of the original collector:
// the caller constructs it, starts symbols through it and stops them through
// it, and nothing else holds loop state.
type Registry struct {
	store   storage.TickStore
	connCfg *config.Connection
	sinks   Sinks
	cfgMap  map[string]sinkSet
	wsURL   string

	mu      sync.Mutex
	running map[string]*runner
}

type runner struct {
	cancel context.CancelFunc
}

// NewRegistry creates an ingestion registry for the configured symbols.
// wsURL overrides the exchange stream base url; empty means the binance
// futures endpoint.
func NewRegistry(store storage.TickStore, connCfg *config.Connection, symbols []config.Symbol, sinks Sinks, wsURL string) *Registry {
	cfgMap := make(map[string]sinkSet, len(symbols))
	for _, sym := range symbols {
		var set sinkSet
		for _, str := range sym.Storages {
			switch str {
			case "terminal":
				set.terStr = true
			case "mysql":
				set.mysqlStr = true
			case "elastic_search":
				set.esStr = true
			case "redis":
				set.redisStr = true
			}
		}
		cfgMap[sym.ID] = set
	}
	if wsURL == "" {
		wsURL = config.BinanceFuturesWebsocketURL
	}
	return &Registry{
		store:   store,
		connCfg: connCfg,
		sinks:   sinks,
		cfgMap:  cfgMap,
		wsURL:   wsURL,
		running: make(map[string]*runner),
	}
}

// Start launches one ingestion loop per symbol not already running.
// Idempotent: running symbols are left untouched. Loop failures terminate
// only the affected symbol; supervision and restart are the caller's job.
func (r *Registry) Start(ctx context.Context, symbols []string) {
	for _, sym := range symbols {
		sym := sym
		go func() {
			err := r.RunSymbol(ctx, sym)
			if err != nil && !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("symbol", sym).Msg("ingestion loop terminated")
			}
		}()
	}
}

// RunSymbol runs the ingestion loop for one symbol until the connection
// closes, a transport error occurs or ctx is canceled. Blocking; used
// directly by the supervisor which owns retry policy.
func (r *Registry) RunSymbol(ctx context.Context, symbol string) error {
	r.mu.Lock()
	if _, ok := r.running[symbol]; ok {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running[symbol] = &runner{cancel: cancel}
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.running, symbol)
		r.mu.Unlock()
	}()

	return r.run(runCtx, symbol)
}

// Stop terminates the ingestion loop for one symbol by canceling its
// context, which closes the underlying connection and unblocks the read.
func (r *Registry) Stop(symbol string) {
	r.mu.Lock()
	rn := r.running[symbol]
	r.mu.Unlock()
	if rn != nil {
		rn.cancel()
	}
}

// StopAll terminates every running ingestion loop.
func (r *Registry) StopAll() {
	r.mu.Lock()
	runners := make([]*runner, 0, len(r.running))
	for _, rn := range r.running {
		runners = append(runners, rn)
	}
	r.mu.Unlock()
	for _, rn := range runners {
		rn.cancel()
	}
}

// Running reports whether a symbol's loop is active.
func (r *Registry) Running(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[symbol]
	return ok
}

func (r *Registry) streamURL(symbol string) string {
	return r.wsURL + "/" + strings.ToLower(symbol) + "@trade"
}

func (r *Registry) run(ctx context.Context, symbol string) error {
	ws, err := connector.NewWebsocket(ctx, &r.connCfg.WS, r.streamURL(symbol))
	if err != nil {
		if !errors.Is(err, ctx.Err()) {
			logErrStack(err)
		}
		return err
	}
	log.Info().Str("symbol", symbol).Msg("websocket connected")

	// Closing the connection on ctx cancel unblocks all reads and writes.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
			_ = ws.Close()
		}
	}()

	set := r.cfgMap[symbol]
	cd := commitData{
		terTicks:   make([]storage.Tick, 0, bufSize(r.connCfg.Terminal.TickCommitBuf)),
		mysqlTicks: make([]storage.Tick, 0, bufSize(r.connCfg.MySQL.TickCommitBuf)),
		esTicks:    make([]storage.Tick, 0, bufSize(r.connCfg.ES.TickCommitBuf)),
	}

	for {
		select {
		default:
			frame, err := ws.Read()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					err = errors.New("context canceled")
				} else {
					if err == io.EOF {
						err = errors.Wrap(err, "connection close by exchange server")
					}
					logErrStack(err)
				}
				return err
			}
			if len(frame) == 0 {
				continue
			}

			tick, ok := decodeTrade(frame, time.Now)
			if !ok {
				// Malformed or non-trade frames are routine, drop and move on.
				continue
			}

			if err := r.store.Append(tick); err != nil {
				if errors.Is(err, storage.ErrValidation) {
					log.Warn().Err(err).Str("symbol", symbol).Msg("tick rejected by store")
					continue
				}
				logErrStack(err)
				return err
			}

			if err := r.commit(ctx, set, &cd, tick); err != nil {
				if !errors.Is(err, ctx.Err()) {
					logErrStack(err)
				}
				return err
			}

		// Return, if the app context is canceled.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// commitData buffers accepted ticks per sink until the configured commit
// buffer size is reached.
type commitData struct {
	terTicksCount   int
	mysqlTicksCount int
	esTicksCount    int
	terTicks        []storage.Tick
	mysqlTicks      []storage.Tick
	esTicks         []storage.Tick
}

func (r *Registry) commit(ctx context.Context, set sinkSet, cd *commitData, tick storage.Tick) error {
	if set.terStr && r.sinks.Ter != nil {
		cd.terTicksCount++
		cd.terTicks = append(cd.terTicks, tick)
		if cd.terTicksCount >= bufSize(r.connCfg.Terminal.TickCommitBuf) {
			r.sinks.Ter.CommitTicks(cd.terTicks)
			cd.terTicksCount = 0
			cd.terTicks = nil
		}
	}
	if set.mysqlStr && r.sinks.MySQL != nil {
		cd.mysqlTicksCount++
		cd.mysqlTicks = append(cd.mysqlTicks, tick)
		if cd.mysqlTicksCount >= bufSize(r.connCfg.MySQL.TickCommitBuf) {
			if err := r.sinks.MySQL.CommitTicks(ctx, cd.mysqlTicks); err != nil {
				return err
			}
			cd.mysqlTicksCount = 0
			cd.mysqlTicks = nil
		}
	}
	if set.esStr && r.sinks.ES != nil {
		cd.esTicksCount++
		cd.esTicks = append(cd.esTicks, tick)
		if cd.esTicksCount >= bufSize(r.connCfg.ES.TickCommitBuf) {
			if err := r.sinks.ES.CommitTicks(ctx, cd.esTicks); err != nil {
				return err
			}
			cd.esTicksCount = 0
			cd.esTicks = nil
		}
	}
	if set.redisStr && r.sinks.Redis != nil {
		if err := r.sinks.Redis.CommitTicks(ctx, []storage.Tick{tick}); err != nil {
			return err
		}
	}
	return nil
}

func bufSize(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// wsTradeBinance is the trade event of the binance futures stream.
// Price and quantity arrive as strings on the live stream but numbers are
// accepted too.
type wsTradeBinance struct {
	Event     string      `json:"e"`
	Symbol    string      `json:"s"`
	EventTime int64       `json:"E"`
	TradeTime int64       `json:"T"`
	Price     interface{} `json:"p"`
	Qty       interface{} `json:"q"`
}

// wsCombinedBinance is the same trade event nested under a combined-stream
// wrapper key.
type wsCombinedBinance struct {
	Data wsTradeBinance `json:"data"`
}

// decodeTrade parses a raw frame into a normalized tick. Returns false for
// malformed payloads, non-trade events and trades missing price or quantity;
// all of those are discarded without error. Timestamp preference is trade
// time, then event time, then wall clock.
func decodeTrade(frame []byte, now func() time.Time) (storage.Tick, bool) {
	wr := wsTradeBinance{}
	if err := jsoniter.Unmarshal(frame, &wr); err != nil || wr.Event != "trade" {
		cr := wsCombinedBinance{}
		if err := jsoniter.Unmarshal(frame, &cr); err != nil || cr.Data.Event != "trade" {
			return storage.Tick{}, false
		}
		wr = cr.Data
	}

	price, ok := parseNum(wr.Price)
	if !ok {
		return storage.Tick{}, false
	}
	qty, ok := parseNum(wr.Qty)
	if !ok {
		return storage.Tick{}, false
	}

	// Time sent is in milliseconds.
	var ts time.Time
	switch {
	case wr.TradeTime != 0:
		ts = time.Unix(0, wr.TradeTime*int64(time.Millisecond)).UTC()
	case wr.EventTime != 0:
		ts = time.Unix(0, wr.EventTime*int64(time.Millisecond)).UTC()
	default:
		ts = now().UTC()
	}

	return storage.Tick{
		Symbol:    wr.Symbol,
		Timestamp: ts,
		Price:     price,
		Qty:       qty,
	}, true
}

// parseNum reads a float64 out of a JSON field that may be a quoted string
// or a bare number. A missing or unparsable field reports false; such trades
// are treated exactly like malformed messages instead of defaulting to zero,
// which would poison bar lows and the hedge-ratio fit.
func parseNum(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return n, true
	}
	return 0, false
}

// logErrStack logs error with stack trace.
func logErrStack(err error) {
	log.Error().Stack().Err(errors.WithStack(err)).Msg("")
}
