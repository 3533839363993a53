package config

const (
	// BinanceFuturesWebsocketURL is the base url of the binance USD-M futures stream endpoint.
	// Per-symbol trade stream is BinanceFuturesWebsocketURL + "/" + lowercase symbol + "@trade".
	BinanceFuturesWebsocketURL = "wss://fstream.binance.com/ws"
)

// Config contains config values for the app.
// Struct values are loaded from user defined JSON config file.
type Config struct {
	Symbols    []Symbol   `json:"symbols"`
	Connection Connection `json:"connection"`
	Retry      Retry      `json:"retry"`
	Analytics  Analytics  `json:"analytics"`
	Log        Log        `json:"log"`
}

// Symbol contains config values for one tracked market symbol.
type Symbol struct {
	ID       string   `json:"id"`
	Storages []string `json:"storages"`
}

// Retry contains config values for the ingestion supervision loop.
type Retry struct {
	Number   int `json:"number"`
	GapSec   int `json:"gap_sec"`
	ResetSec int `json:"reset_sec"`
}

// Analytics contains default values for the pairs analytics pull API.
type Analytics struct {
	Timeframe       string  `json:"timeframe"`
	LookbackMin     int     `json:"lookback_min"`
	Window          int     `json:"window"`
	ZAlertThreshold float64 `json:"z_alert_threshold"`
}

// Connection contains config values for different API and storage connections.
type Connection struct {
	WS       WS       `json:"websocket"`
	Terminal Terminal `json:"terminal"`
	MySQL    MySQL    `json:"mysql"`
	ES       ES       `json:"elastic_search"`
	Redis    Redis    `json:"redis"`
}

// WS contains config values for websocket connection.
type WS struct {
	ConnTimeoutSec int `json:"conn_timeout_sec"`
	ReadTimeoutSec int `json:"read_timeout_sec"`
}

// Terminal contains config values for terminal display.
type Terminal struct {
	TickCommitBuf int `json:"tick_commit_buffer"`
}

// MySQL contains config values for mysql.
type MySQL struct {
	User               string `json:"user"`
	Password           string `json:"password"`
	URL                string `json:"URL"`
	Schema             string `json:"schema"`
	ReqTimeoutSec      int    `json:"request_timeout_sec"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec"`
	MaxOpenConns       int    `json:"max_open_conns"`
	MaxIdleConns       int    `json:"max_idle_conns"`
	TickCommitBuf      int    `json:"tick_commit_buffer"`
}

// ES contains config values for elastic search.
type ES struct {
	Addresses           []string `json:"addresses"`
	Username            string   `json:"username"`
	Password            string   `json:"password"`
	IndexName           string   `json:"index_name"`
	ReqTimeoutSec       int      `json:"request_timeout_sec"`
	MaxIdleConns        int      `json:"max_idle_conns"`
	MaxIdleConnsPerHost int      `json:"max_idle_conns_per_host"`
	TickCommitBuf       int      `json:"tick_commit_buffer"`
}

// Redis contains config values for the latest price cache.
type Redis struct {
	Address       string `json:"address"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	TTLSec        int    `json:"ttl_sec"`
	ReqTimeoutSec int    `json:"request_timeout_sec"`
}

// Log contains config values for logging.
type Log struct {
	Level    string `json:"level"`
	FilePath string `json:"file_path"`
}
