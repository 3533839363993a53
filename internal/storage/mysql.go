package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/pairsight/pairsight/internal/config"
)

// MySQL is the durable archive: an append-only tick log plus a bar cache.
// It never serves core reads; the in-memory store stays authoritative.
type MySQL struct {
	DB  *sql.DB
	Cfg *config.MySQL
}

var mysql MySQL

// Go time gives Z00:00, mysql timestamp needs +00:00 for UTC.
const mysqlTimestamp = "2006-01-02T15:04:05.999+00:00"

// InitMySQL initializes mysql connection with configured values and makes
// sure the tick and bar tables exist.
func InitMySQL(cfg *config.MySQL) (*MySQL, error) {
	if mysql.DB == nil {
		dataSourceName := cfg.User + ":" + cfg.Password + cfg.URL + "/" + cfg.Schema
		db, err := sql.Open("mysql", dataSourceName)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxLifetime(time.Second * time.Duration(cfg.ConnMaxLifetimeSec))
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)

		ctx, cancel := reqCtx(context.Background(), cfg.ReqTimeoutSec)
		defer cancel()
		err = db.PingContext(ctx)
		if err != nil {
			return nil, err
		}
		mysql = MySQL{
			DB:  db,
			Cfg: cfg,
		}
		err = mysql.ensureSchema(context.Background())
		if err != nil {
			return nil, err
		}
	}
	return &mysql, nil
}

// GetMySQL returns already prepared mysql instance.
func GetMySQL() *MySQL {
	return &mysql
}

func (m *MySQL) ensureSchema(appCtx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tick (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			symbol VARCHAR(32) NOT NULL,
			timestamp TIMESTAMP(3) NOT NULL,
			price DOUBLE NOT NULL,
			qty DOUBLE NOT NULL,
			created_at TIMESTAMP(3) NOT NULL,
			INDEX idx_tick_symbol (symbol),
			INDEX idx_tick_timestamp (timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS bar (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			symbol VARCHAR(32) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			bucket_ts TIMESTAMP(3) NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume DOUBLE NOT NULL,
			created_at TIMESTAMP(3) NOT NULL,
			UNIQUE KEY uq_bar (symbol, timeframe, bucket_ts),
			INDEX idx_bar_bucket_ts (bucket_ts)
		)`,
	}
	for _, stmt := range stmts {
		ctx, cancel := reqCtx(appCtx, m.Cfg.ReqTimeoutSec)
		_, err := m.DB.ExecContext(ctx, stmt)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// CommitTicks batch inserts input tick data to database.
func (m *MySQL) CommitTicks(appCtx context.Context, data []Tick) error {
	if len(data) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO tick(symbol, timestamp, price, qty, created_at) VALUES ")
	for i, tick := range data {
		if i != 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("(\"%v\", \"%v\", %v, %v, \"%v\")", tick.Symbol, tick.Timestamp.Format(mysqlTimestamp), tick.Price, tick.Qty, time.Now().UTC().Format(mysqlTimestamp)))
	}
	ctx, cancel := reqCtx(appCtx, m.Cfg.ReqTimeoutSec)
	defer cancel()
	_, err := m.DB.ExecContext(ctx, sb.String())
	if err != nil {
		return err
	}
	return nil
}

// UpsertBars writes resampled bars to the cache table, keyed by
// (symbol, timeframe, bucket_ts). Re-resampling the same range rewrites the
// same rows instead of accumulating duplicates.
func (m *MySQL) UpsertBars(appCtx context.Context, data []Bar) error {
	if len(data) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO bar(symbol, timeframe, bucket_ts, open, high, low, close, volume, created_at) VALUES ")
	for i, bar := range data {
		if i != 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("(\"%v\", \"%v\", \"%v\", %v, %v, %v, %v, %v, \"%v\")", bar.Symbol, bar.Timeframe, bar.BucketStart.Format(mysqlTimestamp), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, time.Now().UTC().Format(mysqlTimestamp)))
	}
	sb.WriteString(" ON DUPLICATE KEY UPDATE open=VALUES(open), high=VALUES(high), low=VALUES(low), close=VALUES(close), volume=VALUES(volume), created_at=VALUES(created_at)")
	ctx, cancel := reqCtx(appCtx, m.Cfg.ReqTimeoutSec)
	defer cancel()
	_, err := m.DB.ExecContext(ctx, sb.String())
	if err != nil {
		return err
	}
	return nil
}

func reqCtx(appCtx context.Context, timeoutSec int) (context.Context, context.CancelFunc) {
	if timeoutSec > 0 {
		return context.WithTimeout(appCtx, time.Duration(timeoutSec)*time.Second)
	}
	return context.WithCancel(appCtx)
}
