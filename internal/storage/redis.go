package storage

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/pairsight/pairsight/internal/config"
)

// Redis caches the latest observed price per symbol with a TTL, for cheap
// dashboard lookups without touching the tick store.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Cfg    *config.Redis
}

var redisCache Redis

// LatestPrice is the cached view of the most recent tick for a symbol.
type LatestPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// InitRedis initializes the redis connection with configured values.
func InitRedis(cfg *config.Redis) (*Redis, error) {
	if redisCache.Client == nil {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ctx, cancel := reqCtx(context.Background(), cfg.ReqTimeoutSec)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		redisCache = Redis{
			Client: client,
			TTL:    time.Duration(cfg.TTLSec) * time.Second,
			Cfg:    cfg,
		}
	}
	return &redisCache, nil
}

// GetRedis returns already prepared redis instance.
func GetRedis() *Redis {
	return &redisCache
}

// CommitTicks writes the last tick of the batch as the symbol's latest price.
// Batches arrive in stream order per symbol, so the last element wins.
func (r *Redis) CommitTicks(appCtx context.Context, data []Tick) error {
	latest := make(map[string]Tick, 1)
	for _, tick := range data {
		latest[tick.Symbol] = tick
	}
	for _, tick := range latest {
		lp := LatestPrice{Symbol: tick.Symbol, Price: tick.Price, Timestamp: tick.Timestamp}
		payload, err := jsoniter.Marshal(lp)
		if err != nil {
			return err
		}
		ctx, cancel := reqCtx(appCtx, r.Cfg.ReqTimeoutSec)
		err = r.Client.Set(ctx, "latest:"+tick.Symbol, payload, r.TTL).Err()
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// LatestPrice returns the cached latest price for a symbol, or nil when the
// key is absent or expired.
func (r *Redis) LatestPrice(appCtx context.Context, symbol string) (*LatestPrice, error) {
	ctx, cancel := reqCtx(appCtx, r.Cfg.ReqTimeoutSec)
	defer cancel()
	payload, err := r.Client.Get(ctx, "latest:"+symbol).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var lp LatestPrice
	if err := jsoniter.Unmarshal(payload, &lp); err != nil {
		return nil, err
	}
	return &lp, nil
}
