package initializer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/sync/errgroup"

	"github.com/pairsight/pairsight/internal/config"
	"github.com/pairsight/pairsight/internal/engine"
	"github.com/pairsight/pairsight/internal/ingest"
	"github.com/pairsight/pairsight/internal/resample"
	"github.com/pairsight/pairsight/internal/storage"
)

// Start will initialize various required systems and then run ingestion for
// every configured symbol until mainCtx is canceled or a symbol exhausts its
// retries.
func Start(mainCtx context.Context, cfg *config.Config) error {
	eng, err := Build(cfg)
	if err != nil {
		return err
	}
	return Run(mainCtx, cfg, eng)
}

// Build sets up logging and storage connections from config and wires the
// engine. Split from Run so tests can drive a fully built engine without the
// supervision loop.
func Build(cfg *config.Config) (*engine.Engine, error) {

	// Setting up logger.
	// If the path given in the config for logging ends with .log then create a log file with the same name and
	// write log messages to it. Otherwise, create a new log file with a timestamp attached to it's name in the given path.
	var (
		logFile *os.File
		err     error
	)
	if strings.HasSuffix(cfg.Log.FilePath, ".log") {
		logFile, err = os.OpenFile(cfg.Log.FilePath, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			return nil, fmt.Errorf("not able to open or create log file: %v", cfg.Log.FilePath)
		}
	} else {
		logFile, err = os.Create(cfg.Log.FilePath + "_" + strconv.Itoa(int(time.Now().Unix())) + ".log")
		if err != nil {
			return nil, fmt.Errorf("not able to create log file: %v", cfg.Log.FilePath+"_"+strconv.Itoa(int(time.Now().Unix()))+".log")
		}
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	switch cfg.Log.Level {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	fileLogger := zerolog.New(logFile).With().Timestamp().Logger()
	log.Logger = fileLogger
	log.Info().Msg("logger setup is done")

	// Establish connections to the storage systems any symbol asks for.
	var (
		sinks    ingest.Sinks
		terStr   bool
		sqlStr   bool
		esStr    bool
		redisStr bool
	)
	for _, sym := range cfg.Symbols {
		for _, str := range sym.Storages {
			switch str {
			case "terminal":
				if !terStr {
					sinks.Ter = storage.InitTerminal(os.Stdout)
					terStr = true
					log.Info().Msg("terminal connected")
				}
			case "mysql":
				if !sqlStr {
					sinks.MySQL, err = storage.InitMySQL(&cfg.Connection.MySQL)
					if err != nil {
						err = errors.Wrap(err, "mysql connection")
						log.Error().Stack().Err(errors.WithStack(err)).Msg("")
						return nil, err
					}
					sqlStr = true
					log.Info().Msg("mysql connected")
				}
			case "elastic_search":
				if !esStr {
					sinks.ES, err = storage.InitElasticSearch(&cfg.Connection.ES)
					if err != nil {
						err = errors.Wrap(err, "elastic search connection")
						log.Error().Stack().Err(errors.WithStack(err)).Msg("")
						return nil, err
					}
					esStr = true
					log.Info().Msg("elastic search connected")
				}
			case "redis":
				if !redisStr {
					sinks.Redis, err = storage.InitRedis(&cfg.Connection.Redis)
					if err != nil {
						err = errors.Wrap(err, "redis connection")
						log.Error().Stack().Err(errors.WithStack(err)).Msg("")
						return nil, err
					}
					redisStr = true
					log.Info().Msg("redis connected")
				}
			}
		}
	}

	store := storage.NewMemory()
	registry := ingest.NewRegistry(store, &cfg.Connection, cfg.Symbols, sinks, "")

	var cache resample.BarCache
	var indexer resample.BarIndexer
	if sinks.MySQL != nil {
		cache = sinks.MySQL
	}
	if sinks.ES != nil {
		indexer = sinks.ES
	}
	agg := resample.NewAggregator(store, cache, indexer)

	return engine.New(store, registry, agg, sinks.Redis), nil
}

// Run supervises one ingestion loop per configured symbol. A symbol that
// drops is retried with a time gap till it reaches the configured number of
// retries; the retry counter resets once the loop has stayed up longer than
// the configured reset interval. Exhausting retries on any symbol stops the
// app; symbols never affect each other below that point.
func Run(mainCtx context.Context, cfg *config.Config, eng *engine.Engine) error {
	appErrGroup, appCtx := errgroup.WithContext(mainCtx)

	for _, sym := range cfg.Symbols {
		symbol := sym.ID
		appErrGroup.Go(func() error {
			return superviseSymbol(appCtx, eng, &cfg.Retry, symbol)
		})
	}

	err := appErrGroup.Wait()
	if err != nil {
		log.Error().Msg("exiting the app")
		return err
	}
	return nil
}

func superviseSymbol(appCtx context.Context, eng *engine.Engine, retry *config.Retry, symbol string) error {
	var retryCount int
	lastRetryTime := time.Now()

	for {
		err := eng.RunIngest(appCtx, symbol)
		if appCtx.Err() != nil {
			return appCtx.Err()
		}
		log.Error().Err(err).Str("symbol", symbol).Msg("ingestion dropped")
		if retry.Number == 0 {
			return errors.New("not able to hold " + symbol + " stream. please check the log for details")
		}
		if retry.ResetSec == 0 || time.Since(lastRetryTime).Seconds() < float64(retry.ResetSec) {
			retryCount++
		} else {
			retryCount = 1
		}
		lastRetryTime = time.Now()
		if retryCount > retry.Number {
			return fmt.Errorf("not able to hold %v stream even after %v retry. please check the log for details", symbol, retry.Number)
		}

		log.Error().Str("symbol", symbol).Int("retry", retryCount).Msg(fmt.Sprintf("retrying in %v seconds", retry.GapSec))
		tick := time.NewTicker(time.Duration(retry.GapSec) * time.Second)
		select {
		case <-tick.C:
			tick.Stop()

		// Return, if there is any error from another symbol.
		case <-appCtx.Done():
			tick.Stop()
			log.Error().Str("symbol", symbol).Msg("ctx canceled, return from supervisor")
			return appCtx.Err()
		}
	}
}
