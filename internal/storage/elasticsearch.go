package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	jsoniter "github.com/json-iterator/go"

	"github.com/pairsight/pairsight/internal/config"
)

// ElasticSearch is for connecting and indexing tick and bar data to
// elastic search. Archival sink only, never read by the core.
type ElasticSearch struct {
	ES        *elasticsearch.Client
	IndexName string
	Cfg       *config.ES
}

var elasticSearch ElasticSearch

// InitElasticSearch initializes elastic search connection with configured values.
func InitElasticSearch(cfg *config.ES) (*ElasticSearch, error) {
	if elasticSearch.ES == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConns = cfg.MaxIdleConns
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		esCfg := elasticsearch.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: t,
		}
		es, err := elasticsearch.NewClient(esCfg)
		if err != nil {
			return nil, err
		}
		var ctx context.Context
		if cfg.ReqTimeoutSec > 0 {
			timeoutCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ReqTimeoutSec)*time.Second)
			ctx = timeoutCtx
			defer cancel()
		} else {
			ctx = context.Background()
		}
		_, err = es.Ping(es.Ping.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		elasticSearch = ElasticSearch{
			ES:        es,
			IndexName: cfg.IndexName,
			Cfg:       cfg,
		}
	}
	return &elasticSearch, nil
}

// GetElasticSearch returns already prepared elastic search instance.
func GetElasticSearch() *ElasticSearch {
	return &elasticSearch
}

// esData holds either tick or bar data which will be sent to elastic search.
type esData struct {
	Channel   string    `json:"channel"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Qty       float64   `json:"qty,omitempty"`
	Open      float64   `json:"open,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	Close     float64   `json:"close,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// CommitTicks batch indexes input tick data to elastic search.
func (e *ElasticSearch) CommitTicks(appCtx context.Context, data []Tick) error {
	var buf bytes.Buffer
	for _, tick := range data {
		ed := esData{
			Channel:   "tick",
			Symbol:    tick.Symbol,
			Price:     tick.Price,
			Qty:       tick.Qty,
			Timestamp: tick.Timestamp,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.bufferDoc(&buf, &ed); err != nil {
			return err
		}
	}
	return e.bulk(appCtx, &buf)
}

// CommitBars batch indexes resampled bar data to elastic search.
func (e *ElasticSearch) CommitBars(appCtx context.Context, data []Bar) error {
	var buf bytes.Buffer
	for _, bar := range data {
		ed := esData{
			Channel:   "bar",
			Symbol:    bar.Symbol,
			Timeframe: bar.Timeframe,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
			Timestamp: bar.BucketStart,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.bufferDoc(&buf, &ed); err != nil {
			return err
		}
	}
	return e.bulk(appCtx, &buf)
}

func (e *ElasticSearch) bufferDoc(buf *bytes.Buffer, ed *esData) error {
	meta := []byte(fmt.Sprintf(`{"create":{}}%s`, "\n"))
	esBytes, err := jsoniter.Marshal(ed)
	if err != nil {
		return err
	}
	esBytes = append(esBytes, "\n"...)
	buf.Grow(len(meta) + len(esBytes))
	buf.Write(meta)
	buf.Write(esBytes)
	return nil
}

func (e *ElasticSearch) bulk(appCtx context.Context, buf *bytes.Buffer) error {
	var ctx context.Context
	if e.Cfg.ReqTimeoutSec > 0 {
		timeoutCtx, cancel := context.WithTimeout(appCtx, time.Duration(e.Cfg.ReqTimeoutSec)*time.Second)
		ctx = timeoutCtx
		defer cancel()
	} else {
		ctx = appCtx
	}
	resp, err := e.ES.Bulk(bytes.NewReader(buf.Bytes()), e.ES.Bulk.WithIndex(e.IndexName), e.ES.Bulk.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("code : %v, status : %v", resp.StatusCode, resp.Status())
	}
	_, err = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}
	return nil
}
