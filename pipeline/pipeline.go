// Package pipeline runs the seed and snapshot procedures that move CoinCap
// payloads into the reference and time-series tables.
//
// Execution is sequential: one request per reference row, each append in its
// own transaction. A failed fetch or append is recorded in the run's Report
// and the procedure moves on to the next row.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"coincapflow/config"
	"coincapflow/logger"
	"coincapflow/models"

	"github.com/google/uuid"
)

// Fetcher returns the data field of a CoinCap resource path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (json.RawMessage, error)
}

// Store is the persistence the procedures need.
type Store interface {
	RowCount(ctx context.Context, table string) (int64, error)
	Coins(ctx context.Context) ([]models.Coin, error)
	Exchanges(ctx context.Context) ([]models.Exchange, error)
	ExchangePairs(ctx context.Context) ([]models.ExchangePair, error)

	AppendCoins(ctx context.Context, coins []models.Coin) (int64, error)
	AppendExchanges(ctx context.Context, exchanges []models.Exchange) (int64, error)
	AppendExchangePairs(ctx context.Context, pairs []models.ExchangePair) (int64, error)
	AppendChange24h(ctx context.Context, rows []models.Change24h) (int64, error)
	AppendHistoricPrices(ctx context.Context, rows []models.HistoricPrice) (int64, error)
	AppendExchangeVolume(ctx context.Context, rows []models.ExchangeVolume) (int64, error)
	AppendMarketTrades(ctx context.Context, rows []models.MarketTrade) (int64, error)
}

// Archiver exports the rows a snapshot run committed.
type Archiver interface {
	Archive(ctx context.Context, batch models.SnapshotBatch) error
}

// Settings are the source and pipeline knobs the procedures read.
type Settings struct {
	AssetsLimit     int
	ExchangesLimit  int
	HistoryInterval string
	MarketsAssetID  string
	MarketsQuoteID  string
	MatchMode       string
}

// SettingsFromConfig extracts Settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	src := cfg.Source.Coincap
	return Settings{
		AssetsLimit:     src.AssetsLimit,
		ExchangesLimit:  src.ExchangesLimit,
		HistoryInterval: src.HistoryInterval,
		MarketsAssetID:  src.Markets.AssetID,
		MarketsQuoteID:  src.Markets.QuoteID,
		MatchMode:       cfg.Pipeline.MarketTrades.Match,
	}
}

type options struct {
	now      func() time.Time
	runID    func() string
	archiver Archiver
	log      *logger.Log
}

// Option customises a Seeder or Snapshotter.
type Option func(*options)

// WithClock replaces time.Now for capture timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRunID replaces the uuid run id generator.
func WithRunID(gen func() string) Option {
	return func(o *options) { o.runID = gen }
}

// WithArchiver exports each snapshot run's committed rows.
func WithArchiver(a Archiver) Option {
	return func(o *options) { o.archiver = a }
}

// WithLogger replaces the global logger.
func WithLogger(l *logger.Log) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		runID: uuid.NewString,
		log:   logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
