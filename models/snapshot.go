package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Change24h is one observation of a coin's trailing 24 hour statistics.
type Change24h struct {
	CoinID    string              `json:"coin_id"`
	VolumeUSD decimal.NullDecimal `json:"volume_usd"`
	Percent   decimal.NullDecimal `json:"percent"`
	VWAP      decimal.NullDecimal `json:"vwap"`
	Timestamp time.Time           `json:"timestamp"`
}

// HistoricPrice is one point of a coin's daily price series.
type HistoricPrice struct {
	CoinID        string              `json:"coin_id"`
	Price         decimal.NullDecimal `json:"price"`
	UnixTimestamp sql.NullInt64       `json:"unix_timestamp"`
	Timestamp     sql.NullTime        `json:"timestamp"`
}

// ExchangeVolume is one observation of an exchange's traded volume.
type ExchangeVolume struct {
	ExchangeID         string              `json:"exchange_id"`
	PercentTotalVolume decimal.NullDecimal `json:"percent_total_volume"`
	VolumeUSD          decimal.NullDecimal `json:"volume_usd"`
	Timestamp          time.Time           `json:"timestamp"`
}

// MarketTrade is one observation of a trading pair's market statistics.
type MarketTrade struct {
	ExchangePairID        int64               `json:"exchange_pair_id"`
	PriceQuote            decimal.NullDecimal `json:"price_quote"`
	PriceUSD              decimal.NullDecimal `json:"price_usd"`
	PercentExchangeVolume decimal.NullDecimal `json:"percent_exchange_volume"`
	Volume24h             decimal.NullDecimal `json:"volume_24h"`
	TradesCount24h        sql.NullInt64       `json:"trades_count_24h"`
	Timestamp             time.Time           `json:"timestamp"`
}

// SnapshotBatch collects the rows a single snapshot run committed.
type SnapshotBatch struct {
	RunID          string
	StartedAt      time.Time
	Change24h      []Change24h
	HistoricPrices []HistoricPrice
	ExchangeVolume []ExchangeVolume
	MarketTrades   []MarketTrade
}

// Len reports the number of rows across all tables of the batch.
func (b SnapshotBatch) Len() int {
	return len(b.Change24h) + len(b.HistoricPrices) + len(b.ExchangeVolume) + len(b.MarketTrades)
}
