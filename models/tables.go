package models

// Persisted table names. Reference tables are seeded once, time-series
// tables grow by one row per reference row on every snapshot run.
const (
	TableCoins          = "coins"
	TableExchanges      = "exchanges"
	TableExchangePairs  = "exchange_pairs"
	TableChange24h      = "change_24h"
	TableHistoricPrices = "historic_prices"
	TableExchangeVolume = "exchange_volume"
	TableMarketTrades   = "market_trades"
)

// ReferenceTables lists the tables guarded by the seed emptiness check.
var ReferenceTables = []string{TableCoins, TableExchanges, TableExchangePairs}

// TimeSeriesTables lists the append-only snapshot tables in run order.
var TimeSeriesTables = []string{TableChange24h, TableHistoricPrices, TableExchangeVolume, TableMarketTrades}

// AllTables lists every table in foreign-key dependency order.
var AllTables = []string{
	TableCoins,
	TableExchanges,
	TableExchangePairs,
	TableChange24h,
	TableHistoricPrices,
	TableExchangeVolume,
	TableMarketTrades,
}
