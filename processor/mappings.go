package processor

import "coincapflow/models"

// Columns that are read from upstream but never persisted.
const (
	colObservedAt = "observed_at"
	colExchangeID = "exchange_id"
	colBaseID     = "base_id"
	colQuoteID    = "quote_id"
)

// CoinMapping shapes one entry of the assets listing.
var CoinMapping = Mapping{
	Table: models.TableCoins,
	Fields: []Field{
		{Upstream: "id", Column: "id", Kind: Text},
		{Upstream: "symbol", Column: "symbol", Kind: Text},
		{Upstream: "name", Column: "name", Kind: Text},
		{Upstream: "maxSupply", Column: "max_supply", Kind: Decimal},
	},
}

// HistoricPriceMapping shapes one entry of assets/{id}/history. The entry's
// time is kept twice: as the raw epoch millis column and as a fallback for
// a missing or unparseable date.
var HistoricPriceMapping = Mapping{
	Table: models.TableHistoricPrices,
	Fields: []Field{
		{Upstream: "priceUsd", Column: "price", Kind: Decimal},
		{Upstream: "time", Column: "unix_timestamp", Kind: Integer},
		{Upstream: "date", Column: "timestamp", Kind: Timestamp},
		{Upstream: "time", Column: colObservedAt, Kind: UnixMillis},
	},
}

// Change24hMapping shapes the assets/{id} payload.
var Change24hMapping = Mapping{
	Table: models.TableChange24h,
	Fields: []Field{
		{Upstream: "volumeUsd24Hr", Column: "volume_usd", Kind: Decimal},
		{Upstream: "changePercent24Hr", Column: "percent", Kind: Decimal},
		{Upstream: "vwap24Hr", Column: "vwap", Kind: Decimal},
	},
}

// ExchangeMapping shapes one entry of the exchanges listing.
var ExchangeMapping = Mapping{
	Table: models.TableExchanges,
	Fields: []Field{
		{Upstream: "exchangeId", Column: "id", Kind: Text},
		{Upstream: "exchangeUrl", Column: "exchange_url", Kind: Text},
	},
}

// ExchangeVolumeMapping shapes the exchanges/{id} payload.
var ExchangeVolumeMapping = Mapping{
	Table: models.TableExchangeVolume,
	Fields: []Field{
		{Upstream: "percentTotalVolume", Column: "percent_total_volume", Kind: Decimal},
		{Upstream: "volumeUsd", Column: "volume_usd", Kind: Decimal},
	},
}

// ExchangePairMapping shapes one markets listing row as a reference pair.
var ExchangePairMapping = Mapping{
	Table: models.TableExchangePairs,
	Fields: []Field{
		{Upstream: "exchangeId", Column: colExchangeID, Kind: Text},
		{Upstream: "baseSymbol", Column: "base_symbol", Kind: Text},
		{Upstream: "baseId", Column: colBaseID, Kind: Text},
		{Upstream: "quoteSymbol", Column: "quote_symbol", Kind: Text},
		{Upstream: "quoteId", Column: colQuoteID, Kind: Text},
	},
}

// MarketTradeMapping shapes one markets listing row. The exchange, base and
// quote ids are join keys and are not stored on market_trades.
var MarketTradeMapping = Mapping{
	Table: models.TableMarketTrades,
	Fields: []Field{
		{Upstream: "exchangeId", Column: colExchangeID, Kind: Text},
		{Upstream: "baseId", Column: colBaseID, Kind: Text},
		{Upstream: "quoteId", Column: colQuoteID, Kind: Text},
		{Upstream: "priceQuote", Column: "price_quote", Kind: Decimal},
		{Upstream: "priceUsd", Column: "price_usd", Kind: Decimal},
		{Upstream: "percentExchangeVolume", Column: "percent_exchange_volume", Kind: Decimal},
		{Upstream: "volumeUsd24Hr", Column: "volume_24h", Kind: Decimal},
		{Upstream: "tradesCount24Hr", Column: "trades_count_24h", Kind: Integer},
	},
}
