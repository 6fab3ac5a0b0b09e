package processor

import (
	"database/sql"
	"encoding/json"
	"time"

	"coincapflow/models"

	"github.com/shopspring/decimal"
)

// Coins shapes an assets listing. Rows without an id are dropped.
func Coins(raw json.RawMessage) ([]models.Coin, error) {
	rows, err := Normalize(raw, CoinMapping)
	if err != nil {
		return nil, err
	}
	coins := make([]models.Coin, 0, len(rows))
	for _, r := range rows {
		if r.Text("id") == "" {
			continue
		}
		coins = append(coins, models.Coin{
			ID:        r.Text("id"),
			Symbol:    r.Text("symbol"),
			Name:      r.Text("name"),
			MaxSupply: r.Decimal("max_supply"),
		})
	}
	return coins, nil
}

// HistoricPrices shapes a full history series for coinID, in upstream order.
func HistoricPrices(raw json.RawMessage, coinID string) ([]models.HistoricPrice, error) {
	rows, err := Normalize(raw, HistoricPriceMapping)
	if err != nil {
		return nil, err
	}
	prices := make([]models.HistoricPrice, 0, len(rows))
	for _, r := range rows {
		prices = append(prices, historicPrice(r, coinID))
	}
	return prices, nil
}

// LatestHistoricPrice returns the entry of a history series with the
// greatest time. Entries with a time beat entries without one and ties go
// to the later position. ok is false for an empty series.
func LatestHistoricPrice(raw json.RawMessage, coinID string) (price models.HistoricPrice, ok bool, err error) {
	rows, err := Normalize(raw, HistoricPriceMapping)
	if err != nil {
		return models.HistoricPrice{}, false, err
	}
	best := -1
	for i, r := range rows {
		if best < 0 || laterOrEqual(r.Int("unix_timestamp"), rows[best].Int("unix_timestamp")) {
			best = i
		}
	}
	if best < 0 {
		return models.HistoricPrice{}, false, nil
	}
	return historicPrice(rows[best], coinID), true, nil
}

func laterOrEqual(candidate, current sql.NullInt64) bool {
	switch {
	case candidate.Valid && current.Valid:
		return candidate.Int64 >= current.Int64
	case current.Valid:
		return false
	default:
		return true
	}
}

func historicPrice(r Row, coinID string) models.HistoricPrice {
	ts := r.Time("timestamp")
	if !ts.Valid {
		ts = r.Time(colObservedAt)
	}
	return models.HistoricPrice{
		CoinID:        coinID,
		Price:         r.Decimal("price"),
		UnixTimestamp: r.Int("unix_timestamp"),
		Timestamp:     ts,
	}
}

// Change24hRows shapes an assets/{id} payload into 24h change rows for coinID
// captured at at.
func Change24hRows(raw json.RawMessage, coinID string, at time.Time) ([]models.Change24h, error) {
	rows, err := Normalize(raw, Change24hMapping)
	if err != nil {
		return nil, err
	}
	out := make([]models.Change24h, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Change24h{
			CoinID:    coinID,
			VolumeUSD: r.Decimal("volume_usd"),
			Percent:   r.Decimal("percent"),
			VWAP:      r.Decimal("vwap"),
			Timestamp: at.UTC(),
		})
	}
	return out, nil
}

// Exchanges shapes an exchanges listing. Rows without an id are dropped.
func Exchanges(raw json.RawMessage) ([]models.Exchange, error) {
	rows, err := Normalize(raw, ExchangeMapping)
	if err != nil {
		return nil, err
	}
	out := make([]models.Exchange, 0, len(rows))
	for _, r := range rows {
		if r.Text("id") == "" {
			continue
		}
		out = append(out, models.Exchange{ID: r.Text("id"), ExchangeURL: r.Text("exchange_url")})
	}
	return out, nil
}

// ExchangeVolumeRows shapes an exchanges/{id} payload for exchangeID captured at at.
func ExchangeVolumeRows(raw json.RawMessage, exchangeID string, at time.Time) ([]models.ExchangeVolume, error) {
	rows, err := Normalize(raw, ExchangeVolumeMapping)
	if err != nil {
		return nil, err
	}
	out := make([]models.ExchangeVolume, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ExchangeVolume{
			ExchangeID:         exchangeID,
			PercentTotalVolume: r.Decimal("percent_total_volume"),
			VolumeUSD:          r.Decimal("volume_usd"),
			Timestamp:          at.UTC(),
		})
	}
	return out, nil
}

// ExchangePairs shapes a markets listing into pairs. Rows without an
// exchange id are dropped; ids are left for the store to assign.
func ExchangePairs(raw json.RawMessage) ([]models.ExchangePair, error) {
	rows, err := Normalize(raw, ExchangePairMapping)
	if err != nil {
		return nil, err
	}
	out := make([]models.ExchangePair, 0, len(rows))
	for _, r := range rows {
		if r.Text(colExchangeID) == "" {
			continue
		}
		out = append(out, models.ExchangePair{
			ExchangeID:  r.Text(colExchangeID),
			BaseSymbol:  r.Text("base_symbol"),
			BaseID:      r.Text(colBaseID),
			QuoteSymbol: r.Text("quote_symbol"),
			QuoteID:     r.Text(colQuoteID),
		})
	}
	return out, nil
}

// MarketListing is one markets listing row: the join keys plus the trade columns.
type MarketListing struct {
	ExchangeID            string
	BaseID                string
	QuoteID               string
	PriceQuote            decimal.NullDecimal
	PriceUSD              decimal.NullDecimal
	PercentExchangeVolume decimal.NullDecimal
	Volume24h             decimal.NullDecimal
	TradesCount24h        sql.NullInt64
}

// Trade attaches the owning pair and the capture time.
func (l MarketListing) Trade(pairID int64, at time.Time) models.MarketTrade {
	return models.MarketTrade{
		ExchangePairID:        pairID,
		PriceQuote:            l.PriceQuote,
		PriceUSD:              l.PriceUSD,
		PercentExchangeVolume: l.PercentExchangeVolume,
		Volume24h:             l.Volume24h,
		TradesCount24h:        l.TradesCount24h,
		Timestamp:             at.UTC(),
	}
}

// MarketListings shapes a markets listing for trade snapshots.
func MarketListings(raw json.RawMessage) ([]MarketListing, error) {
	rows, err := Normalize(raw, MarketTradeMapping)
	if err != nil {
		return nil, err
	}
	out := make([]MarketListing, 0, len(rows))
	for _, r := range rows {
		out = append(out, MarketListing{
			ExchangeID:            r.Text(colExchangeID),
			BaseID:                r.Text(colBaseID),
			QuoteID:               r.Text(colQuoteID),
			PriceQuote:            r.Decimal("price_quote"),
			PriceUSD:              r.Decimal("price_usd"),
			PercentExchangeVolume: r.Decimal("percent_exchange_volume"),
			Volume24h:             r.Decimal("volume_24h"),
			TradesCount24h:        r.Int("trades_count_24h"),
		})
	}
	return out, nil
}
