package store

import (
	"context"
	"fmt"
	"time"

	"coincapflow/internal/metrics"
	"coincapflow/logger"
	"coincapflow/models"

	"github.com/jackc/pgx/v5"
)

// appendRows copies n rows into table inside its own transaction. On any
// error nothing from this call is kept.
func (s *Store) appendRows(ctx context.Context, table string, columns []string, n int, row func(i int) ([]any, error)) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	log := s.log.WithComponent("store").WithFields(logger.Fields{"table": table, "operation": "append"})
	start := time.Now()

	copied, err := s.copyInTx(ctx, table, columns, n, row)
	if err != nil {
		logger.IncrementAppendError(table)
		metrics.IncrementAppendError(table)
		log.WithError(err).WithFields(logger.Fields{"rows": n}).Warn("append rolled back")
		return 0, fmt.Errorf("append %s: %w", table, err)
	}

	logger.IncrementRowsAppended(table, int(copied))
	metrics.AddRowsAppended(table, int(copied))
	logger.LogDataFlowEntry(log, "pipeline", table, int(copied), "rows")
	logger.LogPerformanceEntry(log, "store", "append", time.Since(start), logger.Fields{"rows": copied})
	return copied, nil
}

func (s *Store) copyInTx(ctx context.Context, table string, columns []string, n int, row func(i int) ([]any, error)) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromSlice(n, row))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return copied, nil
}

var (
	coinColumns           = []string{"id", "symbol", "name", "max_supply"}
	exchangeColumns       = []string{"id", "exchange_url"}
	exchangePairColumns   = []string{"exchange_id", "base_symbol", "base_id", "quote_symbol", "quote_id"}
	change24hColumns      = []string{"coin_id", "volume_usd", "percent", "vwap", "timestamp"}
	historicPriceColumns  = []string{"coin_id", "price", "unix_timestamp", "timestamp"}
	exchangeVolumeColumns = []string{"exchange_id", "percent_total_volume", "volume_usd", "timestamp"}
	marketTradeColumns    = []string{"exchange_pair_id", "price_quote", "price_usd", "percent_exchange_volume", "volume_24h", "trades_count_24h", "timestamp"}
)

// AppendCoins inserts coins. A duplicate id fails the whole call.
func (s *Store) AppendCoins(ctx context.Context, coins []models.Coin) (int64, error) {
	return s.appendRows(ctx, models.TableCoins, coinColumns, len(coins), func(i int) ([]any, error) {
		c := coins[i]
		return []any{c.ID, c.Symbol, c.Name, numeric(c.MaxSupply)}, nil
	})
}

// AppendExchanges inserts exchanges. A duplicate id fails the whole call.
func (s *Store) AppendExchanges(ctx context.Context, exchanges []models.Exchange) (int64, error) {
	return s.appendRows(ctx, models.TableExchanges, exchangeColumns, len(exchanges), func(i int) ([]any, error) {
		e := exchanges[i]
		return []any{e.ID, e.ExchangeURL}, nil
	})
}

// AppendExchangePairs inserts pairs; their ID fields are ignored and assigned by the database.
func (s *Store) AppendExchangePairs(ctx context.Context, pairs []models.ExchangePair) (int64, error) {
	return s.appendRows(ctx, models.TableExchangePairs, exchangePairColumns, len(pairs), func(i int) ([]any, error) {
		p := pairs[i]
		return []any{p.ExchangeID, p.BaseSymbol, p.BaseID, p.QuoteSymbol, p.QuoteID}, nil
	})
}

func (s *Store) AppendChange24h(ctx context.Context, rows []models.Change24h) (int64, error) {
	return s.appendRows(ctx, models.TableChange24h, change24hColumns, len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.CoinID, numeric(r.VolumeUSD), numeric(r.Percent), numeric(r.VWAP), r.Timestamp.UTC()}, nil
	})
}

func (s *Store) AppendHistoricPrices(ctx context.Context, rows []models.HistoricPrice) (int64, error) {
	return s.appendRows(ctx, models.TableHistoricPrices, historicPriceColumns, len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.CoinID, numeric(r.Price), nullInt8(r.UnixTimestamp), nullTimestamptz(r.Timestamp)}, nil
	})
}

func (s *Store) AppendExchangeVolume(ctx context.Context, rows []models.ExchangeVolume) (int64, error) {
	return s.appendRows(ctx, models.TableExchangeVolume, exchangeVolumeColumns, len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.ExchangeID, numeric(r.PercentTotalVolume), numeric(r.VolumeUSD), r.Timestamp.UTC()}, nil
	})
}

func (s *Store) AppendMarketTrades(ctx context.Context, rows []models.MarketTrade) (int64, error) {
	return s.appendRows(ctx, models.TableMarketTrades, marketTradeColumns, len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{
			r.ExchangePairID,
			numeric(r.PriceQuote),
			numeric(r.PriceUSD),
			numeric(r.PercentExchangeVolume),
			numeric(r.Volume24h),
			nullInt8(r.TradesCount24h),
			r.Timestamp.UTC(),
		}, nil
	})
}
