package store

import (
	"context"
	"errors"
	"fmt"

	"coincapflow/logger"
	"coincapflow/models"

	"github.com/jackc/pgx/v5"
)

// ErrUnknownTable is returned for a table name outside the managed schema.
var ErrUnknownTable = errors.New("unknown table")

var tableDDL = map[string]string{
	models.TableCoins: `CREATE TABLE IF NOT EXISTS coins (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		name TEXT NOT NULL,
		max_supply NUMERIC(30,10)
	)`,
	models.TableExchanges: `CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		exchange_url TEXT NOT NULL
	)`,
	models.TableExchangePairs: `CREATE TABLE IF NOT EXISTS exchange_pairs (
		id BIGSERIAL PRIMARY KEY,
		exchange_id TEXT NOT NULL REFERENCES exchanges (id),
		base_symbol TEXT NOT NULL,
		base_id TEXT NOT NULL,
		quote_symbol TEXT NOT NULL,
		quote_id TEXT NOT NULL
	)`,
	models.TableChange24h: `CREATE TABLE IF NOT EXISTS change_24h (
		id BIGSERIAL PRIMARY KEY,
		coin_id TEXT NOT NULL REFERENCES coins (id),
		volume_usd NUMERIC(30,10),
		percent NUMERIC(30,10),
		vwap NUMERIC(30,10),
		"timestamp" TIMESTAMPTZ NOT NULL
	)`,
	models.TableHistoricPrices: `CREATE TABLE IF NOT EXISTS historic_prices (
		id BIGSERIAL PRIMARY KEY,
		coin_id TEXT NOT NULL REFERENCES coins (id),
		price NUMERIC(30,10),
		unix_timestamp BIGINT,
		"timestamp" TIMESTAMPTZ
	)`,
	models.TableExchangeVolume: `CREATE TABLE IF NOT EXISTS exchange_volume (
		id BIGSERIAL PRIMARY KEY,
		exchange_id TEXT NOT NULL REFERENCES exchanges (id),
		percent_total_volume NUMERIC(30,10),
		volume_usd NUMERIC(30,10),
		"timestamp" TIMESTAMPTZ NOT NULL
	)`,
	models.TableMarketTrades: `CREATE TABLE IF NOT EXISTS market_trades (
		id BIGSERIAL PRIMARY KEY,
		exchange_pair_id BIGINT NOT NULL REFERENCES exchange_pairs (id),
		price_quote NUMERIC(30,10),
		price_usd NUMERIC(30,10),
		percent_exchange_volume NUMERIC(30,10),
		volume_24h NUMERIC(30,10),
		trades_count_24h BIGINT,
		"timestamp" TIMESTAMPTZ NOT NULL
	)`,
}

var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS exchange_pairs_exchange_id_idx ON exchange_pairs (exchange_id)`,
	`CREATE INDEX IF NOT EXISTS change_24h_coin_id_timestamp_idx ON change_24h (coin_id, "timestamp")`,
	`CREATE INDEX IF NOT EXISTS historic_prices_coin_id_unix_timestamp_idx ON historic_prices (coin_id, unix_timestamp)`,
	`CREATE INDEX IF NOT EXISTS exchange_volume_exchange_id_timestamp_idx ON exchange_volume (exchange_id, "timestamp")`,
	`CREATE INDEX IF NOT EXISTS market_trades_exchange_pair_id_timestamp_idx ON market_trades (exchange_pair_id, "timestamp")`,
}

// CreateSchemaIfAbsent creates every table and index that does not exist
// yet, parents before children, in a single transaction.
func (s *Store) CreateSchemaIfAbsent(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range models.AllTables {
		if _, err := tx.Exec(ctx, tableDDL[table]); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	for _, stmt := range indexDDL {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	s.log.WithComponent("store").WithFields(logger.Fields{"tables": len(models.AllTables)}).Info("schema ready")
	return nil
}

func checkTable(table string) error {
	if _, ok := tableDDL[table]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

// RowCount returns the number of rows in table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
