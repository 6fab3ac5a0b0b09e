package store

import (
	"context"
	"fmt"

	"coincapflow/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Coins returns every persisted coin ordered by id.
func (s *Store) Coins(ctx context.Context) ([]models.Coin, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, symbol, name, max_supply FROM coins ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query coins: %w", err)
	}
	coins, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Coin, error) {
		var c models.Coin
		var maxSupply pgtype.Numeric
		if err := row.Scan(&c.ID, &c.Symbol, &c.Name, &maxSupply); err != nil {
			return c, err
		}
		c.MaxSupply = nullDecimal(maxSupply)
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan coins: %w", err)
	}
	return coins, nil
}

// Exchanges returns every persisted exchange ordered by id.
func (s *Store) Exchanges(ctx context.Context) ([]models.Exchange, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, exchange_url FROM exchanges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	exchanges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Exchange, error) {
		var e models.Exchange
		err := row.Scan(&e.ID, &e.ExchangeURL)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan exchanges: %w", err)
	}
	return exchanges, nil
}

// ExchangePairs returns every persisted pair ordered by id.
func (s *Store) ExchangePairs(ctx context.Context) ([]models.ExchangePair, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, exchange_id, base_symbol, base_id, quote_symbol, quote_id FROM exchange_pairs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query exchange pairs: %w", err)
	}
	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ExchangePair, error) {
		var p models.ExchangePair
		err := row.Scan(&p.ID, &p.ExchangeID, &p.BaseSymbol, &p.BaseID, &p.QuoteSymbol, &p.QuoteID)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan exchange pairs: %w", err)
	}
	return pairs, nil
}
