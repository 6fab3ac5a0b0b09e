package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"coincapflow/models"
	"coincapflow/store"
)

var errInjected = errors.New("injected failure")

// fakeFetcher serves canned payloads by path and records every request.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeFetcher) on(path, payload string) *fakeFetcher {
	f.responses[path] = payload
	return f
}

func (f *fakeFetcher) fail(path string) *fakeFetcher {
	f.errs[path] = errInjected
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, path string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	payload, ok := f.responses[path]
	if !ok {
		return nil, fmt.Errorf("no fake response for %s", path)
	}
	return json.RawMessage(payload), nil
}

func (f *fakeFetcher) count(path string) int {
	n := 0
	for _, c := range f.calls {
		if c == path {
			n++
		}
	}
	return n
}

// memStore is an in-memory Store that enforces primary and foreign keys
// the way the PostgreSQL schema does.
type memStore struct {
	coins          []models.Coin
	exchanges      []models.Exchange
	pairs          []models.ExchangePair
	change24h      []models.Change24h
	historicPrices []models.HistoricPrice
	exchangeVolume []models.ExchangeVolume
	marketTrades   []models.MarketTrade
	nextPairID     int64
	failAppend     map[string]bool
	appendCalls    map[string]int
}

func newMemStore() *memStore {
	return &memStore{failAppend: map[string]bool{}, appendCalls: map[string]int{}}
}

func (s *memStore) RowCount(_ context.Context, table string) (int64, error) {
	switch table {
	case models.TableCoins:
		return int64(len(s.coins)), nil
	case models.TableExchanges:
		return int64(len(s.exchanges)), nil
	case models.TableExchangePairs:
		return int64(len(s.pairs)), nil
	case models.TableChange24h:
		return int64(len(s.change24h)), nil
	case models.TableHistoricPrices:
		return int64(len(s.historicPrices)), nil
	case models.TableExchangeVolume:
		return int64(len(s.exchangeVolume)), nil
	case models.TableMarketTrades:
		return int64(len(s.marketTrades)), nil
	}
	return 0, store.ErrUnknownTable
}

func (s *memStore) Coins(context.Context) ([]models.Coin, error) {
	return append([]models.Coin(nil), s.coins...), nil
}

func (s *memStore) Exchanges(context.Context) ([]models.Exchange, error) {
	return append([]models.Exchange(nil), s.exchanges...), nil
}

func (s *memStore) ExchangePairs(context.Context) ([]models.ExchangePair, error) {
	return append([]models.ExchangePair(nil), s.pairs...), nil
}

func (s *memStore) check(table string) error {
	s.appendCalls[table]++
	if s.failAppend[table] {
		return fmt.Errorf("append %s: %w", table, errInjected)
	}
	return nil
}

func (s *memStore) hasCoin(id string) bool {
	for _, c := range s.coins {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *memStore) hasExchange(id string) bool {
	for _, e := range s.exchanges {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (s *memStore) hasPair(id int64) bool {
	for _, p := range s.pairs {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (s *memStore) AppendCoins(_ context.Context, coins []models.Coin) (int64, error) {
	if err := s.check(models.TableCoins); err != nil {
		return 0, err
	}
	for _, c := range coins {
		if s.hasCoin(c.ID) {
			return 0, fmt.Errorf("duplicate coin %s", c.ID)
		}
	}
	s.coins = append(s.coins, coins...)
	return int64(len(coins)), nil
}

func (s *memStore) AppendExchanges(_ context.Context, exchanges []models.Exchange) (int64, error) {
	if err := s.check(models.TableExchanges); err != nil {
		return 0, err
	}
	for _, e := range exchanges {
		if s.hasExchange(e.ID) {
			return 0, fmt.Errorf("duplicate exchange %s", e.ID)
		}
	}
	s.exchanges = append(s.exchanges, exchanges...)
	return int64(len(exchanges)), nil
}

func (s *memStore) AppendExchangePairs(_ context.Context, pairs []models.ExchangePair) (int64, error) {
	if err := s.check(models.TableExchangePairs); err != nil {
		return 0, err
	}
	for _, p := range pairs {
		if !s.hasExchange(p.ExchangeID) {
			return 0, fmt.Errorf("exchange_pairs: missing exchange %s", p.ExchangeID)
		}
	}
	for _, p := range pairs {
		s.nextPairID++
		p.ID = s.nextPairID
		s.pairs = append(s.pairs, p)
	}
	return int64(len(pairs)), nil
}

func (s *memStore) AppendChange24h(_ context.Context, rows []models.Change24h) (int64, error) {
	if err := s.check(models.TableChange24h); err != nil {
		return 0, err
	}
	for _, r := range rows {
		if !s.hasCoin(r.CoinID) {
			return 0, fmt.Errorf("change_24h: missing coin %s", r.CoinID)
		}
	}
	s.change24h = append(s.change24h, rows...)
	return int64(len(rows)), nil
}

func (s *memStore) AppendHistoricPrices(_ context.Context, rows []models.HistoricPrice) (int64, error) {
	if err := s.check(models.TableHistoricPrices); err != nil {
		return 0, err
	}
	for _, r := range rows {
		if !s.hasCoin(r.CoinID) {
			return 0, fmt.Errorf("historic_prices: missing coin %s", r.CoinID)
		}
	}
	s.historicPrices = append(s.historicPrices, rows...)
	return int64(len(rows)), nil
}

func (s *memStore) AppendExchangeVolume(_ context.Context, rows []models.ExchangeVolume) (int64, error) {
	if err := s.check(models.TableExchangeVolume); err != nil {
		return 0, err
	}
	for _, r := range rows {
		if !s.hasExchange(r.ExchangeID) {
			return 0, fmt.Errorf("exchange_volume: missing exchange %s", r.ExchangeID)
		}
	}
	s.exchangeVolume = append(s.exchangeVolume, rows...)
	return int64(len(rows)), nil
}

func (s *memStore) AppendMarketTrades(_ context.Context, rows []models.MarketTrade) (int64, error) {
	if err := s.check(models.TableMarketTrades); err != nil {
		return 0, err
	}
	for _, r := range rows {
		if !s.hasPair(r.ExchangePairID) {
			return 0, fmt.Errorf("market_trades: missing pair %d", r.ExchangePairID)
		}
	}
	s.marketTrades = append(s.marketTrades, rows...)
	return int64(len(rows)), nil
}

type fakeArchiver struct {
	batches []models.SnapshotBatch
	err     error
}

func (a *fakeArchiver) Archive(_ context.Context, batch models.SnapshotBatch) error {
	a.batches = append(a.batches, batch)
	return a.err
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() []Option {
	return []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRunID(func() string { return "run-1" }),
	}
}

func testSettings() Settings {
	return Settings{
		AssetsLimit:     50,
		ExchangesLimit:  20,
		HistoryInterval: "d1",
		MarketsAssetID:  "bitcoin",
		MarketsQuoteID:  "tether",
		MatchMode:       "exchange",
	}
}
