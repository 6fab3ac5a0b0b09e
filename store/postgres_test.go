package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"coincapflow/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDatabaseEnv = "COINCAPFLOW_TEST_DATABASE_URL"

// openTestStore connects to the database named by COINCAPFLOW_TEST_DATABASE_URL
// inside a fresh schema that is dropped when the test ends.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(testDatabaseEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}
	ctx := context.Background()

	schema := "coincapflow_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		admin.Close(context.Background())
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	s, err := OpenDSN(ctx, u.String(), 2)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.CreateSchemaIfAbsent(ctx))
	return s
}

func dec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func TestCreateSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSchemaIfAbsent(ctx))
	for _, table := range models.AllTables {
		n, err := s.RowCount(ctx, table)
		require.NoError(t, err)
		assert.Zero(t, n, table)
	}
}

func TestCoinRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.AppendCoins(ctx, []models.Coin{
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
		{ID: "ethereum", Symbol: "ETH", Name: "Ethereum", MaxSupply: dec("120000000")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	coins, err := s.Coins(ctx)
	require.NoError(t, err)
	require.Len(t, coins, 2)
	assert.False(t, coins[0].MaxSupply.Valid)
	require.True(t, coins[1].MaxSupply.Valid)
	assert.Equal(t, "120000000.0000000000", coins[1].MaxSupply.Decimal.StringFixed(10))
}

func TestDuplicateCoinRollsBackWholeAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendCoins(ctx, []models.Coin{{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"}})
	require.NoError(t, err)
	_, err = s.AppendCoins(ctx, []models.Coin{
		{ID: "ethereum", Symbol: "ETH", Name: "Ethereum"},
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
	})
	require.Error(t, err)

	count, err := s.RowCount(ctx, models.TableCoins)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHistoricPriceDecimalIsExact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.AppendCoins(ctx, []models.Coin{{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"}})
	require.NoError(t, err)

	_, err = s.AppendHistoricPrices(ctx, []models.HistoricPrice{{
		CoinID:        "bitcoin",
		Price:         dec("12345.6789012345"),
		UnixTimestamp: sql.NullInt64{Int64: 1700000000000, Valid: true},
		Timestamp:     sql.NullTime{Time: time.UnixMilli(1700000000000), Valid: true},
	}})
	require.NoError(t, err)

	var price pgtype.Numeric
	var unix int64
	var ts time.Time
	err = s.pool.QueryRow(ctx, `SELECT price, unix_timestamp, "timestamp" FROM historic_prices`).Scan(&price, &unix, &ts)
	require.NoError(t, err)
	assert.Equal(t, "12345.6789012345", nullDecimal(price).Decimal.String())
	assert.Equal(t, int64(1700000000000), unix)
	assert.True(t, ts.Equal(time.UnixMilli(1700000000000)))
}

func TestChildWithoutParentFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendChange24h(ctx, []models.Change24h{{CoinID: "nope", Timestamp: time.Now()}})
	require.Error(t, err)
	_, err = s.AppendMarketTrades(ctx, []models.MarketTrade{{ExchangePairID: 42, Timestamp: time.Now()}})
	require.Error(t, err)
}

func TestExchangePairsAndTrades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendExchanges(ctx, []models.Exchange{{ID: "binance", ExchangeURL: "https://www.binance.com/"}})
	require.NoError(t, err)
	_, err = s.AppendExchangePairs(ctx, []models.ExchangePair{
		{ExchangeID: "binance", BaseSymbol: "BTC", BaseID: "bitcoin", QuoteSymbol: "USDT", QuoteID: "tether"},
	})
	require.NoError(t, err)

	pairs, err := s.ExchangePairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.NotZero(t, pairs[0].ID)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.AppendExchangeVolume(ctx, []models.ExchangeVolume{{ExchangeID: "binance", VolumeUSD: dec("1.5"), Timestamp: at}})
	require.NoError(t, err)
	_, err = s.AppendMarketTrades(ctx, []models.MarketTrade{{
		ExchangePairID: pairs[0].ID,
		PriceQuote:     dec("30000.1"),
		PriceUSD:       dec("30001.2"),
		Volume24h:      dec("1000000"),
		Timestamp:      at,
	}})
	require.NoError(t, err)

	var pct pgtype.Numeric
	var trades pgtype.Int8
	err = s.pool.QueryRow(ctx, `SELECT percent_exchange_volume, trades_count_24h FROM market_trades`).Scan(&pct, &trades)
	require.NoError(t, err)
	assert.False(t, pct.Valid)
	assert.False(t, trades.Valid)

	for table, want := range map[string]int64{
		models.TableExchangeVolume: 1,
		models.TableMarketTrades:   1,
	} {
		n, err := s.RowCount(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, n, fmt.Sprintf("rows in %s", table))
	}
}
