package writer

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coincapflow/config"
	"coincapflow/models"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	failKey string
}

func newFakePutter() *fakePutter {
	return &fakePutter{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if f.failKey != "" && strings.Contains(key, f.failKey) {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	f.meta[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.S3.Enabled = true
	cfg.Storage.S3.Bucket = "archive-bucket"
	cfg.Storage.S3.Region = "us-east-1"
	cfg.Coincapflow.Version = "1.2.3"
	return &cfg
}

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func testBatch() models.SnapshotBatch {
	at := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))
	return models.SnapshotBatch{
		RunID:     "run-42",
		StartedAt: at,
		Change24h: []models.Change24h{
			{CoinID: "bitcoin", VolumeUSD: dec("1000.5"), Percent: dec("-1.25"), Timestamp: at},
		},
		HistoricPrices: []models.HistoricPrice{
			{CoinID: "bitcoin", Price: dec("12345.6789012345"), UnixTimestamp: sql.NullInt64{Int64: 3, Valid: true}},
		},
		MarketTrades: []models.MarketTrade{
			{ExchangePairID: 7, PriceQuote: dec("30000"), TradesCount24h: sql.NullInt64{Int64: 10, Valid: true}, Timestamp: at},
		},
	}
}

func TestObjectKey(t *testing.T) {
	a := newArchive(newFakePutter(), testConfig())
	at := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))
	assert.Equal(t, "coincapflow/market_trades/date=2024-03-02/run-42.parquet", a.objectKey(models.TableMarketTrades, "run-42", at))
}

func TestArchiveUploadsOneObjectPerNonEmptyTable(t *testing.T) {
	putter := newFakePutter()
	a := newArchive(putter, testConfig())

	require.NoError(t, a.Archive(context.Background(), testBatch()))

	require.Len(t, putter.objects, 3)
	for _, table := range []string{models.TableChange24h, models.TableHistoricPrices, models.TableMarketTrades} {
		key := "coincapflow/" + table + "/date=2024-03-02/run-42.parquet"
		body, ok := putter.objects[key]
		require.True(t, ok, key)
		assert.True(t, bytes.HasPrefix(body, []byte("PAR1")), key)
		assert.True(t, bytes.HasSuffix(body, []byte("PAR1")), key)
		assert.Equal(t, "1", putter.meta[key]["record-count"])
		assert.Equal(t, table, putter.meta[key]["table"])
		assert.Equal(t, "1.2.3", putter.meta[key]["coincapflow-version"])
	}
	_, ok := putter.objects["coincapflow/exchange_volume/date=2024-03-02/run-42.parquet"]
	assert.False(t, ok)
}

func TestArchiveContinuesAfterUploadFailure(t *testing.T) {
	putter := newFakePutter()
	putter.failKey = models.TableHistoricPrices
	a := newArchive(putter, testConfig())

	err := a.Archive(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "historic_prices")
	assert.Len(t, putter.objects, 2)
}

func TestArchiveEmptyBatch(t *testing.T) {
	putter := newFakePutter()
	a := newArchive(putter, testConfig())

	require.NoError(t, a.Archive(context.Background(), models.SnapshotBatch{RunID: "empty"}))
	assert.Empty(t, putter.objects)
}

func TestRecordsKeepDecimalText(t *testing.T) {
	recs := historicPriceRecords("r", testBatch().HistoricPrices)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Price)
	assert.Equal(t, "12345.6789012345", *recs[0].Price)
	assert.Nil(t, recs[0].Timestamp)
	require.NotNil(t, recs[0].UnixTimestamp)
	assert.Equal(t, int64(3), *recs[0].UnixTimestamp)

	trades := marketTradeRecords("r", testBatch().MarketTrades)
	assert.Nil(t, trades[0].PriceUSD)
	assert.Equal(t, "r", trades[0].RunID)
}

func TestEncodeParquetCompression(t *testing.T) {
	for _, codec := range []string{"snappy", "gzip", "uncompressed"} {
		t.Run(codec, func(t *testing.T) {
			data, err := encodeParquet(change24hRecords("r", testBatch().Change24h), codec)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
		})
	}
}

func TestCheckCredentials(t *testing.T) {
	ctx := context.Background()
	retrieveErr := errors.New("no EC2 IMDS role found")

	err := checkCredentials(ctx, aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, retrieveErr
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, retrieveErr)

	err = checkCredentials(ctx, aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, nil
	}))
	assert.ErrorIs(t, err, errNoCredentials)

	assert.ErrorIs(t, checkCredentials(ctx, nil), errNoCredentials)

	err = checkCredentials(ctx, aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret"}, nil
	}))
	assert.NoError(t, err)
}
