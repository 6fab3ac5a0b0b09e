package writer

import (
	"bytes"
	"database/sql"
	"fmt"

	"coincapflow/models"

	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// Decimals are written as their exact string form.

type change24hRecord struct {
	RunID     string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CoinID    string  `parquet:"name=coin_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	VolumeUSD *string `parquet:"name=volume_usd, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Percent   *string `parquet:"name=percent, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	VWAP      *string `parquet:"name=vwap, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type historicPriceRecord struct {
	RunID         string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CoinID        string  `parquet:"name=coin_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price         *string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UnixTimestamp *int64  `parquet:"name=unix_timestamp, type=INT64, repetitiontype=OPTIONAL"`
	Timestamp     *int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
}

type exchangeVolumeRecord struct {
	RunID              string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExchangeID         string  `parquet:"name=exchange_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PercentTotalVolume *string `parquet:"name=percent_total_volume, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	VolumeUSD          *string `parquet:"name=volume_usd, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Timestamp          int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type marketTradeRecord struct {
	RunID                 string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExchangePairID        int64   `parquet:"name=exchange_pair_id, type=INT64"`
	PriceQuote            *string `parquet:"name=price_quote, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PriceUSD              *string `parquet:"name=price_usd, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PercentExchangeVolume *string `parquet:"name=percent_exchange_volume, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Volume24h             *string `parquet:"name=volume_24h, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	TradesCount24h        *int64  `parquet:"name=trades_count_24h, type=INT64, repetitiontype=OPTIONAL"`
	Timestamp             int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func decimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullableInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullableMillis(t sql.NullTime) *int64 {
	if !t.Valid {
		return nil
	}
	v := t.Time.UnixMilli()
	return &v
}

func change24hRecords(runID string, rows []models.Change24h) []change24hRecord {
	out := make([]change24hRecord, len(rows))
	for i, r := range rows {
		out[i] = change24hRecord{
			RunID:     runID,
			CoinID:    r.CoinID,
			VolumeUSD: decimalString(r.VolumeUSD),
			Percent:   decimalString(r.Percent),
			VWAP:      decimalString(r.VWAP),
			Timestamp: r.Timestamp.UnixMilli(),
		}
	}
	return out
}

func historicPriceRecords(runID string, rows []models.HistoricPrice) []historicPriceRecord {
	out := make([]historicPriceRecord, len(rows))
	for i, r := range rows {
		out[i] = historicPriceRecord{
			RunID:         runID,
			CoinID:        r.CoinID,
			Price:         decimalString(r.Price),
			UnixTimestamp: nullableInt(r.UnixTimestamp),
			Timestamp:     nullableMillis(r.Timestamp),
		}
	}
	return out
}

func exchangeVolumeRecords(runID string, rows []models.ExchangeVolume) []exchangeVolumeRecord {
	out := make([]exchangeVolumeRecord, len(rows))
	for i, r := range rows {
		out[i] = exchangeVolumeRecord{
			RunID:              runID,
			ExchangeID:         r.ExchangeID,
			PercentTotalVolume: decimalString(r.PercentTotalVolume),
			VolumeUSD:          decimalString(r.VolumeUSD),
			Timestamp:          r.Timestamp.UnixMilli(),
		}
	}
	return out
}

func marketTradeRecords(runID string, rows []models.MarketTrade) []marketTradeRecord {
	out := make([]marketTradeRecord, len(rows))
	for i, r := range rows {
		out[i] = marketTradeRecord{
			RunID:                 runID,
			ExchangePairID:        r.ExchangePairID,
			PriceQuote:            decimalString(r.PriceQuote),
			PriceUSD:              decimalString(r.PriceUSD),
			PercentExchangeVolume: decimalString(r.PercentExchangeVolume),
			Volume24h:             decimalString(r.Volume24h),
			TradesCount24h:        nullableInt(r.TradesCount24h),
			Timestamp:             r.Timestamp.UnixMilli(),
		}
	}
	return out
}

// memoryFileWriter implements source.ParquetFile for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }

// Seek only reports the current size; the writer never seeks backwards.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encodeParquet writes records into an in-memory parquet file.
func encodeParquet[T any](records []T, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(T), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return fw.Bytes(), nil
}
