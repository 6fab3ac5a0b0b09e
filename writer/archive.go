package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "coincapflow/config"
	"coincapflow/logger"
	"coincapflow/models"
)

// objectPutter is the part of the S3 client the archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive uploads each snapshot run's rows to S3 as one parquet object per table.
type Archive struct {
	client      objectPutter
	bucket      string
	prefix      string
	compression string
	version     string
	log         *logger.Log
}

// NewArchive builds the S3 client from storage.s3. Static credentials are
// used when both keys are set, otherwise the default AWS chain.
func NewArchive(ctx context.Context, cfg *appconfig.Config) (*Archive, error) {
	log := logger.GetLogger()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("archive").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}

	if err := checkCredentials(ctx, awsConfig.Credentials); err != nil {
		log.WithComponent("archive").WithError(err).Warn("aws credentials unavailable")
		return nil, err
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     s3cfg.Bucket,
		"region":     s3cfg.Region,
		"endpoint":   s3cfg.Endpoint,
		"path_style": s3cfg.PathStyle,
	}).Info("s3 archive initialized")

	return newArchive(client, cfg), nil
}

// errNoCredentials is returned when the provider yields credentials without keys.
var errNoCredentials = errors.New("aws credentials not found")

func checkCredentials(ctx context.Context, provider aws.CredentialsProvider) error {
	if provider == nil {
		return errNoCredentials
	}
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	if !creds.HasKeys() {
		return errNoCredentials
	}
	return nil
}

func newArchive(client objectPutter, cfg *appconfig.Config) *Archive {
	return &Archive{
		client:      client,
		bucket:      cfg.Storage.S3.Bucket,
		prefix:      cfg.Storage.S3.Prefix,
		compression: cfg.Storage.S3.Compression,
		version:     cfg.Coincapflow.Version,
		log:         logger.GetLogger(),
	}
}

// objectKey returns prefix/<table>/date=YYYY-MM-DD/<run_id>.parquet.
func (a *Archive) objectKey(table, runID string, startedAt time.Time) string {
	return path.Join(a.prefix, table, "date="+startedAt.UTC().Format("2006-01-02"), runID+".parquet")
}

type encodedTable struct {
	table string
	rows  int
	data  []byte
}

func encodeBatch(batch models.SnapshotBatch, compression string) ([]encodedTable, error) {
	var out []encodedTable
	var errs []error
	add := func(table string, rows int, data []byte, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", table, err))
			return
		}
		out = append(out, encodedTable{table: table, rows: rows, data: data})
	}

	if n := len(batch.Change24h); n > 0 {
		data, err := encodeParquet(change24hRecords(batch.RunID, batch.Change24h), compression)
		add(models.TableChange24h, n, data, err)
	}
	if n := len(batch.HistoricPrices); n > 0 {
		data, err := encodeParquet(historicPriceRecords(batch.RunID, batch.HistoricPrices), compression)
		add(models.TableHistoricPrices, n, data, err)
	}
	if n := len(batch.ExchangeVolume); n > 0 {
		data, err := encodeParquet(exchangeVolumeRecords(batch.RunID, batch.ExchangeVolume), compression)
		add(models.TableExchangeVolume, n, data, err)
	}
	if n := len(batch.MarketTrades); n > 0 {
		data, err := encodeParquet(marketTradeRecords(batch.RunID, batch.MarketTrades), compression)
		add(models.TableMarketTrades, n, data, err)
	}
	return out, errors.Join(errs...)
}

// Archive encodes and uploads every non-empty table of batch. Tables are
// independent: one failed upload does not stop the others.
func (a *Archive) Archive(ctx context.Context, batch models.SnapshotBatch) error {
	log := a.log.WithComponent("archive").WithFields(logger.Fields{"run_id": batch.RunID, "operation": "archive"})
	start := time.Now()

	tables, err := encodeBatch(batch, a.compression)
	if err != nil {
		log.WithError(err).Error("failed to encode snapshot batch")
	}
	errs := []error{err}
	for _, t := range tables {
		key := a.objectKey(t.table, batch.RunID, batch.StartedAt)
		if err := a.upload(ctx, key, t); err != nil {
			log.WithError(err).
				WithFields(logger.Fields{"bucket": a.bucket, "s3_key": key}).
				Error("failed to upload to S3")
			errs = append(errs, err)
			continue
		}
		logger.LogDataFlowEntry(log.WithFields(logger.Fields{"s3_key": key, "file_size": len(t.data)}), t.table, "s3", t.rows, "parquet")
	}

	logger.LogPerformanceEntry(log, "archive", "archive", time.Since(start), logger.Fields{"tables": len(tables)})
	return errors.Join(errs...)
}

func (a *Archive) upload(ctx context.Context, key string, t encodedTable) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(t.data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":        "parquet",
			"compression":         a.compression,
			"table":               t.table,
			"record-count":        strconv.Itoa(t.rows),
			"coincapflow-version": a.version,
		},
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
