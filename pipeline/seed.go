package pipeline

import (
	"context"
	"errors"

	"coincapflow/logger"
	"coincapflow/models"
	"coincapflow/processor"
	"coincapflow/reader/coincap"
)

// Seeder fills the reference tables once. Each branch runs only while its
// table is empty, so repeated calls append nothing.
type Seeder struct {
	fetcher  Fetcher
	store    Store
	settings Settings
	opts     options
}

func NewSeeder(f Fetcher, s Store, settings Settings, opts ...Option) *Seeder {
	return &Seeder{fetcher: f, store: s, settings: settings, opts: buildOptions(opts)}
}

// Seed runs the coin branch then the exchange branch. A failure in one
// branch does not stop the other. The returned error joins every recorded
// failure.
func (s *Seeder) Seed(ctx context.Context) (*Report, error) {
	report := newReport(s.opts.runID(), s.opts.now().UTC())
	log := s.opts.log.WithComponent("seeder").WithFields(logger.Fields{"run_id": report.RunID})
	log.Info("seeding reference tables")

	s.seedCoins(ctx, report, log)
	if ctx.Err() == nil {
		s.seedExchanges(ctx, report, log)
	}

	report.FinishedAt = s.opts.now().UTC()
	report.publish(log, "seeder")
	log.WithFields(logger.Fields{
		"appended": report.Appended,
		"failures": len(report.Failures),
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("seeding finished")
	return report, joinErr(ctx, report)
}

// emptyTable reports whether table has no rows. A count failure is recorded
// and treated as not empty.
func (s *Seeder) emptyTable(ctx context.Context, report *Report, procedure, table string) bool {
	n, err := s.store.RowCount(ctx, table)
	if err != nil {
		report.fail(KindPersistence, procedure, table, err)
		return false
	}
	if n > 0 {
		report.Skipped = append(report.Skipped, table+": already seeded")
		return false
	}
	return true
}

func (s *Seeder) seedCoins(ctx context.Context, report *Report, log *logger.Entry) {
	const procedure = "seed_coins"
	if !s.emptyTable(ctx, report, procedure, models.TableCoins) {
		log.WithFields(logger.Fields{"table": models.TableCoins}).Info("table not empty, skipping")
		return
	}

	raw, err := s.fetcher.Fetch(ctx, coincap.AssetsPath(s.settings.AssetsLimit))
	if err != nil {
		report.fail(KindUpstream, procedure, "", err)
		return
	}
	coins, err := processor.Coins(raw)
	if err != nil {
		report.fail(KindUpstream, procedure, "", err)
		return
	}
	if s.settings.AssetsLimit > 0 && len(coins) > s.settings.AssetsLimit {
		coins = coins[:s.settings.AssetsLimit]
	}

	n, err := s.store.AppendCoins(ctx, coins)
	if err != nil {
		report.fail(KindPersistence, procedure, "", err)
		return
	}
	report.appended(models.TableCoins, n)

	// One history fetch and append per seeded coin.
	for _, coin := range coins {
		if ctx.Err() != nil {
			return
		}
		s.seedHistory(ctx, report, coin.ID)
	}
}

func (s *Seeder) seedHistory(ctx context.Context, report *Report, coinID string) {
	const procedure = "seed_historic_prices"
	raw, err := s.fetcher.Fetch(ctx, coincap.HistoryPath(coinID, s.settings.HistoryInterval))
	if err != nil {
		report.fail(KindUpstream, procedure, coinID, err)
		return
	}
	prices, err := processor.HistoricPrices(raw, coinID)
	if err != nil {
		report.fail(KindUpstream, procedure, coinID, err)
		return
	}
	n, err := s.store.AppendHistoricPrices(ctx, prices)
	if err != nil {
		report.fail(KindPersistence, procedure, coinID, err)
		return
	}
	report.appended(models.TableHistoricPrices, n)
}

func (s *Seeder) seedExchanges(ctx context.Context, report *Report, log *logger.Entry) {
	const procedure = "seed_exchanges"
	if !s.emptyTable(ctx, report, procedure, models.TableExchanges) {
		log.WithFields(logger.Fields{"table": models.TableExchanges}).Info("table not empty, skipping")
		return
	}

	raw, err := s.fetcher.Fetch(ctx, coincap.ExchangesPath())
	if err != nil {
		report.fail(KindUpstream, procedure, "", err)
		return
	}
	exchanges, err := processor.Exchanges(raw)
	if err != nil {
		report.fail(KindUpstream, procedure, "", err)
		return
	}
	if s.settings.ExchangesLimit > 0 && len(exchanges) > s.settings.ExchangesLimit {
		exchanges = exchanges[:s.settings.ExchangesLimit]
	}

	n, err := s.store.AppendExchanges(ctx, exchanges)
	if err != nil {
		report.fail(KindPersistence, procedure, "", err)
		return
	}
	report.appended(models.TableExchanges, n)

	s.seedExchangePairs(ctx, report, log, exchanges)
}

// seedExchangePairs keeps only listings whose exchange was seeded in the same call.
func (s *Seeder) seedExchangePairs(ctx context.Context, report *Report, log *logger.Entry, seeded []models.Exchange) {
	const procedure = "seed_exchange_pairs"
	if len(seeded) == 0 {
		log.Debug("no exchanges seeded, skipping pairs")
		report.Skipped = append(report.Skipped, models.TableExchangePairs+": no parent exchanges")
		return
	}

	raw, err := s.fetcher.Fetch(ctx, coincap.MarketsPath(s.settings.MarketsAssetID, s.settings.MarketsQuoteID))
	if err != nil {
		report.fail(KindUpstream, procedure, "", err)
		return
	}
	pairs, err := processor.ExchangePairs(raw)
	if err != nil {
		report.fail(KindUpstream, procedure, "", err)
		return
	}

	ids := make(map[string]struct{}, len(seeded))
	for _, e := range seeded {
		ids[e.ID] = struct{}{}
	}
	matched := pairs[:0]
	for _, p := range pairs {
		if _, ok := ids[p.ExchangeID]; ok {
			matched = append(matched, p)
		}
	}

	n, err := s.store.AppendExchangePairs(ctx, matched)
	if err != nil {
		report.fail(KindPersistence, procedure, "", err)
		return
	}
	report.appended(models.TableExchangePairs, n)
}

func joinErr(ctx context.Context, report *Report) error {
	return errors.Join(report.Err(), ctx.Err())
}
