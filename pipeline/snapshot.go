package pipeline

import (
	"context"

	"coincapflow/config"
	"coincapflow/logger"
	"coincapflow/models"
	"coincapflow/processor"
	"coincapflow/reader/coincap"
)

// Snapshotter appends one time-series observation per reference row.
type Snapshotter struct {
	fetcher  Fetcher
	store    Store
	settings Settings
	opts     options
}

func NewSnapshotter(f Fetcher, s Store, settings Settings, opts ...Option) *Snapshotter {
	return &Snapshotter{fetcher: f, store: s, settings: settings, opts: buildOptions(opts)}
}

// Run executes the change_24h, historic_prices, exchange_volume and
// market_trades procedures in that order. Each procedure runs regardless of
// the others' failures. Committed rows are handed to the archiver, if any.
func (s *Snapshotter) Run(ctx context.Context) (*Report, error) {
	report := newReport(s.opts.runID(), s.opts.now().UTC())
	batch := models.SnapshotBatch{RunID: report.RunID, StartedAt: report.StartedAt}
	log := s.opts.log.WithComponent("snapshotter").WithFields(logger.Fields{"run_id": report.RunID})
	log.Info("snapshot run started")

	procedures := []func(context.Context, *Report, *models.SnapshotBatch, *logger.Entry){
		s.change24h,
		s.historicPrices,
		s.exchangeVolume,
		s.marketTrades,
	}
	for _, proc := range procedures {
		if ctx.Err() != nil {
			break
		}
		proc(ctx, report, &batch, log)
	}

	if s.opts.archiver != nil && batch.Len() > 0 && ctx.Err() == nil {
		if err := s.opts.archiver.Archive(ctx, batch); err != nil {
			report.fail(KindArchive, "archive", report.RunID, err)
		}
	}

	report.FinishedAt = s.opts.now().UTC()
	report.publish(log, "snapshotter")
	entry := log.WithFields(logger.Fields{
		"appended": report.Appended,
		"failures": len(report.Failures),
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	})
	if len(report.Failures) > 0 {
		entry.Warn("snapshot run finished with failures")
	} else {
		entry.Info("snapshot run finished")
	}
	return report, joinErr(ctx, report)
}

func (s *Snapshotter) coins(ctx context.Context, report *Report, procedure string, log *logger.Entry) []models.Coin {
	coins, err := s.store.Coins(ctx)
	if err != nil {
		report.fail(KindPersistence, procedure, models.TableCoins, err)
		return nil
	}
	if len(coins) == 0 {
		log.WithFields(logger.Fields{"procedure": procedure}).Debug("no coins, skipping")
		report.Skipped = append(report.Skipped, procedure+": no parent coins")
	}
	return coins
}

func (s *Snapshotter) change24h(ctx context.Context, report *Report, batch *models.SnapshotBatch, log *logger.Entry) {
	const procedure = models.TableChange24h
	for _, coin := range s.coins(ctx, report, procedure, log) {
		if ctx.Err() != nil {
			return
		}
		raw, err := s.fetcher.Fetch(ctx, coincap.AssetPath(coin.ID))
		if err != nil {
			report.fail(KindUpstream, procedure, coin.ID, err)
			continue
		}
		rows, err := processor.Change24hRows(raw, coin.ID, s.opts.now())
		if err != nil {
			report.fail(KindUpstream, procedure, coin.ID, err)
			continue
		}
		n, err := s.store.AppendChange24h(ctx, rows)
		if err != nil {
			report.fail(KindPersistence, procedure, coin.ID, err)
			continue
		}
		report.appended(procedure, n)
		batch.Change24h = append(batch.Change24h, rows...)
	}
}

func (s *Snapshotter) historicPrices(ctx context.Context, report *Report, batch *models.SnapshotBatch, log *logger.Entry) {
	const procedure = models.TableHistoricPrices
	for _, coin := range s.coins(ctx, report, procedure, log) {
		if ctx.Err() != nil {
			return
		}
		raw, err := s.fetcher.Fetch(ctx, coincap.HistoryPath(coin.ID, s.settings.HistoryInterval))
		if err != nil {
			report.fail(KindUpstream, procedure, coin.ID, err)
			continue
		}
		latest, ok, err := processor.LatestHistoricPrice(raw, coin.ID)
		if err != nil {
			report.fail(KindUpstream, procedure, coin.ID, err)
			continue
		}
		if !ok {
			log.WithFields(logger.Fields{"coin_id": coin.ID}).Debug("empty history, nothing to append")
			continue
		}
		rows := []models.HistoricPrice{latest}
		n, err := s.store.AppendHistoricPrices(ctx, rows)
		if err != nil {
			report.fail(KindPersistence, procedure, coin.ID, err)
			continue
		}
		report.appended(procedure, n)
		batch.HistoricPrices = append(batch.HistoricPrices, rows...)
	}
}

func (s *Snapshotter) exchangeVolume(ctx context.Context, report *Report, batch *models.SnapshotBatch, log *logger.Entry) {
	const procedure = models.TableExchangeVolume
	exchanges, err := s.store.Exchanges(ctx)
	if err != nil {
		report.fail(KindPersistence, procedure, models.TableExchanges, err)
		return
	}
	if len(exchanges) == 0 {
		log.WithFields(logger.Fields{"procedure": procedure}).Debug("no exchanges, skipping")
		report.Skipped = append(report.Skipped, procedure+": no parent exchanges")
		return
	}
	for _, ex := range exchanges {
		if ctx.Err() != nil {
			return
		}
		raw, err := s.fetcher.Fetch(ctx, coincap.ExchangePath(ex.ID))
		if err != nil {
			report.fail(KindUpstream, procedure, ex.ID, err)
			continue
		}
		rows, err := processor.ExchangeVolumeRows(raw, ex.ID, s.opts.now())
		if err != nil {
			report.fail(KindUpstream, procedure, ex.ID, err)
			continue
		}
		n, err := s.store.AppendExchangeVolume(ctx, rows)
		if err != nil {
			report.fail(KindPersistence, procedure, ex.ID, err)
			continue
		}
		report.appended(procedure, n)
		batch.ExchangeVolume = append(batch.ExchangeVolume, rows...)
	}
}

// marketTrades fetches the listing once and appends, per persisted pair, the
// listing rows selected by the match mode.
func (s *Snapshotter) marketTrades(ctx context.Context, report *Report, batch *models.SnapshotBatch, log *logger.Entry) {
	const procedure = models.TableMarketTrades
	pairs, err := s.store.ExchangePairs(ctx)
	if err != nil {
		report.fail(KindPersistence, procedure, models.TableExchangePairs, err)
		return
	}
	if len(pairs) == 0 {
		log.WithFields(logger.Fields{"procedure": procedure}).Debug("no exchange pairs, skipping")
		report.Skipped = append(report.Skipped, procedure+": no parent exchange pairs")
		return
	}

	raw, err := s.fetcher.Fetch(ctx, coincap.MarketsPath(s.settings.MarketsAssetID, s.settings.MarketsQuoteID))
	if err != nil {
		report.fail(KindUpstream, procedure, "", err)
		return
	}
	listings, err := processor.MarketListings(raw)
	if err != nil {
		report.fail(KindUpstream, procedure, "", err)
		return
	}

	match := exchangeMatcher(pairs)
	if s.settings.MatchMode == config.MatchByPair {
		match = pairMatcher
	}

	for _, pair := range pairs {
		if ctx.Err() != nil {
			return
		}
		at := s.opts.now()
		var rows []models.MarketTrade
		for _, l := range listings {
			if match(pair, l) {
				rows = append(rows, l.Trade(pair.ID, at))
			}
		}
		if len(rows) == 0 {
			continue
		}
		n, err := s.store.AppendMarketTrades(ctx, rows)
		if err != nil {
			report.fail(KindPersistence, procedure, pairKey(pair), err)
			continue
		}
		report.appended(procedure, n)
		batch.MarketTrades = append(batch.MarketTrades, rows...)
	}
}

// exchangeMatcher selects every listing whose exchange appears among the
// persisted pairs, whichever pair is being written. With several pairs per
// exchange the same listing rows are attached to each of them.
func exchangeMatcher(pairs []models.ExchangePair) func(models.ExchangePair, processor.MarketListing) bool {
	ids := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		ids[p.ExchangeID] = struct{}{}
	}
	return func(_ models.ExchangePair, l processor.MarketListing) bool {
		_, ok := ids[l.ExchangeID]
		return ok
	}
}

// pairMatcher selects the listing rows of exactly this pair.
func pairMatcher(p models.ExchangePair, l processor.MarketListing) bool {
	return l.ExchangeID == p.ExchangeID && l.BaseID == p.BaseID && l.QuoteID == p.QuoteID
}

func pairKey(p models.ExchangePair) string {
	return p.ExchangeID + ":" + p.BaseID + "/" + p.QuoteID
}
