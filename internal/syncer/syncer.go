package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"hdblens/server/config"
	"hdblens/server/internal/database"
	"hdblens/server/internal/datagov"
	"hdblens/server/internal/models"
	"hdblens/server/internal/onemap"
	"hdblens/server/internal/scoring"
	"hdblens/server/internal/stats"
)

// ErrSyncInProgress mirrors the database lease error for callers that only
// import this package.
var ErrSyncInProgress = database.ErrSyncInProgress

// Result summarizes one sync invocation.
type Result struct {
	Fetched  int           `json:"records_fetched"`
	Inserted int           `json:"records_inserted"`
	Duration time.Duration `json:"-"`
}

// EnrichedUnit describes one unit processed by the enrichment pipeline.
type EnrichedUnit struct {
	Address string  `json:"address"`
	Score   float64 `json:"score"`
	Transit string  `json:"transit"`
}

// Orchestrator coordinates source fetch, persistence, aggregation and the
// enrichment/scoring sub-pipeline for one bounded invocation. Large
// backlogs drain incrementally across repeated invocations; every write is
// idempotent on natural keys, so overlaps and retries are safe.
type Orchestrator struct {
	cfg        *config.Config
	db         *database.Database
	source     *datagov.Client
	enricher   *onemap.Client
	aggregator *stats.Aggregator
	logger     *logrus.Logger
}

func NewOrchestrator(cfg *config.Config, db *database.Database, source *datagov.Client, enricher *onemap.Client, aggregator *stats.Aggregator, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		db:         db,
		source:     source,
		enricher:   enricher,
		aggregator: aggregator,
		logger:     logger,
	}
}

// RunSync executes one full sync. It fails closed: any terminal error is
// written to the sync state before returning, and state never stays at
// running once this call returns.
func (o *Orchestrator) RunSync(ctx context.Context) (Result, error) {
	start := time.Now()

	if err := o.db.ClaimSyncRunning(models.SyncKindTransactions, start); err != nil {
		return Result{}, err
	}

	result, err := o.runSyncLocked(ctx)
	result.Duration = time.Since(start)

	if finishErr := o.db.FinishSync(models.SyncKindTransactions, result.Inserted, err); finishErr != nil {
		o.logger.WithError(finishErr).Error("Failed to write terminal sync state")
	}

	if err != nil {
		o.logger.WithError(err).Error("Sync failed")
		return result, err
	}

	o.logger.WithFields(logrus.Fields{
		"fetched":     result.Fetched,
		"inserted":    result.Inserted,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Sync completed")
	return result, nil
}

func (o *Orchestrator) runSyncLocked(ctx context.Context) (Result, error) {
	var result Result

	watermark, err := o.watermark()
	if err != nil {
		return result, fmt.Errorf("failed to compute watermark: %w", err)
	}
	o.logger.WithField("watermark", watermark).Info("Starting transaction fetch")

	records, fetched, err := o.fetchNewRecords(ctx, watermark)
	result.Fetched = fetched
	if err != nil {
		return result, err
	}

	inserted, err := o.db.UpsertTransactions(records)
	if err != nil {
		return result, fmt.Errorf("failed to insert transactions: %w", err)
	}
	result.Inserted = inserted

	if _, err := o.aggregator.Recompute(o.cfg.Stats.WindowMonths); err != nil {
		return result, fmt.Errorf("failed to recompute statistics: %w", err)
	}

	// Enrichment is best-effort within a sync run: missing credentials
	// skip the phase, and per-unit failures never fail the sync.
	if !o.cfg.HasEnrichmentCredentials() {
		o.logger.Warn("Enrichment credentials not configured, skipping scoring phase")
		return result, nil
	}
	if _, err := o.enrichBacklog(ctx, o.cfg.Scoring.SyncBacklogLimit); err != nil {
		return result, fmt.Errorf("enrichment phase failed: %w", err)
	}

	return result, nil
}

// watermark is the newest stored month, or the configured lookback when
// the store is empty. It only ever moves forward as new months arrive.
func (o *Orchestrator) watermark() (string, error) {
	latest, err := o.db.LatestMonth()
	if err != nil {
		return "", err
	}
	if latest != "" {
		return latest, nil
	}
	return time.Now().AddDate(0, -o.cfg.Source.LookbackMonths, 0).Format("2006-01"), nil
}

// fetchNewRecords pages through the descending-sorted feed until a stop
// condition fires: short page, page entirely below the watermark, the page
// cap, or an upstream rate limit (soft stop, keeps fetched pages).
func (o *Orchestrator) fetchNewRecords(ctx context.Context, watermark string) ([]models.Transaction, int, error) {
	var accumulated []models.Transaction
	fetched := 0
	pageSize := o.cfg.Source.PageSize

	for page := 0; page < o.cfg.Source.MaxPages; page++ {
		if ctx.Err() != nil {
			return accumulated, fetched, ctx.Err()
		}

		records, pageCount, err := o.source.FetchPage(page*pageSize, pageSize)
		if errors.Is(err, datagov.ErrRateLimited) {
			o.logger.WithField("page", page).Warn("Rate limited mid-fetch, keeping pages already fetched")
			return accumulated, fetched, nil
		}
		if err != nil {
			return accumulated, fetched, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}

		fetched += pageCount

		newest := ""
		for _, rec := range records {
			if rec.Month > newest {
				newest = rec.Month
			}
			if rec.Month >= watermark {
				accumulated = append(accumulated, rec.ToModel())
			}
		}

		// Descending sort: once a whole page is older than the
		// watermark, no later page can be relevant.
		if newest != "" && newest < watermark {
			break
		}
		// End-of-data check uses the raw upstream count: malformed records
		// shrink the normalized slice without the feed being exhausted.
		if pageCount < pageSize {
			break
		}
	}

	return accumulated, fetched, nil
}

// RunEnrichment is the standalone smaller-batch variant of the pipeline,
// exposed on its own endpoint. It holds its own sync-state lease.
func (o *Orchestrator) RunEnrichment(ctx context.Context, limit int) ([]EnrichedUnit, error) {
	start := time.Now()

	if !o.cfg.HasEnrichmentCredentials() {
		return nil, errors.New("enrichment credentials not configured")
	}

	if err := o.db.ClaimSyncRunning(models.SyncKindEnrichment, start); err != nil {
		return nil, err
	}

	units, err := o.enrichBacklog(ctx, limit)
	if finishErr := o.db.FinishSync(models.SyncKindEnrichment, len(units), err); finishErr != nil {
		o.logger.WithError(finishErr).Error("Failed to write terminal enrichment state")
	}
	return units, err
}

// enrichBacklog drains a bounded backlog of unscored or stale units
// through geocoding, transit/amenity lookups and scoring. A geocode miss
// skips the unit; a provider rate limit stops the loop gracefully; a token
// failure aborts the whole phase.
func (o *Orchestrator) enrichBacklog(ctx context.Context, limit int) ([]EnrichedUnit, error) {
	if _, err := o.enricher.Token(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire enrichment token: %w", err)
	}

	staleBefore := time.Now().AddDate(0, 0, -o.cfg.Scoring.StaleAfterDays)
	backlog, err := o.db.ScoreBacklog(limit, staleBefore)
	if err != nil {
		return nil, err
	}

	o.logger.WithField("backlog", len(backlog)).Info("Enriching units")

	var processed []EnrichedUnit
	for _, unit := range backlog {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		enriched, err := o.enrichUnit(ctx, unit)
		if errors.Is(err, onemap.ErrRateLimited) {
			o.logger.Warn("Enrichment provider rate limited, stopping backlog early")
			return processed, nil
		}
		if err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"block":  unit.Block,
				"street": unit.StreetName,
			}).Warn("Skipping unit after enrichment failure")
			continue
		}
		if enriched != nil {
			processed = append(processed, *enriched)
		}

		o.enricher.Pace()
	}

	return processed, nil
}

func (o *Orchestrator) enrichUnit(ctx context.Context, unit models.Transaction) (*EnrichedUnit, error) {
	coords, err := o.enricher.Geocode(ctx, unit.Block, unit.StreetName)
	if err != nil {
		return nil, err
	}
	if coords == nil {
		o.logger.WithFields(logrus.Fields{
			"block":  unit.Block,
			"street": unit.StreetName,
		}).Warn("Geocode miss, skipping unit")
		return nil, nil
	}

	transit, err := o.enricher.NearestTransit(ctx, *coords)
	if err != nil {
		return nil, err
	}

	amenities, err := o.enricher.AmenityCounts(ctx, *coords)
	if err != nil {
		return nil, err
	}

	townMedian, err := o.db.TownMedian(unit.Town, unit.FlatType)
	if err != nil {
		return nil, err
	}

	history, err := o.priceHistory(unit)
	if err != nil {
		return nil, err
	}

	remainingYears := 0
	if unit.RemainingLeaseYears != nil {
		remainingYears = *unit.RemainingLeaseYears
	}

	breakdown := scoring.Score(scoring.Input{
		Price:           unit.ResalePrice,
		TownMedian:      townMedian,
		TransitDistance: transit.Distance,
		RemainingYears:  remainingYears,
		PriceHistory:    history,
		HasSchool:       amenities.Schools > 0,
		HasMall:         amenities.Malls > 0,
		HasPark:         amenities.Parks > 0,
		HasHawker:       amenities.Hawkers > 0,
	})

	score := &models.UnitScore{
		Block:             unit.Block,
		StreetName:        unit.StreetName,
		Town:              unit.Town,
		FlatType:          unit.FlatType,
		PriceScore:        breakdown.Price,
		LocationScore:     breakdown.Location,
		LeaseScore:        breakdown.Lease,
		AppreciationScore: breakdown.Appreciation,
		AmenityScore:      breakdown.Amenities,
		CompositeScore:    breakdown.Composite,
		MRTName:           transit.Name,
		MRTDistance:       transit.Distance,
		SchoolCount:       amenities.Schools,
		MallCount:         amenities.Malls,
		ParkCount:         amenities.Parks,
		HawkerCount:       amenities.Hawkers,
		ComputedAt:        time.Now(),
	}
	if err := o.db.UpsertScore(score); err != nil {
		return nil, err
	}

	if err := o.db.BackfillCoordinates(unit.Town, unit.FlatType, unit.Block, unit.StreetName,
		coords.Latitude, coords.Longitude, transit.Name, transit.Distance); err != nil {
		o.logger.WithError(err).Warn("Failed to backfill unit coordinates")
	}

	return &EnrichedUnit{
		Address: unit.Block + " " + unit.StreetName,
		Score:   breakdown.Composite,
		Transit: transit.Name,
	}, nil
}

// priceHistory prefers the unit's own sales; when the unit has too few it
// falls back to the town-level monthly median series. Either way a short
// series yields the neutral appreciation score downstream.
func (o *Orchestrator) priceHistory(unit models.Transaction) ([]float64, error) {
	history, err := o.db.PriceHistory(unit.Town, unit.FlatType, unit.Block, unit.StreetName)
	if err != nil {
		return nil, err
	}
	if len(history) >= 4 {
		return history, nil
	}
	return o.db.TownMedianHistory(unit.Town, unit.FlatType)
}
