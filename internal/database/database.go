package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"hdblens/server/internal/models"
)

// ErrSyncInProgress is returned when another invocation already holds the
// running lease for a sync kind.
var ErrSyncInProgress = errors.New("sync already in progress")

// A running sync older than this is considered abandoned and may be
// reclaimed by a new invocation.
const staleLeaseAfter = 30 * time.Minute

// upsertChunkSize keeps each batch statement within the engine's variable
// limits. Chunk failures do not roll back prior chunks: writes are
// idempotent on natural keys, so partial progress is safe to keep.
const upsertChunkSize = 50

type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	return &Database{db: db, logger: logger}, nil
}

// RunMigrations creates the schema and seeds one SyncState row per kind.
func (d *Database) RunMigrations() error {
	err := d.db.AutoMigrate(
		&models.Transaction{},
		&models.Statistics{},
		&models.UnitScore{},
		&models.SyncState{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	for _, kind := range []string{models.SyncKindTransactions, models.SyncKindEnrichment} {
		state := models.SyncState{Kind: kind, Status: models.SyncStatusPending}
		err := d.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}},
			DoNothing: true,
		}).Create(&state).Error
		if err != nil {
			return fmt.Errorf("failed to seed sync state %q: %w", kind, err)
		}
	}

	return nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB exposes the underlying handle for components that run their own
// queries (statistics aggregation).
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// UpsertTransactions batch-inserts records, ignoring natural-key duplicates,
// and returns how many rows were actually inserted. A failing chunk is
// logged and skipped; earlier chunks stay committed.
func (d *Database) UpsertTransactions(records []models.Transaction) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	var lastErr error
	for start := 0; start < len(records); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		res := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&chunk)
		if res.Error != nil {
			d.logger.WithError(res.Error).WithFields(logrus.Fields{
				"chunk_start": start,
				"chunk_size":  len(chunk),
			}).Error("Failed to insert transaction chunk")
			lastErr = res.Error
			continue
		}
		inserted += int(res.RowsAffected)
	}

	if inserted == 0 && lastErr != nil {
		return 0, fmt.Errorf("all transaction chunks failed: %w", lastErr)
	}
	return inserted, nil
}

// LatestMonth returns the newest transaction month ("" when empty). It is
// the sync watermark: pages older than it need no refetching.
func (d *Database) LatestMonth() (string, error) {
	var month sql.NullString
	err := d.db.Model(&models.Transaction{}).Select("MAX(month)").Scan(&month).Error
	if err != nil {
		return "", err
	}
	return month.String, nil
}

// ReplaceStatistics upserts aggregate rows on their grouping key, replacing
// every computed column so recomputation converges.
func (d *Database) ReplaceStatistics(rows []models.Statistics) error {
	if len(rows) == 0 {
		return nil
	}

	for start := 0; start < len(rows); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		err := d.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "town"}, {Name: "flat_type"}, {Name: "month"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"transaction_count",
				"avg_price",
				"min_price",
				"max_price",
				"avg_price_per_sqm",
				"median_price",
				"price_change_pct",
				"updated_at",
			}),
		}).Create(&chunk).Error
		if err != nil {
			return fmt.Errorf("failed to upsert statistics chunk: %w", err)
		}
	}
	return nil
}

// GetStatistics returns aggregate rows filtered by optional town and flat
// type, newest month first.
func (d *Database) GetStatistics(town, flatType string, limit int) ([]models.Statistics, error) {
	query := d.db.Model(&models.Statistics{}).Order("month DESC, town, flat_type")
	if town != "" {
		query = query.Where("town = ?", town)
	}
	if flatType != "" {
		query = query.Where("flat_type = ?", flatType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.Statistics
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// TownMedian returns the median resale price for (town, flatType) in the
// latest aggregated month, or 0 when no statistics exist yet.
func (d *Database) TownMedian(town, flatType string) (float64, error) {
	var row models.Statistics
	err := d.db.Where("town = ? AND flat_type = ?", town, flatType).
		Order("month DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.MedianPrice, nil
}

// UpsertScore writes one unit score, replacing any existing row for the
// same unit key.
func (d *Database) UpsertScore(score *models.UnitScore) error {
	return d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "block"}, {Name: "street_name"}, {Name: "town"}, {Name: "flat_type"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"price_score",
			"location_score",
			"lease_score",
			"appreciation_score",
			"amenity_score",
			"composite_score",
			"mrt_name",
			"mrt_distance",
			"school_count",
			"mall_count",
			"park_count",
			"hawker_count",
			"computed_at",
		}),
	}).Create(score).Error
}

// GetTopScores returns the highest-ranked unit scores, optionally filtered
// by town.
func (d *Database) GetTopScores(town string, limit int) ([]models.UnitScore, error) {
	query := d.db.Model(&models.UnitScore{}).Order("composite_score DESC")
	if town != "" {
		query = query.Where("town = ?", town)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.UnitScore
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetTowns lists the distinct towns present in the transaction table.
func (d *Database) GetTowns() ([]string, error) {
	var towns []string
	err := d.db.Model(&models.Transaction{}).
		Distinct("town").Order("town").Pluck("town", &towns).Error
	return towns, err
}

// ScoreBacklog selects up to limit units whose score row is missing or
// older than staleBefore, represented by their most recent transaction.
func (d *Database) ScoreBacklog(limit int, staleBefore time.Time) ([]models.Transaction, error) {
	var reps []models.Transaction
	// SQLite bare-column semantics: the non-aggregated columns come from
	// the row that supplied MAX(month), i.e. the unit's newest transaction.
	err := d.db.Raw(`
		SELECT t.*
		FROM (
			SELECT *, MAX(month)
			FROM transactions
			GROUP BY block, street_name, town, flat_type
		) t
		LEFT JOIN unit_scores s
			ON s.block = t.block
			AND s.street_name = t.street_name
			AND s.town = t.town
			AND s.flat_type = t.flat_type
		WHERE s.id IS NULL OR s.computed_at < ?
		ORDER BY t.month DESC
		LIMIT ?
	`, staleBefore, limit).Scan(&reps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select score backlog: %w", err)
	}
	return reps, nil
}

// PriceHistory returns resale prices for a unit in chronological month
// order, used by the appreciation sub-score.
func (d *Database) PriceHistory(town, flatType, block, street string) ([]float64, error) {
	var prices []float64
	err := d.db.Model(&models.Transaction{}).
		Where("town = ? AND flat_type = ? AND block = ? AND street_name = ?",
			town, flatType, block, street).
		Order("month").Pluck("resale_price", &prices).Error
	return prices, err
}

// TownMedianHistory returns the monthly median prices for (town, flatType)
// in chronological order, the fallback appreciation series when a unit has
// too few sales of its own.
func (d *Database) TownMedianHistory(town, flatType string) ([]float64, error) {
	var medians []float64
	err := d.db.Model(&models.Statistics{}).
		Where("town = ? AND flat_type = ?", town, flatType).
		Order("month").Pluck("median_price", &medians).Error
	return medians, err
}

// BackfillCoordinates stores enrichment results on every transaction of a
// unit so future runs can reuse them without another lookup.
func (d *Database) BackfillCoordinates(town, flatType, block, street string, lat, lon float64, mrtName string, mrtDistance float64) error {
	return d.db.Model(&models.Transaction{}).
		Where("town = ? AND flat_type = ? AND block = ? AND street_name = ?",
			town, flatType, block, street).
		Updates(map[string]interface{}{
			"latitude":     lat,
			"longitude":    lon,
			"mrt_station":  mrtName,
			"mrt_distance": mrtDistance,
		}).Error
}

// GetSyncState returns the state row for one sync kind.
func (d *Database) GetSyncState(kind string) (*models.SyncState, error) {
	var state models.SyncState
	err := d.db.Where("kind = ?", kind).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ClaimSyncRunning atomically transitions a sync kind to running. It acts
// as a lease: a second overlapping invocation sees zero rows affected and
// gets ErrSyncInProgress instead of running concurrently. A lease older
// than staleLeaseAfter is treated as abandoned and reclaimed.
func (d *Database) ClaimSyncRunning(kind string, now time.Time) error {
	res := d.db.Model(&models.SyncState{}).
		Where("kind = ? AND (status != ? OR last_run_at IS NULL OR last_run_at < ?)",
			kind, models.SyncStatusRunning, now.Add(-staleLeaseAfter)).
		Updates(map[string]interface{}{
			"status":        models.SyncStatusRunning,
			"last_run_at":   now,
			"error_message": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSyncInProgress
	}
	return nil
}

// FinishSync writes the terminal state for a sync kind.
func (d *Database) FinishSync(kind string, processed int, runErr error) error {
	status := models.SyncStatusCompleted
	message := ""
	if runErr != nil {
		status = models.SyncStatusFailed
		message = runErr.Error()
	}

	return d.db.Model(&models.SyncState{}).
		Where("kind = ?", kind).
		Updates(map[string]interface{}{
			"status":            status,
			"records_processed": processed,
			"error_message":     message,
		}).Error
}
