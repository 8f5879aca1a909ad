package models

import "time"

// UnitScore is the derived value assessment for one unit address,
// identified by (block, street_name, town, flat_type). It is a cache of
// enrichment plus scoring, recomputed when missing or older than the
// staleness threshold, and never treated as a source of truth.
type UnitScore struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	Block      string `gorm:"uniqueIndex:idx_score_unit" json:"block"`
	StreetName string `gorm:"uniqueIndex:idx_score_unit" json:"street_name"`
	Town       string `gorm:"uniqueIndex:idx_score_unit;index:idx_score_town" json:"town"`
	FlatType   string `gorm:"uniqueIndex:idx_score_unit" json:"flat_type"`

	PriceScore        float64 `json:"price_score"`
	LocationScore     float64 `json:"location_score"`
	LeaseScore        float64 `json:"lease_score"`
	AppreciationScore float64 `json:"appreciation_score"`
	AmenityScore      float64 `json:"amenity_score"`
	CompositeScore    float64 `json:"composite_score"`

	MRTName     string  `json:"mrt_name"`
	MRTDistance float64 `json:"mrt_distance"`
	SchoolCount int     `json:"school_count"`
	MallCount   int     `json:"mall_count"`
	ParkCount   int     `json:"park_count"`
	HawkerCount int     `json:"hawker_count"`

	ComputedAt time.Time `json:"computed_at"`
}

// Sync state status values.
const (
	SyncStatusPending   = "pending"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// Sync kinds. Exactly one SyncState row exists per kind.
const (
	SyncKindTransactions = "transaction-sync"
	SyncKindEnrichment   = "enrichment"
)

// SyncState records the lifecycle of one sync kind. The orchestrator
// transitions pending->running at start and running->completed|failed at
// the end of every invocation.
type SyncState struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	Kind             string     `gorm:"uniqueIndex" json:"kind"`
	Status           string     `json:"status"`
	LastRunAt        *time.Time `json:"last_run_at"`
	RecordsProcessed int        `json:"records_processed"`
	ErrorMessage     string     `json:"error_message"`
}
