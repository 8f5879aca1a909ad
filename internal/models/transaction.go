package models

import "time"

// Transaction is one HDB resale event as imported from the upstream feed.
// The composite unique index is the natural key used to absorb duplicate
// imports: inserting the same record twice is a no-op, never an error.
type Transaction struct {
	ID                  int64    `gorm:"primaryKey" json:"id"`
	Month               string   `gorm:"size:7;uniqueIndex:idx_txn_natural;index:idx_txn_month" json:"month"`
	Town                string   `gorm:"uniqueIndex:idx_txn_natural;index:idx_txn_town" json:"town"`
	FlatType            string   `gorm:"uniqueIndex:idx_txn_natural" json:"flat_type"`
	Block               string   `gorm:"uniqueIndex:idx_txn_natural" json:"block"`
	StreetName          string   `gorm:"uniqueIndex:idx_txn_natural" json:"street_name"`
	StoreyRange         string   `gorm:"uniqueIndex:idx_txn_natural" json:"storey_range"`
	FlatModel           string   `json:"flat_model"`
	FloorAreaSqm        float64  `json:"floor_area_sqm"`
	LeaseCommenceDate   int      `json:"lease_commence_date"`
	RemainingLease      string   `json:"remaining_lease"`
	RemainingLeaseYears *int     `json:"remaining_lease_years"`
	ResalePrice         float64  `gorm:"uniqueIndex:idx_txn_natural" json:"resale_price"`
	PricePerSqm         *float64 `json:"price_per_sqm"`

	// Backfilled once enrichment succeeds; never part of identity.
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	MRTStation  *string  `json:"mrt_station"`
	MRTDistance *float64 `json:"mrt_distance"`

	CreatedAt time.Time `json:"created_at"`
}

// Statistics is one aggregate row per (town, flat_type, month), replaced
// wholesale on every aggregation pass.
type Statistics struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	Town             string    `gorm:"uniqueIndex:idx_stats_group" json:"town"`
	FlatType         string    `gorm:"uniqueIndex:idx_stats_group" json:"flat_type"`
	Month            string    `gorm:"size:7;uniqueIndex:idx_stats_group" json:"month"`
	TransactionCount int       `json:"transaction_count"`
	AvgPrice         float64   `json:"avg_price"`
	MinPrice         float64   `json:"min_price"`
	MaxPrice         float64   `json:"max_price"`
	AvgPricePerSqm   float64   `json:"avg_price_per_sqm"`
	MedianPrice      float64   `json:"median_price"`
	PriceChangePct   *float64  `json:"price_change_pct"`
	UpdatedAt        time.Time `json:"updated_at"`
}
