package datagov

import (
	"regexp"
	"strconv"
	"strings"

	"hdblens/server/internal/models"
)

// ResaleRecord is one normalized upstream record ready for persistence.
type ResaleRecord struct {
	Month               string
	Town                string
	FlatType            string
	Block               string
	StreetName          string
	StoreyRange         string
	FlatModel           string
	FloorAreaSqm        float64
	LeaseCommenceDate   int
	RemainingLease      string
	RemainingLeaseYears *int
	ResalePrice         float64
	PricePerSqm         *float64
}

// "61 years 04 months" -> 61; only the years component matters.
var leaseYearsPattern = regexp.MustCompile(`(\d+)\s*years?`)

// ParseLeaseYears extracts the whole years from a free-text remaining-lease
// string, returning nil when the pattern does not match.
func ParseLeaseYears(remainingLease string) *int {
	m := leaseYearsPattern.FindStringSubmatch(strings.ToLower(remainingLease))
	if m == nil {
		return nil
	}
	years, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &years
}

// normalizeRecord coerces the upstream string fields into typed values.
// Records without a usable month, town or price are dropped; other
// malformed fields degrade to nil/zero rather than aborting the batch.
func normalizeRecord(raw rawRecord) (ResaleRecord, bool) {
	price, err := strconv.ParseFloat(strings.TrimSpace(raw.ResalePrice), 64)
	if err != nil || price <= 0 || raw.Month == "" || raw.Town == "" {
		return ResaleRecord{}, false
	}

	rec := ResaleRecord{
		Month:               raw.Month,
		Town:                strings.ToUpper(strings.TrimSpace(raw.Town)),
		FlatType:            strings.ToUpper(strings.TrimSpace(raw.FlatType)),
		Block:               strings.TrimSpace(raw.Block),
		StreetName:          strings.ToUpper(strings.TrimSpace(raw.StreetName)),
		StoreyRange:         strings.TrimSpace(raw.StoreyRange),
		FlatModel:           strings.TrimSpace(raw.FlatModel),
		RemainingLease:      raw.RemainingLease,
		RemainingLeaseYears: ParseLeaseYears(raw.RemainingLease),
		ResalePrice:         price,
	}

	if area, err := strconv.ParseFloat(strings.TrimSpace(raw.FloorAreaSqm), 64); err == nil && area > 0 {
		rec.FloorAreaSqm = area
		// Always derived locally, never trusted from upstream
		psm := price / area
		rec.PricePerSqm = &psm
	}

	if lease, err := strconv.Atoi(strings.TrimSpace(raw.LeaseCommenceDate)); err == nil {
		rec.LeaseCommenceDate = lease
	}

	return rec, true
}

// ToModel converts a normalized record to its persistence model.
func (r ResaleRecord) ToModel() models.Transaction {
	return models.Transaction{
		Month:               r.Month,
		Town:                r.Town,
		FlatType:            r.FlatType,
		Block:               r.Block,
		StreetName:          r.StreetName,
		StoreyRange:         r.StoreyRange,
		FlatModel:           r.FlatModel,
		FloorAreaSqm:        r.FloorAreaSqm,
		LeaseCommenceDate:   r.LeaseCommenceDate,
		RemainingLease:      r.RemainingLease,
		RemainingLeaseYears: r.RemainingLeaseYears,
		ResalePrice:         r.ResalePrice,
		PricePerSqm:         r.PricePerSqm,
	}
}
