package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"hdblens/server/internal/database"
	"hdblens/server/internal/models"
)

// Aggregator recomputes the per-(town, flat_type, month) price aggregates.
// Recomputation replaces rows wholesale, so repeated passes converge.
type Aggregator struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewAggregator(db *database.Database, logger *logrus.Logger) *Aggregator {
	return &Aggregator{db: db, logger: logger}
}

type groupKey struct {
	Town     string
	FlatType string
	Month    string
}

type groupData struct {
	prices []float64
	psmSum float64
	psmN   int
}

// Recompute rebuilds statistics for every group within the trailing
// window and returns the number of groups written.
func (a *Aggregator) Recompute(windowMonths int) (int, error) {
	cutoff := time.Now().AddDate(0, -windowMonths, 0).Format("2006-01")

	var txns []models.Transaction
	err := a.db.GetDB().
		Select("town", "flat_type", "month", "resale_price", "price_per_sqm").
		Where("month >= ?", cutoff).
		Find(&txns).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load window transactions: %w", err)
	}

	groups := make(map[groupKey]*groupData)
	for _, t := range txns {
		key := groupKey{Town: t.Town, FlatType: t.FlatType, Month: t.Month}
		g, ok := groups[key]
		if !ok {
			g = &groupData{}
			groups[key] = g
		}
		g.prices = append(g.prices, t.ResalePrice)
		if t.PricePerSqm != nil {
			g.psmSum += *t.PricePerSqm
			g.psmN++
		}
	}

	rows := make([]models.Statistics, 0, len(groups))
	now := time.Now()
	for key, g := range groups {
		row := models.Statistics{
			Town:             key.Town,
			FlatType:         key.FlatType,
			Month:            key.Month,
			TransactionCount: len(g.prices),
			AvgPrice:         mean(g.prices),
			MinPrice:         minOf(g.prices),
			MaxPrice:         maxOf(g.prices),
			MedianPrice:      Median(g.prices),
			UpdatedAt:        now,
		}
		if g.psmN > 0 {
			row.AvgPricePerSqm = g.psmSum / float64(g.psmN)
		}

		// Month-over-month change against the prior month's median
		if prev, ok := groups[groupKey{key.Town, key.FlatType, prevMonth(key.Month)}]; ok {
			prevMedian := Median(prev.prices)
			if prevMedian != 0 {
				pct := (row.MedianPrice - prevMedian) / prevMedian * 100
				row.PriceChangePct = &pct
			}
		}

		rows = append(rows, row)
	}

	if err := a.db.ReplaceStatistics(rows); err != nil {
		return 0, err
	}

	a.logger.WithFields(logrus.Fields{
		"groups":       len(rows),
		"transactions": len(txns),
		"cutoff":       cutoff,
	}).Info("Recomputed statistics")
	return len(rows), nil
}

// Median is the rank-based median: sort, take the middle value, or the
// mean of the two central values for even counts. Substituting the
// arithmetic mean here would be a correctness defect.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func prevMonth(month string) string {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return ""
	}
	return t.AddDate(0, -1, 0).Format("2006-01")
}
