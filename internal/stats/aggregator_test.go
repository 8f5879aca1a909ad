package stats

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdblens/server/internal/database"
	"hdblens/server/internal/models"
)

func TestMedianRankSelection(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"Empty", nil, 0},
		{"Single", []float64{42}, 42},
		{"Odd count", []float64{100, 200, 300}, 200},
		{"Even count averages two central values", []float64{100, 200, 300, 400}, 250},
		{"Unsorted input", []float64{300, 100, 400, 200}, 250},
		{"Skewed distribution differs from mean", []float64{100, 100, 100, 1000}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Median(tt.values), 0.001)
		})
	}
}

func seedTransactions(t *testing.T, db *database.Database, month, town string, prices []float64) {
	t.Helper()
	records := make([]models.Transaction, 0, len(prices))
	for i, price := range prices {
		psm := price / 90
		records = append(records, models.Transaction{
			Month:       month,
			Town:        town,
			FlatType:    "4 ROOM",
			Block:       string(rune('A' + i)),
			StreetName:  "TEST STREET",
			StoreyRange: "01 TO 03",
			ResalePrice: price,
			PricePerSqm: &psm,
		})
	}
	_, err := db.UpsertTransactions(records)
	require.NoError(t, err)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRecomputeGroupsAndMedian(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	defer db.Close()

	current := time.Now().Format("2006-01")
	seedTransactions(t, db, current, "BEDOK", []float64{100, 200, 300, 400})
	seedTransactions(t, db, current, "PUNGGOL", []float64{100, 200, 300})

	agg := NewAggregator(db, testLogger())
	groups, err := agg.Recompute(24)
	require.NoError(t, err)
	assert.Equal(t, 2, groups)

	bedok, err := db.GetStatistics("BEDOK", "4 ROOM", 0)
	require.NoError(t, err)
	require.Len(t, bedok, 1)
	assert.Equal(t, 4, bedok[0].TransactionCount)
	assert.InDelta(t, 250, bedok[0].MedianPrice, 0.001)
	assert.InDelta(t, 250, bedok[0].AvgPrice, 0.001)
	assert.InDelta(t, 100, bedok[0].MinPrice, 0.001)
	assert.InDelta(t, 400, bedok[0].MaxPrice, 0.001)
	assert.Nil(t, bedok[0].PriceChangePct)

	punggol, err := db.GetStatistics("PUNGGOL", "4 ROOM", 0)
	require.NoError(t, err)
	require.Len(t, punggol, 1)
	assert.InDelta(t, 200, punggol[0].MedianPrice, 0.001)
}

func TestRecomputePriceChangePercent(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	current := now.Format("2006-01")
	prior := now.AddDate(0, -1, 0).Format("2006-01")

	seedTransactions(t, db, prior, "BEDOK", []float64{100, 200, 300})   // median 200
	seedTransactions(t, db, current, "BEDOK", []float64{200, 250, 300}) // median 250

	agg := NewAggregator(db, testLogger())
	_, err = agg.Recompute(24)
	require.NoError(t, err)

	rows, err := db.GetStatistics("BEDOK", "4 ROOM", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Newest month first
	require.NotNil(t, rows[0].PriceChangePct)
	assert.InDelta(t, 25, *rows[0].PriceChangePct, 0.001)
	assert.Nil(t, rows[1].PriceChangePct)
}

func TestRecomputeIsConvergent(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	defer db.Close()

	current := time.Now().Format("2006-01")
	seedTransactions(t, db, current, "BEDOK", []float64{400000, 500000})

	agg := NewAggregator(db, testLogger())
	_, err = agg.Recompute(24)
	require.NoError(t, err)
	_, err = agg.Recompute(24)
	require.NoError(t, err)

	rows, err := db.GetStatistics("BEDOK", "4 ROOM", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].TransactionCount)
	assert.InDelta(t, 450000, rows[0].MedianPrice, 0.001)
}
