package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceScoreBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		median   float64
		expected float64
	}{
		{"Ratio at lower boundary", 70000, 100000, 100},
		{"Ratio below lower boundary", 50000, 100000, 100},
		{"Ratio at upper boundary", 150000, 100000, 0},
		{"Ratio above upper boundary", 200000, 100000, 0},
		{"Ratio at 1.10 midpoint", 110000, 100000, 50},
		{"Unknown median is neutral", 500000, 0, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, PriceScore(tt.price, tt.median), 0.001)
		})
	}
}

func TestLocationScoreBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		expected float64
	}{
		{"At station", 0, 100},
		{"Within 200m", 200, 100},
		{"At 1000m", 1000, 0},
		{"Beyond 1000m", 2500, 0},
		{"At 600m midpoint", 600, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, LocationScore(tt.distance), 0.001)
		})
	}
}

func TestLeaseScoreBoundaries(t *testing.T) {
	assert.InDelta(t, 100, LeaseScore(90), 0.001)
	assert.InDelta(t, 100, LeaseScore(99), 0.001)
	assert.InDelta(t, 0, LeaseScore(30), 0.001)
	assert.InDelta(t, 0, LeaseScore(29), 0.001)
	assert.InDelta(t, 0, LeaseScore(0), 0.001)
	assert.InDelta(t, 50.1, LeaseScore(60), 0.001)
}

func TestAppreciationNeutralOnShortHistory(t *testing.T) {
	assert.Equal(t, 50.0, AppreciationScore(nil))
	assert.Equal(t, 50.0, AppreciationScore([]float64{100000}))
	assert.Equal(t, 50.0, AppreciationScore([]float64{100000, 110000, 120000}))
}

func TestAppreciationTrends(t *testing.T) {
	// Steep monthly growth annualizes far past +5%
	rising := []float64{100000, 110000, 120000, 130000, 140000, 150000}
	assert.Equal(t, 100.0, AppreciationScore(rising))

	falling := []float64{150000, 140000, 130000, 120000, 110000, 100000}
	assert.Equal(t, 0.0, AppreciationScore(falling))

	flat := []float64{100000, 100000, 100000, 100000, 100000}
	assert.InDelta(t, 50, AppreciationScore(flat), 0.001)
}

func TestAmenityScore(t *testing.T) {
	assert.Equal(t, 0.0, AmenityScore(false, false, false, false))
	assert.Equal(t, 30.0, AmenityScore(true, false, false, false))
	assert.Equal(t, 60.0, AmenityScore(true, true, false, false))
	assert.Equal(t, 80.0, AmenityScore(true, true, true, false))

	// All four categories present hit the cap exactly
	assert.Equal(t, 100.0, AmenityScore(true, true, true, true))
}

func TestScoreBounds(t *testing.T) {
	inputs := []Input{
		{},
		{Price: 1, TownMedian: 1000000, TransitDistance: 1, RemainingYears: 99,
			PriceHistory: []float64{1, 2, 3, 4, 5}, HasSchool: true, HasMall: true, HasPark: true, HasHawker: true},
		{Price: 10000000, TownMedian: 1, TransitDistance: 99999, RemainingYears: 1,
			PriceHistory: []float64{500000, 400000, 300000, 200000}},
		{Price: 480000, TownMedian: 500000, TransitDistance: 350, RemainingYears: 61,
			PriceHistory: []float64{450000, 455000, 460000, 470000, 480000}, HasMall: true, HasHawker: true},
	}

	for _, in := range inputs {
		b := Score(in)
		for name, v := range map[string]float64{
			"price":        b.Price,
			"location":     b.Location,
			"lease":        b.Lease,
			"appreciation": b.Appreciation,
			"amenities":    b.Amenities,
			"composite":    b.Composite,
		} {
			assert.GreaterOrEqual(t, v, 0.0, name)
			assert.LessOrEqual(t, v, 100.0, name)
		}
	}
}

func TestCompositeIsWeightedSum(t *testing.T) {
	in := Input{
		Price:           480000,
		TownMedian:      500000,
		TransitDistance: 400,
		RemainingYears:  75,
		PriceHistory:    []float64{450000, 455000, 462000, 470000, 480000},
		HasSchool:       true,
		HasPark:         true,
	}
	b := Score(in)

	expected := b.Price*WeightPrice + b.Location*WeightLocation +
		b.Lease*WeightLease + b.Appreciation*WeightAppreciation +
		b.Amenities*WeightAmenities
	assert.InDelta(t, expected, b.Composite, 0.0001)

	// The weight vector itself must stay convex
	assert.InDelta(t, 1.0, WeightPrice+WeightLocation+WeightLease+WeightAppreciation+WeightAmenities, 0.0001)
}
