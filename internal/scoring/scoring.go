// Package scoring maps a unit's facts to a weighted 0-100 composite value
// score. Every formula is piecewise-linear: monotonic, bounded and simple
// to reason about. The package is pure and does no I/O.
package scoring

// Composite weights; they sum to 1.0.
const (
	WeightPrice        = 0.30
	WeightLocation     = 0.25
	WeightLease        = 0.20
	WeightAppreciation = 0.15
	WeightAmenities    = 0.10
)

// Appreciation needs at least this many price points to fit a trend.
const minHistoryPoints = 4

// Input carries everything the engine needs for one unit.
type Input struct {
	Price           float64
	TownMedian      float64
	TransitDistance float64
	RemainingYears  int

	// Chronological price history (unit or town-level fallback series)
	PriceHistory []float64

	HasSchool bool
	HasMall   bool
	HasPark   bool
	HasHawker bool
}

// Breakdown is the five sub-scores plus their convex combination.
type Breakdown struct {
	Price        float64 `json:"price"`
	Location     float64 `json:"location"`
	Lease        float64 `json:"lease"`
	Appreciation float64 `json:"appreciation"`
	Amenities    float64 `json:"amenities"`
	Composite    float64 `json:"composite"`
}

// Score computes the full breakdown for one unit.
func Score(in Input) Breakdown {
	b := Breakdown{
		Price:        PriceScore(in.Price, in.TownMedian),
		Location:     LocationScore(in.TransitDistance),
		Lease:        LeaseScore(in.RemainingYears),
		Appreciation: AppreciationScore(in.PriceHistory),
		Amenities:    AmenityScore(in.HasSchool, in.HasMall, in.HasPark, in.HasHawker),
	}
	b.Composite = b.Price*WeightPrice +
		b.Location*WeightLocation +
		b.Lease*WeightLease +
		b.Appreciation*WeightAppreciation +
		b.Amenities*WeightAmenities
	return b
}

// PriceScore rates price relative to the town median: at or below 70% of
// median scores 100, at or above 150% scores 0, linear in between. An
// unknown median is neutral.
func PriceScore(price, townMedian float64) float64 {
	if townMedian <= 0 {
		return 50
	}
	ratio := price / townMedian
	switch {
	case ratio <= 0.70:
		return 100
	case ratio >= 1.50:
		return 0
	default:
		return clamp(100 - (ratio-0.70)*125)
	}
}

// LocationScore rates walking proximity to the nearest station: 200m or
// closer scores 100, 1km or farther scores 0.
func LocationScore(distanceMeters float64) float64 {
	switch {
	case distanceMeters < 0:
		return 0
	case distanceMeters <= 200:
		return 100
	case distanceMeters >= 1000:
		return 0
	default:
		return clamp(100 - (distanceMeters-200)/8)
	}
}

// LeaseScore rates the remaining lease: 90+ years scores 100, under 30
// scores 0.
func LeaseScore(remainingYears int) float64 {
	switch {
	case remainingYears >= 90:
		return 100
	case remainingYears < 30:
		return 0
	default:
		return clamp(float64(remainingYears-30) * 1.67)
	}
}

// AppreciationScore fits an ordinary-least-squares line through the price
// history and annualizes the slope relative to the mean price. Annual
// growth of +5% or better scores 100, -5% or worse scores 0, linear around
// the neutral 50. Fewer than four points is neutral by definition.
func AppreciationScore(history []float64) float64 {
	if len(history) < minHistoryPoints {
		return 50
	}

	n := float64(len(history))
	var sumX, sumY, sumXY, sumXX float64
	for i, price := range history {
		x := float64(i)
		sumX += x
		sumY += price
		sumXY += x * price
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 50
	}
	slope := (n*sumXY - sumX*sumY) / denom

	mean := sumY / n
	if mean <= 0 {
		return 50
	}

	// Points are monthly, so twelve slope steps make a year
	annualGrowthPct := slope * 12 / mean * 100
	switch {
	case annualGrowthPct >= 5:
		return 100
	case annualGrowthPct <= -5:
		return 0
	default:
		return clamp(50 + annualGrowthPct*10)
	}
}

// AmenityScore is additive over the four categories, capped at 100.
func AmenityScore(hasSchool, hasMall, hasPark, hasHawker bool) float64 {
	score := 0.0
	if hasSchool {
		score += 30
	}
	if hasMall {
		score += 30
	}
	if hasPark {
		score += 20
	}
	if hasHawker {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
