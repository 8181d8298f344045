// Package aggregate computes deterministic statistics over filtered audit
// event sets. Every function is pure: same events in, same numbers out.
// Ratios are zero-safe so report generation never fails on sparse data.
package aggregate

import "github.com/shopspring/decimal"

// Round2 rounds to exactly two decimal places, half up. Tests assert exact
// values, so this is the single rounding path for every rate and score.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func ratio(part, total int, scale int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(scale)).
		Div(decimal.NewFromInt(int64(total)))
}

// SuccessRate is successful/total*100. An empty set is vacuously fully
// successful: there is no evidence of failure, and reports stay populated.
func SuccessRate(successful, total int) float64 {
	if total == 0 {
		return 100.00
	}
	f, _ := ratio(successful, total, 100).Round(2).Float64()
	return f
}

// FailureRate is failed/total*100, 0.00 for an empty set.
func FailureRate(failed, total int) float64 {
	if total == 0 {
		return 0.00
	}
	f, _ := ratio(failed, total, 100).Round(2).Float64()
	return f
}

// Percent is part/total*100 rounded to two decimals, 0.00 when total is
// zero. Callers that need an empty-set default of 100 handle that case
// themselves.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0.00
	}
	f, _ := ratio(part, total, 100).Round(2).Float64()
	return f
}

// ActivityScore grades one user's engagement on a 0-100 scale:
// a volume component capped at 50 (full marks at 100 events) plus five
// points per distinct action category, capped at 50. The constants are
// inherited heuristics and must not be retuned without breaking parity.
func ActivityScore(totalEvents, distinctCategories int) float64 {
	volume := decimal.NewFromInt(int64(totalEvents)).
		Mul(decimal.NewFromInt(50)).
		Div(decimal.NewFromInt(100))
	cap50 := decimal.NewFromInt(50)
	if volume.GreaterThan(cap50) {
		volume = cap50
	}
	diversity := distinctCategories
	if diversity > 10 {
		diversity = 10
	}
	score := volume.Add(decimal.NewFromInt(int64(diversity * 5)))
	cap100 := decimal.NewFromInt(100)
	if score.GreaterThan(cap100) {
		score = cap100
	}
	f, _ := score.Round(2).Float64()
	return f
}

// RiskLevel accumulates points over fixed thresholds and buckets the sum.
// Point weights and cutoffs are inherited heuristics, preserved verbatim.
func RiskLevel(failedActions, accessDenied int, unusualActivity bool, uniqueIPs, countries int) string {
	points := 0
	if failedActions > 10 {
		points += 2
	}
	if accessDenied > 5 {
		points += 3
	}
	if unusualActivity {
		points += 4
	}
	if uniqueIPs > 5 {
		points += 1
	}
	if countries > 3 {
		points += 2
	}
	switch {
	case points >= 8:
		return "critical"
	case points >= 5:
		return "high"
	case points >= 3:
		return "medium"
	default:
		return "low"
	}
}

// SecurityHealthScore starts at 100 and subtracts weighted shares of
// failures (30), critical events (50), and access denials (20), with the
// combined penalty capped at 100. An empty set scores 100.00.
func SecurityHealthScore(totalEvents, failed, critical, accessDenied int) float64 {
	if totalEvents == 0 {
		return 100.00
	}
	penalty := ratio(failed, totalEvents, 30).
		Add(ratio(critical, totalEvents, 50)).
		Add(ratio(accessDenied, totalEvents, 20))
	cap100 := decimal.NewFromInt(100)
	if penalty.GreaterThan(cap100) {
		penalty = cap100
	}
	f, _ := cap100.Sub(penalty).Round(2).Float64()
	return f
}
