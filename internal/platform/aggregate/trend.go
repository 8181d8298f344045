package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
)

type TrendPoint struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// TrendAnalysis buckets event volume per UTC day and classifies the
// direction by comparing the two halves of the window.
type TrendAnalysis struct {
	Points              []TrendPoint `json:"points"`
	Direction           string       `json:"direction"`
	AverageEventsPerDay float64      `json:"average_events_per_day"`
}

const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// BuildTrend derives the daily series. When the period is unbounded the
// window snaps to the earliest and latest event days. Empty input yields
// an empty, stable trend.
func BuildTrend(events []audit.Event, period Period) TrendAnalysis {
	if len(events) == 0 {
		return TrendAnalysis{Direction: TrendStable}
	}

	start, end := period.Start, period.End
	for _, e := range events {
		if start.IsZero() || e.CreatedAt.Before(start) {
			start = e.CreatedAt
		}
		if end.IsZero() || e.CreatedAt.After(end) {
			end = e.CreatedAt
		}
	}
	start = startOfDay(start)
	end = startOfDay(end)

	counts := make(map[time.Time]int)
	total := 0
	for _, e := range events {
		day := startOfDay(e.CreatedAt)
		if day.Before(start) || day.After(end) {
			continue
		}
		counts[day]++
		total++
	}

	points := make([]TrendPoint, 0, int(end.Sub(start).Hours()/24)+1)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		points = append(points, TrendPoint{Day: day, Count: counts[day]})
	}

	avg, _ := decimal.NewFromInt(int64(total)).
		Div(decimal.NewFromInt(int64(len(points)))).
		Round(2).Float64()

	return TrendAnalysis{
		Points:              points,
		Direction:           trendDirection(points),
		AverageEventsPerDay: avg,
	}
}

// trendDirection compares first-half and second-half volume; a swing of
// more than ten percent either way counts as a trend.
func trendDirection(points []TrendPoint) string {
	if len(points) < 2 {
		return TrendStable
	}
	mid := len(points) / 2
	first, second := 0, 0
	for i, p := range points {
		if i < mid {
			first += p.Count
		} else {
			second += p.Count
		}
	}
	if first == 0 {
		if second > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	ratio := float64(second) / float64(first)
	switch {
	case ratio > 1.1:
		return TrendIncreasing
	case ratio < 0.9:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
