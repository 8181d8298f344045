package aggregate

import "testing"

func TestRatesAreZeroSafe(t *testing.T) {
	if got := SuccessRate(0, 0); got != 100.00 {
		t.Fatalf("SuccessRate empty = %v, want 100.00", got)
	}
	if got := FailureRate(0, 0); got != 0.00 {
		t.Fatalf("FailureRate empty = %v, want 0.00", got)
	}
	if got := Percent(0, 0); got != 0.00 {
		t.Fatalf("Percent empty = %v, want 0.00", got)
	}
}

func TestRateRounding(t *testing.T) {
	// 1/3 of 100 rounds half up at the second decimal.
	if got := SuccessRate(1, 3); got != 33.33 {
		t.Fatalf("SuccessRate(1,3) = %v, want 33.33", got)
	}
	if got := SuccessRate(2, 3); got != 66.67 {
		t.Fatalf("SuccessRate(2,3) = %v, want 66.67", got)
	}
	if got := FailureRate(1, 8); got != 12.50 {
		t.Fatalf("FailureRate(1,8) = %v, want 12.50", got)
	}
}

func TestActivityScore(t *testing.T) {
	cases := []struct {
		events, categories int
		want               float64
	}{
		{0, 0, 0},
		{50, 2, 35},    // 25 volume + 10 diversity
		{100, 0, 50},   // volume cap reached exactly
		{500, 0, 50},   // volume capped
		{100, 10, 100}, // both components maxed
		{500, 20, 100}, // diversity capped at 10 categories
		{1, 1, 5.5},    // 0.5 volume + 5 diversity
	}
	for _, c := range cases {
		if got := ActivityScore(c.events, c.categories); got != c.want {
			t.Fatalf("ActivityScore(%d,%d) = %v, want %v", c.events, c.categories, got, c.want)
		}
	}
}

func TestRiskLevel(t *testing.T) {
	cases := []struct {
		name           string
		failed, denied int
		unusual        bool
		ips, countries int
		want           string
	}{
		{"clean", 0, 0, false, 1, 1, "low"},
		{"just below medium", 11, 0, false, 0, 0, "low"},
		{"medium", 11, 0, false, 6, 0, "medium"},
		{"high", 0, 6, false, 0, 4, "high"},
		{"unusual alone is medium", 0, 0, true, 0, 0, "medium"},
		{"critical", 11, 6, true, 0, 0, "critical"},
		{"all flags", 11, 6, true, 6, 4, "critical"},
	}
	for _, c := range cases {
		got := RiskLevel(c.failed, c.denied, c.unusual, c.ips, c.countries)
		if got != c.want {
			t.Fatalf("%s: got %s want %s", c.name, got, c.want)
		}
	}
}

func TestSecurityHealthScore(t *testing.T) {
	if got := SecurityHealthScore(0, 0, 0, 0); got != 100.00 {
		t.Fatalf("empty set = %v, want 100.00", got)
	}
	// 10 events, 2 failed, 1 critical, 1 denied:
	// 100 - (2/10*30 + 1/10*50 + 1/10*20) = 100 - 13 = 87.
	if got := SecurityHealthScore(10, 2, 1, 1); got != 87.00 {
		t.Fatalf("mixed set = %v, want 87.00", got)
	}
	// Penalty cannot push below zero.
	if got := SecurityHealthScore(1, 1, 1, 1); got != 0.00 {
		t.Fatalf("worst case = %v, want 0.00", got)
	}
}
