// Package report composes aggregation outputs into compliance, security,
// and executive report structures. Every cutoff below is inclusive on the
// lower bound of its bucket and is asserted exactly by tests.
package report

import "github.com/shopspring/decimal"

// ComplianceGrade letter-grades a compliance rate.
func ComplianceGrade(rate float64) string {
	switch {
	case rate >= 99:
		return "A+"
	case rate >= 95:
		return "A"
	case rate >= 90:
		return "B"
	case rate >= 80:
		return "C"
	case rate >= 70:
		return "D"
	default:
		return "F"
	}
}

// RiskAssessment classifies a period from its compliance rate and the
// number of security incidents observed in it.
func RiskAssessment(complianceRate float64, securityIncidents int) string {
	switch {
	case complianceRate < 70 || securityIncidents >= 10:
		return "critical"
	case complianceRate < 80 || securityIncidents >= 5:
		return "high"
	case complianceRate < 90 || securityIncidents >= 1:
		return "medium"
	default:
		return "low"
	}
}

// ThreatLevel buckets an overall risk score.
func ThreatLevel(riskScore float64) string {
	switch {
	case riskScore >= 80:
		return "critical"
	case riskScore >= 60:
		return "high"
	case riskScore >= 40:
		return "medium"
	case riskScore >= 20:
		return "low"
	default:
		return "minimal"
	}
}

// OverallHealthScore is the arithmetic mean of the security health score,
// the compliance rate when present, and the inverted risk score when
// present, rounded to two decimals half up.
func OverallHealthScore(securityHealth float64, complianceRate, riskScore *float64) float64 {
	sum := decimal.NewFromFloat(securityHealth)
	n := int64(1)
	if complianceRate != nil {
		sum = sum.Add(decimal.NewFromFloat(*complianceRate))
		n++
	}
	if riskScore != nil {
		sum = sum.Add(decimal.NewFromInt(100).Sub(decimal.NewFromFloat(*riskScore)))
		n++
	}
	f, _ := sum.Div(decimal.NewFromInt(n)).Round(2).Float64()
	return f
}
