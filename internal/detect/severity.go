package detect

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ClassifySeverity maps a normalized deviation (the uncapped 0..1+ quantity,
// not the 0..100 score) to a severity level.
func ClassifySeverity(deviation float64) Severity {
	switch {
	case deviation >= 0.5:
		return SeverityCritical
	case deviation >= 0.25:
		return SeverityHigh
	case deviation >= 0.1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
