package alerts

import (
	"context"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/report"
)

// Severity represents alert severity
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityAlert Severity = "ALERT"
)

// SeverityFor maps a risk level to an alert severity
func SeverityFor(level aml.RiskLevel) Severity {
	switch level {
	case aml.RiskCritical:
		return SeverityAlert
	case aml.RiskHigh:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// AlertPayload contains all information for an alert
type AlertPayload struct {
	Severity    Severity
	Report      *aml.AnalysisReport
	SeedShort   string // Shortened for display
	Summary     string // Plain-text rendering of the report
	RequestID   string
	Timestamp   time.Time
	Environment string
}

// NewPayload builds the alert for a finished report
func NewPayload(r *aml.AnalysisReport, requestID, environment string, now time.Time) *AlertPayload {
	return &AlertPayload{
		Severity:    SeverityFor(r.RiskLevel),
		Report:      r,
		SeedShort:   r.Seed.Short(),
		Summary:     report.Render(r, now),
		RequestID:   requestID,
		Timestamp:   now,
		Environment: environment,
	}
}

// Sender defines the interface for alert senders
type Sender interface {
	Send(ctx context.Context, payload *AlertPayload) error
}

// LevelFilter forwards only reports at or above a minimum risk level
type LevelFilter struct {
	min  aml.RiskLevel
	next Sender
}

// NewLevelFilter wraps next
func NewLevelFilter(min aml.RiskLevel, next Sender) *LevelFilter {
	return &LevelFilter{min: min, next: next}
}

// Send forwards the alert when its report is severe enough
func (f *LevelFilter) Send(ctx context.Context, payload *AlertPayload) error {
	if payload.Report.RiskLevel.Rank() < f.min.Rank() {
		return nil
	}
	return f.next.Send(ctx, payload)
}
