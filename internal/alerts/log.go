package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender sends alerts to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the alert
func (s *LogSender) Send(ctx context.Context, payload *AlertPayload) error {
	r := payload.Report
	s.log.WithFields(logrus.Fields{
		"severity":      payload.Severity,
		"seed":          payload.SeedShort,
		"risk_level":    r.RiskLevel,
		"score":         r.Score,
		"signals":       len(r.Signals),
		"visited_count": r.VisitedCount,
		"partial":       r.Partial,
		"request_id":    payload.RequestID,
	}).Info("Alert generated")
	return nil
}
