package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// DiscordSender sends alerts to Discord via webhook
type DiscordSender struct {
	webhookURL string
	httpClient *http.Client
}

// NewDiscordSender creates a new Discord sender
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send sends the alert to Discord
func (s *DiscordSender) Send(ctx context.Context, payload *AlertPayload) error {
	embed := s.buildEmbed(payload)

	webhookPayload := map[string]interface{}{
		"embeds": []interface{}{embed},
	}

	body, err := json.Marshal(webhookPayload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

func (s *DiscordSender) buildEmbed(payload *AlertPayload) map[string]interface{} {
	r := payload.Report

	var title string
	var color int
	switch payload.Severity {
	case SeverityAlert:
		title = "🚨 Critical AML risk (ALERT)"
		color = 0xFF0000 // Red
	case SeverityWarn:
		title = "⚠️ High AML risk (WARN)"
		color = 0xFFA500 // Orange
	default:
		title = "ℹ️ AML risk report"
		color = 0x0099FF // Blue
	}

	description := fmt.Sprintf("Address `%s` scored **%s/100** (%s)",
		r.Seed, humanize.FtoaWithDigits(r.Score, 2), r.RiskLevel)
	if r.Partial {
		description += fmt.Sprintf("\n⚠️ Partial: %s", r.PartialReason)
	}

	fields := []map[string]interface{}{
		{
			"name":   "Address",
			"value":  fmt.Sprintf("`%s`", payload.SeedShort),
			"inline": true,
		},
		{
			"name":   "Risk Level",
			"value":  string(r.RiskLevel),
			"inline": true,
		},
		{
			"name":   "Visited",
			"value":  humanize.Comma(int64(r.VisitedCount)),
			"inline": true,
		},
	}

	if len(r.Signals) > 0 {
		fields = append(fields, map[string]interface{}{
			"name":   "📊 Signals",
			"value":  s.formatSignals(payload),
			"inline": false,
		})
	}

	footer := map[string]interface{}{
		"text": fmt.Sprintf("amlwatch • %s • %s", payload.Environment, payload.RequestID),
	}

	return map[string]interface{}{
		"title":       title,
		"description": description,
		"color":       color,
		"fields":      fields,
		"footer":      footer,
		"timestamp":   payload.Timestamp.Format(time.RFC3339),
	}
}

func (s *DiscordSender) formatSignals(payload *AlertPayload) string {
	var parts []string
	for _, sig := range payload.Report.Signals {
		parts = append(parts, fmt.Sprintf("**+%s** %s `%s`: %s",
			humanize.FtoaWithDigits(sig.Weight, 2), sig.Kind, sig.Evidence.Address.Short(), sig.Evidence.Detail))
	}
	return truncate(strings.Join(parts, "\n"), 1000)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
