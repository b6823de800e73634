package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/liamashdown/amlwatch/internal/aml"
)

var levelIcon = map[aml.RiskLevel]string{
	aml.RiskLow:      "🟢",
	aml.RiskMedium:   "🟡",
	aml.RiskHigh:     "🟠",
	aml.RiskCritical: "🔴",
}

// Render formats r as plain text for chat replies and alert bodies. now is
// used for the relative age of the report.
func Render(r *aml.AnalysisReport, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s AML report for %s\n", levelIcon[r.RiskLevel], r.Seed)
	fmt.Fprintf(&b, "Risk: %s (score %s/100)\n", r.RiskLevel, humanize.FtoaWithDigits(r.Score, 2))
	fmt.Fprintf(&b, "Addresses inspected: %s\n", humanize.Comma(int64(r.VisitedCount)))
	if r.Partial {
		fmt.Fprintf(&b, "⚠️ Partial result: %s\n", r.PartialReason)
	}

	if len(r.Signals) == 0 {
		b.WriteString("No risk signals found\n")
	} else {
		b.WriteString("Signals:\n")
		for i, s := range r.Signals {
			fmt.Fprintf(&b, "%d. %s +%s %s", i+1, s.Kind, humanize.FtoaWithDigits(s.Weight, 2), s.Evidence.Address.Short())
			if s.Evidence.Depth > 0 {
				fmt.Fprintf(&b, " (%s hop)", humanize.Ordinal(s.Evidence.Depth))
			}
			fmt.Fprintf(&b, ": %s\n", s.Evidence.Detail)
		}
	}

	fmt.Fprintf(&b, "Generated %s", humanize.RelTime(r.GeneratedAt, now, "ago", "from now"))
	return b.String()
}
