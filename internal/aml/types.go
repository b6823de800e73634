package aml

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Edge is a single transfer between two addresses as reported by the ledger.
// Value is in the chain's native unit (wei for Ethereum).
type Edge struct {
	From      Address         `json:"from"`
	To        Address         `json:"to"`
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	TxHash    string          `json:"txHash"`
}

// Counterparty returns the other end of the edge as seen from a.
func (e Edge) Counterparty(a Address) Address {
	if e.From == a {
		return e.To
	}
	return e.From
}

// IsSelf reports whether the edge moves value from an address to itself.
func (e Edge) IsSelf() bool {
	return e.From == e.To
}

// BlacklistEntry is a known or suspected illicit address.
type BlacklistEntry struct {
	Address Address   `json:"address"`
	Reason  string    `json:"reason"`
	AddedAt time.Time `json:"addedAt"`
	AddedBy string    `json:"addedBy"`
}

// TraversalNode is one address reached by the explorer. IncomingEdge is the
// first edge through which the node was discovered and is nil for the seed.
type TraversalNode struct {
	Address      Address `json:"address"`
	Depth        int     `json:"depth"`
	IncomingEdge *Edge   `json:"incomingEdge,omitempty"`
}

// SignalKind names the rule that produced a RiskSignal.
type SignalKind string

const (
	SignalDirectBlacklistHit SignalKind = "DirectBlacklistHit"
	SignalIndirectProximity  SignalKind = "IndirectProximity"
	SignalVolumeAnomaly      SignalKind = "VolumeAnomaly"
	SignalFanOutAnomaly      SignalKind = "FanOutAnomaly"
	SignalKnownMixerPattern  SignalKind = "KnownMixerPattern"
)

// Evidence points at the node (and optionally the edge) a signal was derived from.
type Evidence struct {
	Address Address `json:"address"`
	Depth   int     `json:"depth"`
	TxHash  string  `json:"txHash,omitempty"`
	Detail  string  `json:"detail"`
}

// RiskSignal is one weighted piece of evidence contributing to the score.
type RiskSignal struct {
	Kind     SignalKind `json:"kind"`
	Weight   float64    `json:"weight"`
	Evidence Evidence   `json:"evidence"`
}

// RiskLevel buckets a score for presentation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Rank orders levels so callers can compare them.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// ParseRiskLevel accepts the canonical spellings case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	for _, l := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if strings.EqualFold(string(l), s) {
			return l, true
		}
	}
	return "", false
}

// AnalysisReport is the only artifact handed to presentation layers. The JSON
// field names and enum spellings are the compatibility contract.
type AnalysisReport struct {
	Seed          Address      `json:"seed"`
	Score         float64      `json:"score"`
	RiskLevel     RiskLevel    `json:"riskLevel"`
	Signals       []RiskSignal `json:"signals"`
	VisitedCount  int          `json:"visitedCount"`
	GeneratedAt   time.Time    `json:"generatedAt"`
	Partial       bool         `json:"partial"`
	PartialReason string       `json:"partialReason,omitempty"`
}

// HasSignal reports whether at least one signal of kind k is present.
func (r *AnalysisReport) HasSignal(k SignalKind) bool {
	for _, s := range r.Signals {
		if s.Kind == k {
			return true
		}
	}
	return false
}
