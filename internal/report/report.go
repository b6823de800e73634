// Package report builds the AnalysisReport handed to callers.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
)

// Leveler maps a score to a risk level.
type Leveler interface {
	LevelFor(score float64) aml.RiskLevel
}

// Partial describes a degraded traversal. The zero value means complete.
type Partial struct {
	Partial bool
	Reason  string
}

// Assembler turns scorer output into reports.
type Assembler struct {
	levels Leveler
	now    func() time.Time
}

// NewAssembler creates an assembler
func NewAssembler(levels Leveler) *Assembler {
	return &Assembler{levels: levels, now: time.Now}
}

// Assemble validates its inputs and builds the report. The signals are
// copied so later changes to the caller's slice do not leak into it.
func (a *Assembler) Assemble(seed aml.Address, score float64, signals []aml.RiskSignal, visitedCount int, partial Partial) (*aml.AnalysisReport, error) {
	switch {
	case seed == "":
		return nil, fmt.Errorf("%w: empty seed", aml.ErrInvalidReport)
	case math.IsNaN(score) || math.IsInf(score, 0):
		return nil, fmt.Errorf("%w: score %v is not a number", aml.ErrInvalidReport, score)
	case score < 0 || score > 100:
		return nil, fmt.Errorf("%w: score %v outside [0,100]", aml.ErrInvalidReport, score)
	case visitedCount < 0:
		return nil, fmt.Errorf("%w: negative visited count %d", aml.ErrInvalidReport, visitedCount)
	case partial.Partial && partial.Reason == "":
		return nil, fmt.Errorf("%w: partial report without a reason", aml.ErrInvalidReport)
	}

	copied := make([]aml.RiskSignal, len(signals))
	copy(copied, signals)

	r := &aml.AnalysisReport{
		Seed:         seed,
		Score:        score,
		RiskLevel:    a.levels.LevelFor(score),
		Signals:      copied,
		VisitedCount: visitedCount,
		GeneratedAt:  a.now().UTC(),
		Partial:      partial.Partial,
	}
	if partial.Partial {
		r.PartialReason = partial.Reason
	}
	return r, nil
}
