// Package scoring turns a traversal into a weighted, explained risk score.
package scoring

import (
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/config"
)

// MaxScore is the ceiling of the risk scale.
const MaxScore = 100

// Policy holds every tunable weight and threshold used by the rules.
type Policy struct {
	DirectHitWeight     float64
	BaseProximityWeight float64

	VolumeMultiplier float64
	VolumeWindow     time.Duration
	VolumeWeight     float64

	FanOutThreshold int
	FanOutWindow    time.Duration
	FanOutWeight    float64

	MixerMinSplits int
	MixerTolerance float64
	MixerWindow    time.Duration
	MixerWeight    float64

	MediumMin   float64
	HighMin     float64
	CriticalMin float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		DirectHitWeight:     100,
		BaseProximityWeight: 40,
		VolumeMultiplier:    10,
		VolumeWindow:        24 * time.Hour,
		VolumeWeight:        20,
		FanOutThreshold:     20,
		FanOutWindow:        time.Hour,
		FanOutWeight:        15,
		MixerMinSplits:      5,
		MixerTolerance:      0.01,
		MixerWindow:         time.Hour,
		MixerWeight:         30,
		MediumMin:           25,
		HighMin:             50,
		CriticalMin:         80,
	}
}

// PolicyFromConfig copies the scoring settings out of cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		DirectHitWeight:     cfg.DirectHitWeight,
		BaseProximityWeight: cfg.BaseProximityWeight,
		VolumeMultiplier:    cfg.VolumeMultiplier,
		VolumeWindow:        cfg.VolumeWindow,
		VolumeWeight:        cfg.VolumeWeight,
		FanOutThreshold:     cfg.FanOutThreshold,
		FanOutWindow:        cfg.FanOutWindow,
		FanOutWeight:        cfg.FanOutWeight,
		MixerMinSplits:      cfg.MixerMinSplits,
		MixerTolerance:      cfg.MixerTolerance,
		MixerWindow:         cfg.MixerWindow,
		MixerWeight:         cfg.MixerWeight,
		MediumMin:           cfg.LevelMediumMin,
		HighMin:             cfg.LevelHighMin,
		CriticalMin:         cfg.LevelCriticalMin,
	}
}

// LevelFor maps a score onto a risk level.
func (p Policy) LevelFor(score float64) aml.RiskLevel {
	switch {
	case score >= p.CriticalMin:
		return aml.RiskCritical
	case score >= p.HighMin:
		return aml.RiskHigh
	case score >= p.MediumMin:
		return aml.RiskMedium
	default:
		return aml.RiskLow
	}
}
