package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/explorer"
	"github.com/shopspring/decimal"
)

// Scorer applies a Policy. It makes no external calls.
type Scorer struct {
	policy Policy
}

// New creates a scorer
func New(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Policy returns the policy in use.
func (s *Scorer) Policy() Policy {
	return s.policy
}

// Score evaluates every rule over the visited nodes of t and returns the
// capped score with its signals, heaviest first. Signals of equal weight keep
// the order in which they were found.
func (s *Scorer) Score(seed aml.Address, t *explorer.Traversal) (float64, []aml.RiskSignal) {
	var (
		signals []aml.RiskSignal
		direct  bool
	)

	for _, node := range t.Nodes {
		if reason, ok := t.Listed[node.Address]; ok {
			if node.Depth == 0 {
				direct = true
				signals = append(signals, s.directHit(node, reason))
			} else {
				signals = append(signals, s.proximity(node, reason))
			}
		}

		edges := t.Edges[node.Address]
		if node.Address == seed {
			if sig, ok := s.volumeAnomaly(seed, edges); ok {
				signals = append(signals, sig)
			}
			if sig, ok := s.fanOutAnomaly(seed, edges); ok {
				signals = append(signals, sig)
			}
		}
		if sig, ok := s.mixerPattern(node, edges); ok {
			signals = append(signals, sig)
		}
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Weight > signals[j].Weight
	})

	total := 0.0
	for _, sig := range signals {
		total += sig.Weight
	}
	if direct {
		total = MaxScore
	}
	return math.Round(math.Min(MaxScore, total)*100) / 100, signals
}

// Level maps a score onto a risk level.
func (s *Scorer) Level(score float64) aml.RiskLevel {
	return s.policy.LevelFor(score)
}

func (s *Scorer) directHit(node aml.TraversalNode, reason string) aml.RiskSignal {
	return aml.RiskSignal{
		Kind:   aml.SignalDirectBlacklistHit,
		Weight: s.policy.DirectHitWeight,
		Evidence: aml.Evidence{
			Address: node.Address,
			Depth:   0,
			Detail:  fmt.Sprintf("address is blacklisted: %s", reason),
		},
	}
}

// proximity weighs a listed node at depth d as BaseProximityWeight/d.
func (s *Scorer) proximity(node aml.TraversalNode, reason string) aml.RiskSignal {
	ev := aml.Evidence{
		Address: node.Address,
		Depth:   node.Depth,
		Detail:  fmt.Sprintf("blacklisted counterparty %d hop(s) away: %s", node.Depth, reason),
	}
	if node.IncomingEdge != nil {
		ev.TxHash = node.IncomingEdge.TxHash
	}
	return aml.RiskSignal{
		Kind:     aml.SignalIndirectProximity,
		Weight:   ProximityWeight(s.policy.BaseProximityWeight, node.Depth),
		Evidence: ev,
	}
}

// ProximityWeight is base/depth for depth > 0.
func ProximityWeight(base float64, depth int) float64 {
	if depth <= 0 {
		return base
	}
	return base / float64(depth)
}

// outgoing returns the positive-value transfers sent by from, oldest first.
func outgoing(from aml.Address, edges []aml.Edge) []aml.Edge {
	out := make([]aml.Edge, 0, len(edges))
	for _, e := range edges {
		if e.From == from && !e.IsSelf() && e.Value.IsPositive() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// volumeAnomaly compares the seed's outgoing total over the window ending at
// its newest transfer against the median of all its outgoing transfers.
func (s *Scorer) volumeAnomaly(seed aml.Address, edges []aml.Edge) (aml.RiskSignal, bool) {
	out := outgoing(seed, edges)
	if len(out) == 0 || s.policy.VolumeMultiplier <= 0 {
		return aml.RiskSignal{}, false
	}

	values := make([]decimal.Decimal, len(out))
	for i, e := range out {
		values[i] = e.Value
	}
	median := medianOf(values)
	if !median.IsPositive() {
		return aml.RiskSignal{}, false
	}

	newest := out[len(out)-1].Timestamp
	since := newest.Add(-s.policy.VolumeWindow)
	recent := decimal.Zero
	count := 0
	for _, e := range out {
		if !e.Timestamp.Before(since) {
			recent = recent.Add(e.Value)
			count++
		}
	}

	limit := median.Mul(decimal.NewFromFloat(s.policy.VolumeMultiplier))
	if !recent.GreaterThan(limit) {
		return aml.RiskSignal{}, false
	}

	ratio := recent.Div(median).Round(1)
	return aml.RiskSignal{
		Kind:   aml.SignalVolumeAnomaly,
		Weight: s.policy.VolumeWeight,
		Evidence: aml.Evidence{
			Address: seed,
			Depth:   0,
			TxHash:  out[len(out)-1].TxHash,
			Detail: fmt.Sprintf("sent %s in %d transfers within %s, %sx the median transfer of %s",
				nativeUnits(recent), count, s.policy.VolumeWindow, ratio, nativeUnits(median)),
		},
	}, true
}

// fanOutAnomaly looks for the largest set of distinct recipients the seed
// paid inside any window of FanOutWindow.
func (s *Scorer) fanOutAnomaly(seed aml.Address, edges []aml.Edge) (aml.RiskSignal, bool) {
	out := outgoing(seed, edges)
	if len(out) <= s.policy.FanOutThreshold {
		return aml.RiskSignal{}, false
	}

	counts := make(map[aml.Address]int)
	best, bestStart := 0, 0
	lo := 0
	for _, e := range out {
		counts[e.To]++
		for e.Timestamp.Sub(out[lo].Timestamp) > s.policy.FanOutWindow {
			counts[out[lo].To]--
			if counts[out[lo].To] == 0 {
				delete(counts, out[lo].To)
			}
			lo++
		}
		if len(counts) > best {
			best, bestStart = len(counts), lo
		}
	}

	if best <= s.policy.FanOutThreshold {
		return aml.RiskSignal{}, false
	}
	return aml.RiskSignal{
		Kind:   aml.SignalFanOutAnomaly,
		Weight: s.policy.FanOutWeight,
		Evidence: aml.Evidence{
			Address: seed,
			Depth:   0,
			TxHash:  out[bestStart].TxHash,
			Detail:  fmt.Sprintf("paid %d distinct counterparties within %s (threshold %d)", best, s.policy.FanOutWindow, s.policy.FanOutThreshold),
		},
	}, true
}

// mixerPattern detects a node splitting funds into near-equal transfers to
// distinct recipients within MixerWindow.
func (s *Scorer) mixerPattern(node aml.TraversalNode, edges []aml.Edge) (aml.RiskSignal, bool) {
	out := outgoing(node.Address, edges)
	if s.policy.MixerMinSplits < 2 || len(out) < s.policy.MixerMinSplits {
		return aml.RiskSignal{}, false
	}

	tolerance := decimal.NewFromFloat(s.policy.MixerTolerance)
	for start := range out {
		windowEnd := out[start].Timestamp.Add(s.policy.MixerWindow)

		// one transfer per recipient, first seen wins
		seen := make(map[aml.Address]bool)
		var window []aml.Edge
		for _, e := range out[start:] {
			if e.Timestamp.After(windowEnd) {
				break
			}
			if seen[e.To] {
				continue
			}
			seen[e.To] = true
			window = append(window, e)
		}
		if len(window) < s.policy.MixerMinSplits {
			continue
		}

		sort.SliceStable(window, func(i, j int) bool {
			return window[i].Value.LessThan(window[j].Value)
		})
		lo := 0
		for hi := range window {
			for window[hi].Value.Sub(window[lo].Value).GreaterThan(window[hi].Value.Mul(tolerance)) {
				lo++
			}
			if n := hi - lo + 1; n >= s.policy.MixerMinSplits {
				return aml.RiskSignal{
					Kind:   aml.SignalKnownMixerPattern,
					Weight: s.policy.MixerWeight,
					Evidence: aml.Evidence{
						Address: node.Address,
						Depth:   node.Depth,
						TxHash:  out[start].TxHash,
						Detail: fmt.Sprintf("%d near-equal transfers of ~%s to distinct recipients within %s",
							n, nativeUnits(window[lo].Value), s.policy.MixerWindow),
					},
				}, true
			}
		}
	}
	return aml.RiskSignal{}, false
}

func medianOf(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// nativeUnits renders a wei amount in whole coins.
func nativeUnits(wei decimal.Decimal) string {
	return wei.Shift(-18).Round(6).String()
}
