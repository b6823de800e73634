package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/explorer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func addr(n int) aml.Address {
	return aml.MustParseAddress(fmt.Sprintf("0x%040x", n))
}

// eth returns v whole coins in wei.
func eth(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Shift(18)
}

func transfer(from, to aml.Address, value decimal.Decimal, at time.Time) aml.Edge {
	return aml.Edge{
		From:      from,
		To:        to,
		Value:     value,
		Timestamp: at,
		TxHash:    fmt.Sprintf("0x%x", at.UnixNano()^int64(len(to))),
	}
}

func newTraversal(seed aml.Address) *explorer.Traversal {
	return &explorer.Traversal{
		Seed:   seed,
		Nodes:  []aml.TraversalNode{{Address: seed}},
		Edges:  map[aml.Address][]aml.Edge{},
		Listed: map[aml.Address]string{},
	}
}

type travBuilder struct{ t *explorer.Traversal }

func (tb travBuilder) node(a aml.Address, depth int, in *aml.Edge) travBuilder {
	tb.t.Nodes = append(tb.t.Nodes, aml.TraversalNode{Address: a, Depth: depth, IncomingEdge: in})
	return tb
}

func TestScoreDirectNeighbor(t *testing.T) {
	seed, bad := addr(0xaaa), addr(0xbbb)
	edge := transfer(seed, bad, eth(1), base)

	tr := newTraversal(seed)
	tr.Edges[seed] = []aml.Edge{edge}
	travBuilder{tr}.node(bad, 1, &edge)
	tr.Listed[bad] = "sanctioned"

	s := New(DefaultPolicy())
	score, signals := s.Score(seed, tr)

	assert.Equal(t, 40.0, score)
	assert.Equal(t, aml.RiskMedium, s.Level(score))
	require.Len(t, signals, 1)
	assert.Equal(t, aml.SignalIndirectProximity, signals[0].Kind)
	assert.Equal(t, 40.0, signals[0].Weight)
	assert.Equal(t, bad, signals[0].Evidence.Address)
	assert.Equal(t, 1, signals[0].Evidence.Depth)
	assert.Equal(t, edge.TxHash, signals[0].Evidence.TxHash)
}

func TestScoreDirectHitSaturates(t *testing.T) {
	seed := addr(1)
	tr := newTraversal(seed)
	tr.Listed[seed] = "exploit"

	s := New(DefaultPolicy())
	score, signals := s.Score(seed, tr)

	assert.Equal(t, 100.0, score)
	assert.Equal(t, aml.RiskCritical, s.Level(score))
	require.NotEmpty(t, signals)
	assert.Equal(t, aml.SignalDirectBlacklistHit, signals[0].Kind)
}

func TestDirectHitForcesCeilingWithLowWeight(t *testing.T) {
	seed := addr(1)
	tr := newTraversal(seed)
	tr.Listed[seed] = "exploit"

	p := DefaultPolicy()
	p.DirectHitWeight = 10
	score, _ := New(p).Score(seed, tr)
	assert.Equal(t, 100.0, score)
}

func TestProximityWeightDecreasesWithDepth(t *testing.T) {
	tests := []struct {
		depth    int
		expected float64
	}{
		{1, 40},
		{2, 20},
		{4, 10},
		{5, 8},
	}

	prev := 1e9
	for _, tt := range tests {
		t.Run(fmt.Sprintf("depth %d", tt.depth), func(t *testing.T) {
			seed, bad := addr(1), addr(2)
			tr := newTraversal(seed)
			travBuilder{tr}.node(bad, tt.depth, nil)
			tr.Listed[bad] = "mixer"

			score, signals := New(DefaultPolicy()).Score(seed, tr)
			require.Len(t, signals, 1)
			assert.InDelta(t, tt.expected, signals[0].Weight, 0.001)
			assert.InDelta(t, tt.expected, score, 0.001)
			assert.Less(t, signals[0].Weight, prev)
			prev = signals[0].Weight
		})
	}
}

func TestScoreCapsAtMax(t *testing.T) {
	seed := addr(1)
	tr := newTraversal(seed)
	for i := 2; i <= 4; i++ {
		travBuilder{tr}.node(addr(i), 1, nil)
		tr.Listed[addr(i)] = "phishing"
	}

	score, signals := New(DefaultPolicy()).Score(seed, tr)
	assert.Len(t, signals, 3)
	assert.Equal(t, 100.0, score)
}

func TestVolumeAnomaly(t *testing.T) {
	seed := addr(1)

	tests := []struct {
		name     string
		edges    func() []aml.Edge
		expected bool
	}{
		{
			name: "burst far above median",
			edges: func() []aml.Edge {
				var edges []aml.Edge
				for i := 0; i < 20; i++ {
					edges = append(edges, transfer(seed, addr(100+i), eth(1), base.Add(time.Duration(i)*24*time.Hour)))
				}
				last := base.Add(30 * 24 * time.Hour)
				for i := 0; i < 3; i++ {
					edges = append(edges, transfer(seed, addr(200+i), eth(5), last.Add(time.Duration(i)*time.Hour)))
				}
				return edges
			},
			expected: true,
		},
		{
			name: "steady flow",
			edges: func() []aml.Edge {
				var edges []aml.Edge
				for i := 0; i < 20; i++ {
					edges = append(edges, transfer(seed, addr(100+i), eth(1), base.Add(time.Duration(i)*24*time.Hour)))
				}
				return edges
			},
			expected: false,
		},
		{
			name: "incoming only",
			edges: func() []aml.Edge {
				return []aml.Edge{transfer(addr(9), seed, eth(1000), base)}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTraversal(seed)
			tr.Edges[seed] = tt.edges()

			_, signals := New(DefaultPolicy()).Score(seed, tr)
			found := false
			for _, sig := range signals {
				if sig.Kind == aml.SignalVolumeAnomaly {
					found = true
					assert.Equal(t, 20.0, sig.Weight)
				}
			}
			assert.Equal(t, tt.expected, found)
		})
	}
}

func TestFanOutAnomaly(t *testing.T) {
	seed := addr(1)

	tests := []struct {
		name     string
		spacing  time.Duration
		count    int
		expected bool
	}{
		{"burst within window", time.Minute, 25, true},
		{"spread over a day", time.Hour, 25, false},
		{"at threshold", time.Minute, 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTraversal(seed)
			for i := 0; i < tt.count; i++ {
				// vary amounts so the mixer rule stays quiet
				tr.Edges[seed] = append(tr.Edges[seed],
					transfer(seed, addr(100+i), eth(float64(i+1)), base.Add(time.Duration(i)*tt.spacing)))
			}

			_, signals := New(DefaultPolicy()).Score(seed, tr)
			found := false
			for _, sig := range signals {
				if sig.Kind == aml.SignalFanOutAnomaly {
					found = true
				}
			}
			assert.Equal(t, tt.expected, found)
		})
	}
}

func TestMixerPattern(t *testing.T) {
	hub := addr(50)

	tests := []struct {
		name       string
		values     []float64
		recipients []int
		spacing    time.Duration
		expected   bool
	}{
		{"near equal splits", []float64{1, 1.001, 0.999, 1.002, 1, 0.998}, []int{1, 2, 3, 4, 5, 6}, 5 * time.Minute, true},
		{"unequal amounts", []float64{1, 2, 3, 4, 5, 6}, []int{1, 2, 3, 4, 5, 6}, 5 * time.Minute, false},
		{"same recipient", []float64{1, 1, 1, 1, 1, 1}, []int{1, 1, 1, 2, 2, 2}, 5 * time.Minute, false},
		{"too slow", []float64{1, 1, 1, 1, 1, 1}, []int{1, 2, 3, 4, 5, 6}, 2 * time.Hour, false},
		{"too few", []float64{1, 1, 1, 1}, []int{1, 2, 3, 4}, time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := addr(1)
			in := transfer(seed, hub, eth(6), base.Add(-time.Hour))
			tr := newTraversal(seed)
			tr.Edges[seed] = []aml.Edge{in}
			travBuilder{tr}.node(hub, 1, &in)

			edges := []aml.Edge{in}
			for i, v := range tt.values {
				edges = append(edges, transfer(hub, addr(1000+tt.recipients[i]), eth(v), base.Add(time.Duration(i)*tt.spacing)))
			}
			tr.Edges[hub] = edges

			_, signals := New(DefaultPolicy()).Score(seed, tr)
			var mixer *aml.RiskSignal
			for i := range signals {
				if signals[i].Kind == aml.SignalKnownMixerPattern {
					mixer = &signals[i]
				}
			}
			if !tt.expected {
				assert.Nil(t, mixer)
				return
			}
			require.NotNil(t, mixer)
			assert.Equal(t, hub, mixer.Evidence.Address)
			assert.Equal(t, 1, mixer.Evidence.Depth)
			assert.Equal(t, 30.0, mixer.Weight)
		})
	}
}

func TestSignalOrdering(t *testing.T) {
	seed := addr(1)
	tr := newTraversal(seed)
	// two equal-weight hits at depth 2 found in node order, one heavier at depth 1
	travBuilder{tr}.node(addr(2), 1, nil).node(addr(3), 2, nil).node(addr(4), 2, nil)
	tr.Listed[addr(3)] = "first"
	tr.Listed[addr(4)] = "second"
	tr.Listed[addr(2)] = "near"

	_, signals := New(DefaultPolicy()).Score(seed, tr)
	require.Len(t, signals, 3)
	assert.Equal(t, addr(2), signals[0].Evidence.Address)
	assert.Equal(t, addr(3), signals[1].Evidence.Address)
	assert.Equal(t, addr(4), signals[2].Evidence.Address)
}

func TestLevelFor(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		score    float64
		expected aml.RiskLevel
	}{
		{0, aml.RiskLow},
		{24.99, aml.RiskLow},
		{25, aml.RiskMedium},
		{49.99, aml.RiskMedium},
		{50, aml.RiskHigh},
		{79.99, aml.RiskHigh},
		{80, aml.RiskCritical},
		{100, aml.RiskCritical},
	}

	for _, tt := range tests {
		if got := p.LevelFor(tt.score); got != tt.expected {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.score, got, tt.expected)
		}
	}
}
