// Package engine exposes the analysis and blacklist operations and wires the
// explorer, scorer, assembler and cache together.
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/liamashdown/amlwatch/internal/alerts"
	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/blacklist"
	"github.com/liamashdown/amlwatch/internal/cache"
	"github.com/liamashdown/amlwatch/internal/config"
	"github.com/liamashdown/amlwatch/internal/explorer"
	"github.com/liamashdown/amlwatch/internal/ledger"
	"github.com/liamashdown/amlwatch/internal/metrics"
	"github.com/liamashdown/amlwatch/internal/report"
	"github.com/liamashdown/amlwatch/internal/scoring"
	"github.com/sirupsen/logrus"
)

// Options tune a single analysis. Zero values fall back to the configured
// defaults; values above the configured limits are clamped.
type Options struct {
	MaxDepth     int
	MaxNodes     int
	TimeBudget   time.Duration
	ForceRefresh bool
}

// Engine handles analysis requests and blacklist maintenance
type Engine struct {
	cfg         *config.Config
	blacklist   *blacklist.Store
	explorer    *explorer.Explorer
	scorer      *scoring.Scorer
	assembler   *report.Assembler
	cache       *cache.Cache
	alertSender alerts.Sender
	log         *logrus.Logger
	now         func() time.Time
}

// New creates a new engine. Every blacklist change clears the result cache.
func New(
	cfg *config.Config,
	store *blacklist.Store,
	gateway ledger.Gateway,
	alertSender alerts.Sender,
	log *logrus.Logger,
) *Engine {
	scorer := scoring.New(scoring.PolicyFromConfig(cfg))
	e := &Engine{
		cfg:         cfg,
		blacklist:   store,
		explorer:    explorer.New(gateway, store, log),
		scorer:      scorer,
		assembler:   report.NewAssembler(scorer.Policy()),
		cache:       cache.New(log),
		alertSender: alertSender,
		log:         log,
		now:         time.Now,
	}

	store.OnChange(func(address aml.Address) {
		e.cache.InvalidateAll()
		e.log.WithField("address", address.String()).Debug("Blacklist changed, result cache cleared")
	})

	return e
}

// Analyze returns the risk report for address. Repeated calls within the
// cache TTL return the stored report unless ForceRefresh is set; concurrent
// calls for the same address and budget share one traversal.
func (e *Engine) Analyze(ctx context.Context, address string, opts Options) (*aml.AnalysisReport, error) {
	seed, err := aml.ParseAddress(address)
	if err != nil {
		metrics.Analyses.WithLabelValues("invalid").Inc()
		return nil, err
	}

	budget := e.budgetFor(opts)
	key := cacheKey(seed, budget)
	requestID := uuid.NewString()

	log := e.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"seed":       seed.String(),
		"max_depth":  budget.MaxDepth,
		"max_nodes":  budget.MaxNodes,
		"refresh":    opts.ForceRefresh,
	})

	compute := func(ctx context.Context) (*aml.AnalysisReport, error) {
		return e.run(ctx, seed, budget, requestID, log)
	}

	var r *aml.AnalysisReport
	if opts.ForceRefresh {
		r, err = e.cache.Compute(ctx, key, compute, e.cfg.CacheTTL)
	} else {
		r, err = e.cache.GetOrCompute(ctx, key, compute, e.cfg.CacheTTL)
	}
	if err != nil {
		log.WithError(err).Warn("Analysis failed")
		return nil, err
	}
	return r, nil
}

// run executes one explore, score and assemble pass. It is bounded by the
// analysis timeout regardless of the caller's own deadline.
func (e *Engine) run(ctx context.Context, seed aml.Address, budget explorer.Budget, requestID string, log *logrus.Entry) (*aml.AnalysisReport, error) {
	start := time.Now()
	if e.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AnalysisTimeout)
		defer cancel()
	}

	t, err := e.explorer.Explore(ctx, seed, budget)
	if err != nil {
		metrics.RecordAnalysis(time.Since(start), "error")
		return nil, fmt.Errorf("analyze %s: %w", seed, err)
	}

	score, signals := e.scorer.Score(seed, t)
	r, err := e.assembler.Assemble(seed, score, signals, t.VisitedCount(), report.Partial{
		Partial: t.Partial,
		Reason:  t.PartialReason,
	})
	if err != nil {
		metrics.RecordAnalysis(time.Since(start), "error")
		return nil, fmt.Errorf("analyze %s: %w", seed, err)
	}

	status := "success"
	if r.Partial {
		status = "partial"
	}
	metrics.RecordAnalysis(time.Since(start), status)
	metrics.RecordReport(r.Score, string(r.RiskLevel), r.VisitedCount, signalKinds(r.Signals))

	log.WithFields(logrus.Fields{
		"score":         r.Score,
		"risk_level":    r.RiskLevel,
		"signals":       len(r.Signals),
		"visited_count": r.VisitedCount,
		"partial":       r.Partial,
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Analysis complete")

	e.sendAlert(ctx, r, requestID, log)
	return r, nil
}

func (e *Engine) sendAlert(ctx context.Context, r *aml.AnalysisReport, requestID string, log *logrus.Entry) {
	if e.alertSender == nil {
		return
	}
	payload := alerts.NewPayload(r, requestID, e.cfg.Environment, e.now())
	if err := e.alertSender.Send(ctx, payload); err != nil {
		metrics.RecordAlert("error", string(payload.Severity))
		log.WithError(err).Error("Failed to send alert")
		return
	}
	metrics.RecordAlert("success", string(payload.Severity))
}

// BlacklistAdd lists address with reason on behalf of actor.
func (e *Engine) BlacklistAdd(ctx context.Context, address, reason, actor string) error {
	a, err := aml.ParseAddress(address)
	if err != nil {
		return err
	}
	return e.blacklist.Add(ctx, aml.BlacklistEntry{
		Address: a,
		Reason:  reason,
		AddedBy: actor,
	})
}

// BlacklistRemove delists address. Removing an unlisted address succeeds.
func (e *Engine) BlacklistRemove(ctx context.Context, address, actor string) error {
	a, err := aml.ParseAddress(address)
	if err != nil {
		return err
	}
	return e.blacklist.Remove(ctx, a, actor)
}

// Blacklist returns every listed entry.
func (e *Engine) Blacklist(ctx context.Context) ([]aml.BlacklistEntry, error) {
	return e.blacklist.List(ctx)
}

// ExportBlacklist writes the blacklist in the seed file format.
func (e *Engine) ExportBlacklist(ctx context.Context, w io.Writer) error {
	return blacklist.Export(ctx, e.blacklist, w)
}

func (e *Engine) budgetFor(opts Options) explorer.Budget {
	b := explorer.Budget{
		MaxDepth:        e.cfg.DefaultMaxDepth,
		MaxNodes:        e.cfg.DefaultMaxNodes,
		TimeBudget:      e.cfg.DefaultTimeBudget,
		MaxPagesPerNode: e.cfg.LedgerMaxPages,
	}
	if opts.MaxDepth > 0 {
		b.MaxDepth = min(opts.MaxDepth, e.cfg.MaxDepthLimit)
	}
	if opts.MaxNodes > 0 {
		b.MaxNodes = min(opts.MaxNodes, e.cfg.MaxNodesLimit)
	}
	if opts.TimeBudget > 0 {
		b.TimeBudget = opts.TimeBudget
	}
	// The budget must expire before the analysis deadline so the explorer
	// returns a partial traversal instead of aborting.
	if ceiling := budgetCeiling(e.cfg.AnalysisTimeout); ceiling > 0 && (b.TimeBudget <= 0 || b.TimeBudget > ceiling) {
		b.TimeBudget = ceiling
	}
	return b
}

// budgetCeiling leaves a tenth of the analysis timeout for scoring, assembly
// and alert delivery.
func budgetCeiling(analysisTimeout time.Duration) time.Duration {
	return analysisTimeout - analysisTimeout/10
}

func cacheKey(seed aml.Address, b explorer.Budget) string {
	return fmt.Sprintf("%s|d%d|n%d", seed, b.MaxDepth, b.MaxNodes)
}

func signalKinds(signals []aml.RiskSignal) []string {
	kinds := make([]string, len(signals))
	for i, s := range signals {
		kinds[i] = string(s.Kind)
	}
	return kinds
}
