// Package explorer walks the transaction graph around a seed address.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/ledger"
	"github.com/sirupsen/logrus"
)

// Checker answers blacklist membership for visited nodes.
type Checker interface {
	ReasonFor(ctx context.Context, address aml.Address) (string, bool, error)
}

// Budget bounds a single traversal.
type Budget struct {
	MaxDepth        int
	MaxNodes        int
	TimeBudget      time.Duration
	MaxPagesPerNode int
}

// Traversal is the outcome of one run. Nodes are in visit order; Edges holds
// the fetched history of every node whose edges were requested, and Listed
// the blacklist reason of every visited node that is listed.
type Traversal struct {
	Seed          aml.Address
	Nodes         []aml.TraversalNode
	Edges         map[aml.Address][]aml.Edge
	Listed        map[aml.Address]string
	Partial       bool
	PartialReason string
}

// VisitedCount returns the number of nodes recorded.
func (t *Traversal) VisitedCount() int {
	return len(t.Nodes)
}

// Explorer runs bounded breadth-first traversals. It holds no per-run state
// and is safe for concurrent use.
type Explorer struct {
	gateway ledger.Gateway
	checker Checker
	log     *logrus.Logger
}

// New creates an explorer
func New(gateway ledger.Gateway, checker Checker, log *logrus.Logger) *Explorer {
	return &Explorer{gateway: gateway, checker: checker, log: log}
}

// Explore runs a breadth-first traversal from seed.
//
// A node counts as visited once it has been checked against the blacklist and,
// below MaxDepth, had its edges fetched. Nodes at MaxDepth are recorded without
// fetching. The run stops after MaxNodes visits. When the gateway is
// unavailable or the time budget runs out, the failing node is dropped and
// the traversal is returned with Partial set. A dropped node already known to
// be blacklisted is named as such in PartialReason. Protocol errors, blacklist
// lookup failures and cancellation of ctx abort the run.
func (e *Explorer) Explore(ctx context.Context, seed aml.Address, budget Budget) (*Traversal, error) {
	if budget.MaxNodes <= 0 {
		return nil, fmt.Errorf("explore %s: max nodes must be positive", seed)
	}
	if budget.MaxDepth < 0 {
		return nil, fmt.Errorf("explore %s: max depth must not be negative", seed)
	}

	runCtx := ctx
	if budget.TimeBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, budget.TimeBudget)
		defer cancel()
	}

	t := &Traversal{
		Seed:   seed,
		Edges:  make(map[aml.Address][]aml.Edge),
		Listed: make(map[aml.Address]string),
	}

	seen := map[aml.Address]bool{seed: true}
	queue := []aml.TraversalNode{{Address: seed, Depth: 0}}

	for len(queue) > 0 && len(t.Nodes) < budget.MaxNodes {
		node := queue[0]
		queue = queue[1:]

		stop, err := e.checkBudget(ctx, runCtx, t, node)
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}

		reason, listed, err := e.checker.ReasonFor(runCtx, node.Address)
		if err != nil {
			stop, err = e.handleFailure(ctx, runCtx, t, node, err)
			if err != nil {
				return nil, fmt.Errorf("blacklist lookup %s: %w", node.Address, err)
			}
			if stop {
				break
			}
		}

		if node.Depth < budget.MaxDepth {
			edges, err := ledger.FetchAll(runCtx, e.gateway, node.Address, budget.MaxPagesPerNode)
			if err != nil {
				stop, err = e.handleFailure(ctx, runCtx, t, node, err)
				if err != nil {
					return nil, fmt.Errorf("fetch edges %s at depth %d: %w", node.Address, node.Depth, err)
				}
				if listed {
					t.PartialReason += fmt.Sprintf(" (listed: %s)", reason)
				}
				if stop {
					break
				}
			}
			t.Edges[node.Address] = edges

			for i := range edges {
				edge := edges[i]
				if edge.IsSelf() {
					continue
				}
				next := edge.Counterparty(node.Address)
				if next == "" || seen[next] {
					continue
				}
				if len(seen) >= budget.MaxNodes {
					break
				}
				seen[next] = true
				queue = append(queue, aml.TraversalNode{
					Address:      next,
					Depth:        node.Depth + 1,
					IncomingEdge: &edge,
				})
			}
		}

		if listed {
			t.Listed[node.Address] = reason
		}
		t.Nodes = append(t.Nodes, node)
	}

	e.log.WithFields(logrus.Fields{
		"seed":    seed.String(),
		"visited": len(t.Nodes),
		"pending": len(queue),
		"partial": t.Partial,
	}).Debug("Traversal finished")

	return t, nil
}

// checkBudget stops the run before the next node when ctx or the time budget
// has ended.
func (e *Explorer) checkBudget(ctx, runCtx context.Context, t *Traversal, node aml.TraversalNode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, aml.FromContext(err)
	}
	if runCtx.Err() != nil {
		e.markPartial(t, node, "time budget exhausted")
		return true, nil
	}
	return false, nil
}

// handleFailure decides whether err degrades the run to a partial result
// (returns true, nil) or aborts it (returns the error).
func (e *Explorer) handleFailure(ctx, runCtx context.Context, t *Traversal, node aml.TraversalNode, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return true, aml.FromContext(ctxErr)
	}
	switch {
	case runCtx.Err() != nil:
		e.markPartial(t, node, "time budget exhausted")
		return true, nil
	case errors.Is(err, aml.ErrGatewayUnavailable):
		e.log.WithError(err).WithFields(logrus.Fields{
			"seed":    t.Seed.String(),
			"address": node.Address.String(),
			"depth":   node.Depth,
		}).Warn("Ledger unavailable, returning partial traversal")
		e.markPartial(t, node, "ledger gateway unavailable")
		return true, nil
	}
	return true, err
}

func (e *Explorer) markPartial(t *Traversal, node aml.TraversalNode, cause string) {
	t.Partial = true
	t.PartialReason = fmt.Sprintf("%s at %s (depth %d) after %d nodes", cause, node.Address, node.Depth, len(t.Nodes))
}
