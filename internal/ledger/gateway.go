// Package ledger fetches transaction history for an address from a
// third-party ledger API and normalizes it into aml.Edge values.
package ledger

import (
	"context"

	"github.com/liamashdown/amlwatch/internal/aml"
)

// Page is one slice of an address's history. NextCursor is empty when the
// history is exhausted.
type Page struct {
	Edges      []aml.Edge
	NextCursor string
}

// Gateway lists transactions for an address, one page per call. An empty
// cursor requests the first page.
type Gateway interface {
	FetchEdges(ctx context.Context, address aml.Address, cursor string) (Page, error)
}

// FetchAll pages through the history of address until it is exhausted or
// maxPages pages were read. maxPages <= 0 means a single page.
func FetchAll(ctx context.Context, gw Gateway, address aml.Address, maxPages int) ([]aml.Edge, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	var (
		edges  []aml.Edge
		cursor string
	)
	for page := 0; page < maxPages; page++ {
		p, err := gw.FetchEdges(ctx, address, cursor)
		if err != nil {
			return nil, err
		}
		edges = append(edges, p.Edges...)
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	return edges, nil
}
