// Package resolve maps a row's candidate search patterns to a single remote
// sales order.
package resolve

import (
	"context"
	"errors"
	"sort"
	"time"

	"sos_sheet_sync/internal/sos"

	"github.com/rs/zerolog/log"
)

// ErrNotFound reports that no pattern produced any order. Row-scoped: the
// caller marks the row failed and moves on.
var ErrNotFound = errors.New("resolve: no sales order matched any search pattern")

// Searcher is the slice of the SOS client the resolver needs.
type Searcher interface {
	SearchSalesOrders(ctx context.Context, query string, maxResults int) (*sos.SearchResult, error)
}

// Candidate is one order found during resolution, with the rank inputs made
// explicit instead of relying on slice order.
type Candidate struct {
	Order       sos.SalesOrder
	PatternRank int    // index of the first pattern that returned it
	Pattern     string // that pattern, for logging
}

type Resolver struct {
	searcher   Searcher
	maxResults int
}

func NewResolver(searcher Searcher, maxResults int) *Resolver {
	return &Resolver{searcher: searcher, maxResults: maxResults}
}

// Resolve issues one bounded search per pattern, unions the results
// de-duplicated by remote id (an id seen under a later pattern does not
// replace the earlier copy), ranks, and returns the best candidate. A
// failing pattern just contributes nothing; only an all-empty union is an
// error.
func (r *Resolver) Resolve(ctx context.Context, patterns []string) (*sos.SalesOrder, error) {
	candidates := r.collect(ctx, patterns)
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}

	best := Rank(candidates)[0]
	log.Info().
		Int("order_id", best.Order.ID).
		Str("order_number", best.Order.Number).
		Str("pattern", best.Pattern).
		Int("candidates", len(candidates)).
		Msg("Resolved sales order")
	return &best.Order, nil
}

func (r *Resolver) collect(ctx context.Context, patterns []string) []Candidate {
	var candidates []Candidate
	seen := make(map[int]bool)

	for rank, pattern := range patterns {
		result, err := r.searcher.SearchSalesOrders(ctx, pattern, r.maxResults)
		if err != nil {
			log.Warn().
				Err(err).
				Str("pattern", pattern).
				Msg("Search pattern failed, continuing with remaining patterns")
			continue
		}

		log.Debug().
			Str("pattern", pattern).
			Int("matches", len(result.Orders)).
			Int("total_count", result.TotalCount).
			Msg("Search pattern results")

		for _, order := range result.Orders {
			if seen[order.ID] {
				continue
			}
			seen[order.ID] = true
			candidates = append(candidates, Candidate{
				Order:       order,
				PatternRank: rank,
				Pattern:     pattern,
			})
		}
	}
	return candidates
}

// Rank sorts candidates by pattern priority first, then by remote recency
// (newer transaction date wins), keeping union order as the final tie-break.
func Rank(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].PatternRank != ranked[j].PatternRank {
			return ranked[i].PatternRank < ranked[j].PatternRank
		}
		return orderTime(ranked[i].Order).After(orderTime(ranked[j].Order))
	})
	return ranked
}

func orderTime(order sos.SalesOrder) time.Time {
	for _, value := range []string{order.TransactionDate, order.Date} {
		if value == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, value); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
