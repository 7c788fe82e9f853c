package distill

import (
	"context"
	"strings"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/temporal"
)

// planHigherOrders computes the recursive order-(N+1) folding pass
// described in spec.md §4.7 Higher-order: while a given order's
// non-subsumed summary count reaches order_compression_threshold,
// group them contiguously and summarize again, marking the consumed
// summaries subsumed by the new one, up to max_summary_order.
//
// It returns the new higher-order summaries and a map from each new
// summary's id to the ids it subsumes. Nothing is written to the
// store here — the caller persists everything in one transaction
// only after every invariant check has passed.
func (e *Engine) planHigherOrders(ctx context.Context, hypothetical []temporal.Summary) ([]temporal.Summary, map[string][]string, error) {
	working := append([]temporal.Summary{}, hypothetical...)
	byID := make(map[string]*temporal.Summary, len(working))
	for i := range working {
		byID[working[i].ID] = &working[i]
	}

	var created []temporal.Summary
	subsumptions := map[string][]string{}

	for order := 1; order < e.cfg.MaxSummaryOrder; order++ {
		nonSubsumed := nonSubsumedAtOrder(working, order)
		if len(nonSubsumed) < e.cfg.OrderCompressionThreshold {
			break
		}

		chunks := chunkBy(nonSubsumed, e.cfg.OrderCompressionThreshold)
		for _, chunk := range chunks {
			if len(chunk) < 2 {
				continue // nothing to fold
			}
			var b strings.Builder
			for _, s := range chunk {
				b.WriteString(s.Body)
				b.WriteString("\n")
			}
			body, err := e.summarize(ctx, b.String(), "higher-order")
			if err != nil {
				return nil, nil, err
			}

			newSummary := temporal.Summary{
				ID:            e.ids.Next(ids.KindSummary),
				Order:         order + 1,
				StartID:       chunk[0].ID,
				EndID:         chunk[len(chunk)-1].ID,
				Body:          body,
				TokenEstimate: temporal.EstimateTokens(body),
			}
			created = append(created, newSummary)
			working = append(working, newSummary)
			byID[newSummary.ID] = &working[len(working)-1]

			var consumed []string
			for _, s := range chunk {
				consumed = append(consumed, s.ID)
				byID[s.ID].SubsumedBy = &newSummary.ID
			}
			subsumptions[newSummary.ID] = consumed
		}
	}

	return created, subsumptions, nil
}

func nonSubsumedAtOrder(summaries []temporal.Summary, order int) []temporal.Summary {
	var out []temporal.Summary
	for _, s := range summaries {
		if s.Order == order && !s.Subsumed() {
			out = append(out, s)
		}
	}
	return out
}

func chunkBy(summaries []temporal.Summary, size int) [][]temporal.Summary {
	if size <= 0 {
		size = len(summaries)
	}
	var chunks [][]temporal.Summary
	for i := 0; i < len(summaries); i += size {
		end := i + size
		if end > len(summaries) {
			end = len(summaries)
		}
		chunks = append(chunks, summaries[i:end])
	}
	return chunks
}
