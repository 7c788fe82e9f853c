package temporal

import "sort"

// Range is a contiguous [StartID, EndID] span of message ids.
type Range struct {
	StartID string
	EndID   string
}

// coveredMessageIDs returns the set of message ids covered by ANY order-1
// summary, subsumed or not. Subsumption hides a summary from the effective
// view; it does not un-cover the messages it summarized. Coverage is range
// membership (m.ID between a summary's start_id and end_id inclusive), not
// just the two endpoint ids — every interior message in a summarized group
// is covered too.
func coveredMessageIDs(messages []Message, summaries []Summary) map[string]bool {
	var order1 []Summary
	for _, s := range summaries {
		if s.Order == 1 {
			order1 = append(order1, s)
		}
	}

	covered := map[string]bool{}
	for _, m := range messages {
		for _, s := range order1 {
			if m.ID >= s.StartID && m.ID <= s.EndID {
				covered[m.ID] = true
				break
			}
		}
	}
	return covered
}

// maxOrder1EndID returns the greatest end_id across all order-1 summaries,
// or "" if there are none.
func maxOrder1EndID(summaries []Summary) string {
	max := ""
	for _, s := range summaries {
		if s.Order != 1 {
			continue
		}
		if s.EndID > max {
			max = s.EndID
		}
	}
	return max
}

// IsCoveredByOrder1Summary reports whether messageID falls inside the
// [start_id, end_id] range of some non-subsumed order-1 summary, per
// spec.md §4.3.
func IsCoveredByOrder1Summary(summaries []Summary, messageID string) bool {
	for _, s := range summaries {
		if s.Order != 1 || s.Subsumed() {
			continue
		}
		if messageID >= s.StartID && messageID <= s.EndID {
			return true
		}
	}
	return false
}

// UncoveredMessages returns, from all, the messages with id greater than
// the highest id covered by any order-1 summary, preserving order. These
// are the messages distillation is still free to select from and the
// messages the context assembler must reconstruct as verbatim turns.
func UncoveredMessages(all []Message, summaries []Summary) []Message {
	maxCovered := maxOrder1EndID(summaries)
	if maxCovered == "" {
		return all
	}

	out := make([]Message, 0, len(all))
	for _, m := range all {
		if m.ID > maxCovered {
			out = append(out, m)
		}
	}
	return out
}

// EffectiveSummaries returns the non-subsumed summaries, lowest order
// first (summaries of the same order keep their input order), forming
// the current partition of compacted history.
func EffectiveSummaries(summaries []Summary) []Summary {
	out := make([]Summary, 0, len(summaries))
	for _, s := range summaries {
		if !s.Subsumed() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// resolvesToLiveSummary follows a subsumed_by chain until it finds a
// non-subsumed summary (returns true) or hits a dangling reference
// (returns false).
func resolvesToLiveSummary(byID map[string]Summary, s Summary, depth int) bool {
	if depth > 64 {
		return false // defends against an accidental subsumption cycle
	}
	if !s.Subsumed() {
		return true
	}
	next, ok := byID[*s.SubsumedBy]
	if !ok {
		return false
	}
	return resolvesToLiveSummary(byID, next, depth+1)
}

// FindCoverageGaps checks the order-1 summaries and returns one range per
// fault found: the [start_id, end_id] of an order-1 summary whose
// subsumed_by chain never terminates in a currently non-subsumed summary,
// and, for two consecutive order-1 summaries (in the order given) whose
// ranges overlap, the span from the earlier one's end_id to the later
// one's start_id. It sees no message rows, so message ids that fall
// between two order-1 ranges without being covered by either are not
// reported. A non-empty result is a fatal invariant violation (spec.md
// §4.3, §7, §8 property 2).
func FindCoverageGaps(summaries []Summary) []Range {
	var order1 []Summary
	for _, s := range summaries {
		if s.Order == 1 {
			order1 = append(order1, s)
		}
	}
	if len(order1) == 0 {
		return nil
	}

	byID := make(map[string]Summary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}

	var gaps []Range

	// Order-1 summaries must themselves tile contiguously: each summary's
	// start_id should immediately follow the previous one's end_id. We
	// cannot know true adjacency of message ids without the message table,
	// so we only flag summaries whose resolved effective owner is missing
	// (dangling subsumption) — the overlap check below catches duplicated
	// or reordered ranges among order-1 rows themselves.
	for i, s := range order1 {
		if !resolvesToLiveSummary(byID, s, 0) {
			gaps = append(gaps, Range{StartID: s.StartID, EndID: s.EndID})
			continue
		}
		if i > 0 {
			prev := order1[i-1]
			if s.StartID < prev.EndID {
				// overlap between consecutive order-1 ranges
				gaps = append(gaps, Range{StartID: prev.EndID, EndID: s.StartID})
			}
		}
	}

	return gaps
}
