package recommend

import (
	"strings"

	"github.com/treadline-ai/treadline/internal/catalog"
	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/normalize"
)

// Backfill repairs a parsed slot sequence against the ranked candidate
// list. Slots keep their position when they hold a well-formed, not yet
// seen product ID; every other slot is refilled with the next unused
// candidate ID in warehouse order, or the placeholder once the pool runs
// dry. The returned flag is true when all four hotboxes ended up with
// valid IDs. Running Backfill on its own output changes nothing.
func Backfill(slots []string, rows []catalog.CandidateRow) ([]string, bool) {
	final := make([]string, domain.SlotCount)
	seen := make(map[string]bool, domain.SlotCount)

	for i := range final {
		var s string
		if i < len(slots) {
			s = strings.TrimSpace(slots[i])
		}
		if normalize.IsProductID(s) && !seen[s] {
			final[i] = s
			seen[s] = true
		}
	}

	pool := make([]string, 0, len(rows))
	for _, row := range rows {
		if normalize.IsProductID(row.ProductID) {
			pool = append(pool, row.ProductID)
		}
	}

	next := 0
	for i, s := range final {
		if s != "" {
			continue
		}
		final[i] = domain.Placeholder
		for next < len(pool) {
			c := pool[next]
			next++
			if !seen[c] {
				final[i] = c
				seen[c] = true
				break
			}
		}
	}

	for _, hb := range final[:domain.HotboxCount] {
		if !normalize.IsProductID(hb) {
			return final, false
		}
	}
	return final, true
}
