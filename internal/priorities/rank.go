package priorities

import "sort"

// sortRanked orders active priorities for presentation: score descending,
// then manual order ascending with unset orders last, then creation time
// ascending, then id so equal records always land in the same slots.
func sortRanked(records []Priority) {
	sort.SliceStable(records, func(i, j int) bool {
		left, right := records[i], records[j]
		if left.Score != right.Score {
			return left.Score > right.Score
		}
		switch {
		case left.ManualOrder != nil && right.ManualOrder != nil:
			if *left.ManualOrder != *right.ManualOrder {
				return *left.ManualOrder < *right.ManualOrder
			}
		case left.ManualOrder != nil:
			return true
		case right.ManualOrder != nil:
			return false
		}
		if left.CreatedAtSeconds != right.CreatedAtSeconds {
			return left.CreatedAtSeconds < right.CreatedAtSeconds
		}
		return left.ID < right.ID
	})
}
