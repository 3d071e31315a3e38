package api

import (
	"sort"
	"time"
)

// SortQueueItemsNewestFirst returns a copy of items ordered by creation time
// descending. Ties fall back to ID so output stays stable across refreshes.
func SortQueueItemsNewestFirst(items []QueueItem) []QueueItem {
	sorted := make([]QueueItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		left, leftOK := parseQueueTime(sorted[i].CreatedAt)
		right, rightOK := parseQueueTime(sorted[j].CreatedAt)
		switch {
		case leftOK && rightOK && !left.Equal(right):
			return left.After(right)
		case leftOK != rightOK:
			return leftOK
		default:
			return sorted[i].ID > sorted[j].ID
		}
	})
	return sorted
}

// ParseQueueTime parses a timestamp rendered by FormatTime.
func ParseQueueTime(value string) (time.Time, bool) {
	return parseQueueTime(value)
}

func parseQueueTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, true
	}
	return time.Time{}, false
}
