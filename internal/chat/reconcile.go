package chat

import (
	"slices"

	"streamchat/internal/domain"
)

const (
	// DefaultLimit is the default size bound of a message window
	DefaultLimit = 100
	// MaxLimit is the largest accepted window size
	MaxLimit = 1000
)

// Reconcile merges incoming into prev: duplicates by (timestamp, sender,
// content) keep their first occurrence, the result is stably sorted by
// timestamp and only the newest limit records are kept. prev and incoming
// are not modified.
func Reconcile(prev, incoming []domain.MessageRecord, limit int) []domain.MessageRecord {
	if limit <= 0 {
		limit = DefaultLimit
	}

	seen := make(map[domain.MessageKey]struct{}, len(prev)+len(incoming))
	merged := make([]domain.MessageRecord, 0, len(prev)+len(incoming))

	for _, batch := range [][]domain.MessageRecord{prev, incoming} {
		for _, m := range batch {
			key := m.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, m)
		}
	}

	slices.SortStableFunc(merged, func(a, b domain.MessageRecord) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})

	if len(merged) > limit {
		merged = slices.Clone(merged[len(merged)-limit:])
	}
	return merged
}
