package domain

import "sort"

// NewestFirst orders attempts for history and leaderboards: completed attempts
// before in-progress ones, completed by completion time descending, then by start
// time descending, then by id descending.
func NewestFirst(a, b AttemptRecord) bool {
	switch {
	case a.CompletedAt != nil && b.CompletedAt == nil:
		return true
	case a.CompletedAt == nil && b.CompletedAt != nil:
		return false
	case a.CompletedAt != nil && !a.CompletedAt.Equal(*b.CompletedAt):
		return a.CompletedAt.After(*b.CompletedAt)
	}
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return a.ID > b.ID
}

// SortNewestFirst sorts records in place using NewestFirst.
func SortNewestFirst(records []AttemptRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return NewestFirst(records[i], records[j])
	})
}
