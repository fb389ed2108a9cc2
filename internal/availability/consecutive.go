package availability

import (
	"sort"
	"time"
)

// FindConsecutive groups slots into runs where each slot starts when the
// previous one ends.
func FindConsecutive(slots []Slot) [][]Slot {
	if len(slots) == 0 {
		return nil
	}

	sorted := append([]Slot(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var groups [][]Slot
	current := []Slot{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start.Equal(current[len(current)-1].End) {
			current = append(current, sorted[i])
			continue
		}
		groups = append(groups, current)
		current = []Slot{sorted[i]}
	}
	return append(groups, current)
}

// CanBookConsecutive checks if count back-to-back slots starting at start are
// all present.
func CanBookConsecutive(slots []Slot, start time.Time, count int) bool {
	return count > 0 && runLength(slots, start) >= count
}

// DurationOptions lists the bookable lengths in minutes starting at start,
// one option per additional back-to-back slot.
func DurationOptions(slots []Slot, start time.Time) []int {
	n := runLength(slots, start)
	if n == 0 {
		return nil
	}
	byStart := indexByStart(slots)
	options := make([]int, 0, n)
	total := 0
	cursor := start
	for i := 0; i < n; i++ {
		s := byStart[cursor.Unix()]
		total += s.DurationMinutes()
		options = append(options, total)
		cursor = s.End
	}
	return options
}

func runLength(slots []Slot, start time.Time) int {
	byStart := indexByStart(slots)
	n := 0
	cursor := start
	for {
		s, ok := byStart[cursor.Unix()]
		if !ok || !s.End.After(cursor) {
			return n
		}
		n++
		cursor = s.End
	}
}

func indexByStart(slots []Slot) map[int64]Slot {
	m := make(map[int64]Slot, len(slots))
	for _, s := range slots {
		m[s.Start.Unix()] = s
	}
	return m
}
