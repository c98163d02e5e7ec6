package kb

import "sort"

// Compare imposes a strict total order over FAQ records within a section:
// Order ascending, then CreatedAt ascending (the zero time sorts earliest),
// then ID lexicographic ascending. Having no ties keeps reorder diffing and
// display deterministic.
func Compare(a, b FAQ) int {
	if a.Order != b.Order {
		if a.Order < b.Order {
			return -1
		}
		return 1
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// SortFAQs sorts records in place using Compare.
func SortFAQs(records []FAQ) {
	sort.Slice(records, func(i, j int) bool {
		return Compare(records[i], records[j]) < 0
	})
}

// OrderAssignment maps one identifier to its new contiguous order value.
type OrderAssignment struct {
	ID    string
	Order int
}

// Reindex maps a user-supplied permutation to contiguous order integers.
// orderedIDs is the permutation as supplied (for example from a drag-and-drop
// payload); scopeIDs is the authoritative set of identifiers that must end up
// with an order assigned, in their current relative order. Identifiers in
// orderedIDs that are no longer in scope are dropped, and scope identifiers
// missing from the permutation are appended after it in their original
// relative order. This tolerates stale or partial payloads, such as an
// identifier deleted mid-drag.
func Reindex(orderedIDs []string, scopeIDs []string) []OrderAssignment {
	inScope := make(map[string]struct{}, len(scopeIDs))
	for _, id := range scopeIDs {
		inScope[id] = struct{}{}
	}

	assigned := make(map[string]struct{}, len(scopeIDs))
	finalIDs := make([]string, 0, len(scopeIDs))
	for _, id := range orderedIDs {
		if _, ok := inScope[id]; !ok {
			continue
		}
		if _, seen := assigned[id]; seen {
			continue
		}
		assigned[id] = struct{}{}
		finalIDs = append(finalIDs, id)
	}
	for _, id := range scopeIDs {
		if _, seen := assigned[id]; seen {
			continue
		}
		assigned[id] = struct{}{}
		finalIDs = append(finalIDs, id)
	}

	assignments := make([]OrderAssignment, 0, len(finalIDs))
	for index, id := range finalIDs {
		assignments = append(assignments, OrderAssignment{ID: id, Order: index})
	}
	return assignments
}
