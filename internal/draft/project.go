package draft

import (
	"sort"
	"strings"

	"github.com/lemonadev03/kbmd/internal/kb"
)

// Project materializes the effective collection: every base record not
// tombstoned, overridden by its draft when one exists, followed by draft-only
// records. Pure function of its inputs; identical inputs yield identical
// output, so it is safe to call on every render.
func Project(base []kb.FAQ, drafts map[string]kb.FAQ, tombstones map[string]struct{}) []kb.FAQ {
	out := make([]kb.FAQ, 0, len(base)+len(drafts))
	seen := make(map[string]struct{}, len(base))

	for _, record := range base {
		if _, deleted := tombstones[record.ID]; deleted {
			continue
		}
		if override, ok := drafts[record.ID]; ok {
			out = append(out, override)
		} else {
			out = append(out, record)
		}
		seen[record.ID] = struct{}{}
	}

	newIDs := make([]string, 0, len(drafts))
	for id := range drafts {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, deleted := tombstones[id]; deleted {
			continue
		}
		newIDs = append(newIDs, id)
	}
	sort.Strings(newIDs)
	for _, id := range newIDs {
		out = append(out, drafts[id])
	}

	return out
}

// FilterBySection keeps records owned by the given section.
func FilterBySection(records []kb.FAQ, sectionID string) []kb.FAQ {
	out := make([]kb.FAQ, 0, len(records))
	for _, record := range records {
		if record.SectionID == sectionID {
			out = append(out, record)
		}
	}
	return out
}

// FilterBySearch keeps records whose question, answer, or notes contain the
// query, case-insensitively. A blank query means no filtering: the full
// collection comes back, distinct from a query with zero matches.
func FilterBySearch(records []kb.FAQ, query string) []kb.FAQ {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return records
	}
	out := make([]kb.FAQ, 0, len(records))
	for _, record := range records {
		if strings.Contains(strings.ToLower(record.Question), needle) ||
			strings.Contains(strings.ToLower(record.Answer), needle) ||
			strings.Contains(strings.ToLower(record.Notes), needle) {
			out = append(out, record)
		}
	}
	return out
}
