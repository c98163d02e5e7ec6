package draft

import (
	"sort"
	"strings"

	"github.com/lemonadev03/kbmd/internal/kb"
)

// PendingBatch summarizes what a commit would send: the minimal upsert list,
// the delete list, per-kind counts, and the upserts that would fail
// required-field validation.
type PendingBatch struct {
	Upserts    []kb.FaqUpsert
	Deletes    []string
	Created    int
	Updated    int
	Deleted    int
	Incomplete []string
}

// HasChanges reports whether the batch would touch anything.
func (b PendingBatch) HasChanges() bool {
	return len(b.Upserts) > 0 || len(b.Deletes) > 0
}

// CanCommit reports whether the batch may be sent: at least one upsert or
// delete, and no incomplete upserts.
func (b PendingBatch) CanCommit() bool {
	return b.HasChanges() && len(b.Incomplete) == 0
}

// ComputePendingBatch diffs drafts and tombstones against base. Drafts that
// are field-identical to their base record are skipped, tombstoned
// identifiers never appear in upserts, and deletes are restricted to
// identifiers the base collection actually contains.
func ComputePendingBatch(base map[string]kb.FAQ, drafts map[string]kb.FAQ, tombstones map[string]struct{}) PendingBatch {
	batch := PendingBatch{}

	draftIDs := make([]string, 0, len(drafts))
	for id := range drafts {
		draftIDs = append(draftIDs, id)
	}
	sort.Strings(draftIDs)

	for _, id := range draftIDs {
		if _, deleted := tombstones[id]; deleted {
			continue
		}
		record := drafts[id]
		if baseRecord, ok := base[id]; ok {
			if record.ContentEquals(baseRecord) {
				continue
			}
			batch.Updated++
		} else {
			batch.Created++
		}

		if strings.TrimSpace(record.Question) == "" || strings.TrimSpace(record.Answer) == "" {
			batch.Incomplete = append(batch.Incomplete, id)
		}

		batch.Upserts = append(batch.Upserts, kb.FaqUpsert{
			ID:        record.ID,
			SectionID: record.SectionID,
			Question:  record.Question,
			Answer:    record.Answer,
			Notes:     record.Notes,
			Order:     record.Order,
		})
	}

	deleteIDs := make([]string, 0, len(tombstones))
	for id := range tombstones {
		if _, ok := base[id]; ok {
			deleteIDs = append(deleteIDs, id)
		}
	}
	sort.Strings(deleteIDs)
	batch.Deletes = deleteIDs
	batch.Deleted = len(deleteIDs)

	return batch
}

func trimUpserts(upserts []kb.FaqUpsert) []kb.FaqUpsert {
	out := make([]kb.FaqUpsert, len(upserts))
	for i, upsert := range upserts {
		upsert.Question = strings.TrimSpace(upsert.Question)
		upsert.Answer = strings.TrimSpace(upsert.Answer)
		upsert.Notes = strings.TrimSpace(upsert.Notes)
		out[i] = upsert
	}
	return out
}
