// Package draft implements the client-side optimistic edit buffer for FAQ
// records: a sparse draft map plus a tombstone set layered over a committed
// base collection, reconciled against the server in a single atomic batch.
package draft

import (
	"time"

	"github.com/lemonadev03/kbmd/internal/kb"
)

// Field enumerates the editable text fields of a FAQ record. Using a closed
// enum instead of a free-form field name makes invalid-field states
// unrepresentable.
type Field int

const (
	// FieldQuestion targets the question text.
	FieldQuestion Field = iota
	// FieldAnswer targets the answer text.
	FieldAnswer
	// FieldNotes targets the notes text.
	FieldNotes
)

// Fields carries the editable text of a new FAQ draft.
type Fields struct {
	Question string
	Answer   string
	Notes    string
}

// Patch describes a partial modification to an existing record. Nil members
// leave the current value untouched.
type Patch struct {
	SectionID *string
	Question  *string
	Answer    *string
	Notes     *string
	Order     *int
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Clock      func() time.Time
	IDProvider kb.IDProvider
}

// Store owns the draft map and tombstone set for one editing session. All
// operations are synchronous in-memory mutations and cannot fail; validation
// is deferred to batch reconciliation.
type Store struct {
	drafts     map[string]kb.FAQ
	tombstones map[string]struct{}
	clock      func() time.Time
	ids        kb.IDProvider
}

// NewStore constructs an empty draft store.
func NewStore(cfg StoreConfig) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = kb.NewUUIDProvider()
	}
	return &Store{
		drafts:     make(map[string]kb.FAQ),
		tombstones: make(map[string]struct{}),
		clock:      clock,
		ids:        ids,
	}
}

// CreateDraft inserts a full draft record with a generated identifier at the
// given position. Empty question or answer is permitted transiently while the
// user is still typing.
func (s *Store) CreateDraft(sectionID string, fields Fields, order int) (kb.FAQ, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return kb.FAQ{}, err
	}
	now := s.clock().UTC()
	record := kb.FAQ{
		ID:        id,
		SectionID: sectionID,
		Question:  fields.Question,
		Answer:    fields.Answer,
		Notes:     fields.Notes,
		Order:     order,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.drafts[id] = record
	return record, nil
}

// Patch merges partial fields into the draft for id, seeding from the base
// record when no draft exists yet. When the merged result is field-for-field
// identical to its base record the draft entry is removed entirely, so the
// pending batch stays minimal. Returns true when a draft entry remains after
// the call.
func (s *Store) Patch(base map[string]kb.FAQ, id string, patch Patch) bool {
	current, ok := s.drafts[id]
	if !ok {
		current, ok = base[id]
		if !ok {
			return false
		}
	}

	if patch.SectionID != nil {
		current.SectionID = *patch.SectionID
	}
	if patch.Question != nil {
		current.Question = *patch.Question
	}
	if patch.Answer != nil {
		current.Answer = *patch.Answer
	}
	if patch.Notes != nil {
		current.Notes = *patch.Notes
	}
	if patch.Order != nil {
		current.Order = *patch.Order
	}

	if baseRecord, hasBase := base[id]; hasBase && current.ContentEquals(baseRecord) {
		delete(s.drafts, id)
		return false
	}

	current.UpdatedAt = s.clock().UTC()
	s.drafts[id] = current
	return true
}

// SetField replaces one editable text field through Patch.
func (s *Store) SetField(base map[string]kb.FAQ, id string, field Field, value string) bool {
	patch := Patch{}
	switch field {
	case FieldQuestion:
		patch.Question = &value
	case FieldAnswer:
		patch.Answer = &value
	case FieldNotes:
		patch.Notes = &value
	}
	return s.Patch(base, id, patch)
}

// RemoveDraft discards a draft without touching base or tombstone state. Used
// when a never-committed record is deleted or a single edit is reverted.
func (s *Store) RemoveDraft(id string) {
	delete(s.drafts, id)
}

// Tombstone marks a base-known identifier for deletion and drops any draft
// for it. Callers must not tombstone draft-only identifiers; those are
// discarded with RemoveDraft since there is nothing server-side to delete.
func (s *Store) Tombstone(id string) {
	delete(s.drafts, id)
	s.tombstones[id] = struct{}{}
}

// Reset clears all drafts and tombstones.
func (s *Store) Reset() {
	s.drafts = make(map[string]kb.FAQ)
	s.tombstones = make(map[string]struct{})
}

// PurgeSection drops every draft belonging to the section and clears
// tombstones for the section's base records. Deleting the parent section
// cascades server-side, so a lingering tombstone would reference an
// identifier the server has already removed.
func (s *Store) PurgeSection(sectionID string, baseIDsInSection []string) {
	for id, record := range s.drafts {
		if record.SectionID == sectionID {
			delete(s.drafts, id)
			delete(s.tombstones, id)
		}
	}
	for _, id := range baseIDsInSection {
		delete(s.tombstones, id)
	}
}

// Draft returns the pending record for id, if any.
func (s *Store) Draft(id string) (kb.FAQ, bool) {
	record, ok := s.drafts[id]
	return record, ok
}

// IsTombstoned reports whether id is marked for deletion.
func (s *Store) IsTombstoned(id string) bool {
	_, ok := s.tombstones[id]
	return ok
}

// Drafts returns a copy of the draft map.
func (s *Store) Drafts() map[string]kb.FAQ {
	out := make(map[string]kb.FAQ, len(s.drafts))
	for id, record := range s.drafts {
		out[id] = record
	}
	return out
}

// Tombstones returns a copy of the tombstone set.
func (s *Store) Tombstones() map[string]struct{} {
	out := make(map[string]struct{}, len(s.tombstones))
	for id := range s.tombstones {
		out[id] = struct{}{}
	}
	return out
}

// Empty reports whether the store holds no pending state.
func (s *Store) Empty() bool {
	return len(s.drafts) == 0 && len(s.tombstones) == 0
}

func (s *Store) restore(drafts map[string]kb.FAQ, tombstones map[string]struct{}) {
	s.drafts = drafts
	s.tombstones = tombstones
}
