package draft

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lemonadev03/kbmd/internal/kb"
)

var (
	// ErrMissingApplier indicates the session was constructed without a batch applier.
	ErrMissingApplier = errors.New("draft: batch applier is required")
	// ErrSaveInFlight indicates a commit is already pending; the save action
	// must not be re-entered until it resolves.
	ErrSaveInFlight = errors.New("draft: save already in flight")
	// ErrNothingToSave indicates the pending batch is empty.
	ErrNothingToSave = errors.New("draft: nothing to save")
	// ErrIncompleteDrafts indicates at least one upsert has an empty question
	// or answer after trimming.
	ErrIncompleteDrafts = errors.New("draft: incomplete drafts")
)

// BatchApplier performs the single network round trip of a commit.
type BatchApplier interface {
	ApplyFaqBatch(ctx context.Context, upserts []kb.FaqUpsert, deletes []string) (kb.BatchResult, error)
}

// ApplierFunc adapts a function to the BatchApplier interface.
type ApplierFunc func(ctx context.Context, upserts []kb.FaqUpsert, deletes []string) (kb.BatchResult, error)

// ApplyFaqBatch calls the wrapped function.
func (f ApplierFunc) ApplyFaqBatch(ctx context.Context, upserts []kb.FaqUpsert, deletes []string) (kb.BatchResult, error) {
	return f(ctx, upserts, deletes)
}

// SessionConfig describes the dependencies of an editing session.
type SessionConfig struct {
	Applier    BatchApplier
	Clock      func() time.Time
	IDProvider kb.IDProvider
	Logger     *zap.Logger
}

// Session owns the base collection, draft store, and phase-tab navigation
// state for one editing scope. Draft mutations are instantaneous in-memory
// operations; only Save suspends, and it is guarded against re-entry while a
// commit is in flight. Editing stays unblocked during an in-flight save;
// drafts accumulated meanwhile simply join the next cycle.
type Session struct {
	mu         sync.Mutex
	applier    BatchApplier
	store      *Store
	base       []kb.FAQ
	baseByID   map[string]kb.FAQ
	activeTabs map[string]string
	saving     bool
	clock      func() time.Time
	logger     *zap.Logger
}

// NewSession constructs an editing session over an empty base collection.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Applier == nil {
		return nil, ErrMissingApplier
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		applier:    cfg.Applier,
		store:      NewStore(StoreConfig{Clock: clock, IDProvider: cfg.IDProvider}),
		base:       nil,
		baseByID:   make(map[string]kb.FAQ),
		activeTabs: make(map[string]string),
		clock:      clock,
		logger:     logger,
	}, nil
}

// ReplaceBase swaps in a freshly fetched base collection wholesale. Pending
// drafts and tombstones survive a refresh.
func (s *Session) ReplaceBase(records []kb.FAQ) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBase(records)
}

func (s *Session) setBase(records []kb.FAQ) {
	s.base = make([]kb.FAQ, len(records))
	copy(s.base, records)
	s.baseByID = make(map[string]kb.FAQ, len(records))
	for _, record := range records {
		s.baseByID[record.ID] = record
	}
}

// Effective returns the materialized view the user currently sees.
func (s *Session) Effective() []kb.FAQ {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Project(s.base, s.store.drafts, s.store.tombstones)
}

// SectionFaqs returns the effective records of one section in display order.
func (s *Session) SectionFaqs(sectionID string) []kb.FAQ {
	records := FilterBySection(s.Effective(), sectionID)
	kb.SortFAQs(records)
	return records
}

// Search filters the effective collection by a free-text query.
func (s *Session) Search(query string) []kb.FAQ {
	return FilterBySearch(s.Effective(), query)
}

// CreateFAQ inserts a new draft at the end of the section and returns its
// client-generated identifier.
func (s *Session) CreateFAQ(sectionID string, fields Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextOrder := 0
	for _, record := range Project(s.base, s.store.drafts, s.store.tombstones) {
		if record.SectionID == sectionID && record.Order >= nextOrder {
			nextOrder = record.Order + 1
		}
	}
	record, err := s.store.CreateDraft(sectionID, fields, nextOrder)
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// UpdateFAQ replaces the editable text of a record, collapsing the draft when
// the result matches base.
func (s *Session) UpdateFAQ(id string, fields Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Patch(s.baseByID, id, Patch{
		Question: &fields.Question,
		Answer:   &fields.Answer,
		Notes:    &fields.Notes,
	})
}

// SetField replaces one editable field of a record.
func (s *Session) SetField(id string, field Field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.SetField(s.baseByID, id, field, value)
}

// DeleteFAQ removes a record from the effective view: draft-only records are
// discarded outright, base-known records are tombstoned for the next commit.
func (s *Session) DeleteFAQ(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.baseByID[id]; known {
		s.store.Tombstone(id)
		return
	}
	s.store.RemoveDraft(id)
}

// Reorder applies a drag-and-drop permutation within a section, assigning
// contiguous orders and collapsing drafts that land back on their base state.
func (s *Session) Reorder(sectionID string, orderedIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inSection := FilterBySection(Project(s.base, s.store.drafts, s.store.tombstones), sectionID)
	kb.SortFAQs(inSection)
	scopeIDs := make([]string, 0, len(inSection))
	for _, record := range inSection {
		scopeIDs = append(scopeIDs, record.ID)
	}

	for _, assignment := range kb.Reindex(orderedIDs, scopeIDs) {
		order := assignment.Order
		s.store.Patch(s.baseByID, assignment.ID, Patch{Order: &order})
	}
}

// PendingBatch summarizes what Save would send.
func (s *Session) PendingBatch() PendingBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputePendingBatch(s.baseByID, s.store.drafts, s.store.tombstones)
}

// CanSave reports whether Save would be accepted right now.
func (s *Session) CanSave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving {
		return false
	}
	return ComputePendingBatch(s.baseByID, s.store.drafts, s.store.tombstones).CanCommit()
}

// Discard drops every pending draft and tombstone.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Reset()
}

type snapshot struct {
	base       []kb.FAQ
	drafts     map[string]kb.FAQ
	tombstones map[string]struct{}
}

// Save commits the pending batch in one atomic round trip. On success the
// batch is folded into a new base state and the store is cleared; on failure
// every piece of client-side state is restored verbatim from the pre-attempt
// snapshot, so no work is lost and the user can retry.
func (s *Session) Save(ctx context.Context) (kb.BatchResult, error) {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return kb.BatchResult{}, ErrSaveInFlight
	}

	batch := ComputePendingBatch(s.baseByID, s.store.drafts, s.store.tombstones)
	if !batch.HasChanges() {
		s.mu.Unlock()
		return kb.BatchResult{}, ErrNothingToSave
	}
	if len(batch.Incomplete) > 0 {
		s.mu.Unlock()
		return kb.BatchResult{}, fmt.Errorf("%w: %d entries missing question or answer", ErrIncompleteDrafts, len(batch.Incomplete))
	}

	snap := snapshot{
		base:       append([]kb.FAQ(nil), s.base...),
		drafts:     s.store.Drafts(),
		tombstones: s.store.Tombstones(),
	}

	trimmed := trimUpserts(batch.Upserts)
	s.foldBatch(trimmed, batch.Deletes)
	s.store.Reset()
	s.saving = true
	s.mu.Unlock()

	result, err := s.applier.ApplyFaqBatch(ctx, trimmed, batch.Deletes)

	s.mu.Lock()
	s.saving = false
	if err != nil {
		s.setBase(snap.base)
		s.store.restore(snap.drafts, snap.tombstones)
		s.mu.Unlock()
		s.logger.Warn("faq batch commit failed, state rolled back",
			zap.Int("upserts", len(trimmed)),
			zap.Int("deletes", len(batch.Deletes)),
			zap.Error(err))
		return kb.BatchResult{}, err
	}
	s.mu.Unlock()

	s.logger.Info("faq batch committed",
		zap.Int("created", batch.Created),
		zap.Int("updated", batch.Updated),
		zap.Int("deleted", batch.Deleted))
	return result, nil
}

// foldBatch rewrites base as if the server had confirmed the batch: deleted
// identifiers removed, upserted ones replaced or appended with refreshed
// timestamps. Caller holds the lock.
func (s *Session) foldBatch(upserts []kb.FaqUpsert, deletes []string) {
	now := s.clock().UTC()
	deleted := make(map[string]struct{}, len(deletes))
	for _, id := range deletes {
		deleted[id] = struct{}{}
	}

	upserted := make(map[string]kb.FAQ, len(upserts))
	for _, upsert := range upserts {
		createdAt := now
		if baseRecord, ok := s.baseByID[upsert.ID]; ok {
			createdAt = baseRecord.CreatedAt
		} else if draftRecord, ok := s.store.drafts[upsert.ID]; ok {
			createdAt = draftRecord.CreatedAt
		}
		upserted[upsert.ID] = kb.FAQ{
			ID:        upsert.ID,
			SectionID: upsert.SectionID,
			Question:  upsert.Question,
			Answer:    upsert.Answer,
			Notes:     upsert.Notes,
			Order:     upsert.Order,
			CreatedAt: createdAt,
			UpdatedAt: now,
		}
	}

	next := make([]kb.FAQ, 0, len(s.base)+len(upserted))
	for _, record := range s.base {
		if _, gone := deleted[record.ID]; gone {
			continue
		}
		if _, replaced := upserted[record.ID]; replaced {
			continue
		}
		next = append(next, record)
	}
	newIDs := make([]string, 0, len(upserted))
	for id := range upserted {
		newIDs = append(newIDs, id)
	}
	sort.Strings(newIDs)
	for _, id := range newIDs {
		next = append(next, upserted[id])
	}
	s.setBase(next)
}

// SectionDeleted keeps the session consistent after its owner removes a
// section: the section's drafts are purged, its tombstones cleared, its base
// rows dropped, and the owning group's active tab fails over to the first
// remaining sibling, or is cleared when the group empties.
func (s *Session) SectionDeleted(section kb.Section, remainingInGroup []kb.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()

	baseIDs := make([]string, 0)
	next := make([]kb.FAQ, 0, len(s.base))
	for _, record := range s.base {
		if record.SectionID == section.ID {
			baseIDs = append(baseIDs, record.ID)
			continue
		}
		next = append(next, record)
	}
	s.store.PurgeSection(section.ID, baseIDs)
	s.setBase(next)

	if section.PhaseGroupID == nil {
		return
	}
	groupID := *section.PhaseGroupID

	siblings := append([]kb.Section(nil), remainingInGroup...)
	sort.Slice(siblings, func(i, j int) bool {
		return siblings[i].PhaseOrder < siblings[j].PhaseOrder
	})

	current, ok := s.activeTabs[groupID]
	if ok && current != section.ID {
		for _, sibling := range siblings {
			if sibling.ID == current {
				return
			}
		}
	}
	if len(siblings) == 0 {
		delete(s.activeTabs, groupID)
		return
	}
	s.activeTabs[groupID] = siblings[0].ID
}

// PhaseGroupDeleted clears the group's tab selection. FAQ state is keyed by
// section and is unaffected.
func (s *Session) PhaseGroupDeleted(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeTabs, groupID)
}

// ActiveTab returns the selected section for a phase group.
func (s *Session) ActiveTab(groupID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sectionID, ok := s.activeTabs[groupID]
	return sectionID, ok
}

// SetActiveTab records the selected section for a phase group.
func (s *Session) SetActiveTab(groupID, sectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTabs[groupID] = sectionID
}
