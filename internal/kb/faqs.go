package kb

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opListFaqs      = "kb.faqs.list"
	opApplyFaqBatch = "kb.faqs.apply_batch"
)

// ListFaqs returns the organization's FAQs ordered by section, position, and age.
func (s *Service) ListFaqs(ctx context.Context, orgID string) ([]FAQ, error) {
	var faqs []FAQ
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("section_id ASC, display_order ASC, created_at ASC").
		Find(&faqs).Error; err != nil {
		s.logError(opListFaqs, "query_failed", err, zap.String("org_id", orgID))
		return nil, newServiceError(opListFaqs, "query_failed", err)
	}
	return faqs, nil
}

// ListFaqsBySection returns one section's FAQs in display order.
func (s *Service) ListFaqsBySection(ctx context.Context, orgID, sectionID string) ([]FAQ, error) {
	var faqs []FAQ
	if err := s.db.WithContext(ctx).
		Where("org_id = ? AND section_id = ?", orgID, sectionID).
		Order("display_order ASC, created_at ASC").
		Find(&faqs).Error; err != nil {
		s.logError(opListFaqs, "query_failed", err, zap.String("section_id", sectionID))
		return nil, newServiceError(opListFaqs, "query_failed", err)
	}
	return faqs, nil
}

// ApplyFaqBatch applies one reconciled edit batch atomically: every upsert is
// insert-or-overwrite keyed by id, deletes are removed, and the whole batch is
// rejected when any referenced section does not belong to the organization.
func (s *Service) ApplyFaqBatch(ctx context.Context, orgID string, upserts []FaqUpsert, deletes []string) (BatchResult, error) {
	if len(upserts) == 0 && len(deletes) == 0 {
		return BatchResult{}, nil
	}

	appliedAt := s.now()
	result := BatchResult{}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(upserts) > 0 {
			sectionIDs := distinctSectionIDs(upserts)
			var valid int64
			if err := tx.Model(&Section{}).
				Where("org_id = ? AND id IN ?", orgID, sectionIDs).
				Count(&valid).Error; err != nil {
				return newServiceError(opApplyFaqBatch, "section_query_failed", err)
			}
			if valid != int64(len(sectionIDs)) {
				return newServiceError(opApplyFaqBatch, "invalid_section", ErrInvalidSection)
			}

			upsertIDs := make([]string, 0, len(upserts))
			for _, upsert := range upserts {
				upsertIDs = append(upsertIDs, upsert.ID)
			}
			var foreign int64
			if err := tx.Model(&FAQ{}).
				Where("id IN ? AND org_id <> ?", upsertIDs, orgID).
				Count(&foreign).Error; err != nil {
				return newServiceError(opApplyFaqBatch, "ownership_query_failed", err)
			}
			if foreign > 0 {
				return newServiceError(opApplyFaqBatch, "foreign_identifier", ErrNotFound)
			}

			rows := make([]FAQ, 0, len(upserts))
			for _, upsert := range upserts {
				rows = append(rows, FAQ{
					ID:        upsert.ID,
					OrgID:     orgID,
					SectionID: upsert.SectionID,
					Question:  upsert.Question,
					Answer:    upsert.Answer,
					Notes:     upsert.Notes,
					Order:     upsert.Order,
					CreatedAt: appliedAt,
					UpdatedAt: appliedAt,
				})
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"section_id", "question", "answer", "notes", "display_order", "updated_at",
				}),
			}).Create(&rows).Error; err != nil {
				return newServiceError(opApplyFaqBatch, "upsert_failed", err)
			}
			result.Upserted = len(rows)
		}

		if len(deletes) > 0 {
			deleted := tx.Where("org_id = ? AND id IN ?", orgID, deletes).Delete(&FAQ{})
			if deleted.Error != nil {
				return newServiceError(opApplyFaqBatch, "delete_failed", deleted.Error)
			}
			result.Deleted = int(deleted.RowsAffected)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opApplyFaqBatch, "transaction_failed", txErr,
			zap.String("org_id", orgID),
			zap.Int("upserts", len(upserts)),
			zap.Int("deletes", len(deletes)))
		return BatchResult{}, txErr
	}
	return result, nil
}

func distinctSectionIDs(upserts []FaqUpsert) []string {
	seen := make(map[string]struct{}, len(upserts))
	ids := make([]string, 0, len(upserts))
	for _, upsert := range upserts {
		if _, ok := seen[upsert.SectionID]; ok {
			continue
		}
		seen[upsert.SectionID] = struct{}{}
		ids = append(ids, upsert.SectionID)
	}
	return ids
}
