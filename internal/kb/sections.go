package kb

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListSections           = "kb.sections.list"
	opCreateSection          = "kb.sections.create"
	opRenameSection          = "kb.sections.rename"
	opDeleteSection          = "kb.sections.delete"
	opReorderSections        = "kb.sections.reorder"
	opAssignSectionGroup     = "kb.sections.assign_group"
	opDetachSectionGroup     = "kb.sections.detach_group"
	opReorderSectionsInGroup = "kb.sections.reorder_in_group"
)

// ListSections returns the organization's sections in display order.
func (s *Service) ListSections(ctx context.Context, orgID string) ([]Section, error) {
	var sections []Section
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("display_order ASC").
		Find(&sections).Error; err != nil {
		s.logError(opListSections, "query_failed", err, zap.String("org_id", orgID))
		return nil, newServiceError(opListSections, "query_failed", err)
	}
	return sections, nil
}

// CreateSection appends a standalone section at the end of the display order.
func (s *Service) CreateSection(ctx context.Context, orgID, name string) (Section, error) {
	return s.createSection(ctx, orgID, name, nil)
}

// CreateSectionInGroup appends a section as the last phase of the given group.
func (s *Service) CreateSectionInGroup(ctx context.Context, orgID, groupID, name string) (Section, error) {
	return s.createSection(ctx, orgID, name, &groupID)
}

func (s *Service) createSection(ctx context.Context, orgID, name string, groupID *string) (Section, error) {
	trimmedName, err := NormalizeName(name)
	if err != nil {
		return Section{}, newServiceError(opCreateSection, "invalid_name", err)
	}

	id, err := s.newID(opCreateSection)
	if err != nil {
		return Section{}, err
	}

	section := Section{
		ID:        id,
		OrgID:     orgID,
		Name:      trimmedName,
		CreatedAt: s.now(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&Section{}).Where("org_id = ?", orgID).Count(&total).Error; err != nil {
			return newServiceError(opCreateSection, "count_failed", err)
		}
		section.Order = int(total)

		if groupID != nil {
			if err := s.requirePhaseGroup(tx, orgID, *groupID); err != nil {
				return err
			}
			section.PhaseGroupID = groupID
			maxPhase := -1
			var phases []int
			if err := tx.Model(&Section{}).
				Where("org_id = ? AND phase_group_id = ?", orgID, *groupID).
				Pluck("phase_order", &phases).Error; err != nil {
				return newServiceError(opCreateSection, "phase_query_failed", err)
			}
			for _, phase := range phases {
				if phase > maxPhase {
					maxPhase = phase
				}
			}
			section.PhaseOrder = maxPhase + 1
		}

		if err := tx.Create(&section).Error; err != nil {
			return newServiceError(opCreateSection, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateSection, "transaction_failed", txErr, zap.String("org_id", orgID))
		return Section{}, txErr
	}
	return section, nil
}

// RenameSection updates a section's display name.
func (s *Service) RenameSection(ctx context.Context, orgID, sectionID, name string) (Section, error) {
	trimmedName, err := NormalizeName(name)
	if err != nil {
		return Section{}, newServiceError(opRenameSection, "invalid_name", err)
	}

	result := s.db.WithContext(ctx).Model(&Section{}).
		Where("id = ? AND org_id = ?", sectionID, orgID).
		Update("name", trimmedName)
	if result.Error != nil {
		s.logError(opRenameSection, "update_failed", result.Error, zap.String("section_id", sectionID))
		return Section{}, newServiceError(opRenameSection, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Section{}, newServiceError(opRenameSection, "not_found", ErrNotFound)
	}
	return s.getSection(ctx, orgID, sectionID, opRenameSection)
}

// DeleteSection removes a section and all FAQs it owns.
func (s *Service) DeleteSection(ctx context.Context, orgID, sectionID string) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND org_id = ?", sectionID, orgID).Delete(&Section{})
		if result.Error != nil {
			return newServiceError(opDeleteSection, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteSection, "not_found", ErrNotFound)
		}
		if err := tx.Where("section_id = ? AND org_id = ?", sectionID, orgID).Delete(&FAQ{}).Error; err != nil {
			return newServiceError(opDeleteSection, "cascade_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteSection, "transaction_failed", txErr, zap.String("section_id", sectionID))
	}
	return txErr
}

// ReorderSections assigns contiguous display orders from the supplied
// permutation. Sections missing from the permutation keep their relative order
// after the permuted ones.
func (s *Service) ReorderSections(ctx context.Context, orgID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return nil
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scopeIDs []string
		if err := tx.Model(&Section{}).
			Where("org_id = ?", orgID).
			Order("display_order ASC").
			Pluck("id", &scopeIDs).Error; err != nil {
			return newServiceError(opReorderSections, "query_failed", err)
		}
		for _, assignment := range Reindex(orderedIDs, scopeIDs) {
			if err := tx.Model(&Section{}).
				Where("id = ? AND org_id = ?", assignment.ID, orgID).
				Update("display_order", assignment.Order).Error; err != nil {
				return newServiceError(opReorderSections, "update_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReorderSections, "transaction_failed", txErr, zap.String("org_id", orgID))
	}
	return txErr
}

// AssignSectionToGroup moves a section into a phase group as its last phase.
func (s *Service) AssignSectionToGroup(ctx context.Context, orgID, sectionID, groupID string) (Section, error) {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requirePhaseGroup(tx, orgID, groupID); err != nil {
			return err
		}
		var phases []int
		if err := tx.Model(&Section{}).
			Where("org_id = ? AND phase_group_id = ?", orgID, groupID).
			Pluck("phase_order", &phases).Error; err != nil {
			return newServiceError(opAssignSectionGroup, "phase_query_failed", err)
		}
		maxPhase := -1
		for _, phase := range phases {
			if phase > maxPhase {
				maxPhase = phase
			}
		}
		result := tx.Model(&Section{}).
			Where("id = ? AND org_id = ?", sectionID, orgID).
			Updates(map[string]interface{}{
				"phase_group_id": groupID,
				"phase_order":    maxPhase + 1,
			})
		if result.Error != nil {
			return newServiceError(opAssignSectionGroup, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opAssignSectionGroup, "not_found", ErrInvalidSection)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opAssignSectionGroup, "transaction_failed", txErr, zap.String("section_id", sectionID))
		return Section{}, txErr
	}
	return s.getSection(ctx, orgID, sectionID, opAssignSectionGroup)
}

// DetachSectionFromGroup makes a grouped section standalone again.
func (s *Service) DetachSectionFromGroup(ctx context.Context, orgID, sectionID string) (Section, error) {
	result := s.db.WithContext(ctx).Model(&Section{}).
		Where("id = ? AND org_id = ?", sectionID, orgID).
		Updates(map[string]interface{}{
			"phase_group_id": nil,
			"phase_order":    0,
		})
	if result.Error != nil {
		s.logError(opDetachSectionGroup, "update_failed", result.Error, zap.String("section_id", sectionID))
		return Section{}, newServiceError(opDetachSectionGroup, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Section{}, newServiceError(opDetachSectionGroup, "not_found", ErrNotFound)
	}
	return s.getSection(ctx, orgID, sectionID, opDetachSectionGroup)
}

// ReorderSectionsInGroup assigns contiguous phase orders within one group.
func (s *Service) ReorderSectionsInGroup(ctx context.Context, orgID, groupID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return nil
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scopeIDs []string
		if err := tx.Model(&Section{}).
			Where("org_id = ? AND phase_group_id = ?", orgID, groupID).
			Order("phase_order ASC").
			Pluck("id", &scopeIDs).Error; err != nil {
			return newServiceError(opReorderSectionsInGroup, "query_failed", err)
		}
		for _, assignment := range Reindex(orderedIDs, scopeIDs) {
			if err := tx.Model(&Section{}).
				Where("id = ? AND org_id = ? AND phase_group_id = ?", assignment.ID, orgID, groupID).
				Update("phase_order", assignment.Order).Error; err != nil {
				return newServiceError(opReorderSectionsInGroup, "update_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReorderSectionsInGroup, "transaction_failed", txErr, zap.String("group_id", groupID))
	}
	return txErr
}

func (s *Service) getSection(ctx context.Context, orgID, sectionID, operation string) (Section, error) {
	var section Section
	err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", sectionID, orgID).
		Take(&section).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Section{}, newServiceError(operation, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("section_id", sectionID))
		return Section{}, newServiceError(operation, "query_failed", err)
	}
	return section, nil
}

func (s *Service) requirePhaseGroup(tx *gorm.DB, orgID, groupID string) error {
	var count int64
	if err := tx.Model(&PhaseGroup{}).
		Where("id = ? AND org_id = ?", groupID, orgID).
		Count(&count).Error; err != nil {
		return newServiceError(opAssignSectionGroup, "group_query_failed", err)
	}
	if count == 0 {
		return newServiceError(opAssignSectionGroup, "invalid_group", ErrInvalidPhaseGroup)
	}
	return nil
}
