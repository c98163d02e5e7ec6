package kb

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListPhaseGroups    = "kb.phase_groups.list"
	opCreatePhaseGroup   = "kb.phase_groups.create"
	opRenamePhaseGroup   = "kb.phase_groups.rename"
	opDeletePhaseGroup   = "kb.phase_groups.delete"
	opReorderPhaseGroups = "kb.phase_groups.reorder"
)

// ListPhaseGroups returns the organization's phase groups in display order.
func (s *Service) ListPhaseGroups(ctx context.Context, orgID string) ([]PhaseGroup, error) {
	var groups []PhaseGroup
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("display_order ASC").
		Find(&groups).Error; err != nil {
		s.logError(opListPhaseGroups, "query_failed", err, zap.String("org_id", orgID))
		return nil, newServiceError(opListPhaseGroups, "query_failed", err)
	}
	return groups, nil
}

// CreatePhaseGroup appends a phase group at the end of the display order.
func (s *Service) CreatePhaseGroup(ctx context.Context, orgID, name string) (PhaseGroup, error) {
	trimmedName, err := NormalizeName(name)
	if err != nil {
		return PhaseGroup{}, newServiceError(opCreatePhaseGroup, "invalid_name", err)
	}

	id, err := s.newID(opCreatePhaseGroup)
	if err != nil {
		return PhaseGroup{}, err
	}

	group := PhaseGroup{
		ID:        id,
		OrgID:     orgID,
		Name:      trimmedName,
		CreatedAt: s.now(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&PhaseGroup{}).Where("org_id = ?", orgID).Count(&total).Error; err != nil {
			return newServiceError(opCreatePhaseGroup, "count_failed", err)
		}
		group.Order = int(total)
		if err := tx.Create(&group).Error; err != nil {
			return newServiceError(opCreatePhaseGroup, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreatePhaseGroup, "transaction_failed", txErr, zap.String("org_id", orgID))
		return PhaseGroup{}, txErr
	}
	return group, nil
}

// RenamePhaseGroup updates a phase group's display name.
func (s *Service) RenamePhaseGroup(ctx context.Context, orgID, groupID, name string) (PhaseGroup, error) {
	trimmedName, err := NormalizeName(name)
	if err != nil {
		return PhaseGroup{}, newServiceError(opRenamePhaseGroup, "invalid_name", err)
	}

	result := s.db.WithContext(ctx).Model(&PhaseGroup{}).
		Where("id = ? AND org_id = ?", groupID, orgID).
		Update("name", trimmedName)
	if result.Error != nil {
		s.logError(opRenamePhaseGroup, "update_failed", result.Error, zap.String("group_id", groupID))
		return PhaseGroup{}, newServiceError(opRenamePhaseGroup, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return PhaseGroup{}, newServiceError(opRenamePhaseGroup, "not_found", ErrNotFound)
	}

	var group PhaseGroup
	if err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", groupID, orgID).
		Take(&group).Error; err != nil {
		return PhaseGroup{}, newServiceError(opRenamePhaseGroup, "query_failed", err)
	}
	return group, nil
}

// DeletePhaseGroup removes a phase group. Member sections become standalone;
// their FAQs are untouched because FAQ ownership is keyed by section.
func (s *Service) DeletePhaseGroup(ctx context.Context, orgID, groupID string) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND org_id = ?", groupID, orgID).Delete(&PhaseGroup{})
		if result.Error != nil {
			return newServiceError(opDeletePhaseGroup, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeletePhaseGroup, "not_found", ErrNotFound)
		}
		if err := tx.Model(&Section{}).
			Where("org_id = ? AND phase_group_id = ?", orgID, groupID).
			Updates(map[string]interface{}{
				"phase_group_id": nil,
				"phase_order":    0,
			}).Error; err != nil {
			return newServiceError(opDeletePhaseGroup, "detach_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeletePhaseGroup, "transaction_failed", txErr, zap.String("group_id", groupID))
	}
	return txErr
}

// ReorderPhaseGroups assigns contiguous display orders from the supplied
// permutation, appending any groups the permutation missed.
func (s *Service) ReorderPhaseGroups(ctx context.Context, orgID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return nil
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scopeIDs []string
		if err := tx.Model(&PhaseGroup{}).
			Where("org_id = ?", orgID).
			Order("display_order ASC").
			Pluck("id", &scopeIDs).Error; err != nil {
			return newServiceError(opReorderPhaseGroups, "query_failed", err)
		}
		for _, assignment := range Reindex(orderedIDs, scopeIDs) {
			if err := tx.Model(&PhaseGroup{}).
				Where("id = ? AND org_id = ?", assignment.ID, orgID).
				Update("display_order", assignment.Order).Error; err != nil {
				return newServiceError(opReorderPhaseGroups, "update_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReorderPhaseGroups, "transaction_failed", txErr, zap.String("org_id", orgID))
	}
	return txErr
}
