package kb

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opGetCustomRules     = "kb.custom_rules.get"
	opSaveCustomRules    = "kb.custom_rules.save"
	opCustomRulesHistory = "kb.custom_rules.history"
	opRestoreCustomRules = "kb.custom_rules.restore"
)

// GetCustomRules returns the organization's rules document, or an empty one
// when nothing has been saved yet.
func (s *Service) GetCustomRules(ctx context.Context, orgID string) (CustomRules, error) {
	var rules CustomRules
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Take(&rules).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CustomRules{OrgID: orgID}, nil
	}
	if err != nil {
		s.logError(opGetCustomRules, "query_failed", err, zap.String("org_id", orgID))
		return CustomRules{}, newServiceError(opGetCustomRules, "query_failed", err)
	}
	return rules, nil
}

// SaveCustomRules replaces the rules document, snapshotting the prior content
// into history first so it can be restored later.
func (s *Service) SaveCustomRules(ctx context.Context, orgID, content, authorID string) (CustomRules, error) {
	savedAt := s.now()
	var saved CustomRules

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing CustomRules
		err := tx.Where("org_id = ?", orgID).Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opSaveCustomRules, "query_failed", err)
		}

		if err == nil && existing.Content != "" {
			versionID, idErr := s.newID(opSaveCustomRules)
			if idErr != nil {
				return idErr
			}
			version := CustomRulesVersion{
				ID:        versionID,
				OrgID:     orgID,
				Content:   existing.Content,
				CreatedBy: authorID,
				CreatedAt: savedAt,
			}
			if err := tx.Create(&version).Error; err != nil {
				return newServiceError(opSaveCustomRules, "history_insert_failed", err)
			}
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			id, idErr := s.newID(opSaveCustomRules)
			if idErr != nil {
				return idErr
			}
			saved = CustomRules{
				ID:        id,
				OrgID:     orgID,
				Content:   content,
				CreatedAt: savedAt,
				UpdatedAt: savedAt,
			}
			if err := tx.Create(&saved).Error; err != nil {
				return newServiceError(opSaveCustomRules, "insert_failed", err)
			}
			return nil
		}

		existing.Content = content
		existing.UpdatedAt = savedAt
		if err := tx.Save(&existing).Error; err != nil {
			return newServiceError(opSaveCustomRules, "update_failed", err)
		}
		saved = existing
		return nil
	})
	if txErr != nil {
		s.logError(opSaveCustomRules, "transaction_failed", txErr, zap.String("org_id", orgID))
		return CustomRules{}, txErr
	}
	return saved, nil
}

// CustomRulesHistory lists prior rules versions, newest first.
func (s *Service) CustomRulesHistory(ctx context.Context, orgID string) ([]CustomRulesVersion, error) {
	var versions []CustomRulesVersion
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&versions).Error; err != nil {
		s.logError(opCustomRulesHistory, "query_failed", err, zap.String("org_id", orgID))
		return nil, newServiceError(opCustomRulesHistory, "query_failed", err)
	}
	return versions, nil
}

// RestoreCustomRulesVersion re-saves the content of a history record, which
// also snapshots the current content before overwriting it.
func (s *Service) RestoreCustomRulesVersion(ctx context.Context, orgID, versionID, authorID string) (CustomRules, error) {
	var version CustomRulesVersion
	err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", versionID, orgID).
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CustomRules{}, newServiceError(opRestoreCustomRules, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opRestoreCustomRules, "query_failed", err, zap.String("version_id", versionID))
		return CustomRules{}, newServiceError(opRestoreCustomRules, "query_failed", err)
	}
	return s.SaveCustomRules(ctx, orgID, version.Content, authorID)
}
