package kb

import (
	"context"

	"go.uber.org/zap"
)

const (
	opListExportConfigs  = "kb.export_configs.list"
	opCreateExportConfig = "kb.export_configs.create"
	opUpdateExportConfig = "kb.export_configs.update"
	opDeleteExportConfig = "kb.export_configs.delete"
)

// ListExportConfigs returns the organization's export presets ordered by name.
func (s *Service) ListExportConfigs(ctx context.Context, orgID string) ([]ExportConfig, error) {
	var configs []ExportConfig
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("name ASC").
		Find(&configs).Error; err != nil {
		s.logError(opListExportConfigs, "query_failed", err, zap.String("org_id", orgID))
		return nil, newServiceError(opListExportConfigs, "query_failed", err)
	}
	return configs, nil
}

// CreateExportConfig stores a new named export preset.
func (s *Service) CreateExportConfig(ctx context.Context, orgID, name string, options ExportOptions) (ExportConfig, error) {
	trimmedName, err := NormalizeName(name)
	if err != nil {
		return ExportConfig{}, newServiceError(opCreateExportConfig, "invalid_name", err)
	}

	id, err := s.newID(opCreateExportConfig)
	if err != nil {
		return ExportConfig{}, err
	}

	createdAt := s.now()
	config := ExportConfig{
		ID:        id,
		OrgID:     orgID,
		Name:      trimmedName,
		Config:    options,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&config).Error; err != nil {
		s.logError(opCreateExportConfig, "insert_failed", err, zap.String("org_id", orgID))
		return ExportConfig{}, newServiceError(opCreateExportConfig, "insert_failed", err)
	}
	return config, nil
}

// UpdateExportConfig replaces a preset's name and selection.
func (s *Service) UpdateExportConfig(ctx context.Context, orgID, configID, name string, options ExportOptions) (ExportConfig, error) {
	trimmedName, err := NormalizeName(name)
	if err != nil {
		return ExportConfig{}, newServiceError(opUpdateExportConfig, "invalid_name", err)
	}

	result := s.db.WithContext(ctx).Model(&ExportConfig{}).
		Where("id = ? AND org_id = ?", configID, orgID).
		Updates(map[string]interface{}{
			"name":       trimmedName,
			"config":     options,
			"updated_at": s.now(),
		})
	if result.Error != nil {
		s.logError(opUpdateExportConfig, "update_failed", result.Error, zap.String("config_id", configID))
		return ExportConfig{}, newServiceError(opUpdateExportConfig, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ExportConfig{}, newServiceError(opUpdateExportConfig, "not_found", ErrNotFound)
	}

	var config ExportConfig
	if err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", configID, orgID).
		Take(&config).Error; err != nil {
		return ExportConfig{}, newServiceError(opUpdateExportConfig, "query_failed", err)
	}
	return config, nil
}

// DeleteExportConfig removes a preset.
func (s *Service) DeleteExportConfig(ctx context.Context, orgID, configID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", configID, orgID).
		Delete(&ExportConfig{})
	if result.Error != nil {
		s.logError(opDeleteExportConfig, "delete_failed", result.Error, zap.String("config_id", configID))
		return newServiceError(opDeleteExportConfig, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteExportConfig, "not_found", ErrNotFound)
	}
	return nil
}
