package kb

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	opListVariables  = "kb.variables.list"
	opCreateVariable = "kb.variables.create"
	opUpdateVariable = "kb.variables.update"
	opDeleteVariable = "kb.variables.delete"
)

// ListVariables returns the organization's key/value variables.
func (s *Service) ListVariables(ctx context.Context, orgID string) ([]Variable, error) {
	var variables []Variable
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("key ASC").
		Find(&variables).Error; err != nil {
		s.logError(opListVariables, "query_failed", err, zap.String("org_id", orgID))
		return nil, newServiceError(opListVariables, "query_failed", err)
	}
	return variables, nil
}

// CreateVariable inserts a key/value pair. Keys are trimmed and must be non-empty.
func (s *Service) CreateVariable(ctx context.Context, orgID, key, value string) (Variable, error) {
	trimmedKey, err := NormalizeName(key)
	if err != nil {
		return Variable{}, newServiceError(opCreateVariable, "invalid_key", err)
	}

	id, err := s.newID(opCreateVariable)
	if err != nil {
		return Variable{}, err
	}

	variable := Variable{
		ID:    id,
		OrgID: orgID,
		Key:   trimmedKey,
		Value: strings.TrimSpace(value),
	}
	if err := s.db.WithContext(ctx).Create(&variable).Error; err != nil {
		s.logError(opCreateVariable, "insert_failed", err, zap.String("org_id", orgID))
		return Variable{}, newServiceError(opCreateVariable, "insert_failed", err)
	}
	return variable, nil
}

// UpdateVariable replaces a variable's key and value.
func (s *Service) UpdateVariable(ctx context.Context, orgID, variableID, key, value string) (Variable, error) {
	trimmedKey, err := NormalizeName(key)
	if err != nil {
		return Variable{}, newServiceError(opUpdateVariable, "invalid_key", err)
	}

	result := s.db.WithContext(ctx).Model(&Variable{}).
		Where("id = ? AND org_id = ?", variableID, orgID).
		Updates(map[string]interface{}{
			"key":   trimmedKey,
			"value": strings.TrimSpace(value),
		})
	if result.Error != nil {
		s.logError(opUpdateVariable, "update_failed", result.Error, zap.String("variable_id", variableID))
		return Variable{}, newServiceError(opUpdateVariable, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Variable{}, newServiceError(opUpdateVariable, "not_found", ErrNotFound)
	}

	var variable Variable
	if err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", variableID, orgID).
		Take(&variable).Error; err != nil {
		return Variable{}, newServiceError(opUpdateVariable, "query_failed", err)
	}
	return variable, nil
}

// DeleteVariable removes a variable.
func (s *Service) DeleteVariable(ctx context.Context, orgID, variableID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", variableID, orgID).
		Delete(&Variable{})
	if result.Error != nil {
		s.logError(opDeleteVariable, "delete_failed", result.Error, zap.String("variable_id", variableID))
		return newServiceError(opDeleteVariable, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteVariable, "not_found", ErrNotFound)
	}
	return nil
}
