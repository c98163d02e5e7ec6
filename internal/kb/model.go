package kb

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidOrgID indicates that an organization identifier is empty or exceeds storage bounds.
	ErrInvalidOrgID = errors.New("kb: invalid organization id")
	// ErrInvalidName indicates that a user-supplied name is blank after trimming.
	ErrInvalidName = errors.New("kb: invalid name")
)

// NormalizeName trims a user-supplied display name and rejects blank values.
func NormalizeName(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	return trimmed, nil
}

// ValidateOrgID ensures an organization identifier fits storage bounds.
func ValidateOrgID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOrgID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOrgID, maxIdentifierLength)
	}
	return trimmed, nil
}

// Section is an ownership boundary for FAQs. A section optionally belongs to a
// phase group, in which case PhaseOrder sequences it within the group's tab strip
// independently of its global Order.
type Section struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OrgID        string    `gorm:"column:org_id;size:190;not null;index:idx_sections_org" json:"-"`
	Name         string    `gorm:"column:name;type:text;not null" json:"name"`
	Order        int       `gorm:"column:display_order;not null;default:0" json:"order"`
	PhaseGroupID *string   `gorm:"column:phase_group_id;size:190" json:"phaseGroupId"`
	PhaseOrder   int       `gorm:"column:phase_order;not null;default:0" json:"phaseOrder"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Section) TableName() string {
	return "sections"
}

// PhaseGroup is a named tab strip that nests a set of sections.
type PhaseGroup struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OrgID     string    `gorm:"column:org_id;size:190;not null;index:idx_phase_groups_org" json:"-"`
	Name      string    `gorm:"column:name;type:text;not null" json:"name"`
	Order     int       `gorm:"column:display_order;not null;default:0" json:"order"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (PhaseGroup) TableName() string {
	return "phase_groups"
}

// FAQ is a question/answer/notes triple belonging to exactly one section.
// Order positions the record within its section; ties break by CreatedAt,
// then by ID, so display order is always total.
type FAQ struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OrgID     string    `gorm:"column:org_id;size:190;not null;index:idx_faqs_org_section,priority:1" json:"-"`
	SectionID string    `gorm:"column:section_id;size:190;not null;index:idx_faqs_org_section,priority:2" json:"sectionId"`
	Question  string    `gorm:"column:question;type:text;not null" json:"question"`
	Answer    string    `gorm:"column:answer;type:text;not null" json:"answer"`
	Notes     string    `gorm:"column:notes;type:text;not null;default:''" json:"notes"`
	Order     int       `gorm:"column:display_order;not null;default:0" json:"order"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (FAQ) TableName() string {
	return "faqs"
}

// ContentEquals reports whether two records carry the same user-editable state.
// Timestamps are excluded: a draft that differs from its base record only by
// UpdatedAt is not a pending change.
func (f FAQ) ContentEquals(other FAQ) bool {
	return f.SectionID == other.SectionID &&
		f.Question == other.Question &&
		f.Answer == other.Answer &&
		f.Notes == other.Notes &&
		f.Order == other.Order
}

// Variable is a key/value pair substitutable into exported documents.
type Variable struct {
	ID    string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OrgID string `gorm:"column:org_id;size:190;not null;index:idx_variables_org" json:"-"`
	Key   string `gorm:"column:key;type:text;not null" json:"key"`
	Value string `gorm:"column:value;type:text;not null;default:''" json:"value"`
}

// TableName provides the explicit table binding for GORM.
func (Variable) TableName() string {
	return "variables"
}

// CustomRules holds the single free-form rules document for an organization.
type CustomRules struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OrgID     string    `gorm:"column:org_id;size:190;not null;uniqueIndex:idx_custom_rules_org" json:"-"`
	Content   string    `gorm:"column:content;type:text;not null;default:''" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (CustomRules) TableName() string {
	return "custom_rules"
}

// CustomRulesVersion is an append-only snapshot of prior rules content.
type CustomRulesVersion struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OrgID     string    `gorm:"column:org_id;size:190;not null;index:idx_custom_rules_history_org" json:"-"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedBy string    `gorm:"column:created_by;size:190;not null;default:''" json:"createdBy"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (CustomRulesVersion) TableName() string {
	return "custom_rules_history"
}

// ExportOptions selects which content an export preset includes.
type ExportOptions struct {
	IncludeVariables   bool     `json:"includeVariables"`
	IncludeCustomRules bool     `json:"includeCustomRules"`
	SectionIDs         []string `json:"sectionIds"`
	PhaseGroupIDs      []string `json:"phaseGroupIds"`
}

// Value serializes the options for storage.
func (o ExportOptions) Value() (driver.Value, error) {
	encoded, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan restores the options from storage.
func (o *ExportOptions) Scan(value interface{}) error {
	switch typed := value.(type) {
	case nil:
		*o = ExportOptions{}
		return nil
	case string:
		return json.Unmarshal([]byte(typed), o)
	case []byte:
		return json.Unmarshal(typed, o)
	default:
		return fmt.Errorf("kb: cannot scan export options from %T", value)
	}
}

// ExportConfig is a named, reusable export preset.
type ExportConfig struct {
	ID        string        `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OrgID     string        `gorm:"column:org_id;size:190;not null;index:idx_export_configs_org" json:"-"`
	Name      string        `gorm:"column:name;type:text;not null" json:"name"`
	Config    ExportOptions `gorm:"column:config;type:text;not null" json:"config"`
	CreatedAt time.Time     `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time     `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (ExportConfig) TableName() string {
	return "export_configs"
}

// FaqUpsert is the wire shape of one batch upsert entry: insert new or fully
// overwrite existing, keyed by ID.
type FaqUpsert struct {
	ID        string `json:"id"`
	SectionID string `json:"sectionId"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Notes     string `json:"notes"`
	Order     int    `json:"order"`
}

// BatchResult reports how many rows a batch touched.
type BatchResult struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
}
