package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Field mapping kinds: where a question's response lands in the DHIS2 payload.
const (
	ElementKindAttribute   = "ATTRIBUTE"    // tracked-entity attribute
	ElementKindDataElement = "DATA_ELEMENT" // program-stage data element
)

// Survey is a form definition plus its DHIS2 publishing configuration. A
// survey with an empty instance key or program uid has no DHIS2 mapping and
// its submissions are never pushed.
type Survey struct {
	ID                   string `gorm:"primaryKey" json:"id"`
	Name                 string `gorm:"not null" json:"name"`
	Dhis2InstanceKey     string `gorm:"column:dhis2_instance_key" json:"dhis2_instance_key"`
	ProgramUID           string `gorm:"column:program_uid" json:"program_uid"`
	TrackedEntityTypeUID string `gorm:"column:tracked_entity_type_uid" json:"tracked_entity_type_uid"`
	OrgUnitDefault       string `gorm:"column:org_unit_default" json:"org_unit_default"`
	// Tracked-entity attribute that carries the FormBase submission uid on
	// the remote TEI. Required for the reuse lookup on retry.
	SubmissionUIDAttribute string `gorm:"column:submission_uid_attribute" json:"submission_uid_attribute"`

	FieldMappings []SurveyFieldMapping `gorm:"foreignKey:SurveyID" json:"field_mappings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (s *Survey) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (Survey) TableName() string {
	return "surveys"
}

// SurveyFieldMapping links one survey question to a DHIS2 element.
type SurveyFieldMapping struct {
	ID              uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SurveyID        string `gorm:"not null;column:survey_id;index" json:"survey_id"`
	QuestionID      string `gorm:"not null;column:question_id" json:"question_id"`
	Dhis2Element    string `gorm:"not null;column:dhis2_element" json:"dhis2_element"`
	ElementKind     string `gorm:"not null;column:element_kind" json:"element_kind"`
	ProgramStageUID string `gorm:"column:program_stage_uid" json:"program_stage_uid"` // DATA_ELEMENT mappings only
}

// TableName specifies the table name for GORM
func (SurveyFieldMapping) TableName() string {
	return "survey_field_mappings"
}
