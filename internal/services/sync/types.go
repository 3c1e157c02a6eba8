package sync

import "fmt"

// SelectedUnit is one organisation unit of a job's selection. Units picked
// from a previously-fetched tree arrive with full metadata and are staged
// directly; uid-only units are fetched from DHIS2 during batch processing.
type SelectedUnit struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Level     int    `json:"level"`
	ParentUID string `json:"parent_uid"`
}

// CreateJobRequest is the job-creation contract.
type CreateJobRequest struct {
	InstanceKey   string         `json:"instance_key"`
	SelectionType string         `json:"selection_type"` // units (default) or level
	SelectedUnits []SelectedUnit `json:"selected_units"`
	OrgLevel      int            `json:"org_level"`
}

// CreateJobResponse carries the new job's id.
type CreateJobResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// BatchResult is the snapshot returned by every batch-processing call.
type BatchResult struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Errors    int    `json:"errors"`
	Progress  int    `json:"progress"` // 0-100
	Message   string `json:"message,omitempty"`
}

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
