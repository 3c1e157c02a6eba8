package v1

// CreateSyncJobRequest creates a hierarchy sync job. selection_type "units"
// syncs the listed units; "level" expands to every unit at org_level.
type CreateSyncJobRequest struct {
	InstanceKey   string         `json:"instance_key" binding:"required"`
	SelectionType string         `json:"selection_type"`
	SelectedUnits []SelectedUnit `json:"selected_units"`
	OrgLevel      int            `json:"org_level"`
}

// SelectedUnit is one unit of a job's selection. Name/path/level are
// optional; units without them are fetched from DHIS2 during processing.
type SelectedUnit struct {
	UID       string `json:"uid" binding:"required"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Level     int    `json:"level"`
	ParentUID string `json:"parent_uid"`
}

// ProcessBatchRequest advances a job by one batch. The offset must match the
// job's processed count; a stale offset is answered with the current state.
type ProcessBatchRequest struct {
	Offset int `json:"offset"`
}

// EnrichOrgUnitsRequest resolves hierarchy breadcrumbs for org units.
type EnrichOrgUnitsRequest struct {
	InstanceKey string   `json:"instance_key" binding:"required"`
	UIDs        []string `json:"uids" binding:"required"`
}
