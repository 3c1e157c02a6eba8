package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"formbase/internal/api"
	"formbase/internal/models"
	"formbase/internal/services/locations"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// orgUnitFields is the field list fetched for every organisation unit.
const orgUnitFields = "id,name,level,path,parent[id]"

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("sync job not found")

// Service drives location-hierarchy synchronisation: job creation, batched
// remote fetch into a staging CSV, and the final transactional import. All
// job state lives in the sync_jobs table, so batches may be driven by any
// client and survive a server restart.
type Service struct {
	db        *gorm.DB
	resolver  *api.Resolver
	store     *locations.Store
	staging   *Staging
	batchSize int
	logger    *zap.Logger
}

// NewService creates a sync service.
func NewService(db *gorm.DB, resolver *api.Resolver, store *locations.Store, staging *Staging, batchSize int, logger *zap.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Service{
		db:        db,
		resolver:  resolver,
		store:     store,
		staging:   staging,
		batchSize: batchSize,
		logger:    logger,
	}
}

// CreateJob validates the request, expands a level selection into concrete
// units, and persists a READY job. One active job per instance: a second
// creation while a job is still running is rejected.
func (s *Service) CreateJob(req *CreateJobRequest) (*CreateJobResponse, error) {
	if req.InstanceKey == "" {
		return nil, &ValidationError{Field: "instance_key", Message: "instance key is required"}
	}

	selectionType := req.SelectionType
	if selectionType == "" {
		selectionType = "units"
	}

	switch selectionType {
	case "units":
		if len(req.SelectedUnits) == 0 {
			return nil, &ValidationError{Field: "selected_units", Message: "at least one organisation unit is required"}
		}
	case "level":
		if req.OrgLevel <= 0 {
			return nil, &ValidationError{Field: "org_level", Message: "org level must be positive"}
		}
	default:
		return nil, &ValidationError{Field: "selection_type", Message: fmt.Sprintf("unknown selection type %q", selectionType)}
	}

	var active int64
	if err := s.db.Model(&models.SyncJob{}).
		Where("instance_key = ? AND status IN ?", req.InstanceKey,
			[]string{models.SyncJobStatusReady, models.SyncJobStatusProcessing, models.SyncJobStatusImporting}).
		Count(&active).Error; err != nil {
		return nil, fmt.Errorf("failed to check active jobs: %w", err)
	}
	if active > 0 {
		return nil, &ValidationError{Field: "instance_key", Message: "another sync job is already running for this instance"}
	}

	units := req.SelectedUnits
	if selectionType == "level" {
		client, err := s.resolver.ClientFor(req.InstanceKey)
		if err != nil {
			return nil, err
		}
		units, err = s.fetchLevel(client, req.OrgLevel)
		if err != nil {
			return nil, err
		}
		if len(units) == 0 {
			return nil, &ValidationError{Field: "org_level", Message: fmt.Sprintf("no organisation units at level %d", req.OrgLevel)}
		}
	}

	selection, err := json.Marshal(units)
	if err != nil {
		return nil, fmt.Errorf("failed to encode selection: %w", err)
	}

	job := models.SyncJob{
		InstanceKey:   req.InstanceKey,
		SelectionType: selectionType,
		OrgLevel:      req.OrgLevel,
		Selection:     string(selection),
		Status:        models.SyncJobStatusReady,
		Total:         len(units),
	}
	if err := s.db.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}

	s.logger.Info("sync job created",
		zap.String("job_id", job.ID),
		zap.String("instance_key", job.InstanceKey),
		zap.String("selection_type", selectionType),
		zap.Int("total", job.Total))

	return &CreateJobResponse{Status: job.Status, JobID: job.ID}, nil
}

// GetJob returns a snapshot of the job's current state.
func (s *Service) GetJob(jobID string) (*BatchResult, error) {
	job, err := s.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(job), nil
}

// ProcessBatch advances the job by one step. The offset must equal the job's
// processed count; a stale offset (a re-driven batch) returns the current
// snapshot without staging anything twice. Terminal jobs always return their
// snapshot unchanged.
func (s *Service) ProcessBatch(jobID string, offset int) (*BatchResult, error) {
	job, err := s.loadJob(jobID)
	if err != nil {
		return nil, err
	}

	if job.Terminal() {
		return s.snapshot(job), nil
	}

	if job.Status == models.SyncJobStatusImporting {
		return s.runImport(job)
	}

	if job.Status == models.SyncJobStatusProcessing && job.Processed >= job.Total {
		job.Status = models.SyncJobStatusImporting
		job.Message = "all units staged; call again to import"
		if err := s.db.Save(job).Error; err != nil {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
		return s.snapshot(job), nil
	}

	// Validate the offset before mutating anything
	if offset != job.Processed {
		if offset < job.Processed {
			// Re-driven batch: the slice is already staged, nothing to redo.
			return s.snapshot(job), nil
		}
		return nil, &ValidationError{Field: "offset", Message: fmt.Sprintf("expected offset %d, got %d", job.Processed, offset)}
	}

	if job.Status == models.SyncJobStatusReady {
		now := time.Now()
		job.Status = models.SyncJobStatusProcessing
		job.StartedAt = &now
	}

	units, err := s.selection(job)
	if err != nil {
		return s.fail(job, err), nil
	}
	if len(units) != job.Total {
		return s.fail(job, fmt.Errorf("selection holds %d units, job expects %d", len(units), job.Total)), nil
	}

	end := min(offset+s.batchSize, job.Total)
	staged := make([]locations.StagedUnit, 0, end-offset)
	fetchErrors := 0
	var client *api.Client

	for _, u := range units[offset:end] {
		if u.Name != "" && u.Path != "" {
			staged = append(staged, locations.StagedUnit{
				InstanceKey: job.InstanceKey,
				UID:         u.UID,
				Name:        u.Name,
				Path:        u.Path,
				Level:       u.Level,
				ParentUID:   u.ParentUID,
			})
			continue
		}

		if client == nil {
			client, err = s.resolver.ClientFor(job.InstanceKey)
			if err != nil {
				return s.fail(job, err), nil
			}
		}

		unit, err := s.fetchUnit(client, job.InstanceKey, u.UID)
		if err != nil {
			// A failed unit is counted and skipped; the batch keeps moving.
			fetchErrors++
			s.logger.Warn("failed to fetch organisation unit",
				zap.String("job_id", job.ID), zap.String("uid", u.UID), zap.Error(err))
			continue
		}
		staged = append(staged, unit)
	}

	if len(staged) > 0 {
		if err := s.staging.Append(job.ID, staged); err != nil {
			return s.fail(job, err), nil
		}
	}

	job.Processed += end - offset
	job.Errors += fetchErrors
	if job.Processed >= job.Total {
		job.Message = "staging complete"
	}
	if err := s.db.Save(job).Error; err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	return s.snapshot(job), nil
}

// ImportCSV imports an uploaded staging-format CSV directly, outside any job.
// Each row names its own instance key.
func (s *Service) ImportCSV(r io.Reader) (*locations.ImportResult, error) {
	rows, err := ParseCSV(r)
	if err != nil {
		return nil, &ValidationError{Field: "file", Message: err.Error()}
	}
	if len(rows) == 0 {
		return nil, &ValidationError{Field: "file", Message: "no data rows"}
	}
	return s.store.ImportStaged(rows)
}

// BackfillUnits fetches the named units from DHIS2 and imports them into the
// location cache, best effort. It returns how many rows were inserted.
func (s *Service) BackfillUnits(instanceKey string, uids []string) (int, error) {
	client, err := s.resolver.ClientFor(instanceKey)
	if err != nil {
		return 0, err
	}

	rows := make([]locations.StagedUnit, 0, len(uids))
	for _, uid := range uids {
		unit, err := s.fetchUnit(client, instanceKey, uid)
		if err != nil {
			s.logger.Warn("backfill fetch failed", zap.String("uid", uid), zap.Error(err))
			continue
		}
		rows = append(rows, unit)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	result, err := s.store.ImportStaged(rows)
	if err != nil {
		return 0, err
	}
	return result.Inserted, nil
}

// runImport is the finalizing step: read everything staged, import it in one
// transaction, and delete the staging file.
func (s *Service) runImport(job *models.SyncJob) (*BatchResult, error) {
	rows, err := s.staging.Read(job.ID)
	if err != nil {
		return s.fail(job, err), nil
	}

	inserted, skipped := 0, 0
	if len(rows) > 0 {
		result, err := s.store.ImportStaged(rows)
		if err != nil {
			return s.fail(job, err), nil
		}
		inserted, skipped = result.Inserted, result.Skipped
	}

	if err := s.staging.Remove(job.ID); err != nil {
		// The import itself committed; a leftover file is swept later.
		s.logger.Warn("failed to remove staging file", zap.String("job_id", job.ID), zap.Error(err))
	}

	job.Inserted = inserted
	job.Updated = skipped
	job.Status = models.SyncJobStatusComplete
	job.Message = "import complete"
	if err := s.db.Save(job).Error; err != nil {
		return nil, fmt.Errorf("failed to finalize job: %w", err)
	}

	s.logger.Info("sync job complete",
		zap.String("job_id", job.ID),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped),
		zap.Int("errors", job.Errors))

	return s.snapshot(job), nil
}

func (s *Service) loadJob(jobID string) (*models.SyncJob, error) {
	if jobID == "" {
		return nil, &ValidationError{Field: "job_id", Message: "job id is required"}
	}
	var job models.SyncJob
	if err := s.db.Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return &job, nil
}

func (s *Service) selection(job *models.SyncJob) ([]SelectedUnit, error) {
	var units []SelectedUnit
	if err := json.Unmarshal([]byte(job.Selection), &units); err != nil {
		return nil, fmt.Errorf("failed to decode job selection: %w", err)
	}
	return units, nil
}

// fail marks the job ERROR with the cause and returns its snapshot. The
// error itself travels in the snapshot message, so batch callers always get
// a status object back.
func (s *Service) fail(job *models.SyncJob, cause error) *BatchResult {
	s.logger.Error("sync job failed",
		zap.String("job_id", job.ID), zap.String("status", job.Status), zap.Error(cause))

	job.Status = models.SyncJobStatusError
	job.Message = cause.Error()
	if err := s.db.Save(job).Error; err != nil {
		s.logger.Error("failed to persist job error state", zap.String("job_id", job.ID), zap.Error(err))
	}
	return s.snapshot(job)
}

func (s *Service) snapshot(job *models.SyncJob) *BatchResult {
	return &BatchResult{
		JobID:     job.ID,
		Status:    job.Status,
		Processed: job.Processed,
		Total:     job.Total,
		Inserted:  job.Inserted,
		Updated:   job.Updated,
		Errors:    job.Errors,
		Progress:  progress(job),
		Message:   job.Message,
	}
}

// progress maps the job state to a 0-100 figure: staging covers 0-80,
// importing sits at 90, terminal states pin the ends.
func progress(job *models.SyncJob) int {
	switch job.Status {
	case models.SyncJobStatusReady:
		return 0
	case models.SyncJobStatusImporting:
		return 90
	case models.SyncJobStatusComplete:
		return 100
	default:
		if job.Total <= 0 {
			return 0
		}
		return job.Processed * 80 / job.Total
	}
}

func (s *Service) fetchLevel(client *api.Client, level int) ([]SelectedUnit, error) {
	var result struct {
		OrganisationUnits []remoteUnit `json:"organisationUnits"`
	}
	params := map[string]string{
		"filter": fmt.Sprintf("level:eq:%d", level),
		"fields": orgUnitFields,
		"paging": "false",
	}
	if err := client.GetJSON("api/organisationUnits.json", params, &result); err != nil {
		return nil, fmt.Errorf("failed to list level %d organisation units: %w", level, err)
	}

	units := make([]SelectedUnit, 0, len(result.OrganisationUnits))
	for _, u := range result.OrganisationUnits {
		units = append(units, u.selected())
	}
	return units, nil
}

func (s *Service) fetchUnit(client *api.Client, instanceKey, uid string) (locations.StagedUnit, error) {
	var unit remoteUnit
	endpoint := fmt.Sprintf("api/organisationUnits/%s.json", uid)
	if err := client.GetJSON(endpoint, map[string]string{"fields": orgUnitFields}, &unit); err != nil {
		return locations.StagedUnit{}, err
	}

	sel := unit.selected()
	return locations.StagedUnit{
		InstanceKey: instanceKey,
		UID:         sel.UID,
		Name:        sel.Name,
		Path:        sel.Path,
		Level:       sel.Level,
		ParentUID:   sel.ParentUID,
	}, nil
}

// remoteUnit is the DHIS2 organisationUnits response shape for orgUnitFields.
type remoteUnit struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	Path   string `json:"path"`
	Parent *struct {
		ID string `json:"id"`
	} `json:"parent"`
}

func (u remoteUnit) selected() SelectedUnit {
	sel := SelectedUnit{UID: u.ID, Name: u.Name, Path: u.Path, Level: u.Level}
	if u.Parent != nil {
		sel.ParentUID = u.Parent.ID
	}
	return sel
}
