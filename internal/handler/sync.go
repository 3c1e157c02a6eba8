package handler

import (
	"net/http"

	v1 "formbase/api/v1"
	"formbase/internal/services/enrichment"
	syncsvc "formbase/internal/services/sync"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	*Handler
	syncService       *syncsvc.Service
	enrichmentService *enrichment.Service
}

func NewSyncHandler(handler *Handler, syncService *syncsvc.Service, enrichmentService *enrichment.Service) *SyncHandler {
	return &SyncHandler{
		Handler:           handler,
		syncService:       syncService,
		enrichmentService: enrichmentService,
	}
}

// CreateJob creates a sync job for a selection of organisation units.
func (h *SyncHandler) CreateJob(ctx *gin.Context) {
	req := new(v1.CreateSyncJobRequest)
	if err := ctx.ShouldBindJSON(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	units := make([]syncsvc.SelectedUnit, 0, len(req.SelectedUnits))
	for _, u := range req.SelectedUnits {
		units = append(units, syncsvc.SelectedUnit{
			UID:       u.UID,
			Name:      u.Name,
			Path:      u.Path,
			Level:     u.Level,
			ParentUID: u.ParentUID,
		})
	}

	resp, err := h.syncService.CreateJob(&syncsvc.CreateJobRequest{
		InstanceKey:   req.InstanceKey,
		SelectionType: req.SelectionType,
		SelectedUnits: units,
		OrgLevel:      req.OrgLevel,
	})
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	v1.HandleSuccess(ctx, resp)
}

// ProcessBatch advances a job by one batch and returns the job snapshot.
func (h *SyncHandler) ProcessBatch(ctx *gin.Context) {
	// An empty body means offset 0, the first batch
	req := new(v1.ProcessBatchRequest)
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(req); err != nil {
			v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
			return
		}
	}

	result, err := h.syncService.ProcessBatch(ctx.Param("id"), req.Offset)
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	v1.HandleSuccess(ctx, result)
}

// GetJob returns the current job snapshot without advancing it.
func (h *SyncHandler) GetJob(ctx *gin.Context) {
	result, err := h.syncService.GetJob(ctx.Param("id"))
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	v1.HandleSuccess(ctx, result)
}

// ImportCSV imports an uploaded staging-format CSV directly.
func (h *SyncHandler) ImportCSV(ctx *gin.Context) {
	file, err := ctx.FormFile("file")
	if err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	f, err := file.Open()
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}
	defer f.Close()

	result, err := h.syncService.ImportCSV(f)
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	v1.HandleSuccess(ctx, result)
}

// EnrichOrgUnits resolves hierarchy breadcrumbs for org units.
func (h *SyncHandler) EnrichOrgUnits(ctx *gin.Context) {
	req := new(v1.EnrichOrgUnitsRequest)
	if err := ctx.ShouldBindJSON(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	units, err := h.enrichmentService.EnrichOrgUnits(req.InstanceKey, req.UIDs)
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	v1.HandleSuccess(ctx, units)
}
