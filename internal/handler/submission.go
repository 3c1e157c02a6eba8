package handler

import (
	"errors"
	"net/http"

	v1 "formbase/api/v1"
	"formbase/internal/services/submission"

	"github.com/gin-gonic/gin"
)

type SubmissionHandler struct {
	*Handler
	submissionService *submission.Service
}

func NewSubmissionHandler(handler *Handler, submissionService *submission.Service) *SubmissionHandler {
	return &SubmissionHandler{
		Handler:           handler,
		submissionService: submissionService,
	}
}

// Retry pushes a submission to DHIS2 (again). Earlier successful attempts
// short-circuit to SKIPPED unless force is set.
func (h *SubmissionHandler) Retry(ctx *gin.Context) {
	req := new(v1.RetrySubmissionRequest)
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(req); err != nil {
			v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
			return
		}
	}

	result, err := h.submissionService.ProcessSubmission(ctx.Param("id"), req.Force)
	if err != nil {
		switch {
		case errors.Is(err, submission.ErrSubmissionNotFound):
			v1.HandleError(ctx, http.StatusNotFound, v1.ErrSubmissionNotFound, nil)
		case errors.Is(err, submission.ErrSurveyNotMapped):
			v1.HandleError(ctx, http.StatusConflict, v1.ErrSurveyNotMapped, nil)
		default:
			h.handleServiceError(ctx, err)
		}
		return
	}

	v1.HandleSuccess(ctx, result)
}

// Logs lists every submission attempt, oldest first.
func (h *SubmissionHandler) Logs(ctx *gin.Context) {
	logs, err := h.submissionService.Logs(ctx.Param("id"))
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	v1.HandleSuccess(ctx, logs)
}
