package handler

import (
	"errors"
	"net/http"

	v1 "formbase/api/v1"
	"formbase/internal/api"
	syncsvc "formbase/internal/services/sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	logger *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// handleServiceError maps service errors onto HTTP answers: validation
// errors are the caller's fault, known not-found sentinels become 404,
// everything else is a 500 with the raw message.
func (h *Handler) handleServiceError(ctx *gin.Context, err error) {
	var verr *syncsvc.ValidationError
	switch {
	case errors.As(err, &verr):
		v1.HandleError(ctx, http.StatusBadRequest, err, nil)
	case errors.Is(err, syncsvc.ErrJobNotFound):
		v1.HandleError(ctx, http.StatusNotFound, v1.ErrJobNotFound, nil)
	case errors.Is(err, api.ErrConfigNotFound):
		v1.HandleError(ctx, http.StatusNotFound, v1.ErrInstanceNotFound, nil)
	default:
		h.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		v1.HandleError(ctx, http.StatusInternalServerError, err, nil)
	}
}
