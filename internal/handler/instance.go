package handler

import (
	"errors"
	"net/http"

	v1 "formbase/api/v1"
	"formbase/internal/api"
	"formbase/internal/crypto"
	"formbase/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type InstanceHandler struct {
	*Handler
	db       *gorm.DB
	resolver *api.Resolver
}

func NewInstanceHandler(handler *Handler, db *gorm.DB, resolver *api.Resolver) *InstanceHandler {
	return &InstanceHandler{
		Handler:  handler,
		db:       db,
		resolver: resolver,
	}
}

// List returns all configured DHIS2 instances. Passwords never leave the
// model's json:"-" field.
func (h *InstanceHandler) List(ctx *gin.Context) {
	var instances []models.Dhis2Instance
	if err := h.db.Order("key").Find(&instances).Error; err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	v1.HandleSuccess(ctx, instances)
}

// Create registers a new instance configuration. An already-used key is
// rejected; updates go through Upsert.
func (h *InstanceHandler) Create(ctx *gin.Context) {
	h.save(ctx, true)
}

// Upsert creates or updates an instance configuration. The password is
// encrypted at rest; omitting it on update keeps the stored one.
func (h *InstanceHandler) Upsert(ctx *gin.Context) {
	h.save(ctx, false)
}

func (h *InstanceHandler) save(ctx *gin.Context, createOnly bool) {
	req := new(v1.UpsertInstanceRequest)
	if err := ctx.ShouldBindJSON(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	var existing models.Dhis2Instance
	err := h.db.Where("key = ?", req.Key).First(&existing).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		h.handleServiceError(ctx, err)
		return
	}

	if !isNew && createOnly {
		v1.HandleError(ctx, http.StatusConflict, v1.ErrInstanceKeyInUse, nil)
		return
	}

	if isNew && req.Password == "" {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	passwordEnc := existing.PasswordEnc
	if req.Password != "" {
		passwordEnc, err = crypto.EncryptPassword(req.Password)
		if err != nil {
			h.handleServiceError(ctx, err)
			return
		}
	}

	instance := models.Dhis2Instance{
		Key:              req.Key,
		BaseURL:          req.BaseURL,
		Username:         req.Username,
		PasswordEnc:      passwordEnc,
		AllowInsecureTLS: req.AllowInsecureTLS,
	}
	if req.AllowInsecureTLS {
		h.logger.Warn("instance configured with TLS verification disabled",
			zap.String("key", req.Key), zap.String("base_url", req.BaseURL))
	}

	if isNew {
		err = h.db.Create(&instance).Error
	} else {
		instance.CreatedAt = existing.CreatedAt
		err = h.db.Save(&instance).Error
	}
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	// Drop any cached client built from the old credentials
	h.resolver.Invalidate(req.Key)

	v1.HandleSuccess(ctx, instance)
}

// Delete removes an instance configuration.
func (h *InstanceHandler) Delete(ctx *gin.Context) {
	key := ctx.Param("key")

	result := h.db.Where("key = ?", key).Delete(&models.Dhis2Instance{})
	if result.Error != nil {
		h.handleServiceError(ctx, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		v1.HandleError(ctx, http.StatusNotFound, v1.ErrInstanceNotFound, nil)
		return
	}

	h.resolver.Invalidate(key)
	v1.HandleSuccess(ctx, nil)
}

// TestConnection probes the instance with a system-info call.
func (h *InstanceHandler) TestConnection(ctx *gin.Context) {
	client, err := h.resolver.ClientFor(ctx.Param("key"))
	if err != nil {
		h.handleServiceError(ctx, err)
		return
	}

	var info struct {
		Version string `json:"version"`
	}
	if err := client.GetJSON("api/system/info.json", nil, &info); err != nil {
		v1.HandleError(ctx, http.StatusBadGateway, v1.ErrConnectionFailed,
			v1.TestConnectionResponse{Connected: false, Message: err.Error()})
		return
	}

	v1.HandleSuccess(ctx, v1.TestConnectionResponse{Connected: true, Version: info.Version})
}
