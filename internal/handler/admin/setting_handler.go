package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/Tonwed/NullGravity/internal/pkg/response"
	"github.com/Tonwed/NullGravity/internal/service"
)

// SettingHandler 系统设置管理。
type SettingHandler struct {
	settings *service.SettingService
}

// NewSettingHandler creates a new SettingHandler
func NewSettingHandler(settings *service.SettingService) *SettingHandler {
	return &SettingHandler{settings: settings}
}

// Get handles GET /api/settings
func (h *SettingHandler) Get(c *gin.Context) {
	settings, err := h.settings.GetAll(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, settings)
}

// Update handles PUT /api/settings
func (h *SettingHandler) Update(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if len(req) == 0 {
		response.BadRequest(c, "No settings provided")
		return
	}
	if err := h.settings.SetMultiple(c.Request.Context(), req); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	settings, err := h.settings.GetAll(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, settings)
}
