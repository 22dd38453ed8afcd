package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/pkg/response"
	"github.com/Tonwed/NullGravity/internal/service"
)

// MappingHandler 模型映射规则管理。
type MappingHandler struct {
	mappings *service.ModelMappingService
}

// NewMappingHandler creates a new MappingHandler
func NewMappingHandler(mappings *service.ModelMappingService) *MappingHandler {
	return &MappingHandler{mappings: mappings}
}

// mappingRequest 创建/更新请求体
type mappingRequest struct {
	Pattern  string `json:"pattern"`
	Target   string `json:"target"`
	Priority int    `json:"priority"`
	IsActive *bool  `json:"is_active"`
}

// List handles GET /api/mappings
func (h *MappingHandler) List(c *gin.Context) {
	mappings, err := h.mappings.List(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, mappings)
}

// Create handles POST /api/mappings
func (h *MappingHandler) Create(c *gin.Context) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	mapping, err := h.mappings.Create(c.Request.Context(), &domain.ModelMapping{
		Pattern:  req.Pattern,
		Target:   req.Target,
		Priority: req.Priority,
		IsActive: active,
	})
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, mapping)
}

// Update handles PUT /api/mappings/:id
func (h *MappingHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid mapping ID")
		return
	}
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	mapping, err := h.mappings.Update(c.Request.Context(), &domain.ModelMapping{
		ID:       id,
		Pattern:  req.Pattern,
		Target:   req.Target,
		Priority: req.Priority,
		IsActive: active,
	})
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, mapping)
}

// Delete handles DELETE /api/mappings/:id
func (h *MappingHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid mapping ID")
		return
	}
	if err := h.mappings.Delete(c.Request.Context(), id); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, nil)
}
