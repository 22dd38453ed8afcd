package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Tonwed/NullGravity/internal/pkg/response"
	"github.com/Tonwed/NullGravity/internal/service"
)

// TokenHandler 网关访问令牌管理。
type TokenHandler struct {
	tokens *service.APITokenService
}

// NewTokenHandler creates a new TokenHandler
func NewTokenHandler(tokens *service.APITokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// List handles GET /api/tokens
func (h *TokenHandler) List(c *gin.Context) {
	tokens, err := h.tokens.List(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, tokens)
}

// Create handles POST /api/tokens
func (h *TokenHandler) Create(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	token, err := h.tokens.Create(c.Request.Context(), req.Name)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, token)
}

// SetActive handles PATCH /api/tokens/:id/active
func (h *TokenHandler) SetActive(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid token ID")
		return
	}
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.tokens.SetActive(c.Request.Context(), id, req.IsActive); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, nil)
}

// Delete handles DELETE /api/tokens/:id
func (h *TokenHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid token ID")
		return
	}
	if err := h.tokens.Delete(c.Request.Context(), id); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, nil)
}
