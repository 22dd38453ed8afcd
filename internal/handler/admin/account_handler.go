package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Tonwed/NullGravity/internal/pkg/response"
	"github.com/Tonwed/NullGravity/internal/service"
)

// AccountHandler 账号导入与管理。
type AccountHandler struct {
	accounts *service.AccountService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// List handles GET /api/accounts
func (h *AccountHandler) List(c *gin.Context) {
	accounts, err := h.accounts.List(c.Request.Context())
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, accounts)
}

// Get handles GET /api/accounts/:id
func (h *AccountHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid account ID")
		return
	}
	account, creds, err := h.accounts.Get(c.Request.Context(), id)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"account": account, "credentials": creds})
}

// Create handles POST /api/accounts
func (h *AccountHandler) Create(c *gin.Context) {
	var input service.CreateAccountInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	account, err := h.accounts.Create(c.Request.Context(), &input)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, account)
}

// setDisabledRequest 启停请求体
type setDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// SetDisabled handles PATCH /api/accounts/:id/disabled
func (h *AccountHandler) SetDisabled(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid account ID")
		return
	}
	var req setDisabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.accounts.SetDisabled(c.Request.Context(), id, req.Disabled); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, nil)
}

// Sync handles POST /api/accounts/:id/sync
func (h *AccountHandler) Sync(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid account ID")
		return
	}
	if err := h.accounts.Sync(c.Request.Context(), id); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, nil)
}
