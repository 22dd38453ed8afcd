package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Tonwed/NullGravity/internal/pkg/response"
	"github.com/Tonwed/NullGravity/internal/service"
)

// ProxyHandler 代理运行状态与请求日志管理。
type ProxyHandler struct {
	pool     *service.AccountPool
	state    *service.ProxyState
	settings *service.SettingService
	logs     *service.RequestLogService
}

// NewProxyHandler creates a new ProxyHandler
func NewProxyHandler(
	pool *service.AccountPool,
	state *service.ProxyState,
	settings *service.SettingService,
	logs *service.RequestLogService,
) *ProxyHandler {
	return &ProxyHandler{pool: pool, state: state, settings: settings, logs: logs}
}

// Status handles GET /api/proxy/status
func (h *ProxyHandler) Status(c *gin.Context) {
	snapshot := h.state.Snapshot()
	statuses := h.pool.Statuses(c.Request.Context())

	available := 0
	for _, s := range statuses {
		if s.Status == service.PoolStatusAvailable && !s.TokenFrozen {
			available++
		}
	}

	channel := h.settings.GetUpstreamChannel(c.Request.Context())
	response.Success(c, gin.H{
		"running":          true,
		"upstream":         service.UpstreamBaseFor(channel),
		"upstream_channel": channel,
		"schedule_mode":    h.settings.GetScheduleMode(c.Request.Context()),
		"pool_size":        h.pool.Size(),
		"pool_available":   available,
		"started_at":       snapshot.StartedAt,
		"uptime_seconds":   snapshot.UptimeSeconds,
		"total_requests":   snapshot.TotalRequests,
		"total_rotations":  snapshot.TotalRotations,
		"current_account":  snapshot.CurrentAccount,
	})
}

// RefreshPool handles POST /api/proxy/refresh-pool
func (h *ProxyHandler) RefreshPool(c *gin.Context) {
	if err := h.pool.Refresh(c.Request.Context()); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"pool_size": h.pool.Size()})
}

// Pool handles GET /api/proxy/pool
func (h *ProxyHandler) Pool(c *gin.Context) {
	response.Success(c, h.pool.Statuses(c.Request.Context()))
}

// ListLogs handles GET /api/proxy/logs
func (h *ProxyHandler) ListLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, total, err := h.logs.List(c.Request.Context(), limit, offset)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"logs": logs, "total": total})
}

// ClearLogs handles DELETE /api/proxy/logs
func (h *ProxyHandler) ClearLogs(c *gin.Context) {
	if err := h.logs.Clear(c.Request.Context()); err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, nil)
}
