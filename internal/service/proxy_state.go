package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProxyState 进程级代理运行状态，管理端 status 接口展示用。
// 计数器只在内存里累计，重启归零。
type ProxyState struct {
	startedAt      time.Time
	totalRequests  atomic.Int64
	totalRotations atomic.Int64

	mu          sync.RWMutex
	currentID   int64
	currentMail string
}

// NewProxyState 创建运行状态
func NewProxyState() *ProxyState {
	return &ProxyState{startedAt: time.Now()}
}

// MarkRequest 记一次放行的上游请求并更新当前账号。
func (s *ProxyState) MarkRequest(accountID int64, email string) {
	s.totalRequests.Add(1)
	s.mu.Lock()
	s.currentID = accountID
	s.currentMail = email
	s.mu.Unlock()
}

// MarkRotation 记一次账号轮转。
func (s *ProxyState) MarkRotation() {
	s.totalRotations.Add(1)
}

// ProxyStateSnapshot 状态快照
type ProxyStateSnapshot struct {
	StartedAt      time.Time `json:"started_at"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	TotalRequests  int64     `json:"total_requests"`
	TotalRotations int64     `json:"total_rotations"`
	CurrentAccount string    `json:"current_account,omitempty"`
	CurrentID      int64     `json:"current_account_id,omitempty"`
}

// Snapshot 读取当前状态。
func (s *ProxyState) Snapshot() ProxyStateSnapshot {
	s.mu.RLock()
	id, mail := s.currentID, s.currentMail
	s.mu.RUnlock()
	return ProxyStateSnapshot{
		StartedAt:      s.startedAt,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		TotalRequests:  s.totalRequests.Load(),
		TotalRotations: s.totalRotations.Load(),
		CurrentAccount: mail,
		CurrentID:      id,
	}
}
