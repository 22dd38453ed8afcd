// Package httpclient 提供共享的 *http.Client 池。
//
// 同一 (timeout, proxy) 组合复用同一个客户端，避免为每次同步/刷新
// 调用重建连接池。所有出站请求经过 validatedTransport 做 DNS
// rebinding 防护：目标主机名解析结果必须是公网地址。
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Tonwed/NullGravity/internal/pkg/proxyurl"
	"github.com/Tonwed/NullGravity/internal/pkg/proxyutil"
)

// Options 客户端选项，同时作为池的缓存键。
type Options struct {
	Timeout  time.Duration
	ProxyURL string
}

const validatedHostTTL = 5 * time.Minute

var (
	clientsMu sync.Mutex
	clients   = make(map[string]*http.Client)
)

// validateResolvedIP 校验主机解析结果，测试中可替换。
var validateResolvedIP = func(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("host %s resolves to non-public address %s", host, ip)
		}
	}
	return nil
}

type validatedHost struct {
	checkedAt time.Time
}

// validatedTransport 在 RoundTrip 前校验目标主机，结果按主机缓存一段时间。
type validatedTransport struct {
	base http.RoundTripper
	now  func() time.Time

	mu    sync.Mutex
	hosts map[string]validatedHost
}

func newValidatedTransport(base http.RoundTripper) *validatedTransport {
	return &validatedTransport{
		base:  base,
		now:   time.Now,
		hosts: make(map[string]validatedHost),
	}
}

func (t *validatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()

	t.mu.Lock()
	entry, ok := t.hosts[host]
	valid := ok && t.now().Sub(entry.checkedAt) <= validatedHostTTL
	t.mu.Unlock()

	if !valid {
		if err := validateResolvedIP(host); err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.hosts[host] = validatedHost{checkedAt: t.now()}
		t.mu.Unlock()
	}

	return t.base.RoundTrip(req)
}

// GetClient 返回选项对应的共享客户端，不存在时创建。
func GetClient(opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	key := fmt.Sprintf("%s|%s", opts.Timeout, opts.ProxyURL)

	clientsMu.Lock()
	defer clientsMu.Unlock()
	if c, ok := clients[key]; ok {
		return c, nil
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	_, parsed, err := proxyurl.Parse(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	if parsed != nil {
		if err := proxyutil.ConfigureTransportProxy(transport, parsed); err != nil {
			return nil, err
		}
	}

	c := &http.Client{
		Timeout:   opts.Timeout,
		Transport: newValidatedTransport(transport),
	}
	clients[key] = c
	return c, nil
}
