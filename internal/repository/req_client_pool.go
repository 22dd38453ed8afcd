package repository

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	utls "github.com/refraction-networking/utls"

	"github.com/Tonwed/NullGravity/internal/pkg/proxyurl"
)

// sharedReqClients 按连接参数复用 req 客户端。
// 上游对 TLS 指纹敏感，热路径必须走同一批长连接而不是每请求新建。
var sharedReqClients sync.Map

type reqClientOptions struct {
	ProxyURL    string
	Timeout     time.Duration
	Impersonate bool
	ForceHTTP2  bool
}

func buildReqClientKey(opts reqClientOptions) string {
	return strings.TrimSpace(opts.ProxyURL) + "|" +
		opts.Timeout.String() + "|" +
		strconv.FormatBool(opts.Impersonate) + "|" +
		strconv.FormatBool(opts.ForceHTTP2)
}

// getSharedReqClient 获取或创建共享客户端。缓存里混入非客户端值时忽略缓存新建。
func getSharedReqClient(opts reqClientOptions) (*req.Client, error) {
	key := buildReqClientKey(opts)
	if cached, ok := sharedReqClients.Load(key); ok {
		if client, ok := cached.(*req.Client); ok {
			return client, nil
		}
	}

	client, err := newReqClient(opts)
	if err != nil {
		return nil, err
	}
	actual, _ := sharedReqClients.LoadOrStore(key, client)
	if existing, ok := actual.(*req.Client); ok {
		return existing, nil
	}
	return client, nil
}

func newReqClient(opts reqClientOptions) (*req.Client, error) {
	client := req.C().
		SetTimeout(opts.Timeout).
		DisableAutoReadResponse()

	if opts.ForceHTTP2 {
		client.EnableForceHTTP2()
	}
	if opts.Impersonate {
		// Chrome 指纹，TLS ClientHello 与头部顺序都对齐
		client.SetTLSFingerprint(utls.HelloChrome_Auto)
	}

	trimmed, _, err := proxyurl.Parse(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	if trimmed != "" {
		client.SetProxyURL(trimmed)
	}

	return client, nil
}

// createCloudCodeReqClient 反代热路径的客户端：长超时、HTTP/2、Chrome 指纹。
func createCloudCodeReqClient(proxyURL string, timeout time.Duration) (*req.Client, error) {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return getSharedReqClient(reqClientOptions{
		ProxyURL:    proxyURL,
		Timeout:     timeout,
		Impersonate: true,
		ForceHTTP2:  true,
	})
}
