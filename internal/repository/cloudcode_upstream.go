package repository

import (
	"bytes"
	"context"
	"net/http"

	"github.com/Tonwed/NullGravity/internal/service"
)

type cloudCodeUpstream struct{}

// NewCloudCodeUpstream 创建反代热路径的上游客户端。
// 客户端按 代理|超时|指纹 维度在进程内共享，见 req_client_pool。
func NewCloudCodeUpstream() service.UpstreamClient {
	return &cloudCodeUpstream{}
}

func (c *cloudCodeUpstream) Do(ctx context.Context, upReq *service.UpstreamRequest) (*service.UpstreamResponse, error) {
	client, err := createCloudCodeReqClient(upReq.ProxyURL, upReq.Timeout)
	if err != nil {
		return nil, err
	}

	request := client.R().SetContext(ctx)
	// 头部顺序与大小写跟官方客户端对齐，逐个显式设置。
	for key, value := range upReq.Headers {
		request.SetHeader(key, value)
	}
	if len(upReq.Body) > 0 {
		request.SetBody(bytes.NewReader(upReq.Body))
	}

	method := upReq.Method
	if method == "" {
		method = http.MethodPost
	}
	resp, err := request.Send(method, upReq.URL)
	if err != nil {
		return nil, err
	}

	return &service.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
