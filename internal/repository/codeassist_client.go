package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Tonwed/NullGravity/internal/pkg/httpclient"
	"github.com/Tonwed/NullGravity/internal/service"
)

const codeAssistTimeout = 30 * time.Second

type codeAssistClient struct {
	settings *service.SettingService
}

// NewCodeAssistClient 创建同步路径的 CodeAssist 客户端。
// 走标准库客户端池，与热路径的指纹客户端完全隔离。
func NewCodeAssistClient(settings *service.SettingService) service.CodeAssistClient {
	return &codeAssistClient{settings: settings}
}

func (c *codeAssistClient) httpClient(ctx context.Context) (*http.Client, error) {
	return httpclient.GetClient(httpclient.Options{
		Timeout:  codeAssistTimeout,
		ProxyURL: c.settings.GetProxyURL(ctx),
	})
}

func (c *codeAssistClient) Post(ctx context.Context, endpoint, method, accessToken, userAgent string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/v1internal:%s", endpoint, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)

	return c.do(req, method)
}

func (c *codeAssistClient) GetOperation(ctx context.Context, endpoint, name, accessToken, userAgent string) ([]byte, error) {
	url := fmt.Sprintf("%s/v1internal/%s", endpoint, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)

	return c.do(req, "getOperation")
}

func (c *codeAssistClient) do(req *http.Request, method string) ([]byte, error) {
	client, err := c.httpClient(req.Context())
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &service.CodeAssistError{Method: method, StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}
