package repository

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Tonwed/NullGravity/internal/pkg/httpclient"
	"github.com/Tonwed/NullGravity/internal/service"
)

const tokenRequestTimeout = 15 * time.Second

type googleTokenClient struct {
	settings *service.SettingService
}

// NewGoogleTokenClient 创建 Google OAuth token 客户端。
func NewGoogleTokenClient(settings *service.SettingService) service.GoogleTokenClient {
	return &googleTokenClient{settings: settings}
}

func (c *googleTokenClient) Refresh(ctx context.Context, kind, refreshToken string) (*service.TokenRefreshResult, error) {
	clientID, clientSecret := service.OAuthClientFor(kind)

	form := url.Values{
		"client_id":     {clientID},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, service.GoogleTokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client, err := httpclient.GetClient(httpclient.Options{
		Timeout:  tokenRequestTimeout,
		ProxyURL: c.settings.GetProxyURL(ctx),
	})
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		oauthErr := gjson.GetBytes(body, "error").String()
		if oauthErr == "invalid_grant" || oauthErr == "unauthorized_client" {
			return nil, service.ErrTokenRevoked
		}
		return nil, fmt.Errorf("token refresh failed (%d): %s", resp.StatusCode, gjson.GetBytes(body, "error_description").String())
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return nil, fmt.Errorf("token refresh response missing access_token")
	}
	return &service.TokenRefreshResult{
		AccessToken: accessToken,
		ExpiresIn:   int(gjson.GetBytes(body, "expires_in").Int()),
	}, nil
}
