//go:build unit

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Tonwed/NullGravity/internal/config"
	"github.com/Tonwed/NullGravity/internal/domain"
	"github.com/Tonwed/NullGravity/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSettingRepo struct {
	values map[string]string
}

func (r *stubSettingRepo) Get(_ context.Context, key string) (*domain.Setting, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, service.ErrSettingNotFound
	}
	return &domain.Setting{Key: key, Value: v}, nil
}

func (r *stubSettingRepo) GetValue(_ context.Context, key string) (string, error) {
	v, ok := r.values[key]
	if !ok {
		return "", service.ErrSettingNotFound
	}
	return v, nil
}

func (r *stubSettingRepo) Set(_ context.Context, key, value string) error {
	r.values[key] = value
	return nil
}

func (r *stubSettingRepo) GetMultiple(_ context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := r.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (r *stubSettingRepo) SetMultiple(_ context.Context, settings map[string]string) error {
	for k, v := range settings {
		r.values[k] = v
	}
	return nil
}

func (r *stubSettingRepo) GetAll(_ context.Context) (map[string]string, error) {
	return r.values, nil
}

func (r *stubSettingRepo) Delete(_ context.Context, key string) error {
	delete(r.values, key)
	return nil
}

type stubTokenRepo struct {
	tokens []domain.APIToken
	used   map[int64]int
}

func (r *stubTokenRepo) List(_ context.Context) ([]domain.APIToken, error) {
	return r.tokens, nil
}

func (r *stubTokenRepo) GetByToken(_ context.Context, token string) (*domain.APIToken, error) {
	for i := range r.tokens {
		if r.tokens[i].Token == token {
			t := r.tokens[i]
			return &t, nil
		}
	}
	return nil, service.ErrAPITokenNotFound
}

func (r *stubTokenRepo) Create(_ context.Context, token *domain.APIToken) (*domain.APIToken, error) {
	r.tokens = append(r.tokens, *token)
	return token, nil
}

func (r *stubTokenRepo) SetActive(_ context.Context, id int64, active bool) error {
	for i := range r.tokens {
		if r.tokens[i].ID == id {
			r.tokens[i].IsActive = active
		}
	}
	return nil
}

func (r *stubTokenRepo) Delete(_ context.Context, _ int64) error { return nil }

func (r *stubTokenRepo) MarkUsed(_ context.Context, id int64) error {
	if r.used == nil {
		r.used = make(map[int64]int)
	}
	r.used[id]++
	return nil
}

func newAuthRouter(staticTokens []string, extraTokensJSON string) *gin.Engine {
	r, _ := newAuthRouterWithDB(staticTokens, extraTokensJSON)
	return r
}

func newAuthRouterWithDB(staticTokens []string, extraTokensJSON string, dbTokens ...domain.APIToken) (*gin.Engine, *stubTokenRepo) {
	cfg := &config.Config{}
	cfg.Auth.Tokens = staticTokens
	settings := service.NewSettingService(&stubSettingRepo{values: map[string]string{
		service.SettingKeyAPITokens: extraTokensJSON,
	}})
	tokenRepo := &stubTokenRepo{tokens: dbTokens}
	tokens := service.NewAPITokenService(tokenRepo)

	r := gin.New()
	r.Use(gin.HandlerFunc(NewAPIKeyAuth(cfg, settings, tokens)))
	handler := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.POST("/v1/chat/completions", handler)
	r.POST("/v1/messages", handler)
	r.OPTIONS("/v1/chat/completions", handler)
	return r, tokenRepo
}

func doRequest(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyAuth_BearerToken(t *testing.T) {
	r := newAuthRouter([]string{"sk-static"}, "[]")

	rec := doRequest(r, http.MethodPost, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer sk-static"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(r, http.MethodPost, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer sk-wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuth_XAPIKeyHeader(t *testing.T) {
	r := newAuthRouter([]string{"sk-static"}, "[]")

	rec := doRequest(r, http.MethodPost, "/v1/messages",
		map[string]string{"x-api-key": "sk-static"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_SettingsTokens(t *testing.T) {
	r := newAuthRouter(nil, `["sk-dynamic"]`)

	rec := doRequest(r, http.MethodPost, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer sk-dynamic"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_DatabaseToken(t *testing.T) {
	r, repo := newAuthRouterWithDB(nil, "[]",
		domain.APIToken{ID: 7, Token: "sk-db-token", IsActive: true})

	rec := doRequest(r, http.MethodPost, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer sk-db-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	// 放行时累计一次使用
	require.Equal(t, 1, repo.used[7])
}

func TestAPIKeyAuth_InactiveDatabaseTokenRejected(t *testing.T) {
	r, repo := newAuthRouterWithDB(nil, "[]",
		domain.APIToken{ID: 7, Token: "sk-db-token", IsActive: false})

	rec := doRequest(r, http.MethodPost, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer sk-db-token"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, repo.used[7])
}

func TestAPIKeyAuth_RequiresSkPrefix(t *testing.T) {
	// 静态配置里就算有非 sk- 令牌也不放行
	r := newAuthRouter([]string{"plain-token"}, "[]")

	rec := doRequest(r, http.MethodPost, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer plain-token"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuth_ErrorBodyFollowsProtocol(t *testing.T) {
	r := newAuthRouter([]string{"sk-static"}, "[]")

	rec := doRequest(r, http.MethodPost, "/v1/messages", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := gjson.ParseBytes(rec.Body.Bytes())
	require.Equal(t, "error", body.Get("type").String())
	require.Equal(t, "authentication_error", body.Get("error.type").String())

	rec = doRequest(r, http.MethodPost, "/v1/chat/completions", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body = gjson.ParseBytes(rec.Body.Bytes())
	require.False(t, body.Get("type").Exists())
	require.Equal(t, "authentication_error", body.Get("error.type").String())
}

func TestAPIKeyAuth_OptionsBypasses(t *testing.T) {
	r := newAuthRouter([]string{"sk-static"}, "[]")

	rec := doRequest(r, http.MethodOptions, "/v1/chat/completions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
