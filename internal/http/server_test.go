package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmehdipour/payment-aggregator/internal/app"
	"github.com/jmehdipour/payment-aggregator/internal/config"
	"github.com/jmehdipour/payment-aggregator/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "admin-secret"

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T, providers ...config.ProviderConfig) *testServer {
	t.Helper()
	cfg := config.Config{
		HTTP:    config.HTTPConfig{AdminToken: adminToken},
		Log:     config.LogConfig{Level: "error"},
		APIKey:  config.APIKeyConfig{MaxAttempts: 5},
		Secrets: config.SecretsConfig{Key: "http-test-key", KeyID: "k1"},
		Providers: append([]config.ProviderConfig{
			{Name: "paypal", Enabled: true, BaseURL: "http://127.0.0.1:1", RequiredCredentials: []string{"client_id"}},
		}, providers...),
	}
	a, err := app.New(cfg, testutil.SQLite(t), nil, nil, nil)
	require.NoError(t, err)
	return &testServer{t: t, handler: NewServer(cfg, a, nil).Handler()}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin(method, path, body, owner string) *httptest.ResponseRecorder {
	return s.do(method, path, body, map[string]string{
		"Authorization": "Bearer " + adminToken,
		"X-Owner-ID":    owner,
	})
}

func (s *testServer) api(method, path, body, key string) *httptest.ResponseRecorder {
	return s.do(method, path, body, map[string]string{"X-API-Key": key})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

type createdProject struct {
	Project struct {
		ID string `json:"id"`
	} `json:"project"`
	APIKey string `json:"api_key"`
}

func (s *testServer) createProject(owner string) createdProject {
	s.t.Helper()
	rec := s.admin(http.MethodPost, "/admin/projects", `{"name":"shop"}`, owner)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var out createdProject
	decode(s.t, rec, &out)
	return out
}

func fakeGateway(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"ref-1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_RequiresTokenAndOwner(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/admin/projects", "", map[string]string{"Authorization": "Bearer wrong", "X-Owner-ID": "o1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/admin/projects", "", map[string]string{"Authorization": "Bearer " + adminToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjects_CreateGetListScopedToOwner(t *testing.T) {
	s := newTestServer(t)
	created := s.createProject("o1")
	assert.GreaterOrEqual(t, len(created.APIKey), 43)

	rec := s.admin(http.MethodGet, "/admin/projects/"+created.Project.ID, "", "o1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.APIKey)
	assert.NotContains(t, rec.Body.String(), "api_key_hash")

	rec = s.admin(http.MethodGet, "/admin/projects/"+created.Project.ID, "", "o2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.admin(http.MethodGet, "/admin/projects", "", "o2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)

	rec = s.admin(http.MethodPost, "/admin/projects", `{"name":""}`, "o1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviders_AdminLifecycleAndV1Order(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject("o1")
	base := "/admin/projects/" + p.Project.ID + "/providers"

	rec := s.admin(http.MethodPost, base, `{"provider_name":"A","credentials":{"k":"v"},"priority":2}`, "o1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.admin(http.MethodPost, base, `{"provider_name":"B","credentials":{"k":"v"},"is_primary":true,"priority":5}`, "o1")
	require.Equal(t, http.StatusCreated, rec.Code)
	var b struct {
		ID string `json:"id"`
	}
	decode(t, rec, &b)
	rec = s.admin(http.MethodPost, base, `{"provider_name":"C","credentials":{"k":"v"},"priority":1}`, "o1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "credentials")

	rec = s.admin(http.MethodPost, base, `{"provider_name":"a","credentials":{"k":"v"}}`, "o1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.admin(http.MethodPost, base, `{"provider_name":"paypal","credentials":{"secret":"x"}}`, "o1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.admin(http.MethodPost, base, `{"provider_name":"D","credentials":{"k":"v"}}`, "o2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.api(http.MethodGet, "/v1/providers", "", p.APIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Results []struct {
			ProviderName string `json:"provider_name"`
			IsPrimary    bool   `json:"is_primary"`
		} `json:"results"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Results, 3)
	assert.Equal(t, "b", list.Results[0].ProviderName)
	assert.Equal(t, "c", list.Results[1].ProviderName)
	assert.Equal(t, "a", list.Results[2].ProviderName)
	assert.NotContains(t, rec.Body.String(), "credentials")

	rec = s.admin(http.MethodPatch, base+"/"+b.ID, `{}`, "o1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.admin(http.MethodDelete, base+"/"+b.ID, "", "o1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.admin(http.MethodDelete, base+"/"+b.ID, "", "o1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestV1_UnauthorizedIsUniform(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject("o1")

	missing := s.api(http.MethodGet, "/v1/providers", "", "")
	unknown := s.api(http.MethodGet, "/v1/providers", "", "never-issued-key-000000000000000000000000000")
	partial := s.api(http.MethodGet, "/v1/providers", "", p.APIKey[:8])

	for _, rec := range []*httptest.ResponseRecorder{missing, unknown, partial} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid api key"}`, rec.Body.String())
	}

	rec := s.admin(http.MethodPatch, "/admin/projects/"+p.Project.ID+"/status", `{"status":"suspended"}`, "o1")
	require.Equal(t, http.StatusOK, rec.Code)

	revoked := s.api(http.MethodGet, "/v1/providers", "", p.APIKey)
	assert.Equal(t, http.StatusUnauthorized, revoked.Code)
	assert.JSONEq(t, `{"error":"invalid api key"}`, revoked.Body.String())
}

func TestPayments_FallbackAndExhaustion(t *testing.T) {
	down := fakeGateway(t, http.StatusServiceUnavailable)
	up := fakeGateway(t, http.StatusOK)
	s := newTestServer(t,
		config.ProviderConfig{Name: "stripe", Enabled: true, BaseURL: down.URL},
		config.ProviderConfig{Name: "adyen", Enabled: true, BaseURL: up.URL},
	)
	p := s.createProject("o1")
	base := "/admin/projects/" + p.Project.ID + "/providers"

	rec := s.admin(http.MethodPost, base, `{"provider_name":"stripe","credentials":{"secret_key":"sk"},"is_primary":true}`, "o1")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.admin(http.MethodPost, base, `{"provider_name":"adyen","credentials":{"api_key":"ak"},"priority":1}`, "o1")
	require.Equal(t, http.StatusCreated, rec.Code)
	var adyen struct {
		ID string `json:"id"`
	}
	decode(t, rec, &adyen)

	rec = s.api(http.MethodPost, "/v1/payments", `{"amount":1200,"reference":"order-1"}`, p.APIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Payment struct {
			ID           string `json:"id"`
			Status       string `json:"status"`
			ProviderName string `json:"provider_name"`
		} `json:"payment"`
		Attempts []struct {
			Outcome string `json:"outcome"`
		} `json:"attempts"`
	}
	decode(t, rec, &res)
	assert.Equal(t, "succeeded", res.Payment.Status)
	assert.Equal(t, "adyen", res.Payment.ProviderName)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "failed", res.Attempts[0].Outcome)

	rec = s.api(http.MethodGet, "/v1/payments/"+res.Payment.ID, "", p.APIKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.admin(http.MethodDelete, base+"/"+adyen.ID, "", "o1")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.api(http.MethodPost, "/v1/payments", `{"amount":1200}`, p.APIKey)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "all providers exhausted")
	assert.Contains(t, rec.Body.String(), `"status":"failed"`)

	rec = s.api(http.MethodPost, "/v1/payments", `{"amount":0}`, p.APIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayments_AsyncEnqueue(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject("o1")

	rec := s.api(http.MethodPost, "/v1/payments?async=true", `{"amount":500,"reference":"order-7"}`, p.APIKey)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"queued"`)
}

func TestProjects_Delete(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject("o1")

	rec := s.admin(http.MethodDelete, "/admin/projects/"+p.Project.ID, "", "o2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.admin(http.MethodDelete, "/admin/projects/"+p.Project.ID, "", "o1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.api(http.MethodGet, "/v1/providers", "", p.APIKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
