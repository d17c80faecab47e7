package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gsraster/pkg/api/middleware"
	"gsraster/pkg/auth"
)

const submitBody = `{"inputs":["a.ps"],"output_path":"a.tiff"}`

type fakeKeyStore struct {
	mu      sync.Mutex
	keys    map[string]auth.APIKeyInfo
	failErr error
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: make(map[string]auth.APIKeyInfo)}
}

func (f *fakeKeyStore) ValidateKey(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	info, ok := f.keys[key]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &info, nil
}

func (f *fakeKeyStore) CreateKey(ctx context.Context, info auth.APIKeyInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "gsr_" + info.Owner + "_" + info.Name
	info.ID = "key_" + info.Name
	f.keys[key] = info
	return key, nil
}

func (f *fakeKeyStore) RevokeKey(ctx context.Context, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, info := range f.keys {
		if info.ID == keyID {
			delete(f.keys, k)
			return nil
		}
	}
	return auth.ErrInvalidToken
}

func (f *fakeKeyStore) ListKeys(ctx context.Context, owner string) ([]auth.APIKeyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auth.APIKeyInfo
	for _, info := range f.keys {
		if info.Owner == owner {
			out = append(out, info)
		}
	}
	return out, nil
}

type authFixture struct {
	server *Server
	store  *fakeStore
	keys   *fakeKeyStore
	jwt    *auth.JWTService
}

func newAuthFixture(t *testing.T, limit middleware.RateLimiterConfig) *authFixture {
	t.Helper()
	jwtCfg := auth.DefaultJWTConfig()
	jwtCfg.SecretKey = "test-secret"
	jwtSvc, err := auth.NewJWTService(jwtCfg)
	require.NoError(t, err)

	f := &authFixture{store: newFakeStore(), keys: newFakeKeyStore(), jwt: jwtSvc}
	if limit.RequestsPerSecond == 0 {
		limit = middleware.RateLimiterConfig{RequestsPerSecond: 1000, BurstSize: 1000}
	}
	f.server = NewServer(Config{
		Port:      "0",
		Store:     f.store,
		Queue:     &fakeQueue{},
		Auth:      middleware.AuthConfig{JWTService: jwtSvc, APIKeyStore: f.keys},
		RateLimit: limit,
	})
	t.Cleanup(f.server.limiter.Stop)
	return f
}

func (f *authFixture) token(t *testing.T, principal string, role auth.Role) string {
	t.Helper()
	tok, err := f.jwt.GenerateToken(principal, role)
	require.NoError(t, err)
	return tok
}

func doWith(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func bearer(tok string) map[string]string {
	return map[string]string{middleware.AuthHeaderKey: "Bearer " + tok}
}

func TestAuth_RejectsMissingAndBadCredentials(t *testing.T) {
	f := newAuthFixture(t, middleware.RateLimiterConfig{})

	w := doWith(t, f.server, http.MethodPost, "/api/v1/conversions", submitBody, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doWith(t, f.server, http.MethodGet, "/api/v1/conversions", "", bearer("not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doWith(t, f.server, http.MethodGet, "/api/v1/conversions", "",
		map[string]string{middleware.APIKeyHeaderKey: "gsr_unknown"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := auth.NewJWTService(auth.JWTConfig{SecretKey: "other-secret"})
	require.NoError(t, err)
	forged, err := other.GenerateToken("mallory", auth.RoleAdmin)
	require.NoError(t, err)
	w = doWith(t, f.server, http.MethodGet, "/api/v1/conversions", "", bearer(forged))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, f.store.convs)
}

func TestAuth_HealthAndMetricsStayOpen(t *testing.T) {
	f := newAuthFixture(t, middleware.RateLimiterConfig{})

	assert.Equal(t, http.StatusOK, doWith(t, f.server, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, doWith(t, f.server, http.MethodGet, "/metrics", "", nil).Code)
}

func TestAuth_RolesGateConversions(t *testing.T) {
	f := newAuthFixture(t, middleware.RateLimiterConfig{})
	viewer := bearer(f.token(t, "victor", auth.RoleViewer))
	submitter := bearer(f.token(t, "alice", auth.RoleSubmitter))

	w := doWith(t, f.server, http.MethodPost, "/api/v1/conversions", submitBody, viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doWith(t, f.server, http.MethodPost, "/api/v1/conversions", submitBody, submitter)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp ConversionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.SubmittedBy)

	w = doWith(t, f.server, http.MethodGet, "/api/v1/conversions/"+resp.ID.String(), "", viewer)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_APIKeys(t *testing.T) {
	f := newAuthFixture(t, middleware.RateLimiterConfig{})
	key, err := f.keys.CreateKey(context.Background(), auth.APIKeyInfo{Name: "ci", Owner: "build-bot", Role: auth.RoleSubmitter})
	require.NoError(t, err)

	w := doWith(t, f.server, http.MethodPost, "/api/v1/conversions", submitBody,
		map[string]string{middleware.APIKeyHeaderKey: key})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"submitted_by":"build-bot"`)

	f.keys.failErr = errors.New("redis: connection refused")
	w = doWith(t, f.server, http.MethodPost, "/api/v1/conversions", submitBody,
		map[string]string{middleware.APIKeyHeaderKey: key})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuth_AdminManagesKeysAndTokens(t *testing.T) {
	f := newAuthFixture(t, middleware.RateLimiterConfig{})
	admin := bearer(f.token(t, "root", auth.RoleAdmin))
	submitter := bearer(f.token(t, "alice", auth.RoleSubmitter))

	body := `{"name":"nightly","owner":"alice","role":"submitter"}`
	w := doWith(t, f.server, http.MethodPost, "/api/v1/keys", body, submitter)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doWith(t, f.server, http.MethodPost, "/api/v1/keys", body, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Key)

	w = doWith(t, f.server, http.MethodPost, "/api/v1/keys", `{"name":"x","owner":"alice","role":"root"}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doWith(t, f.server, http.MethodGet, "/api/v1/keys?owner=alice", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doWith(t, f.server, http.MethodDelete, "/api/v1/keys/key_nightly", "", admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doWith(t, f.server, http.MethodDelete, "/api/v1/keys/key_nightly", "", admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doWith(t, f.server, http.MethodPost, "/api/v1/tokens", `{"principal":"bob","role":"viewer"}`, admin)
	require.Equal(t, http.StatusCreated, w.Code)
	var issued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	claims, err := f.jwt.ValidateToken(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Principal())
	assert.Equal(t, auth.RoleViewer, claims.Role)
}

func TestRateLimit_PerPrincipal(t *testing.T) {
	f := newAuthFixture(t, middleware.RateLimiterConfig{RequestsPerSecond: 0.01, BurstSize: 1})
	alice := bearer(f.token(t, "alice", auth.RoleViewer))
	bob := bearer(f.token(t, "bob", auth.RoleViewer))

	assert.Equal(t, http.StatusOK, doWith(t, f.server, http.MethodGet, "/api/v1/conversions", "", alice).Code)

	w := doWith(t, f.server, http.MethodGet, "/api/v1/conversions", "", alice)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, doWith(t, f.server, http.MethodGet, "/api/v1/conversions", "", bob).Code)
}
