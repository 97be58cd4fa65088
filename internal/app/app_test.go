package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-starter/internal/config"
	"admin-starter/internal/locks"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		DatabaseType:     "sqlite",
		DatabasePath:     ":memory:",
		RateLimitBackend: config.BackendMemory,
		SweepSchedule:    "@every 1m",
		JWTSecret:        "app-test-secret-that-is-at-least-32-chars",
		JWTTTL:           time.Hour,
		StartupAttempts:  1,
		MetricsEnabled:   true,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)
	return app
}

type client struct {
	t     *testing.T
	srv   *httptest.Server
	token string
}

func (c *client) do(method, path, body string) *http.Response {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, r)
	require.NoError(c.t, err)
	req.Header.Set("User-Agent", "app-test")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestNew_MemoryBackend(t *testing.T) {
	app := newTestApp(t, testConfig())

	assert.NotNil(t, app.Storage)
	assert.NotNil(t, app.Settings)
	assert.NotNil(t, app.RateLimiter)
	assert.NotNil(t, app.Users)
	assert.Nil(t, app.RedisClient)
	assert.IsType(t, &locks.LocalLocker{}, app.Locker)
	require.NotNil(t, app.memoryWindows)
	assert.Len(t, app.Scheduler.Entries(), 1)

	app.sweepWindows()
}

func TestNew_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.RateLimitBackend = config.BackendRedis
	cfg.RedisAddress = mr.Addr()
	cfg.RedisPoolSize = 2

	app := newTestApp(t, cfg)
	assert.NotNil(t, app.RedisClient)
	assert.IsType(t, &locks.RedsyncLocker{}, app.Locker)
	assert.Nil(t, app.memoryWindows)
	assert.Empty(t, app.Scheduler.Entries())
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitBackend = config.BackendRedis
	cfg.RedisAddress = "127.0.0.1:1"
	cfg.RedisPoolSize = 1

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_UnsupportedDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.DatabaseType = "oracle"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestEndToEnd(t *testing.T) {
	app := newTestApp(t, testConfig())
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	anon := &client{t: t, srv: srv}

	// Setup gate
	assert.Equal(t, http.StatusOK, anon.do("GET", "/health", "").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, anon.do("GET", "/api/settings", "").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, anon.do("POST", "/api/operations", "").StatusCode)

	resp := anon.do("POST", "/api/setup", `{"email":"admin@example.com","username":"admin","password":"correct horse battery"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var setup struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&setup))
	admin := &client{t: t, srv: srv, token: setup.Token}

	// Role checks
	assert.Equal(t, http.StatusUnauthorized, anon.do("GET", "/api/settings", "").StatusCode)
	assert.Equal(t, http.StatusOK, admin.do("GET", "/api/settings", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, (&client{t: t, srv: srv, token: "garbage"}).do("GET", "/api/settings", "").StatusCode)

	resp = admin.do("POST", "/api/users", `{"email":"u@example.com","username":"plainuser","password":"password123","role":"user"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = anon.do("POST", "/api/auth/login", `{"username":"plainuser","password":"password123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	user := &client{t: t, srv: srv, token: login.Token}

	assert.Equal(t, http.StatusForbidden, user.do("GET", "/api/settings", "").StatusCode)
	assert.Equal(t, http.StatusOK, user.do("GET", "/api/auth/me", "").StatusCode)

	// Enabling a budget takes effect without a restart
	resp = admin.do("PUT", "/api/settings", `{"rateLimitingUnauthenticatedEnabled":true,"rateLimitingUnauthenticatedLimit":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, readBody(t, resp))

	assert.Equal(t, http.StatusOK, anon.do("POST", "/api/operations", "").StatusCode)
	resp = anon.do("POST", "/api/operations", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Authenticated callers are not charged against the anonymous budget
	assert.Equal(t, http.StatusOK, user.do("POST", "/api/operations", "").StatusCode)

	assert.Equal(t, http.StatusOK, admin.do("GET", "/api/stats", "").StatusCode)
	assert.Equal(t, http.StatusForbidden, user.do("GET", "/api/stats", "").StatusCode)

	// A ban applies to tokens issued before it
	resp = admin.do("PATCH", "/api/users/"+created.ID, `{"banned":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, readBody(t, resp))
	assert.Equal(t, http.StatusForbidden, user.do("GET", "/api/auth/me", "").StatusCode)

	resp = anon.do("GET", "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `admin_starter_ratelimit_decisions_total{outcome="denied",scope="unauthenticated"} 1`)
	assert.Contains(t, body, `admin_starter_http_requests_total{method="POST",route="/api/operations",status="429"} 1`)
	assert.Contains(t, body, `admin_starter_ratelimit_initializations_total{result="success"}`)
}

func TestHandler_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	app := newTestApp(t, cfg)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShutdown(t *testing.T) {
	app := newTestApp(t, testConfig())
	app.Scheduler.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, app.Shutdown(ctx))
}
