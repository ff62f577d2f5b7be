package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"fluent-auth/internal/auth"
	"fluent-auth/internal/domain"
	"fluent-auth/internal/metrics"
	"fluent-auth/internal/repository/sqlite"
	"fluent-auth/internal/service"
)

const testOrigin = "http://localhost:3000"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	router  *gin.Engine
	db      *sql.DB
	metrics *metrics.Metrics
	// added to the token clock
	offset atomic.Int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	hasher, err := auth.NewPasswordHasher(auth.HasherConfig{})
	require.NoError(t, err)

	env := &testEnv{db: db, metrics: metrics.New()}
	tokens, err := auth.NewTokenIssuer("test-secret", auth.WithClock(env.now))
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	env.router = newRouter(Config{
		Users:         service.NewUserService(sqlite.NewUserRepository(db), hasher, logger),
		Tokens:        tokens,
		Store:         db,
		Metrics:       env.metrics,
		Logger:        logger,
		AllowedOrigin: testOrigin,
	})
	return env
}

func (e *testEnv) now() time.Time {
	return time.Now().Add(time.Duration(e.offset.Load()))
}

func newRouter(cfg Config) *gin.Engine {
	router := gin.New()
	NewHandler(cfg).RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func (e *testEnv) registerAlice(t *testing.T) *http.Cookie {
	t.Helper()
	rec := doRequest(t, e.router, http.MethodPost, "/api/auth/register", gin.H{
		"username": "alice", "email": "A@B.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := sessionCookie(rec)
	require.NotNil(t, c)
	return c
}

func TestEndToEnd_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	post := func(path string, body any) (*http.Response, map[string]any) {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := client.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp, out
	}
	get := func(path string) (*http.Response, map[string]any) {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp, out
	}

	resp, body := post("/api/auth/register", gin.H{"username": "alice", "email": "A@B.com", "password": "secret123"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := body["user"].(map[string]any)
	require.Equal(t, "a@b.com", user["email"])
	require.Equal(t, "alice", user["username"])
	require.EqualValues(t, 1, user["id"])
	require.NotContains(t, user, "password")
	require.NotContains(t, user, "passwordHash")

	var stored string
	require.NoError(t, env.db.QueryRow(`SELECT email FROM users WHERE sequence_id = 1`).Scan(&stored))
	require.Equal(t, "a@b.com", stored)

	// start from a clean jar so the login cookie is the one under test
	jar, err = cookiejar.New(nil)
	require.NoError(t, err)
	client.Jar = jar

	resp, body = post("/api/auth/login", gin.H{"email": "a@b.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.NotNil(t, sessionCookieFrom(resp))

	resp, body = get("/api/protected/profile")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["subjectId"])
	require.Equal(t, "alice", body["user"].(map[string]any)["username"])

	resp, _ = post("/api/auth/logout", gin.H{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := sessionCookieFrom(resp)
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)

	resp, body = get("/api/protected/profile")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, false, body["success"])
	require.Equal(t, reasonMissingToken, body["error"])
}

func sessionCookieFrom(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func TestRegister_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.registerAlice(t)

	rec := doRequest(t, env.router, http.MethodPost, "/api/auth/register", gin.H{
		"username": "alice2", "email": "a@b.com", "password": "secret123",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"success":false,"message":"User already exists"}`, rec.Body.String())
	require.Nil(t, sessionCookie(rec))
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodPost, "/api/auth/register", gin.H{"username": " ", "email": "", "password": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "Validation failed", body["message"])
	require.Equal(t, []any{"Username is required", "Email is required", "Password is required"}, body["details"])

	rec = doRequest(t, env.router, http.MethodPost, "/api/auth/register", gin.H{"username": "bob", "email": "bob-at-example", "password": "secret123"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid email format", decodeBody(t, rec)["message"])

	rec = doRequest(t, env.router, http.MethodPost, "/api/auth/register", `{"username":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid request body", decodeBody(t, rec)["message"])
}

func TestLogin_UnknownEmailAndWrongPasswordLookTheSame(t *testing.T) {
	env := newTestEnv(t)
	env.registerAlice(t)

	wrongPassword := doRequest(t, env.router, http.MethodPost, "/api/auth/login", gin.H{"email": "a@b.com", "password": "secret124"})
	unknownEmail := doRequest(t, env.router, http.MethodPost, "/api/auth/login", gin.H{"email": "ghost@b.com", "password": "secret123"})

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, wrongPassword.Code, unknownEmail.Code)
	require.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	require.JSONEq(t, `{"success":false,"message":"Invalid credentials"}`, unknownEmail.Body.String())
	require.Nil(t, sessionCookie(wrongPassword))
	require.Nil(t, sessionCookie(unknownEmail))
}

func TestLogin_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodPost, "/api/auth/login", gin.H{"email": "a@b.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Email and password are required", decodeBody(t, rec)["message"])
}

func TestProtected_MissingCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodGet, "/api/protected/profile", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, reasonMissingToken, decodeBody(t, rec)["error"])
	require.Nil(t, sessionCookie(rec))
}

func TestProtected_ExpiredTokenClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.registerAlice(t)

	env.offset.Store(int64(auth.TokenTTL))

	rec := doRequest(t, env.router, http.MethodGet, "/api/protected/profile", nil, cookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "Invalid or expired token", body["message"])
	require.Equal(t, reasonExpiredToken, body["error"])

	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)
	require.Equal(t, http.SameSiteLaxMode, cleared.SameSite)
}

func TestProtected_InvalidTokenClearsCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodGet, "/api/protected/profile", nil,
		&http.Cookie{Name: SessionCookieName, Value: "forged.token.value"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, reasonInvalidToken, decodeBody(t, rec)["error"])
	require.NotNil(t, sessionCookie(rec))

	require.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SessionRejectionsTotal.WithLabelValues(reasonInvalidToken)))
}

func TestProtected_SubjectInContext(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.registerAlice(t)

	rec := doRequest(t, env.router, http.MethodGet, "/api/protected/profile", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 1, body["subjectId"])
}

type failingUsers struct {
	err error
}

func (f failingUsers) Register(context.Context, string, string, string) (*domain.User, error) {
	return nil, f.err
}

func (f failingUsers) Authenticate(context.Context, string, string) (*domain.User, error) {
	return nil, f.err
}

func (f failingUsers) GetBySequenceID(context.Context, int64) (*domain.User, error) {
	return nil, f.err
}

type staticTokens struct{}

func (staticTokens) Issue(int64) (string, error) { return "t", nil }

func (staticTokens) Verify(string) (int64, error) { return 0, auth.ErrInvalidToken }

func TestStoreFailure_DetailOnlyOutsideProduction(t *testing.T) {
	storeErr := fmt.Errorf("%w: database is locked", service.ErrStoreUnavailable)
	logger, hook := logtest.NewNullLogger()

	for _, production := range []bool{false, true} {
		router := newRouter(Config{
			Users:      failingUsers{err: storeErr},
			Tokens:     staticTokens{},
			Logger:     logger,
			Production: production,
		})

		rec := doRequest(t, router, http.MethodPost, "/api/auth/register", gin.H{"username": "a", "email": "a@b.com", "password": "p"})
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeBody(t, rec)
		require.Equal(t, "Registration failed", body["message"])
		if production {
			require.NotContains(t, body, "error")
		} else {
			require.Contains(t, body["error"], "database is locked")
		}
	}

	var logged bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Registration failed" {
			logged = true
			require.True(t, errors.Is(entry.Data["error"].(error), service.ErrStoreUnavailable))
		}
	}
	require.True(t, logged)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.NoError(t, env.db.Close())
	rec = doRequest(t, env.router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", testOrigin)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, testOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodGet, "/api/health", nil)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.registerAlice(t)

	rec := doRequest(t, env.router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `fluent_auth_registrations_total{result="success"} 1`)
	require.Contains(t, rec.Body.String(), `route="/api/auth/register"`)
}
