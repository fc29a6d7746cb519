package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/persona/internal/chat"
	"github.com/kalambet/persona/internal/ingest"
	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/profile"
	"github.com/kalambet/persona/internal/storage"
)

const testToken = "test-token-12345"

var ctx = context.Background()

type testApp struct {
	handler  http.Handler
	store    *storage.Store
	profiles *profile.Manager
	chat     *chat.Manager
	metrics  *metrics.Collector
}

func setupApp(t *testing.T, token string) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	profiles := profile.NewManager(store, profile.NewAggregator(store, nil, m), nil, m)
	chatMgr := chat.NewManager(store, profiles, 0, nil, m)
	handler := NewAppHandler(AppDeps{
		Store:     store,
		Profiles:  profiles,
		Chat:      chatMgr,
		Processor: ingest.NewProcessor(store, profiles, nil, m),
		Metrics:   m,
		Token:     token,
	})
	return &testApp{handler: handler, store: store, profiles: profiles, chat: chatMgr, metrics: m}
}

func (a *testApp) seedUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, a.store.CreateUser(ctx, storage.User{ID: id, Name: "Alex", Email: id + "@example.com", IsActive: true}))
}

// do sends an authenticated request as userID (omitted when empty).
func (a *testApp) do(method, url, body, userID string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestHealth_Public(t *testing.T) {
	app := setupApp(t, testToken)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeJSON[map[string]string](t, rr)["status"])
}

func TestMetrics_RecordsRequestsByRoute(t *testing.T) {
	app := setupApp(t, testToken)
	app.seedUser(t, "u1")
	app.do(http.MethodGet, "/me", "", "u1")

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `persona_http_requests_total{method="GET",route="/me",status="200"} 1`)
}

func TestAuth_MissingToken(t *testing.T) {
	app := setupApp(t, testToken)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserHeader, "u1")
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_WrongToken(t *testing.T) {
	app := setupApp(t, testToken)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	req.Header.Set(UserHeader, "u1")
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_UserHeaderRequired(t *testing.T) {
	app := setupApp(t, testToken)

	rr := app.do(http.MethodGet, "/me", "", "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), UserHeader)
}

func TestAuth_EmptyTokenDisablesCheck(t *testing.T) {
	app := setupApp(t, "")
	app.seedUser(t, "u1")

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserHeader, "u1")
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCreateUser(t *testing.T) {
	app := setupApp(t, testToken)

	rr := app.do(http.MethodPost, "/users", `{"id":"u1","name":"Alex","email":"alex@example.com"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = app.do(http.MethodGet, "/me", "", "u1")
	require.Equal(t, http.StatusOK, rr.Code)
	u := decodeJSON[storage.User](t, rr)
	assert.Equal(t, "Alex", u.Name)
	assert.True(t, u.IsActive)

	rr = app.do(http.MethodPost, "/users", `{"id":"u1","name":"Again"}`, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateUser_Validation(t *testing.T) {
	app := setupApp(t, testToken)

	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodPost, "/users", `{"email":"alex@example.com"}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodPost, "/users", `{"name":"Alex","email":"not-an-email"}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodPost, "/users", `{not json`, "").Code)
}

func TestCreateUser_GeneratesID(t *testing.T) {
	app := setupApp(t, testToken)

	rr := app.do(http.MethodPost, "/users", `{"name":"Alex"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.NotEmpty(t, decodeJSON[storage.User](t, rr).ID)
}

func TestPreferences_NotAggregatedYet(t *testing.T) {
	app := setupApp(t, testToken)
	app.seedUser(t, "u1")

	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/preferences", "", "u1").Code)
	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/preferences", "", "ghost").Code)
}

func TestPreferences_PutThenGet(t *testing.T) {
	app := setupApp(t, testToken)
	app.seedUser(t, "u1")

	rr := app.do(http.MethodPut, "/preferences", `{"interests":["chess"],"habits":[],"relationships":[],"tasks":[]}`, "u1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = app.do(http.MethodGet, "/preferences", "", "u1")
	require.Equal(t, http.StatusOK, rr.Code)
	prefs := decodeJSON[storage.UserPreferences](t, rr)
	assert.Equal(t, []string{"chess"}, prefs.Interests)
	assert.False(t, prefs.LastUpdated.IsZero())

	assert.Equal(t, http.StatusNotFound, app.do(http.MethodPut, "/preferences", `{}`, "ghost").Code)
}

func TestRebuild(t *testing.T) {
	app := setupApp(t, testToken)
	app.seedUser(t, "u1")

	rr := app.do(http.MethodPost, "/preferences/rebuild", "", "u1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	prefs := decodeJSON[storage.UserPreferences](t, rr)
	assert.NotNil(t, prefs.Interests)
	assert.Empty(t, prefs.Interests)

	assert.Equal(t, http.StatusNotFound, app.do(http.MethodPost, "/preferences/rebuild", "", "ghost").Code)
}

func TestInsights_EmptyArray(t *testing.T) {
	app := setupApp(t, testToken)
	app.seedUser(t, "u1")

	rr := app.do(http.MethodGet, "/insights", "", "u1")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}
