package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/feed"
	"github.com/lysyi3m/rss-planner/app/metrics"
	"github.com/lysyi3m/rss-planner/app/tasks"
	"github.com/lysyi3m/rss-planner/app/webhook"
)

const testAPIKey = "secret-key"

type fakeValidator struct {
	err error
}

func (v *fakeValidator) Validate(_ context.Context, rawURL string) (*feed.ValidationResult, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &feed.ValidationResult{Valid: true, Type: feed.DialectRSS, Title: "Feed at " + rawURL, ItemCount: 3}, nil
}

type fakeScheduler struct {
	mu         sync.Mutex
	feeds      []int64
	due        int
	enqueueErr error
}

func (s *fakeScheduler) EnqueueTask(tasks.TaskInterface) error { return nil }

func (s *fakeScheduler) EnqueueFeed(f database.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.feeds = append(s.feeds, f.ID)
	return nil
}

func (s *fakeScheduler) EnqueueDue(context.Context) (int, error) {
	return s.due, nil
}

type fakeDispatcher struct {
	payloads []webhook.ContentPayload
	err      error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, webhookID int64, payload webhook.ContentPayload) (*webhook.DispatchResult, error) {
	d.payloads = append(d.payloads, payload)
	if d.err != nil {
		return nil, d.err
	}
	return &webhook.DispatchResult{ExecutionID: "exec-test", WebhookID: webhookID, StatusCode: http.StatusOK}, nil
}

type testEnv struct {
	router     *gin.Engine
	feeds      database.FeedRepository
	webhooks   database.WebhookRepository
	rules      database.RuleRepository
	executions database.ExecutionRepository
	logs       database.LogRepository
	validator  *fakeValidator
	scheduler  *fakeScheduler
	dispatcher *fakeDispatcher
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = database.MigrateUp(db)
	require.NoError(t, err)

	env := &testEnv{
		feeds:      database.NewFeedRepository(db),
		webhooks:   database.NewWebhookRepository(db),
		rules:      database.NewRuleRepository(db),
		executions: database.NewExecutionRepository(db),
		logs:       database.NewLogRepository(db),
		validator:  &fakeValidator{},
		scheduler:  &fakeScheduler{},
		dispatcher: &fakeDispatcher{},
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	content := database.NewContentStore(db)

	handler := NewHandler(Deps{
		Feeds:      env.feeds,
		Webhooks:   env.webhooks,
		Rules:      env.rules,
		Executions: env.executions,
		Logs:       env.logs,
		Validator:  env.validator,
		Dispatcher: env.dispatcher,
		Callbacks:  webhook.NewCallbackHandler(env.webhooks, env.executions, content, nil, m),
		Scheduler:  env.scheduler,
		Version:    "test",
	})
	env.router = NewServer(handler, apiKey, registry)
	return env
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) admin(method, path, body string) *httptest.ResponseRecorder {
	return e.do(method, path, body, "X-API-Key", testAPIKey)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestServer_AdminAuthentication(t *testing.T) {
	env := newTestEnv(t, testAPIKey)

	tests := []struct {
		name    string
		headers []string
		status  int
	}{
		{"missing key", nil, http.StatusUnauthorized},
		{"wrong key", []string{"X-API-Key", "nope"}, http.StatusUnauthorized},
		{"header key", []string{"X-API-Key", testAPIKey}, http.StatusOK},
		{"bearer token", []string{"Authorization", "Bearer " + testAPIKey}, http.StatusOK},
		{"wrong bearer", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/feeds", "", tt.headers...)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestServer_AdminDisabledWithoutKey(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(http.MethodGet, "/api/feeds", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	root := decode(t, env.do(http.MethodGet, "/", ""))
	assert.Equal(t, "RSS Planner", root["service"])
	assert.Equal(t, false, root["api_status"].(map[string]any)["enabled"])
}

func TestServer_PublicEndpoints(t *testing.T) {
	env := newTestEnv(t, testAPIKey)

	health := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, health.Code)
	body := decode(t, health)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["feeds"])

	m := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "rss_planner_")

	options := env.do(http.MethodOptions, "/api/feeds", "")
	assert.Equal(t, http.StatusNoContent, options.Code)
	assert.Contains(t, options.Header().Get("Access-Control-Allow-Headers"), "X-Auth-Token")

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodGet, "/favicon.ico", "").Code)
}

func TestFeeds_CreateValidatesAndQueues(t *testing.T) {
	env := newTestEnv(t, testAPIKey)

	w := env.admin(http.MethodPost, "/api/feeds", `{"name":"Go Blog","url":"https://go.dev/blog/feed.atom","default_category":"Tech"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := int64(created["id"].(float64))
	assert.Equal(t, "Tech", created["default_category"])
	assert.Equal(t, []int64{id}, env.scheduler.feeds)

	dup := env.admin(http.MethodPost, "/api/feeds", `{"name":"Again","url":"https://go.dev/blog/feed.atom"}`)
	assert.Equal(t, http.StatusConflict, dup.Code)

	missing := env.admin(http.MethodPost, "/api/feeds", `{"name":"No URL"}`)
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	env.validator.err = &feed.ValidationError{Code: feed.ValidationInvalidXML, Message: "Invalid XML format"}
	invalid := env.admin(http.MethodPost, "/api/feeds", `{"name":"Broken","url":"https://broken.example.com/feed"}`)
	require.Equal(t, http.StatusUnprocessableEntity, invalid.Code)
	body := decode(t, invalid)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "invalid_xml", body["code"])

	stored, err := env.feeds.GetFeedByURL(context.Background(), "https://broken.example.com/feed")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestFeeds_Lifecycle(t *testing.T) {
	env := newTestEnv(t, testAPIKey)
	ctx := context.Background()

	f := &database.Feed{Name: "Example", URL: "https://example.com/feed"}
	_, err := env.feeds.CreateFeed(ctx, f)
	require.NoError(t, err)
	path := "/api/feeds/" + jsonID(f.ID)

	got := env.admin(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "Example", decode(t, got)["name"])

	updated := env.admin(http.MethodPut, path, `{"name":"Renamed","url":"https://example.com/feed","polling_interval":600}`)
	require.Equal(t, http.StatusOK, updated.Code, updated.Body.String())
	stored, err := env.feeds.GetFeed(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, 600, stored.PollingInterval)

	_, _, err = env.feeds.RecordFetchError(ctx, f.ID, "HTTP 500")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, env.admin(http.MethodPost, path+"/activate", "").Code)
	stored, err = env.feeds.GetFeed(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ErrorCount)

	assert.Equal(t, http.StatusAccepted, env.admin(http.MethodPost, path+"/fetch", "").Code)
	env.scheduler.enqueueErr = tasks.ErrAlreadyQueued
	assert.Equal(t, http.StatusConflict, env.admin(http.MethodPost, path+"/fetch", "").Code)

	assert.Equal(t, http.StatusOK, env.admin(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, env.admin(http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusNotFound, env.admin(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.admin(http.MethodGet, "/api/feeds/abc", "").Code)
}

func TestFeeds_Validate(t *testing.T) {
	env := newTestEnv(t, testAPIKey)

	ok := env.admin(http.MethodPost, "/api/feeds/validate", `{"url":"https://example.com/rss"}`)
	require.Equal(t, http.StatusOK, ok.Code)
	body := decode(t, ok)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "rss", body["type"])

	assert.Equal(t, http.StatusBadRequest, env.admin(http.MethodPost, "/api/feeds/validate", `{}`).Code)
}

func TestWebhooks_CreateTestAndStats(t *testing.T) {
	env := newTestEnv(t, testAPIKey)

	invalid := env.admin(http.MethodPost, "/api/webhooks", `{"name":"n8n","url":"https://n8n.example.com/hook","processing_type":"summarize"}`)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	w := env.admin(http.MethodPost, "/api/webhooks", `{"name":"n8n","url":"https://n8n.example.com/hook","processing_type":"seo_optimize"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Len(t, created["auth_token"], webhook.TokenLength)
	assert.Equal(t, true, created["active"])
	path := "/api/webhooks/" + jsonID(int64(created["id"].(float64)))

	test := env.admin(http.MethodPost, path+"/test", "")
	require.Equal(t, http.StatusOK, test.Code, test.Body.String())
	require.Len(t, env.dispatcher.payloads, 1)
	payload := env.dispatcher.payloads[0]
	assert.Zero(t, payload.ItemID)
	assert.Equal(t, testMessage, payload.Content)
	assert.Equal(t, true, payload.Metadata["test"])

	env.dispatcher.err = &webhook.DispatchError{Kind: webhook.DispatchHTTP, StatusCode: 500, ExecutionID: "exec-2"}
	failed := env.admin(http.MethodPost, path+"/test", "")
	require.Equal(t, http.StatusBadGateway, failed.Code)
	assert.Equal(t, "exec-2", decode(t, failed)["execution_id"])

	stats := env.admin(http.MethodGet, path+"/stats", "")
	require.Equal(t, http.StatusOK, stats.Code)
	assert.Contains(t, decode(t, stats), "executions")

	list := decode(t, env.admin(http.MethodGet, "/api/webhooks?active=true", ""))
	assert.EqualValues(t, 1, list["total"])

	assert.Equal(t, http.StatusOK, env.admin(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, env.admin(http.MethodPost, path+"/test", "").Code)
}

func TestRules_Lifecycle(t *testing.T) {
	env := newTestEnv(t, testAPIKey)

	bad := env.admin(http.MethodPost, "/api/rules", `{"name":"broken","conditions":[{"type":"mystery"}]}`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	noWebhook := env.admin(http.MethodPost, "/api/rules", `{"name":"send","actions":[{"type":"send_to_webhook"}]}`)
	assert.Equal(t, http.StatusBadRequest, noWebhook.Code)

	w := env.admin(http.MethodPost, "/api/rules", `{
		"name": "go posts",
		"conditions": [{"type": "title_condition", "operator": "contains", "value": "go"}],
		"actions": [{"type": "assign_category", "value": "Golang"}]
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.EqualValues(t, 10, created["priority"])
	assert.Equal(t, true, created["active"])
	path := "/api/rules/" + jsonID(int64(created["id"].(float64)))

	toggled := decode(t, env.admin(http.MethodPost, path+"/toggle", ""))
	assert.Equal(t, false, toggled["active"])

	updated := env.admin(http.MethodPut, path, `{"name":"go posts","priority":3,"conditions":[],"actions":[]}`)
	require.Equal(t, http.StatusOK, updated.Code, updated.Body.String())
	body := decode(t, updated)
	assert.EqualValues(t, 3, body["priority"])
	assert.Equal(t, "[]", body["conditions"])
	assert.Equal(t, false, body["active"])

	list := decode(t, env.admin(http.MethodGet, "/api/rules", ""))
	assert.EqualValues(t, 1, list["total"])

	assert.Equal(t, http.StatusOK, env.admin(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, env.admin(http.MethodPut, path, `{"name":"gone"}`).Code)
	assert.Equal(t, http.StatusNotFound, env.admin(http.MethodPost, path+"/toggle", "").Code)
}

func TestRules_DryRun(t *testing.T) {
	env := newTestEnv(t, testAPIKey)

	w := env.admin(http.MethodPost, "/api/rules/test", `{
		"conditions": [
			{"type": "title_condition", "operator": "contains", "value": "release"},
			{"type": "category_condition", "operator": "contains", "value": "go"}
		],
		"actions": [{"type": "assign_tags", "value": "go, releases"}],
		"sample": {"title": "Go 1.24 Release", "content": "<p>Notes</p>", "categories": ["Go"]}
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report struct {
		Matched    bool             `json:"matched"`
		Conditions []map[string]any `json:"conditions"`
		Actions    []string         `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Matched)
	assert.Len(t, report.Conditions, 2)
	assert.Equal(t, []string{"Would assign tags: go, releases"}, report.Actions)

	invalid := env.admin(http.MethodPost, "/api/rules/test", `{"conditions":[{"type":"mystery"}]}`)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
}

func TestWebhookCallback(t *testing.T) {
	env := newTestEnv(t, testAPIKey)
	ctx := context.Background()

	hook := &database.Webhook{Name: "n8n", URL: "https://n8n.example.com/hook", AuthToken: "callback-token", Active: true}
	_, err := env.webhooks.CreateWebhook(ctx, hook)
	require.NoError(t, err)
	_, err = env.executions.CreateExecution(ctx, &database.Execution{WebhookID: hook.ID, ExecutionID: "exec-1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{"malformed body", "callback-token", `{`, http.StatusBadRequest},
		{"malformed body without token", "", `{`, http.StatusUnauthorized},
		{"malformed body with wrong token", "other-token", `not json`, http.StatusUnauthorized},
		{"missing token", "", `{"execution_id":"exec-1"}`, http.StatusUnauthorized},
		{"wrong token", "other-token", `{"execution_id":"exec-1"}`, http.StatusUnauthorized},
		{"missing execution id", "callback-token", `{"status":"success"}`, http.StatusBadRequest},
		{"unknown execution", "callback-token", `{"execution_id":"exec-404"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/webhook/callback", tt.body, "X-Auth-Token", tt.token)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, false, decode(t, w)["success"])
		})
	}

	ok := env.do(http.MethodPost, "/webhook/callback", `{"execution_id":"exec-1","status":"success","processing_time_ms":900}`,
		"X-Auth-Token", "callback-token")
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	body := decode(t, ok)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["duplicate"])

	again := env.do(http.MethodPost, "/webhook/callback", `{"execution_id":"exec-1","status":"error","error":"late"}`,
		"X-Auth-Token", "callback-token")
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, true, decode(t, again)["duplicate"])

	execution, err := env.executions.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, database.ExecutionSuccess, execution.Status)
	assert.EqualValues(t, 900, execution.ProcessingTimeMs)

	_, err = env.executions.CreateExecution(ctx, &database.Execution{WebhookID: hook.ID, ExecutionID: "exec-2"})
	require.NoError(t, err)
	loose := env.do(http.MethodPost, "/webhook/callback",
		`{"execution_id":"exec-2","error":{"code":429,"message":"quota"},"processing_time_ms":12.7}`,
		"X-Auth-Token", "callback-token")
	require.Equal(t, http.StatusOK, loose.Code, loose.Body.String())

	execution, err = env.executions.GetExecution(ctx, "exec-2")
	require.NoError(t, err)
	assert.Equal(t, database.ExecutionError, execution.Status)
	assert.Equal(t, `{"code":429,"message":"quota"}`, execution.ErrorMessage)
	assert.EqualValues(t, 12, execution.ProcessingTimeMs)
}

func TestExecutionsLogsAndFetchDue(t *testing.T) {
	env := newTestEnv(t, testAPIKey)
	ctx := context.Background()

	hook := &database.Webhook{Name: "n8n", URL: "https://n8n.example.com/hook", AuthToken: "token", Active: true}
	_, err := env.webhooks.CreateWebhook(ctx, hook)
	require.NoError(t, err)
	for _, id := range []string{"exec-a", "exec-b"} {
		_, err := env.executions.CreateExecution(ctx, &database.Execution{WebhookID: hook.ID, ExecutionID: id})
		require.NoError(t, err)
	}
	_, err = env.executions.MarkExecutionFailed(ctx, "exec-b", "HTTP 500: boom")
	require.NoError(t, err)
	require.NoError(t, env.logs.InsertLog(ctx, &database.LogEntry{Level: database.LogError, Context: "webhook", Message: "boom"}))

	all := decode(t, env.admin(http.MethodGet, "/api/executions", ""))
	assert.EqualValues(t, 2, all["total"])

	failed := decode(t, env.admin(http.MethodGet, "/api/executions?status=error&webhook_id="+jsonID(hook.ID), ""))
	assert.EqualValues(t, 1, failed["total"])

	logs := decode(t, env.admin(http.MethodGet, "/api/logs?level=error", ""))
	assert.EqualValues(t, 1, logs["total"])

	env.scheduler.due = 3
	fetch := env.admin(http.MethodPost, "/api/fetch", "")
	require.Equal(t, http.StatusAccepted, fetch.Code)
	assert.EqualValues(t, 3, decode(t, fetch)["queued"])
}

func TestRespondMutationError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tt := range []struct {
		err    error
		status int
	}{
		{database.ErrNotFound, http.StatusNotFound},
		{errors.New("disk full"), http.StatusInternalServerError},
	} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondMutationError(c, "test", tt.err)
		assert.Equal(t, tt.status, w.Code)
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
