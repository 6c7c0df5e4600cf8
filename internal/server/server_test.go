package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"streakline/internal/calendar"
	"streakline/internal/db"
	"streakline/internal/domain"
	"streakline/internal/engine"
	"streakline/internal/errs"
	"streakline/internal/events"
	"streakline/internal/history"
	"streakline/internal/migrate"
	"streakline/internal/watchdog"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

type staticWatchdog struct{ status watchdog.Status }

func (s staticWatchdog) Status() watchdog.Status { return s.status }

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	cfg.Engine = engine.New(conn, history.Reader{}, nil, nil)

	handler, err := New(cfg)
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ln)
	}()
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: cfg.Engine,
		client: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
		close: func() {
			srv.Shutdown(context.Background())
			<-done
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func seedRun(t *testing.T, e engine.Engine, id, kind, status, started string) {
	t.Helper()
	ctx := context.Background()
	finished := started
	run := domain.Run{ID: id, Kind: kind, RepoPath: "/src/notes", Status: domain.RunRunning, StartedAt: started, Dates: 2}
	require.NoError(t, e.Repo.InsertRun(ctx, nil, run))
	run.Status = status
	run.FinishedAt = &finished
	run.Commits = 3
	run.Succeeded = 1
	run.Failed = 1
	require.NoError(t, e.Repo.FinishRun(ctx, nil, run))
	require.NoError(t, e.Repo.InsertResults(ctx, nil, id, []domain.DateResult{
		{Date: calendar.MustParse("2023-09-08"), Requested: 3, Created: 3, Status: domain.StatusSuccess, CommitIDs: []string{"a", "b", "c"}},
		{Date: calendar.MustParse("2023-09-09"), Requested: 2, Created: 0, Status: domain.StatusFailed, Error: "boom"},
	}))
	require.NoError(t, e.Events.Append(ctx, nil, events.RunFinished, id, events.EventPayload{"status": status}))
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t, Config{Auth: AuthConfig{JWTSecret: "s3cret"}, Version: "1.2.3"})

	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, string(body))
}

func TestRunsEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{})
	seedRun(t, srv.Engine, "run-a", domain.KindBulk, domain.RunPartial, "2023-09-01T10:00:00Z")
	seedRun(t, srv.Engine, "run-b", domain.KindFill, domain.RunSuccess, "2023-09-02T10:00:00Z")

	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var list runList
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "run-b", list.Items[0].ID, "newest first")

	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs?kind=bulk&limit=5", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, domain.RunPartial, list.Items[0].Status)

	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs/run-a", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var detail engine.RunDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, 3, detail.Commits)
	require.Len(t, detail.Results, 2)
	assert.Equal(t, calendar.MustParse("2023-09-08"), detail.Results[0].Date)
	assert.Equal(t, []string{"a", "b", "c"}, detail.Results[0].CommitIDs)
	assert.Equal(t, "boom", detail.Results[1].Error)

	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs/missing", nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	var apiErr struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, "not_found", apiErr.Error.Code)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs?kind=nope", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestEventsPaging(t *testing.T) {
	srv := newTestServer(t, Config{})
	for i := 0; i < 5; i++ {
		require.NoError(t, srv.Engine.Events.Append(context.Background(), nil, events.DateSettled, "run-x", events.EventPayload{"i": i}))
	}
	require.NoError(t, srv.Engine.Events.Append(context.Background(), nil, events.HistoryError, "", nil))

	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?run_id=run-x&limit=3", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 3)
	assert.Equal(t, float64(4), page.Items[0].Payload["i"])
	require.NotEmpty(t, page.NextCursor)

	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?run_id=run-x&limit=3&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var last paginatedEvents
	require.NoError(t, json.Unmarshal(body, &last))
	require.Len(t, last.Items, 2)
	assert.Equal(t, float64(1), last.Items[0].Payload["i"])
	assert.Empty(t, last.NextCursor)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestWatchdogEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})
	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/watchdog", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	next := time.Date(2023, 10, 1, 10, 0, 0, 0, time.UTC)
	srv = newTestServer(t, Config{Watchdog: staticWatchdog{watchdog.Status{
		State: watchdog.StateIdle, Hour: 10, NextTrigger: &next, LastOutcome: watchdog.OutcomeCovered, Checks: 4,
	}}})
	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/watchdog", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var st watchdog.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, watchdog.StateIdle, st.State)
	assert.Equal(t, 4, st.Checks)
	require.NotNil(t, st.NextTrigger)
	assert.True(t, st.NextTrigger.Equal(next))
}

func TestBearerAuth(t *testing.T) {
	const secret = "s3cret"
	srv := newTestServer(t, Config{Auth: AuthConfig{JWTSecret: secret}})

	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs", map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	sign := func(key string, claims jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return "Bearer " + s
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs", map[string]string{
		"Authorization": sign("wrong", jwt.RegisteredClaims{Subject: "me"}),
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs", map[string]string{
		"Authorization": sign(secret, jwt.RegisteredClaims{Subject: "me", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}),
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, "expired")

	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/runs", map[string]string{
		"Authorization": sign(secret, jwt.RegisteredClaims{Subject: "me"}),
	})
	assert.Equal(t, http.StatusOK, res.StatusCode, string(body))
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t, Config{Auth: AuthConfig{JWTSecret: "x"}})
	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/openapi.json", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/v0/health", "/v0/runs", "/v0/runs/{run_id}", "/v0/events", "/v0/watchdog"} {
		assert.Contains(t, paths, p)
	}
}

func TestNewRejectsBadBasePath(t *testing.T) {
	for _, bp := range []string{"/", "/v0/", "/v0/../admin", "//v0"} {
		_, err := New(Config{BasePath: bp})
		assert.ErrorIs(t, err, errs.ErrInvalidConfig, bp)
	}
	_, err := New(Config{BasePath: "api/v1"})
	assert.NoError(t, err)
}
