package aigf

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const (
	testAdminUsername = "admin"
	testAdminPassword = "correct horse battery staple"
)

type apiClient struct {
	t      testing.TB
	srv    *httptest.Server
	client *http.Client
}

// newTestAPI starts a bot, stores the test admin credentials, and returns
// a client for the bot's admin API. Login rate limiting is disabled.
func newTestAPI(t testing.TB) (*AIGF, *stubCompleter, *mockDiscordSession, *apiClient) {
	t.Helper()
	bot, completer, session := newTestAIGF(t)
	require.NoError(
		t,
		SetAdminCredentials(context.Background(), bot.writeDB, testAdminUsername, testAdminPassword),
	)
	bot.api.loginRequestLimiter.SetLimit(rate.Inf)

	srv := httptest.NewServer(bot.api.engine)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := srv.Client()
	client.Jar = jar
	return bot, completer, session, &apiClient{t: t, srv: srv, client: client}
}

func (c *apiClient) do(method string, path string, body any) (int, []byte) {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.srv.URL+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, buf.Bytes()
}

func (c *apiClient) login() {
	c.t.Helper()
	status, body := c.do(
		http.MethodPost,
		apiPathLogin,
		userLogin{Username: testAdminUsername, Password: testAdminPassword},
	)
	require.Equal(c.t, http.StatusOK, status, string(body))
}

func decode[T any](t testing.TB, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestAPI_Login(t *testing.T) {
	t.Parallel()
	_, _, _, client := newTestAPI(t)

	testCases := []struct {
		name   string
		body   any
		status int
	}{
		{
			name:   "missing password",
			body:   map[string]string{"username": testAdminUsername},
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong password",
			body:   userLogin{Username: testAdminUsername, Password: "hunter2"},
			status: http.StatusUnauthorized,
		},
		{
			name:   "unknown user",
			body:   userLogin{Username: "root", Password: testAdminPassword},
			status: http.StatusUnauthorized,
		},
	}

	for _, tc := range testCases {
		status, body := client.do(http.MethodPost, apiPathLogin, tc.body)
		assert.Equal(t, tc.status, status, "%s: %s", tc.name, body)
	}

	status, _ := client.do(http.MethodGet, apiPrefix+apiPathLoggedIn, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	client.login()
	status, body := client.do(http.MethodGet, apiPrefix+apiPathLoggedIn, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, testAdminUsername, decode[loggedInResponse](t, body).Username)

	status, _ = client.do(http.MethodPost, apiPathLogout, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = client.do(http.MethodGet, apiPrefix+apiPathLoggedIn, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_LoginRateLimited(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	bot.api.loginRequestLimiter.SetLimit(0)
	bot.api.loginRequestLimiter.SetBurst(0)

	status, _ := client.do(
		http.MethodPost,
		apiPathLogin,
		userLogin{Username: testAdminUsername, Password: testAdminPassword},
	)
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestAPI_ChangeAdminPassword(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, SetAdminCredentials(ctx, bot.writeDB, testAdminUsername, "new password"))

	var count int64
	require.NoError(t, bot.db.Model(&AdminCredential{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	status, _ := client.do(
		http.MethodPost,
		apiPathLogin,
		userLogin{Username: testAdminUsername, Password: testAdminPassword},
	)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = client.do(
		http.MethodPost,
		apiPathLogin,
		userLogin{Username: testAdminUsername, Password: "new password"},
	)
	assert.Equal(t, http.StatusOK, status)

	assert.Error(t, SetAdminCredentials(ctx, bot.writeDB, "", "x"))
	assert.Error(t, SetAdminCredentials(ctx, bot.writeDB, "x", ""))
	assert.Error(
		t,
		SetAdminCredentials(ctx, bot.writeDB, string(make([]byte, adminCredentialUsernameMax+1)), "x"),
	)
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	bot.discord.connected.Store(true)

	status, body := client.do(http.MethodGet, apiHealthCheck, nil)
	require.Equal(t, http.StatusOK, status)

	health := decode[healthCheckResponse](t, body)
	assert.True(t, health.Ready)
	assert.False(t, health.Stopping)
	assert.True(t, health.DiscordGatewayConnected)
	assert.Equal(t, 0, health.LoadedSessions)
	assert.False(t, health.LoadedAt.IsZero())
}

func TestAPI_RequiresLogin(t *testing.T) {
	t.Parallel()
	_, _, _, client := newTestAPI(t)

	testCases := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: apiPathSessions},
		{method: http.MethodGet, path: "/sessions/c1"},
		{method: http.MethodGet, path: "/sessions/c1/prompt"},
		{method: http.MethodDelete, path: "/sessions/c1/messages"},
		{method: http.MethodPost, path: "/sessions/c1/reset"},
		{method: http.MethodPost, path: apiPathReload},
		{method: http.MethodPost, path: apiPathRegisterCommands},
		{method: http.MethodPost, path: apiPathQuit},
		{method: http.MethodGet, path: apiPathCompletions},
	}

	for _, tc := range testCases {
		status, body := client.do(tc.method, apiPrefix+tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "%s %s", tc.method, tc.path)
		assert.Equal(t, "unauthorized", decode[httpError](t, body).Error)
	}
}

func TestAPI_Sessions(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	ctx := context.Background()
	client.login()

	for _, id := range []string{"c1", "c2", "c3"} {
		conv, err := bot.conversation(ctx, id)
		require.NoError(t, err)
		_, _, err = conv.Send(ctx, "hi "+id)
		require.NoError(t, err)
	}

	type sessionsPage struct {
		Total    int              `json:"total"`
		Offset   int              `json:"offset"`
		Limit    int              `json:"limit"`
		Sessions []sessionSummary `json:"sessions"`
	}

	testCases := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "default order is descending", want: []string{"c3", "c2", "c1"}},
		{name: "ascending", query: "?order=asc", want: []string{"c1", "c2", "c3"}},
		{name: "limit", query: "?order=asc&limit=2", want: []string{"c1", "c2"}},
		{name: "offset", query: "?order=asc&offset=2", want: []string{"c3"}},
		{name: "offset past the end", query: "?offset=10", want: []string{}},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				status, body := client.do(http.MethodGet, apiPrefix+apiPathSessions+tc.query, nil)
				require.Equal(t, http.StatusOK, status, string(body))

				page := decode[sessionsPage](t, body)
				assert.Equal(t, 3, page.Total)
				ids := []string{}
				for _, s := range page.Sessions {
					ids = append(ids, s.SessionID)
					assert.Equal(t, "User", s.UserName)
					assert.Equal(t, "AI", s.AIName)
					assert.Equal(t, 2, s.MessageCount)
				}
				assert.Equal(t, tc.want, ids)
			},
		)
	}

	status, _ := client.do(http.MethodGet, apiPrefix+apiPathSessions+"?limit=1000", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = client.do(http.MethodGet, apiPrefix+apiPathSessions+"?order=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_Session(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	ctx := context.Background()
	client.login()

	status, body := client.do(http.MethodGet, apiPrefix+"/sessions/c1", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "session not found", decode[httpError](t, body).Error)

	conv, err := bot.conversation(ctx, "c1")
	require.NoError(t, err)
	_, _, err = conv.Send(ctx, "안녕")
	require.NoError(t, err)

	status, body = client.do(http.MethodGet, apiPrefix+"/sessions/c1", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	detail := decode[sessionDetail](t, body)
	assert.Equal(t, "c1", detail.SessionID)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "안녕", detail.Messages[0].Text)
	assert.Equal(t, "answer 0", detail.Messages[1].Text)
	assert.InDelta(t, 0.7, detail.Temperature, 0.0001)
	assert.Contains(t, detail.Transcript, "User: 안녕")

	status, body = client.do(http.MethodGet, apiPrefix+"/sessions/c1/prompt", nil)
	require.Equal(t, http.StatusOK, status)
	prompt := decode[map[string]string](t, body)
	assert.Equal(t, "c1", prompt["session_id"])
	assert.Contains(t, prompt["prompt"], "[Messages]\nUser: 안녕\nAI: answer 0")
}

func TestAPI_ClearAndReset(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	ctx := context.Background()
	client.login()

	conv, err := bot.conversation(ctx, "c1")
	require.NoError(t, err)
	_, _, err = conv.Send(ctx, "안녕")
	require.NoError(t, err)
	_, _, err = conv.Rename(ctx, "Alice", "Bob")
	require.NoError(t, err)

	status, body := client.do(http.MethodDelete, apiPrefix+"/sessions/c1/messages", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "cleared", decode[httpReply](t, body).Message)

	conv, err = bot.conversation(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, conv.Model().Messages)
	assert.Equal(t, "Bob", conv.AIName())

	status, body = client.do(http.MethodPost, apiPrefix+"/sessions/c1/reset", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "reset", decode[httpReply](t, body).Message)

	conv, err = bot.conversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "AI", conv.AIName())
	assert.Equal(t, "User", conv.UserName())

	status, _ = client.do(http.MethodPost, apiPrefix+"/sessions/missing/reset", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_ResetMalformedSession(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	ctx := context.Background()
	client.login()

	require.NoError(
		t,
		os.WriteFile(filepath.Join(bot.config.Cache.Dir, "c1.yaml"), []byte("messages: {"), 0o600),
	)

	status, _ := client.do(http.MethodGet, apiPrefix+"/sessions/c1", nil)
	assert.Equal(t, http.StatusInternalServerError, status)

	status, body := client.do(http.MethodPost, apiPrefix+"/sessions/c1/reset", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "reset", decode[httpReply](t, body).Message)

	status, body = client.do(http.MethodGet, apiPrefix+"/sessions/c1", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	conv, err := bot.conversation(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, conv.Messages())
}

func TestAPI_ReloadAndRegisterCommands(t *testing.T) {
	t.Parallel()
	bot, _, session, client := newTestAPI(t)
	client.login()

	loadedAt := bot.app.Load().loadedAt
	status, body := client.do(http.MethodPost, apiPrefix+apiPathReload, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "reloaded", decode[httpReply](t, body).Message)
	assert.False(t, bot.app.Load().loadedAt.Before(loadedAt))

	before := len(session.Overwrites())
	status, body = client.do(http.MethodPost, apiPrefix+apiPathRegisterCommands, nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Len(t, decode[[]map[string]any](t, body), len(appCommands(bot.app.Load().template.Taxonomy)))
	assert.Len(t, session.Overwrites(), before+1)
}

func TestAPI_CompletionLogs(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	ctx := context.Background()
	client.login()

	for i, id := range []string{"c1", "c2", "c1"} {
		_, err := bot.writeDB.Create(
			ctx,
			&CompletionLog{
				ModelUnixTime: ModelUnixTime{CreatedAt: int64(1000 + i)},
				SessionID:     id,
				Engine:        "gpt-3.5-turbo-instruct",
			},
		)
		require.NoError(t, err)
	}

	type logsPage struct {
		Total int             `json:"total"`
		Logs  []CompletionLog `json:"logs"`
	}

	testCases := []struct {
		name  string
		query string
		total int
		want  []int64
	}{
		{name: "all", total: 3, want: []int64{1002, 1001, 1000}},
		{name: "ascending", query: "?order=asc", total: 3, want: []int64{1000, 1001, 1002}},
		{name: "by session", query: "?session_id=c1", total: 2, want: []int64{1002, 1000}},
		{name: "limit", query: "?limit=1&offset=1", total: 3, want: []int64{1001}},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				status, body := client.do(http.MethodGet, apiPrefix+apiPathCompletions+tc.query, nil)
				require.Equal(t, http.StatusOK, status, string(body))

				page := decode[logsPage](t, body)
				assert.Equal(t, tc.total, page.Total)
				got := []int64{}
				for _, l := range page.Logs {
					got = append(got, l.CreatedAt)
				}
				assert.Equal(t, tc.want, got)
			},
		)
	}
}

func TestAPI_Quit(t *testing.T) {
	t.Parallel()
	bot, _, _, client := newTestAPI(t)
	client.login()

	status, body := client.do(http.MethodPost, apiPrefix+apiPathQuit, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "quitting", decode[httpReply](t, body).Message)
	assert.Eventually(t, bot.stopping.Load, 10*time.Second, 10*time.Millisecond)
}

func TestAPI_RequestID(t *testing.T) {
	t.Parallel()
	_, _, _, client := newTestAPI(t)

	resp, err := client.client.Get(client.srv.URL + apiHealthCheck)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(xRequestIDHeader))
}
