package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/transcript"
	"github.com/ent0n29/voicerelay/internal/upstream"
)

type fakeUpstream struct {
	*httptest.Server
	calls    atomic.Int32
	lastAuth atomic.Value
	lastUser atomic.Value
}

func newFakeUpstream(t *testing.T, handler http.HandlerFunc) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		f.lastUser.Store(r.Header.Get("x-reevo-user-id"))
		handler(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func linesHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for _, l := range lines {
			_, _ = io.WriteString(w, l)
			w.(http.Flusher).Flush()
		}
	}
}

type testEnv struct {
	server *httptest.Server
	store  *transcript.InMemoryStore
}

func newTestEnv(t *testing.T, upstreamURL string, mutate func(*config.Config)) testEnv {
	t.Helper()
	cfg := config.Config{
		Route:              config.RouteProxy,
		TenantHeaderPrefix: "x-reevo",
		ChunkWords:         2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	metrics := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	client := upstream.NewHTTPClient(upstream.HTTPOptions{URL: upstreamURL, SendIdentity: true})
	store := transcript.NewInMemoryStore(0)
	var transcripts transcript.Store
	if cfg.TranscriptsEnabled {
		transcripts = store
	}
	pipeline := relay.New(client, relay.Options{ChunkWords: cfg.ChunkWords}, metrics, transcripts, nil)
	srv := New(cfg, pipeline, transcripts, metrics, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testEnv{server: ts, store: store}
}

const helloBody = `{"messages":[{"role":"user","content":"hello"}]}`

func postChat(t *testing.T, url, auth, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/chat", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeError(t *testing.T, res *http.Response) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestChatRejectsBadCredentialsWithoutUpstreamCall(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("never")))
	env := newTestEnv(t, up.URL, nil)

	tests := []struct {
		name string
		auth string
		code string
	}{
		{name: "missing", auth: "", code: "missing_credential"},
		{name: "wrong scheme", auth: "Basic dXNlcjpwYXNz", code: "malformed_credential"},
		{name: "scheme only", auth: "Bearer", code: "malformed_credential"},
		{name: "bad characters", auth: "Bearer a,b", code: "malformed_credential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := postChat(t, env.server.URL, tt.auth, helloBody, nil)
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
			assert.Contains(t, res.Header.Get("WWW-Authenticate"), "Bearer")
			assert.Equal(t, tt.code, decodeError(t, res).Code)
		})
	}
	assert.Zero(t, up.calls.Load())
}

func TestChatRejectsInvalidBodies(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("never")))
	env := newTestEnv(t, up.URL, nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "empty", body: "", code: "empty_body"},
		{name: "not json", body: "{", code: "invalid_json"},
		{name: "no messages", body: `{"messages":[]}`, code: "invalid_messages"},
		{name: "unknown role", body: `{"messages":[{"role":"robot","content":"hi"}]}`, code: "invalid_messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := postChat(t, env.server.URL, "Bearer tok", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, res).Code)
		})
	}
	assert.Zero(t, up.calls.Load())
}

func TestChatStreamsNormalizedChunks(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(
		`2:[{"chatId":"c1"}]`+"\n",
		`0:"**Hello** there "`+"\n",
		`0:"friend, how are"`+"\n",
		`0:" you?"`+"\n",
		`d:{"finishReason":"stop"}`+"\n",
	))
	env := newTestEnv(t, up.URL, nil)

	res := postChat(t, env.server.URL, "Bearer tok", helloBody, map[string]string{"x-reevo-user-id": "u1"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", res.Header.Get("Content-Type"))

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "Hello there friend, how are you?", string(body))
	assert.Equal(t, int32(1), up.calls.Load())
	assert.Equal(t, "Bearer tok", up.lastAuth.Load())
	assert.Equal(t, "u1", up.lastUser.Load())
}

func TestChatUpstreamFailureIsStillSuccess(t *testing.T) {
	up := newFakeUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "server error", http.StatusInternalServerError)
	})
	env := newTestEnv(t, up.URL, nil)

	res := postChat(t, env.server.URL, "Bearer tok", helloBody, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "500")
	assert.Contains(t, string(body), "server error")
}

func TestChatRateLimited(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("ok")))
	env := newTestEnv(t, up.URL, func(c *config.Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})

	first := postChat(t, env.server.URL, "Bearer tok", helloBody, nil)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := postChat(t, env.server.URL, "Bearer tok", helloBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, second).Code)

	other := postChat(t, env.server.URL, "Bearer other", helloBody, nil)
	assert.Equal(t, http.StatusOK, other.StatusCode)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/v1/chat/ws"
}

func TestChatWebsocketTurn(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("# Title\none two three")))
	env := newTestEnv(t, up.URL, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer tok")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server.URL), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(protocol.ClientChatRequest{
		Type:     protocol.TypeChatRequest,
		TurnID:   "turn-1",
		Messages: []protocol.ChatMessage{{Role: protocol.RoleUser, Content: "hi"}},
	}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var text strings.Builder
	var end protocol.TurnEnd
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == protocol.TypeTurnEnd {
			require.NoError(t, json.Unmarshal(data, &end))
			break
		}
		require.Equal(t, protocol.TypeTextChunk, env.Type)
		var chunk protocol.TextChunk
		require.NoError(t, json.Unmarshal(data, &chunk))
		assert.Equal(t, "turn-1", chunk.TurnID)
		text.WriteString(chunk.Text)
	}
	assert.Equal(t, "Title\none two three", text.String())
	assert.Equal(t, "turn-1", end.TurnID)
	assert.Equal(t, string(relay.OutcomeOK), end.Reason)
	assert.Equal(t, 2, end.Chunks)
}

func TestChatWebsocketRejectsInvalidMessage(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("never")))
	env := newTestEnv(t, up.URL, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer tok")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server.URL), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_request","messages":[]}`)))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, protocol.TypeErrorEvent, ev.Type)
	assert.Equal(t, "invalid_client_message", ev.Code)
	assert.Zero(t, up.calls.Load())
}

func TestChatWebsocketRequiresCredential(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("never")))
	env := newTestEnv(t, up.URL, nil)

	_, res, err := websocket.DefaultDialer.Dial(wsURL(env.server.URL), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestTranscriptsEndpoint(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("Sure thing.")))
	env := newTestEnv(t, up.URL, func(c *config.Config) { c.TranscriptsEnabled = true })

	res := postChat(t, env.server.URL, "Bearer tok", helloBody, map[string]string{"x-reevo-user-id": "u1"})
	_, _ = io.ReadAll(res.Body)
	require.Equal(t, http.StatusOK, res.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/v1/transcripts/u1?limit=10", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("x-reevo-user-id", "u1")
	listRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listRes.Body.Close()
	require.Equal(t, http.StatusOK, listRes.StatusCode)

	var payload struct {
		UserID string                  `json:"user_id"`
		Turns  []transcript.TurnRecord `json:"turns"`
	}
	require.NoError(t, json.NewDecoder(listRes.Body).Decode(&payload))
	assert.Equal(t, "u1", payload.UserID)
	require.Len(t, payload.Turns, 2)
	assert.Equal(t, "hello", payload.Turns[0].Content)
	assert.Equal(t, "Sure thing.", payload.Turns[1].Content)

	unauth, err := http.Get(env.server.URL + "/v1/transcripts/u1")
	require.NoError(t, err)
	defer unauth.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, unauth.StatusCode)
}

func getTranscripts(t *testing.T, baseURL, userID string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/transcripts/"+userID, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestTranscriptsOnlyReadableByOwner(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("Your salary is secret.")))
	env := newTestEnv(t, up.URL, func(c *config.Config) { c.TranscriptsEnabled = true })

	res := postChat(t, env.server.URL, "Bearer alice-token", helloBody, map[string]string{
		"x-reevo-user-id": "alice",
		"x-reevo-org-id":  "acme",
	})
	_, _ = io.ReadAll(res.Body)
	require.Equal(t, http.StatusOK, res.StatusCode)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "other user", headers: map[string]string{"Authorization": "Bearer anything-at-all", "x-reevo-user-id": "mallory"}},
		{name: "no user header", headers: map[string]string{"Authorization": "Bearer anything-at-all"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := getTranscripts(t, env.server.URL, "alice", tc.headers)
			assert.Equal(t, http.StatusForbidden, res.StatusCode)
			body, err := io.ReadAll(res.Body)
			require.NoError(t, err)
			assert.NotContains(t, string(body), "salary")
		})
	}

	otherOrg := getTranscripts(t, env.server.URL, "alice", map[string]string{
		"Authorization":   "Bearer alice-token",
		"x-reevo-user-id": "alice",
		"x-reevo-org-id":  "globex",
	})
	require.Equal(t, http.StatusOK, otherOrg.StatusCode)
	var payload struct {
		Turns []transcript.TurnRecord `json:"turns"`
	}
	require.NoError(t, json.NewDecoder(otherOrg.Body).Decode(&payload))
	assert.Empty(t, payload.Turns)

	own := getTranscripts(t, env.server.URL, "alice", map[string]string{
		"Authorization":   "Bearer alice-token",
		"x-reevo-user-id": "alice",
		"x-reevo-org-id":  "acme",
	})
	require.Equal(t, http.StatusOK, own.StatusCode)
	require.NoError(t, json.NewDecoder(own.Body).Decode(&payload))
	require.Len(t, payload.Turns, 2)
	assert.Equal(t, "Your salary is secret.", payload.Turns[1].Content)
}

func TestRecovererAfterStreamStarted(t *testing.T) {
	handler := recoverer(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "partial ")
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial ", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestRecovererBeforeWrite(t *testing.T) {
	handler := recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var out errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "internal", out.Code)
}

func TestStatusRecorderIgnoresSecondWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusAccepted)
	sr.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusAccepted, sr.status)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTranscriptsDisabled(t *testing.T) {
	up := newFakeUpstream(t, linesHandler())
	env := newTestEnv(t, up.URL, nil)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/v1/transcripts/u1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthAndPerfEndpoints(t *testing.T) {
	up := newFakeUpstream(t, linesHandler(protocol.EncodeText("fine")))
	env := newTestEnv(t, up.URL, nil)

	res := postChat(t, env.server.URL, "Bearer tok", helloBody, nil)
	_, _ = io.ReadAll(res.Body)

	health, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	var h map[string]any
	require.NoError(t, json.NewDecoder(health.Body).Decode(&h))
	assert.Equal(t, "ok", h["status"])
	assert.Equal(t, "proxy", h["route"])
	assert.NotEmpty(t, health.Header.Get("X-Request-Id"))

	perf, err := http.Get(env.server.URL + "/v1/perf/latency")
	require.NoError(t, err)
	defer perf.Body.Close()
	var snap observability.StageSnapshot
	require.NoError(t, json.NewDecoder(perf.Body).Decode(&snap))
	assert.NotEmpty(t, snap.Stages)
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	l := newRateLimiter(1, 1)
	now := time.Now()
	assert.True(t, l.allow("a", now))
	assert.False(t, l.allow("a", now))
	assert.Equal(t, 0, l.sweep(now.Add(time.Minute)))
	assert.Equal(t, 1, l.sweep(now.Add(limiterIdleTTL+time.Second)))
	assert.Nil(t, newRateLimiter(0, 10))
}
