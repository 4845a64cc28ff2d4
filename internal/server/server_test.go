package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roadsight/billboard-proxy/apimodels"
	"github.com/roadsight/billboard-proxy/internal/config"
	"github.com/roadsight/billboard-proxy/internal/metrics"
)

// fakeOpenAI records chat-completion calls and answers with a canned reply.
type fakeOpenAI struct {
	*httptest.Server

	status int
	body   string

	mu       sync.Mutex
	calls    int
	path     string
	auth     string
	received []byte
}

func newFakeOpenAI(t *testing.T, status int, body string) *fakeOpenAI {
	t.Helper()
	f := &fakeOpenAI{status: status, body: body}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodGet {
			// model retrieval used by the readiness probe
			_, _ = w.Write([]byte(`{"id":"gpt-4o","object":"model","created":1715367049,"owned_by":"system"}`))
			return
		}

		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls++
		f.path = r.URL.Path
		f.auth = r.Header.Get("Authorization")
		f.received = b
		f.mu.Unlock()

		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOpenAI) last() (calls int, path, auth string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.path, f.auth
}

func (f *fakeOpenAI) sent(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out map[string]any
	require.NoError(t, json.Unmarshal(f.received, &out))
	return out
}

func testConfig(endpoint, apiKey string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: "0", ShutdownTimeout: time.Second},
		OpenAI: config.OpenAIConfig{
			Provider:    "openai",
			APIKey:      apiKey,
			APIEndpoint: endpoint + "/v1",
		},
		DefaultAction: "analyze",
		Actions: map[string]config.ActionPolicy{
			"analyze":  {Model: "gpt-4o", MaxTokens: 1500, Temperature: 0.3},
			"validate": {Model: "gpt-4o-mini", MaxTokens: 150, Temperature: 0.1},
		},
		CORS:  config.CORSConfig{AllowedOrigins: []string{"*"}},
		Stats: config.StatsConfig{Window: 100},
	}
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const validBody = `{"action":"validate","messages":[{"role":"user","content":"hi"}]}`

func TestAnalyzePreflight(t *testing.T) {
	s := New(testConfig("http://127.0.0.1:1", "sk-test"), metrics.New(10))

	for _, path := range []string{"/", "/api/analyze"} {
		t.Run(path, func(t *testing.T) {
			w := do(s.Handler(), http.MethodOptions, path, "",
				"Origin", "https://dashboard.example.com",
				"Access-Control-Request-Method", "POST")

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Body.String())
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
			assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestAnalyzeMethodNotAllowed(t *testing.T) {
	s := New(testConfig("http://127.0.0.1:1", "sk-test"), metrics.New(10))

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			w := do(s.Handler(), method, "/", "")

			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			assert.JSONEq(t, `{"error":"Method not allowed"}`, w.Body.String())
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestAnalyzeMissingAPIKey(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusOK, `{}`)
	s := New(testConfig(up.URL, ""), metrics.New(10))

	for _, body := range []string{validBody, `{"messages":"not-an-array"}`, `{`, ``} {
		t.Run(body, func(t *testing.T) {
			w := do(s.Handler(), http.MethodPost, "/", body, "Content-Type", "application/json")

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.JSONEq(t, `{"error":"OpenAI API key not configured on server"}`, w.Body.String())
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
	calls, _, _ := up.last()
	assert.Zero(t, calls)
}

func TestAnalyzeInvalidMessages(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusOK, `{}`)
	s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

	for _, body := range []string{
		`{"messages":"not-an-array"}`,
		`{"action":"analyze"}`,
		`{"messages":null}`,
		`[]`,
		`"text"`,
		`42`,
	} {
		t.Run(body, func(t *testing.T) {
			w := do(s.Handler(), http.MethodPost, "/", body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, `{"error":"Missing or invalid messages array"}`, w.Body.String())
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
	calls, _, _ := up.last()
	assert.Zero(t, calls)
}

func TestAnalyzeInvalidField(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusOK, `{}`)
	s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/", `{"action":5,"messages":[]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp apimodels.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid request field", resp.Error)
	assert.Contains(t, resp.Details, "action")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	calls, _, _ := up.last()
	assert.Zero(t, calls)
}

func TestAnalyzeMalformedJSON(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusOK, `{}`)
	s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/", `{"messages": [`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp apimodels.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Internal server error", resp.Error)
	assert.NotEmpty(t, resp.Details)
	calls, _, _ := up.last()
	assert.Zero(t, calls)
}

func TestAnalyzeSuccess(t *testing.T) {
	upstreamBody := `{"id":"chatcmpl-9","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"readability\": 7}"},"finish_reason":"stop"}],  "usage":{"total_tokens":42}}`
	up := newFakeOpenAI(t, http.StatusOK, upstreamBody)
	s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/", validBody, "Content-Type", "application/json")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, upstreamBody, w.Body.String(), "upstream body must be relayed unmodified")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	calls, path, auth := up.last()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer sk-test", auth)

	sent := up.sent(t)
	assert.Equal(t, "gpt-4o-mini", sent["model"])
	assert.Equal(t, 150.0, sent["max_tokens"])
	assert.Equal(t, 0.1, sent["temperature"])
	assert.NotContains(t, sent, "response_format")
}

func TestAnalyzeDefaultsPerAction(t *testing.T) {
	tests := []struct {
		body        string
		model       string
		maxTokens   float64
		temperature float64
	}{
		{`{"action":"analyze","messages":[]}`, "gpt-4o", 1500, 0.3},
		{`{"messages":[]}`, "gpt-4o", 1500, 0.3},
		{`{"action":"validate","messages":[]}`, "gpt-4o-mini", 150, 0.1},
		{`{"action":"validate","model":"gpt-4o","max_tokens":60,"messages":[]}`, "gpt-4o", 60, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			up := newFakeOpenAI(t, http.StatusOK, `{"choices":[]}`)
			s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

			w := do(s.Handler(), http.MethodPost, "/api/analyze", tt.body)
			require.Equal(t, http.StatusOK, w.Code)

			sent := up.sent(t)
			assert.Equal(t, tt.model, sent["model"])
			assert.Equal(t, tt.maxTokens, sent["max_tokens"])
			assert.Equal(t, tt.temperature, sent["temperature"])
		})
	}
}

func TestAnalyzeForwardsResponseFormat(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusOK, `{"choices":[]}`)
	s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/", `{"action":"analyze","messages":[],"response_format":{"type":"json_object"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, map[string]any{"type": "json_object"}, up.sent(t)["response_format"])
}

func TestAnalyzeUpstreamError(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`)
	s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/", validBody)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"OpenAI API error: 429","details":"rate limited"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestAnalyzeUpstreamErrorWithoutMessage(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusBadGateway, `upstream unavailable`)
	s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/", validBody)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"OpenAI API error: 502","details":"Unknown error"}`, w.Body.String())
}

func TestAnalyzeUpstreamUnreachable(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusOK, `{}`)
	endpoint := up.URL
	up.Close()

	s := New(testConfig(endpoint, "sk-test"), metrics.New(10))
	w := do(s.Handler(), http.MethodPost, "/", validBody)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp apimodels.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Internal server error", resp.Error)
	assert.NotEmpty(t, resp.Details)
}

func TestAnalyzeRequiresToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("billboards"), bcrypt.MinCost)
	require.NoError(t, err)

	up := newFakeOpenAI(t, http.StatusOK, `{"choices":[]}`)
	cfg := testConfig(up.URL, "sk-test")
	cfg.Auth = config.AuthConfig{
		Enabled: true,
		Secret:  "0123456789abcdef0123456789abcdef",
		Issuer:  "billboard-proxy",
		TTL:     time.Hour,
		Users:   []config.User{{Email: "planner@example.com", PasswordHash: string(hash)}},
	}
	s := New(cfg, metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/", validBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(s.Handler(), http.MethodPost, "/", validBody, "Authorization", "Bearer forged.token.value")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// preflight is never gated and announces the Authorization header
	w = do(s.Handler(), http.MethodOptions, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))

	w = do(s.Handler(), http.MethodPost, "/api/v1/auth/token", `{"email":"planner@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s.Handler(), http.MethodPost, "/api/v1/auth/token", `{"email":"planner@example.com","password":"billboards"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var tok apimodels.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	assert.Equal(t, "planner@example.com", tok.Claims.Email)

	w = do(s.Handler(), http.MethodPost, "/", validBody, "Authorization", "Bearer "+tok.Token)
	assert.Equal(t, http.StatusOK, w.Code)
	calls, _, _ := up.last()
	assert.Equal(t, 1, calls)
}

func TestTokenDisabled(t *testing.T) {
	s := New(testConfig("http://127.0.0.1:1", "sk-test"), metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/api/v1/auth/token", `{"email":"a@b.c","password":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s := New(testConfig("http://127.0.0.1:1", ""), metrics.New(10))

	w := do(s.Handler(), http.MethodGet, "/api/v1/health", "", "Origin", "https://dashboard.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestReady(t *testing.T) {
	s := New(testConfig("http://127.0.0.1:1", ""), metrics.New(10))
	w := do(s.Handler(), http.MethodGet, "/api/v1/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable","error":"OpenAI API key not configured on server"}`, w.Body.String())

	up := newFakeOpenAI(t, http.StatusOK, `{}`)
	s = New(testConfig(up.URL, "sk-test"), metrics.New(10))
	w = do(s.Handler(), http.MethodGet, "/api/v1/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","model":"gpt-4o"}`, w.Body.String())
}

func TestStats(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusOK, `{"choices":[]}`)
	s := New(testConfig(up.URL, "sk-test"), metrics.New(10))

	do(s.Handler(), http.MethodPost, "/", validBody)
	do(s.Handler(), http.MethodPost, "/", `{"messages":"nope"}`)

	w := do(s.Handler(), http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats apimodels.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Requests.Total)
	assert.Equal(t, int64(1), stats.Requests.Succeeded)
	assert.Equal(t, int64(1), stats.Requests.Failed)
	assert.Equal(t, 1, stats.Latency.Samples)

	w = do(s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `billboard_proxy_requests_total{action="validate",status="200"} 1`)
	assert.Contains(t, w.Body.String(), `billboard_proxy_requests_total{action="unknown",status="400"} 1`)
}

func TestRequestID(t *testing.T) {
	s := New(testConfig("http://127.0.0.1:1", "sk-test"), metrics.New(10))

	w := do(s.Handler(), http.MethodGet, "/api/v1/health", "")
	assert.Len(t, w.Header().Get("X-Request-Id"), 36)

	w = do(s.Handler(), http.MethodGet, "/api/v1/health", "", "X-Request-Id", "req-123")
	assert.Equal(t, "req-123", w.Header().Get("X-Request-Id"))
}

func TestReload(t *testing.T) {
	up := newFakeOpenAI(t, http.StatusOK, `{"choices":[]}`)
	cfg := testConfig(up.URL, "")
	s := New(cfg, metrics.New(10))

	w := do(s.Handler(), http.MethodPost, "/", validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	next := testConfig(up.URL, "sk-rotated")
	next.Actions["validate"] = config.ActionPolicy{Model: "gpt-4.1-nano", MaxTokens: 100, Temperature: 0}
	s.Reload(next)

	w = do(s.Handler(), http.MethodPost, "/", validBody)
	require.Equal(t, http.StatusOK, w.Code)
	_, _, auth := up.last()
	assert.Equal(t, "Bearer sk-rotated", auth)
	assert.Equal(t, "gpt-4.1-nano", up.sent(t)["model"])
}
