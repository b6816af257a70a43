package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"contentmind/core"
)

type fakeStatus struct {
	mu      sync.Mutex
	state   core.State
	caps    core.CapabilitySet
	reports []core.ActivationReport
}

func (f *fakeStatus) State() core.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStatus) set(s core.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeStatus) Capabilities() core.CapabilitySet   { return f.caps }
func (f *fakeStatus) Reports() []core.ActivationReport { return f.reports }

func newTestServer(t *testing.T, status StatusProvider) *Server {
	t.Helper()
	return NewServer(status, Options{ReadHeaderTimeout: time.Second}, zaptest.NewLogger(t).Sugar())
}

func do(t *testing.T, s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealth_AlwaysUp(t *testing.T) {
	s := newTestServer(t, &fakeStatus{state: core.CapabilitiesActivating})

	rr := do(t, s, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "UP", resp.Status)
	assert.Equal(t, "CapabilitiesActivating", resp.State)
}

func TestReady_OnlyWhenReady(t *testing.T) {
	status := &fakeStatus{state: core.CapabilitiesActivating}
	s := newTestServer(t, status)

	for _, st := range []core.State{core.Uninitialized, core.CapabilitiesActivating, core.Failed, core.Stopped} {
		status.set(st)
		rr := do(t, s, "GET", "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, st.String())
		assert.Contains(t, rr.Body.String(), `"DOWN"`)
	}

	status.set(core.Ready)
	rr := do(t, s, "GET", "/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCapabilities_Endpoint(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	status := &fakeStatus{
		state: core.Ready,
		caps:  core.NewCapabilitySet(core.PersistenceAuditing, core.AsyncExecution),
		reports: []core.ActivationReport{
			{Capability: core.PersistenceAuditing, StartedAt: started, CompletedAt: started.Add(20 * time.Millisecond)},
			{Capability: core.AsyncExecution, StartedAt: started, CompletedAt: started.Add(time.Millisecond)},
		},
	}
	s := newTestServer(t, status)

	rr := do(t, s, "GET", "/api/v1/capabilities", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body struct {
		State           string          `json:"state"`
		Capabilities    map[string]bool `json:"capabilities"`
		ActivationOrder []string        `json:"activation_order"`
		Reports         []struct {
			Capability string  `json:"capability"`
			DurationMs float64 `json:"duration_ms"`
			Succeeded  bool    `json:"succeeded"`
		} `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Ready", body.State)
	assert.True(t, body.Capabilities["PersistenceAuditing"])
	assert.False(t, body.Capabilities["ResponseCaching"])
	assert.Equal(t, []string{"PersistenceAuditing", "AsyncExecution"}, body.ActivationOrder)
	require.Len(t, body.Reports, 2)
	assert.Equal(t, 20.0, body.Reports[0].DurationMs)
	assert.True(t, body.Reports[0].Succeeded)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeStatus{state: core.Ready})
	do(t, s, "GET", "/health", nil)

	rr := do(t, s, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "contentmind_http_requests_total")
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &fakeStatus{state: core.Ready})

	rr := do(t, s, "GET", "/health", nil)
	generated := rr.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36, "a UUID is generated when the caller sends none")

	rr = do(t, s, "GET", "/health", http.Header{RequestIDHeader: {"abc-123\n<script>"}})
	assert.Equal(t, "abc-123script", rr.Header().Get(RequestIDHeader))
}

func TestSanitizeRequestID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"simple_id-1", "simple_id-1"},
		{"a b\tc", "abc"},
		{string(make([]byte, 100)), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeRequestID(tt.in))
	}

	long := ""
	for i := 0; i < 80; i++ {
		long += "x"
	}
	assert.Len(t, sanitizeRequestID(long), 64)
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, &fakeStatus{state: core.Ready})
	s.APIRouter().HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})

	rr := do(t, s, "GET", "/api/v1/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestListenServeStop(t *testing.T) {
	s := newTestServer(t, &fakeStatus{state: core.Ready})
	assert.Equal(t, "", s.Addr())
	assert.Error(t, s.Serve(), "serve requires a bound listener")

	require.NoError(t, s.Listen("127.0.0.1:0"))
	require.NotEmpty(t, s.Addr())
	assert.Error(t, s.Listen("127.0.0.1:0"), "a server binds once")

	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	resp, err := http.Get("http://" + s.Addr() + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-served)
}

func TestListen_PortInUse(t *testing.T) {
	first := newTestServer(t, &fakeStatus{})
	require.NoError(t, first.Listen("127.0.0.1:0"))
	defer first.Stop(context.Background())

	second := newTestServer(t, &fakeStatus{})
	err := second.Listen(first.Addr())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind HTTP listener")
}

func TestStop_WithoutServe(t *testing.T) {
	s := newTestServer(t, &fakeStatus{})
	require.NoError(t, s.Listen("127.0.0.1:0"))
	addr := s.Addr()
	require.NoError(t, s.Stop(context.Background()))

	// the port is released
	again := newTestServer(t, &fakeStatus{})
	require.NoError(t, again.Listen(addr))
	_ = again.Stop(context.Background())
}
