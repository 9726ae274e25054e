package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/clawbridge/internal/bridge"
	"github.com/danmuck/clawbridge/internal/sessions"
	"github.com/danmuck/clawbridge/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStatus bridge.Status

func (f fixedStatus) Status() bridge.Status {
	return bridge.Status(f)
}

func newTestServer(t *testing.T, status bridge.Status, token string) (*Server, *sessions.Store) {
	t.Helper()
	store, err := sessions.NewStore(sessions.DefaultStoreConfig(filepath.Join(t.TempDir(), "sessions.json")))
	require.NoError(t, err)
	s := New(Options{ID: "bridge-test", Version: "test", Token: token}, fixedStatus(status), sessions.NewController(store))
	return s, store
}

func do(t *testing.T, s *Server, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	var body map[string]any
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") != "" && path != "/metrics" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "body=%s", rr.Body.String())
	}
	return rr, body
}

func TestHealthAndReadiness(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, bridge.Status{Gateway: true, Webhook: false}, "")

	rr, body := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "bridge-test", body["service"])

	rr, body = do(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, true, body["gateway"])

	ready, _ := newTestServer(t, bridge.Status{Gateway: true, Webhook: true}, "")
	rr, _ = do(t, ready, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, bridge.Status{}, "")
	do(t, s, http.MethodGet, "/health", "")
	rr, _ := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "clawbridge_http_requests_total")
}

func TestSessionRoutes(t *testing.T) {
	testlog.Start(t)
	s, store := newTestServer(t, bridge.Status{}, "secret")
	created, err := store.RecordInboundMeta("webhook:main:dm:u42", "m1", sessions.DeliveryContext{Channel: sessions.ChannelWebhook, To: "u42"})
	require.NoError(t, err)

	rr, body := do(t, s, http.MethodGet, "/sessions", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, body["count"])

	rr, body = do(t, s, http.MethodGet, "/sessions/webhook:main:dm:u42", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, created.SessionID, data["sessionId"])

	rr, _ = do(t, s, http.MethodGet, "/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, s, http.MethodPost, "/sessions/webhook:main:dm:u42/reset", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr, _ = do(t, s, http.MethodPost, "/sessions/webhook:main:dm:u42/reset", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = do(t, s, http.MethodPost, "/sessions/webhook:main:dm:u42/reset", "secret")
	assert.Equal(t, http.StatusOK, rr.Code)
	reset, _, err := store.Get("webhook:main:dm:u42")
	require.NoError(t, err)
	assert.NotEqual(t, created.SessionID, reset.SessionID)

	rr, _ = do(t, s, http.MethodDelete, "/sessions/webhook:main:dm:u42", "secret")
	assert.Equal(t, http.StatusOK, rr.Code)
	_, ok, err := store.Get("webhook:main:dm:u42")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMutatingRoutesClosedWithoutToken(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, bridge.Status{}, "")
	rr, _ := do(t, s, http.MethodDelete, "/sessions/k1", "anything")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, bridge.Status{}, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatalf("server did not stop")
	}
}
