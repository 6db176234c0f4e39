package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wyydra/parley/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/parley/internal/adapter/driven/metrics"
	"github.com/Wyydra/parley/internal/adapter/driven/signaling/memory"
	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store   *memory.Store
	hub     *ws.Hub
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	hub := ws.NewHub()
	m := metrics.New()
	hub.OnChange = m.SetActiveWatches
	go hub.Run()

	srv := httptest.NewServer(NewHandler(store, hub, m).NewRouter())
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return &testServer{Server: srv, store: store, hub: hub, metrics: m}
}

func (s *testServer) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandler_CallLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.request(t, http.MethodPost, "/calls", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created createCallResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	resp = srv.request(t, http.MethodPatch, "/calls/"+created.ID,
		`{"offer":{"type":"offer","sdp":"v=0"},"hostLanguage":"en"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = srv.request(t, http.MethodGet, "/calls/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec domain.CallRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.NotNil(t, rec.Offer)
	assert.Equal(t, "v=0", rec.Offer.SDP)
	assert.Equal(t, "en", rec.HostLanguage)

	resp = srv.request(t, http.MethodDelete, "/calls/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = srv.request(t, http.MethodGet, "/calls/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_BadInput(t *testing.T) {
	srv := newTestServer(t)
	id, err := srv.store.CreateCall(context.Background())
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed id", http.MethodGet, "/calls/not-a-uuid", "", http.StatusBadRequest},
		{"unknown call", http.MethodGet, "/calls/" + domain.NewCallID().String(), "", http.StatusNotFound},
		{"empty update", http.MethodPatch, "/calls/" + id.String(), `{}`, http.StatusBadRequest},
		{"unknown field", http.MethodPatch, "/calls/" + id.String(), `{"bogus":1}`, http.StatusBadRequest},
		{"bad collection", http.MethodPost, "/calls/" + id.String() + "/candidates/bogus", `{"candidate":"x"}`, http.StatusBadRequest},
		{"missing candidate", http.MethodPost, "/calls/" + id.String() + "/candidates/offerCandidates", `{}`, http.StatusBadRequest},
		{"candidate on unknown call", http.MethodPost, "/calls/" + domain.NewCallID().String() + "/candidates/offerCandidates", `{"candidate":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.request(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHandler_WatchCandidates(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	id, err := srv.store.CreateCall(ctx)
	require.NoError(t, err)
	require.NoError(t, srv.store.AddCandidate(ctx, id, domain.OfferCandidates, `{"candidate":"a"}`))

	conn := srv.dial(t, "/calls/"+id.String()+"/candidates/offerCandidates/watch")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first candidateDTO
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, `{"candidate":"a"}`, first.Candidate)

	resp := srv.request(t, http.MethodPost, "/calls/"+id.String()+"/candidates/offerCandidates", `{"candidate":"b"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var second candidateDTO
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "b", second.Candidate)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(srv.metrics.ActiveWatches) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_WatchEndsOnDelete(t *testing.T) {
	srv := newTestServer(t)
	id, err := srv.store.CreateCall(context.Background())
	require.NoError(t, err)

	conn := srv.dial(t, "/calls/"+id.String()+"/watch")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var rec domain.CallRecord
	require.NoError(t, conn.ReadJSON(&rec))
	assert.Equal(t, id, rec.ID)

	resp := srv.request(t, http.MethodDelete, "/calls/"+id.String(), "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHandler_WatchUnknownCall(t *testing.T) {
	srv := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/calls/"+domain.NewCallID().String()+"/watch", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.request(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.request(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.HTTPRequests.WithLabelValues("GET", "/healthz", "200")))
}
