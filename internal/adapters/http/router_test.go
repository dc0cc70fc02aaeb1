package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/huddle/internal/adapters/loopback"
	"github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) Send(any) error           { return nil }
func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func setup(t *testing.T) (*gin.Engine, *orch.Orchestrator, *metrics.PrometheusCollector) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	codecs := []domain.RTPCodec{{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111}}
	m := metrics.NewPrometheusCollector()
	o := orch.New(app.NewRegistry(), core.NewRegistry(loopback.NewEngine(""), codecs), app.SimplePolicy{}, m)
	t.Cleanup(o.Shutdown)
	ctrl := signal.NewSignalWSController(o, m, signal.DefaultOptions())
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	return SetupRouter(context.Background(), cfg, o, ctrl, m.Handler()), o, m
}

func get(r http.Handler, method, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	r.ServeHTTP(w, req)
	return w
}

func responseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealthAndToken(t *testing.T) {
	r, _, _ := setup(t)
	w := get(r, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","rooms":0}`, w.Body.String())

	ct := responseCookie(w, "ct")
	require.NotNil(t, ct)
	assert.NotEmpty(t, ct.Value)
	require.NotNil(t, responseCookie(w, "HuddleSessions"))
}

func TestClientTokenLivesInSession(t *testing.T) {
	r, _, _ := setup(t)
	first := get(r, http.MethodGet, "/healthz")
	ct, sess := responseCookie(first, "ct"), responseCookie(first, "HuddleSessions")
	require.NotNil(t, ct)
	require.NotNil(t, sess)

	// The session restores a lost mirror cookie.
	w := get(r, http.MethodGet, "/healthz", sess)
	restored := responseCookie(w, "ct")
	require.NotNil(t, restored)
	assert.Equal(t, ct.Value, restored.Value)

	// A tampered mirror is overwritten by the session value.
	w = get(r, http.MethodGet, "/healthz", sess, &http.Cookie{Name: "ct", Value: "forged"})
	fixed := responseCookie(w, "ct")
	require.NotNil(t, fixed)
	assert.Equal(t, ct.Value, fixed.Value)

	// Both cookies intact: nothing to rewrite.
	w = get(r, http.MethodGet, "/healthz", sess, ct)
	assert.Nil(t, responseCookie(w, "ct"))

	// Only the mirror: a new session adopts it.
	w = get(r, http.MethodGet, "/healthz", ct)
	assert.NotNil(t, responseCookie(w, "HuddleSessions"))
	assert.Nil(t, responseCookie(w, "ct"))
}

func TestRoomEndpoints(t *testing.T) {
	r, o, _ := setup(t)
	assert.Equal(t, http.StatusNotFound, get(r, http.MethodGet, "/api/rooms/nope").Code)

	p := core.NewParticipant("p1", nopConn{})
	require.NoError(t, o.Join(context.Background(), p, "weekly", "fay", nil))

	w := get(r, http.MethodGet, "/api/rooms")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []core.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, []core.RoomInfo{{ID: "weekly", ParticipantCount: 1}}, list.Rooms)

	w = get(r, http.MethodGet, "/api/rooms/weekly")
	require.Equal(t, http.StatusOK, w.Code)
	var detail roomDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.Len(t, detail.Members, 1)
	assert.Equal(t, "fay", detail.Members[0].DisplayName)
	assert.Equal(t, "capabilities_sent", detail.Members[0].State)

	assert.Equal(t, http.StatusNoContent, get(r, http.MethodDelete, "/api/rooms/weekly").Code)
	assert.Equal(t, core.StateLeft, p.State())
	assert.Equal(t, http.StatusNotFound, get(r, http.MethodDelete, "/api/rooms/weekly").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, o, _ := setup(t)
	p := core.NewParticipant("p1", nopConn{})
	require.NoError(t, o.Join(context.Background(), p, "m", "gus", nil))

	w := get(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "huddle_active_rooms 1")
	assert.Contains(t, w.Body.String(), "huddle_active_participants 1")
}
