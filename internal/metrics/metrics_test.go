package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *PrometheusCollector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestPrometheusCollector(t *testing.T) {
	c := NewPrometheusCollector()
	var _ Collector = c
	var _ Collector = Noop{}

	c.RoomCreated()
	c.RoomCreated()
	c.RoomReleased()
	c.ProducerCreated("audio")
	c.ProducerCreated("video")
	c.ProducerClosed("video")
	c.TransportClosed("send", "timeout")
	c.SignalingMessageReceived("joinRoom", 120)
	c.SignalingMessageError("produce", "conflict")
	c.BroadcastDropped("newProducer", 3)

	body := scrape(t, c)
	for _, line := range []string{
		"huddle_active_rooms 1",
		"huddle_active_producers 1",
		`huddle_producers_created_total{kind="video"} 1`,
		`huddle_transports_closed_total{direction="send",reason="timeout"} 1`,
		`huddle_signaling_message_errors_total{code="conflict",message_type="produce"} 1`,
		`huddle_signaling_message_size_bytes_count{message_type="joinRoom"} 1`,
		`huddle_broadcast_dropped_total{event_type="newProducer"} 3`,
		"go_goroutines",
	} {
		assert.Contains(t, body, line)
	}
}

func TestCollectorsAreIsolated(t *testing.T) {
	a, b := NewPrometheusCollector(), NewPrometheusCollector()
	a.ClientConnected()
	assert.Contains(t, scrape(t, a), "huddle_active_clients 1")
	assert.Contains(t, scrape(t, b), "huddle_active_clients 0")
}
