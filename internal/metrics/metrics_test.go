package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.MessagePersisted("text")
	c.MessagePersisted("text")
	c.MessagePersisted("image")
	c.ConversationCreated()
	c.PushEvent("getMessage", OutcomeDelivered)
	c.PushEvent("getMessage", OutcomeOffline)
	c.SetOnlineUsers(3)
	c.SetConnections(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesPersisted.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesPersisted.WithLabelValues("image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conversationsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pushEvents.WithLabelValues("getMessage", OutcomeOffline)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.onlineUsers))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.connections))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.MessagePersisted("text")
		c.PushEvent("getTyping", OutcomeDropped)
		c.SetOnlineUsers(1)
		c.ObserveRequest("/health", 200, time.Millisecond)
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ConversationCreated()
	c.ObserveRequest("/api/messages", http.StatusCreated, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alumnet_conversations_created_total 1")
	assert.Contains(t, rec.Body.String(), "alumnet_http_request_duration_seconds")
}
