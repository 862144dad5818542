package metrics_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parsec-io/parsec-server/lib/metrics"
)

func TestObserveRequestAndScrape(t *testing.T) {
	m := metrics.New()
	m.ObserveRequest("authenticated", "ok", 5*time.Millisecond)
	m.ObserveRequest("authenticated", "409", 2*time.Millisecond)
	m.ObserveEvent("vlob.updated")
	m.SSESubscriberConnected()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "parsec_requests_total")
	require.Contains(t, body, "parsec_events_published_total")
	require.Contains(t, body, "parsec_sse_subscribers 1")
}
