package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedSeries(t *testing.T) {
	m := New()
	m.RewardGrant("content-upload", "granted")
	m.AttemptWrite("submit", true)
	m.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`reward_grants_total{outcome="granted",reason="content-upload"} 1`,
		`attempt_writes_total{op="submit",scope="event"} 1`,
		`http_requests_total{endpoint="/healthz",method="GET",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RewardGrant("r", "o")
	m.AttemptWrite("submit", false)
	m.ObserveRequest("GET", "/", 200, time.Millisecond)
}
