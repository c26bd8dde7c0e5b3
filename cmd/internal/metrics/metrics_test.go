package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.SessionIssued("login")
	m.Refresh(RefreshOK)
	m.Reuse(3)
	m.ConnOpened()
	m.ConnClosed()
	m.HandshakeReject("auth")
	m.Join("ok")
	m.Published("issue.created", 1, 1)
}

func TestCounters(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := New(reg)

	m.Refresh(RefreshOK)
	m.Refresh(RefreshOK)
	m.Refresh(RefreshRevoked)
	m.Reuse(2)
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.Published("comment.added", 3, 1)

	if got := testutil.ToFloat64(m.Refreshes.WithLabelValues(RefreshOK)); got != 2 {
		t.Fatalf("refresh ok=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.CascadeRevoked); got != 2 {
		t.Fatalf("cascade=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.Connections); got != 1 {
		t.Fatalf("connections=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("dropped")); got != 1 {
		t.Fatalf("dropped=%v want 1", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := New(reg)
	m.Join("forbidden")

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, `trackr_realtime_joins_total{result="forbidden"} 1`) {
		t.Fatalf("joins counter missing from exposition")
	}
}
