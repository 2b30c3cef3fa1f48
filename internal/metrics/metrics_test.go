package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestHealthzOK(t *testing.T) {
	s := New("", "", zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMetricsExposesRegisteredCounters(t *testing.T) {
	s := New("", "", zap.NewNop())
	s.SubmissionsIngested.WithLabelValues("initial").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !contains(body, "submissions_ingested_total") {
		t.Fatalf("expected submissions_ingested_total in output, got %q", body)
	}
}

func TestActiveWaitersSetterUpdatesGauge(t *testing.T) {
	s := New("", "", zap.NewNop())
	setter := s.ActiveWaitersSetter()
	setter(3)

	if got := testutil.ToFloat64(s.ActiveWaiters); got != 3 {
		t.Fatalf("gauge = %v, want 3", got)
	}
}

func TestAlertFailureNoopWithoutWebhook(t *testing.T) {
	s := New("", "", zap.NewNop())
	// Must not panic or block when no webhook is configured.
	s.AlertFailure(context.Background(), "something broke")
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
