package infra

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordEvaluation(t *testing.T) {
	m := NewMetrics()

	m.RecordEvaluation(true, time.Millisecond)
	m.RecordEvaluation(true, time.Millisecond)
	m.RecordEvaluation(false, time.Millisecond)

	if got := testutil.ToFloat64(m.evaluations.WithLabelValues("resolved")); got != 2 {
		t.Errorf("Expected 2 resolved, got %v", got)
	}
	if got := testutil.ToFloat64(m.evaluations.WithLabelValues("unresolved")); got != 1 {
		t.Errorf("Expected 1 unresolved, got %v", got)
	}
}

func TestMetrics_Rates(t *testing.T) {
	m := NewMetrics()

	m.RecordRate("kraken")
	m.RecordRate("kraken")
	m.RecordFeedError("coinbase")

	if got := testutil.ToFloat64(m.ratesApplied.WithLabelValues("kraken")); got != 2 {
		t.Errorf("Expected 2 kraken rates, got %v", got)
	}
	if got := testutil.ToFloat64(m.feedErrors.WithLabelValues("coinbase")); got != 1 {
		t.Errorf("Expected 1 coinbase error, got %v", got)
	}
}

func TestMetrics_Streams(t *testing.T) {
	m := NewMetrics()

	m.IncrementStreams()
	m.IncrementStreams()
	m.DecrementStreams()

	if got := testutil.ToFloat64(m.streams); got != 1 {
		t.Errorf("Expected 1 stream, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordRate("kraken")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `rate_updates_total{exchange="kraken"} 1`) {
		t.Errorf("exposition missing counter:\n%s", rec.Body.String())
	}
}
