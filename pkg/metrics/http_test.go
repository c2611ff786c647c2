package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHTTPMetricsCountsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.ObserveRequest("POST", "/api/v1/transfers", 201, 3*time.Millisecond)
	m.ObserveRequest("POST", "/api/v1/transfers", 201, 4*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "armory_http_requests_total", "route", "/api/v1/transfers"); err != nil {
		t.Fatalf("fetch requests: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 transfer requests, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "armory_http_requests_total", "route", "unknown"); err != nil {
		t.Fatalf("fetch unrouted: %v", err)
	} else if got != 1 {
		t.Fatalf("expected 1 unrouted request, got %f", got)
	}
}

func TestNilHTTPMetricsIsNoop(t *testing.T) {
	var m *HTTPMetrics
	m.ObserveRequest("GET", "/health/live", 200, time.Millisecond)
	NewHTTPMetrics(nil).ObserveRequest("GET", "/health/live", 200, time.Millisecond)
}
