package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}
	for _, f := range defaultFamilies {
		if strings.HasPrefix(f.GetName(), "kubelens_") && customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry", f.GetName())
		}
	}
}

func TestObserveClusterFetch(t *testing.T) {
	m := NewMetrics()

	m.ObserveClusterFetch("prod", 20*time.Millisecond, nil)
	m.ObserveClusterFetch("prod", time.Second, errors.New("context deadline exceeded"))
	m.ObserveClusterFetch("edge", time.Second, errors.New("Unauthorized"))

	if got := testutil.ToFloat64(m.ClusterFetchFailures.WithLabelValues("prod", "timeout")); got != 1 {
		t.Errorf("prod timeout failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ClusterFetchFailures.WithLabelValues("edge", "auth")); got != 1 {
		t.Errorf("edge auth failures = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ClusterFetchDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestObserveRequest(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("GET", "/api/resources/:resource", 200, 5*time.Millisecond)
	m.ObserveRequest("GET", "/api/resources/:resource", 200, 5*time.Millisecond)

	pb := &dto.Metric{}
	if err := m.HTTPRequestsTotal.WithLabelValues("GET", "/api/resources/:resource", "200").Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("counter = %v, want 2", got)
	}
}

func TestObservePoll(t *testing.T) {
	m := NewMetrics()
	m.ObservePoll(nil)
	m.ObservePoll(errors.New("boom"))
	m.ObservePoll(nil)

	if got := testutil.ToFloat64(m.PollerRefreshes.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok refreshes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PollerRefreshes.WithLabelValues("error")); got != 1 {
		t.Errorf("error refreshes = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.WebSocketConnections.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kubelens_websocket_connections 3") {
		t.Error("exposition does not contain the websocket gauge")
	}
}
