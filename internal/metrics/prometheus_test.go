package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(RelayConnections)
	m.Inc(RelayConnections)
	m.Inc(NoncesIssued)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE voice_agent_relay_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `voice_agent_relay_events_total{event="relay_connections"} 2`) {
		t.Fatalf("missing relay_connections counter: %s", body)
	}
	if !strings.Contains(body, `voice_agent_relay_events_total{event="nonces_issued"} 1`) {
		t.Fatalf("missing nonces_issued counter: %s", body)
	}
	// Label escaping must match Prometheus text format rules.
	if !strings.Contains(body, `voice_agent_relay_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(FramesClientToUpstream)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(FramesClientToUpstream); got != 1600 {
		t.Fatalf("count=%d, want 1600", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(RelayConnections)
	if got := m.Get(RelayConnections); got != 0 {
		t.Fatalf("count=%d, want 0", got)
	}
}
