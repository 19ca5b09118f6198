package metrics

import "sync"

// Counter names used across the relay. Names are stable strings so they can
// be exposed directly as Prometheus label values.
const (
	NoncesIssued   = "nonces_issued"
	NoncesConsumed = "nonces_consumed"
	NoncesRejected = "nonces_rejected"
	TokensIssued   = "tokens_issued"

	RelayConnections     = "relay_connections"
	RelayAuthFailures    = "relay_auth_failures"
	RelaySessionsOpened  = "relay_sessions_opened"
	RelaySessionsClosed  = "relay_sessions_closed"
	RelayQuotaRejections = "relay_quota_rejections"

	UpstreamConnectFailures = "upstream_connect_failures"
	FramesClientToUpstream  = "frames_client_to_upstream"
	FramesUpstreamToClient  = "frames_upstream_to_client"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay's auth and teardown logic reports events here so tests can assert
// on them; the /metrics endpoint exposes the same counters for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
