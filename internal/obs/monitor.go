package obs

import (
	"sync"
	"time"
)

// EndpointStats accumulates per-endpoint request statistics.
type EndpointStats struct {
	Requests      int64   `json:"request_count"`
	Errors        int64   `json:"error_count"`
	TotalMillis   int64   `json:"-"`
	AverageMillis float64 `json:"average_response_ms"`
}

// Monitor collects process-wide runtime counters surfaced at /metrics.
type Monitor struct {
	mu        sync.Mutex
	startedAt time.Time
	enabled   bool

	requests       int64
	errors         int64
	activeRequests int64

	toolCalls      int64
	toolCallErrors int64

	// Counters for recoverable oddities in the upstream stream.
	parseErrors           int64
	orphanToolTerminators int64

	endpoints map[string]*EndpointStats
}

// NewMonitor creates a monitor. A disabled monitor still tracks the active
// request gauge (needed for admission control visibility) but skips timings.
func NewMonitor(enabled bool) *Monitor {
	return &Monitor{
		startedAt: time.Now(),
		enabled:   enabled,
		endpoints: make(map[string]*EndpointStats),
	}
}

// RequestStarted increments the active-request gauge.
func (m *Monitor) RequestStarted() {
	m.mu.Lock()
	m.activeRequests++
	m.mu.Unlock()
}

// RequestFinished records one completed request against an endpoint.
func (m *Monitor) RequestFinished(endpoint string, took time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activeRequests--
	m.requests++
	if failed {
		m.errors++
	}
	if !m.enabled {
		return
	}
	es, ok := m.endpoints[endpoint]
	if !ok {
		es = &EndpointStats{}
		m.endpoints[endpoint] = es
	}
	es.Requests++
	if failed {
		es.Errors++
	}
	es.TotalMillis += took.Milliseconds()
	es.AverageMillis = float64(es.TotalMillis) / float64(es.Requests)
}

// ToolCall records one tool invocation observed in a response.
func (m *Monitor) ToolCall(failed bool) {
	m.mu.Lock()
	m.toolCalls++
	if failed {
		m.toolCallErrors++
	}
	m.mu.Unlock()
}

// ParseError counts a skipped malformed upstream frame.
func (m *Monitor) ParseError() {
	m.mu.Lock()
	m.parseErrors++
	m.mu.Unlock()
}

// OrphanToolTerminator counts a tool terminator frame seen with no open call.
func (m *Monitor) OrphanToolTerminator() {
	m.mu.Lock()
	m.orphanToolTerminators++
	m.mu.Unlock()
}

// Snapshot returns the metrics document served at /metrics.
func (m *Monitor) Snapshot(cacheStats interface{}) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	endpoints := make(map[string]EndpointStats, len(m.endpoints))
	for k, v := range m.endpoints {
		endpoints[k] = *v
	}
	return map[string]interface{}{
		"uptime_seconds":          int64(time.Since(m.startedAt).Seconds()),
		"request_count":           m.requests,
		"error_count":             m.errors,
		"active_requests":         m.activeRequests,
		"tool_call_count":         m.toolCalls,
		"tool_call_error_count":   m.toolCallErrors,
		"parse_error_count":       m.parseErrors,
		"orphan_tool_terminators": m.orphanToolTerminators,
		"endpoints":               endpoints,
		"cache":                   cacheStats,
	}
}
