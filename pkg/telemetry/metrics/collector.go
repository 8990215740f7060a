package metrics

import (
	"sync"
	"time"

	"duckcoding-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// otherLabel replaces label values past the cardinality limit.
const otherLabel = "other"

// Collector owns every Prometheus metric of the relay. It records proxy
// traffic and implements session.Observer for registry statistics.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics *RequestMetrics
	sessionMetrics *SessionMetrics

	// Tool ids come from request routing; cap them anyway.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector with the specified configuration and
// registry. A nil registry gets a fresh private one.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = append([]float64(nil), config.DefaultRequestDurationBuckets...)
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		requestMetrics:     NewRequestMetrics(cfg, registry),
		sessionMetrics:     NewSessionMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(64),
	}
}

func (c *Collector) tool(toolID string) string {
	if !c.cardinalityLimiter.Allow(toolID) {
		return otherLabel
	}
	return toolID
}

// RecordRequest records a completed proxied request.
//
// outcome is one of "ok", "unauthorized", "client_error", "no_route",
// "store_error", "upstream_error" or "canceled".
func (c *Collector) RecordRequest(toolID, outcome string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.requestMetrics.RecordRequest(c.tool(toolID), outcome, duration)
}

// RecordUpstreamError records a failed upstream exchange by kind
// ("timeout", "connect", "tls", "proxy", "reset", "other").
func (c *Collector) RecordUpstreamError(toolID, kind string) {
	if !c.config.Enabled {
		return
	}
	c.requestMetrics.RecordUpstreamError(c.tool(toolID), kind)
}

// RecordResponseBytes adds n relayed response bytes.
func (c *Collector) RecordResponseBytes(toolID string, n int64) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.requestMetrics.RecordResponseBytes(c.tool(toolID), n)
}

// SessionEvent counts a session registry change.
func (c *Collector) SessionEvent(eventType string) {
	if !c.config.Enabled {
		return
	}
	c.sessionMetrics.eventsTotal.WithLabelValues(eventType).Inc()
}

// ActivityDropped counts an activity record dropped on a full queue.
func (c *Collector) ActivityDropped() {
	if !c.config.Enabled {
		return
	}
	c.sessionMetrics.activityDropped.Inc()
}

// EventDropped counts an event not delivered to a slow subscriber.
func (c *Collector) EventDropped() {
	if !c.config.Enabled {
		return
	}
	c.sessionMetrics.eventsDropped.Inc()
}

// SessionsPruned adds sessions removed by retention for a tool.
func (c *Collector) SessionsPruned(toolID string, n int64) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.sessionMetrics.prunedTotal.WithLabelValues(c.tool(toolID)).Add(float64(n))
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct values admitted for a label.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting at most maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already known or still fits under the limit.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
