// Package metrics implements the per-topic accounting the flow engine
// reports on both the source and destination side of a flow, plus the
// optional Prometheus exposition of the same counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Side distinguishes source-side from destination-side counters for a topic.
type Side int

const (
	Source Side = iota
	Destination
)

func (s Side) String() string {
	if s == Source {
		return "source"
	}
	return "destination"
}

// topicMetrics holds the atomic counters for one topic on one side. All
// fields are updated with atomic operations so many concurrent workers can
// record deliveries without a lock.
type topicMetrics struct {
	messageCount    atomic.Uint64
	totalBytes      atomic.Uint64
	errorCount      atomic.Uint64
	lastMessageUnix atomic.Int64 // UnixNano, 0 = never
}

// Snapshot is a deep-copied, point-in-time read of one topic's counters.
type Snapshot struct {
	Topic           string
	MessageCount    uint64
	TotalBytes      uint64
	ErrorCount      uint64
	LastMessageTime time.Time
	RatePerSecond   float64
}

// Collector is the thread-safe MetricsCollector: partitioned by topic per
// side, atomic increments on the hot path, and a copy-on-read Snapshot API
// so readers never observe partially updated counters.
type Collector struct {
	start time.Time

	mu     sync.RWMutex
	topics map[Side]map[string]*topicMetrics

	prom *promBridge // nil if Prometheus exposition is disabled
}

// NewCollector creates a collector whose rate calculation is relative to
// now.
func NewCollector() *Collector {
	return &Collector{
		start:  time.Now(),
		topics: map[Side]map[string]*topicMetrics{Source: {}, Destination: {}},
	}
}

// EnablePrometheus mirrors every counter update into the package-level
// Prometheus vectors under the given flow name label.
func (c *Collector) EnablePrometheus(flowName string) {
	c.prom = newPromBridge(flowName)
}

// ReportQueueSize publishes a stage queue's current fill as a gauge. A
// no-op when Prometheus exposition is disabled.
func (c *Collector) ReportQueueSize(stage string, size int) {
	if c.prom != nil {
		c.prom.reportQueueSize(stage, size)
	}
}

// ReportBackPressure publishes a stage's back-pressure gate state. A no-op
// when Prometheus exposition is disabled.
func (c *Collector) ReportBackPressure(stage string, engaged bool) {
	if c.prom != nil {
		c.prom.reportBackPressure(stage, engaged)
	}
}

// ReportState publishes the flow's current lifecycle state as a numeric
// gauge. A no-op when Prometheus exposition is disabled.
func (c *Collector) ReportState(state int) {
	if c.prom != nil {
		c.prom.reportState(state)
	}
}

func (c *Collector) get(side Side, topic string) *topicMetrics {
	c.mu.RLock()
	tm, ok := c.topics[side][topic]
	c.mu.RUnlock()
	if ok {
		return tm
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tm, ok = c.topics[side][topic]; ok {
		return tm
	}
	tm = &topicMetrics{}
	c.topics[side][topic] = tm
	return tm
}

// RecordSource records a successful delivery of n bytes out of a source topic.
func (c *Collector) RecordSource(topic string, n int) {
	tm := c.get(Source, topic)
	tm.messageCount.Add(1)
	tm.totalBytes.Add(uint64(n))
	tm.lastMessageUnix.Store(time.Now().UnixNano())
	if c.prom != nil {
		c.prom.recordDelivery(Source, topic, n)
	}
}

// RecordDestination records a successful publish of n bytes to a destination topic.
func (c *Collector) RecordDestination(topic string, n int) {
	tm := c.get(Destination, topic)
	tm.messageCount.Add(1)
	tm.totalBytes.Add(uint64(n))
	tm.lastMessageUnix.Store(time.Now().UnixNano())
	if c.prom != nil {
		c.prom.recordDelivery(Destination, topic, n)
	}
}

// ErrorSource increments the error counter for a source topic.
func (c *Collector) ErrorSource(topic string) {
	c.get(Source, topic).errorCount.Add(1)
	if c.prom != nil {
		c.prom.recordError(Source, topic)
	}
}

// ErrorDestination increments the error counter for a destination topic.
func (c *Collector) ErrorDestination(topic string) {
	c.get(Destination, topic).errorCount.Add(1)
	if c.prom != nil {
		c.prom.recordError(Destination, topic)
	}
}

// Snapshot returns a deep copy of all topic counters for side, keyed by
// topic name. rate_per_second is computed on read as
// message_count / max(elapsed_seconds_since_start, epsilon).
func (c *Collector) Snapshot(side Side) map[string]Snapshot {
	const epsilon = 0.001
	elapsed := time.Since(c.start).Seconds()
	if elapsed < epsilon {
		elapsed = epsilon
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Snapshot, len(c.topics[side]))
	for topic, tm := range c.topics[side] {
		count := tm.messageCount.Load()
		var last time.Time
		if ns := tm.lastMessageUnix.Load(); ns != 0 {
			last = time.Unix(0, ns)
		}
		out[topic] = Snapshot{
			Topic:           topic,
			MessageCount:    count,
			TotalBytes:      tm.totalBytes.Load(),
			ErrorCount:      tm.errorCount.Load(),
			LastMessageTime: last,
			RatePerSecond:   float64(count) / elapsed,
		}
	}
	return out
}
