package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbridge_messages_total",
			Help: "Total number of messages recorded per flow, side, and topic",
		},
		[]string{"flow", "side", "topic"},
	)

	bytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbridge_bytes_total",
			Help: "Total payload bytes recorded per flow, side, and topic",
		},
		[]string{"flow", "side", "topic"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbridge_errors_total",
			Help: "Total per-message errors recorded per flow, side, and topic",
		},
		[]string{"flow", "side", "topic"},
	)

	// QueueSize tracks the current fill of a stage's inter-stage queue.
	QueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowbridge_queue_size",
			Help: "Current number of items buffered in a stage queue",
		},
		[]string{"flow", "stage"},
	)

	// BackPressureEngaged reports the current back-pressure gate state (0/1).
	BackPressureEngaged = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowbridge_backpressure_engaged",
			Help: "1 if the back-pressure gate is currently engaged for a stage, else 0",
		},
		[]string{"flow", "stage"},
	)

	// FlowState tracks the flow lifecycle state as a numeric value.
	FlowState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowbridge_flow_state",
			Help: "Current flow lifecycle state (0=created,1=starting,2=running,3=draining,4=stopped,5=failed)",
		},
		[]string{"flow"},
	)
)

// promBridge mirrors Collector counter updates into the package-level
// Prometheus vectors, labelled by flow name.
type promBridge struct {
	flow string
}

func newPromBridge(flow string) *promBridge {
	return &promBridge{flow: flow}
}

func (p *promBridge) recordDelivery(side Side, topic string, n int) {
	messagesTotal.WithLabelValues(p.flow, side.String(), topic).Inc()
	bytesTotal.WithLabelValues(p.flow, side.String(), topic).Add(float64(n))
}

func (p *promBridge) recordError(side Side, topic string) {
	errorsTotal.WithLabelValues(p.flow, side.String(), topic).Inc()
}

func (p *promBridge) reportQueueSize(stage string, size int) {
	QueueSize.WithLabelValues(p.flow, stage).Set(float64(size))
}

func (p *promBridge) reportBackPressure(stage string, engaged bool) {
	v := 0.0
	if engaged {
		v = 1.0
	}
	BackPressureEngaged.WithLabelValues(p.flow, stage).Set(v)
}

func (p *promBridge) reportState(state int) {
	FlowState.WithLabelValues(p.flow).Set(float64(state))
}
