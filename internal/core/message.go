// Package core defines the data model shared by every flow stage.
package core

import "time"

// Message is the immutable-after-construction unit of data moving through a
// flow. A Source builds one per delivery; a MessageProcessor may return a
// modified copy; the domain stage attaches DestinationTopic before handing
// the message to the publish stage.
type Message struct {
	Payload          []byte
	Headers          map[string]string
	SourceTopic      string
	DestinationTopic string
	Timestamp        time.Time
	// Metadata carries broker-native identifiers (partition, offset, delivery
	// tag) opaque to the core; publishers may use it for ack correlation.
	Metadata map[string]any
}

// Clone returns a shallow copy of the message with a fresh Headers map so a
// MessageProcessor can add headers without mutating the original delivery.
func (m *Message) Clone() *Message {
	headers := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		headers[k] = v
	}
	metadata := make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	return &Message{
		Payload:          m.Payload,
		Headers:          headers,
		SourceTopic:      m.SourceTopic,
		DestinationTopic: m.DestinationTopic,
		Timestamp:        m.Timestamp,
		Metadata:         metadata,
	}
}
