// Package resolver implements Fan-mode destination topic resolution.
package resolver

import (
	"encoding/json"
	"fmt"

	"flowbridge.dev/flowbridge/internal/core"
)

// Resolver is a pure function from a Message to a destination topic string.
// Routing failure (missing header or payload key) is reported as an error;
// the caller treats it as a per-message TransientError.
type Resolver interface {
	Resolve(msg *core.Message) (string, error)
}

// Kind selects a Resolver implementation.
type Kind string

const (
	Header     Kind = "header"
	PayloadKey Kind = "payload_key"
)

// New builds a Resolver of the given kind reading key.
func New(kind Kind, key string) (Resolver, error) {
	switch kind {
	case Header:
		return headerResolver{key: key}, nil
	case PayloadKey:
		return payloadKeyResolver{key: key}, nil
	default:
		return nil, fmt.Errorf("resolver: unknown kind %q (must be header or payload_key)", kind)
	}
}

// headerResolver returns msg.Headers[key] if present, else fails.
type headerResolver struct {
	key string
}

func (r headerResolver) Resolve(msg *core.Message) (string, error) {
	v, ok := msg.Headers[r.key]
	if !ok {
		return "", fmt.Errorf("resolver: header %q not present", r.key)
	}
	return v, nil
}

// payloadKeyResolver parses msg.Payload as a JSON object and returns the
// value at the top-level key, coerced to string.
type payloadKeyResolver struct {
	key string
}

func (r payloadKeyResolver) Resolve(msg *core.Message) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal(msg.Payload, &obj); err != nil {
		return "", fmt.Errorf("resolver: payload is not a JSON object: %w", err)
	}
	v, ok := obj[r.key]
	if !ok {
		return "", fmt.Errorf("resolver: payload key %q not present", r.key)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}
