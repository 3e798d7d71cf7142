// Package broker defines the Source/Publisher contracts the flow engine
// consumes and a string-keyed registry of adapter factories, so adapters are
// selected by configuration name instead of a compiled-in dependency.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flowbridge.dev/flowbridge/internal/core"
)

// Source is an upstream broker client producing messages into a flow.
type Source interface {
	// Open prepares the adapter using the settings it was built with. The
	// flow reports a failure here as a ConnectionError.
	Open(ctx context.Context) error
	// Subscribe registers interest in the given topics.
	Subscribe(topics []string) error
	// Consume returns the next message, or nil on idle timeout. A
	// TransientError is logged and retried by the caller; a FatalError
	// propagates to the flow's Failed transition.
	Consume(ctx context.Context, timeout time.Duration) (*core.Message, error)
	// Close releases all broker resources. Idempotent.
	Close() error
}

// Publisher is a downstream broker client consuming messages from a flow.
type Publisher interface {
	// Open prepares the adapter using the settings it was built with. The
	// flow reports a failure here as a ConnectionError.
	Open(ctx context.Context) error
	// Publish delivers msg to topic. A TransientError is recorded and the
	// worker moves on; a FatalError propagates to the flow's Failed
	// transition. Implementations must be safe for concurrent Publish calls
	// from multiple publish workers.
	Publish(ctx context.Context, topic string, msg *core.Message) error
	// Close flushes pending batches within a bounded deadline. Idempotent.
	Close() error
}

// SourceFactory builds a Source from adapter settings.
type SourceFactory func(settings map[string]string) (Source, error)

// PublisherFactory builds a Publisher from adapter settings.
type PublisherFactory func(settings map[string]string) (Publisher, error)

var (
	mu                sync.RWMutex
	sourceFactories   = map[string]SourceFactory{}
	publisherFactories = map[string]PublisherFactory{}
)

// RegisterSource adds a named Source factory to the registry.
func RegisterSource(name string, factory SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	sourceFactories[name] = factory
}

// RegisterPublisher adds a named Publisher factory to the registry.
func RegisterPublisher(name string, factory PublisherFactory) {
	mu.Lock()
	defer mu.Unlock()
	publisherFactories[name] = factory
}

// BuildSource instantiates the Source registered under name.
func BuildSource(name string, settings map[string]string) (Source, error) {
	mu.RLock()
	factory, ok := sourceFactories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("broker: unknown source adapter %q", name)
	}
	return factory(settings)
}

// BuildPublisher instantiates the Publisher registered under name.
func BuildPublisher(name string, settings map[string]string) (Publisher, error) {
	mu.RLock()
	factory, ok := publisherFactories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("broker: unknown publisher adapter %q", name)
	}
	return factory(settings)
}
