// Package mock implements an in-memory Source/Publisher pair backed by a
// shared, process-wide topic bus. It is the reference adapter used by the
// flow engine's own end-to-end tests, and stands in for any real broker in
// local development.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flowbridge.dev/flowbridge/internal/broker"
	"flowbridge.dev/flowbridge/internal/core"
)

const defaultTopicBuffer = 4096

// bus is a named, process-wide set of topic channels. Tests select a bus by
// name (the "bus" setting, default "default") so independent flows in the
// same test binary don't cross-talk.
type bus struct {
	mu     sync.Mutex
	topics map[string]chan *core.Message
}

var (
	busesMu sync.Mutex
	buses   = map[string]*bus{}
)

func getBus(name string) *bus {
	if name == "" {
		name = "default"
	}
	busesMu.Lock()
	defer busesMu.Unlock()
	b, ok := buses[name]
	if !ok {
		b = &bus{topics: make(map[string]chan *core.Message)}
		buses[name] = b
	}
	return b
}

// ResetBus discards all buffered messages for a named bus. Test-only helper.
func ResetBus(name string) {
	busesMu.Lock()
	defer busesMu.Unlock()
	delete(buses, name)
}

func (b *bus) topic(name string) chan *core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan *core.Message, defaultTopicBuffer)
		b.topics[name] = ch
	}
	return ch
}

func init() {
	broker.RegisterSource("mock", func(settings map[string]string) (broker.Source, error) {
		return &Source{busName: settings["bus"]}, nil
	})
	broker.RegisterPublisher("mock", func(settings map[string]string) (broker.Publisher, error) {
		return &Publisher{busName: settings["bus"]}, nil
	})
}

// Source consumes from one or more topics on a named bus, fanning them into
// a single channel the flow's consumer loop polls.
type Source struct {
	busName string
	bus     *bus

	aggregate chan *core.Message
	stop      chan struct{}
	wg        sync.WaitGroup
}

func (s *Source) Open(ctx context.Context) error {
	s.bus = getBus(s.busName)
	s.aggregate = make(chan *core.Message, defaultTopicBuffer)
	s.stop = make(chan struct{})
	return nil
}

func (s *Source) Subscribe(topics []string) error {
	for _, topic := range topics {
		ch := s.bus.topic(topic)
		s.wg.Add(1)
		go s.forward(ch)
	}
	return nil
}

func (s *Source) forward(ch chan *core.Message) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.aggregate <- msg:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *Source) Consume(ctx context.Context, timeout time.Duration) (*core.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.aggregate:
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Source) Close() error {
	if s.stop == nil {
		return nil
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.wg.Wait()
	return nil
}

// Publisher publishes to arbitrary topics on a named bus. Safe for
// concurrent use by multiple publish workers.
type Publisher struct {
	busName string
	bus     *bus
}

func (p *Publisher) Open(ctx context.Context) error {
	p.bus = getBus(p.busName)
	return nil
}

func (p *Publisher) Publish(ctx context.Context, topic string, msg *core.Message) error {
	if p.bus == nil {
		return fmt.Errorf("mock publisher: not open")
	}
	ch := p.bus.topic(topic)
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) Close() error {
	return nil
}
