// Package kafka implements the Source/Publisher contracts against Kafka
// using segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"flowbridge.dev/flowbridge/internal/broker"
	"flowbridge.dev/flowbridge/internal/core"
)

func init() {
	broker.RegisterSource("kafka", func(settings map[string]string) (broker.Source, error) {
		return newSource(settings)
	})
	broker.RegisterPublisher("kafka", func(settings map[string]string) (broker.Publisher, error) {
		return newPublisher(settings)
	})
}

func brokersFromSettings(settings map[string]string) ([]string, error) {
	raw := settings["brokers"]
	if raw == "" {
		return nil, errors.New("kafka: settings.brokers is required")
	}
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka: settings.brokers must list at least one address")
	}
	return brokers, nil
}

// Source consumes from one or more Kafka topics, one reader per topic
// fanned into a single aggregate channel — mirroring how the mock adapter
// presents a multi-topic subscription as a single poll point.
type Source struct {
	brokers []string
	groupID string

	readers   []*kafkago.Reader
	aggregate chan *core.Message
	errs      chan error
	stop      chan struct{}
	wg        sync.WaitGroup
}

func newSource(settings map[string]string) (*Source, error) {
	brokers, err := brokersFromSettings(settings)
	if err != nil {
		return nil, err
	}
	groupID := settings["group_id"]
	if groupID == "" {
		groupID = "flowbridge"
	}
	return &Source{brokers: brokers, groupID: groupID}, nil
}

func (s *Source) Open(ctx context.Context) error {
	s.aggregate = make(chan *core.Message, 4096)
	s.errs = make(chan error, 4)
	s.stop = make(chan struct{})
	return nil
}

func (s *Source) Subscribe(topics []string) error {
	for _, topic := range topics {
		reader := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: s.brokers,
			GroupID: s.groupID,
			Topic:   topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  100 * time.Millisecond,
		})
		s.readers = append(s.readers, reader)
		s.wg.Add(1)
		go s.pump(reader, topic)
	}
	return nil
}

func (s *Source) pump(reader *kafkago.Reader, topic string) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		m, err := reader.ReadMessage(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			select {
			case s.errs <- fmt.Errorf("kafka: read from %s: %w", topic, err):
			default:
			}
			continue
		}

		msg := &core.Message{
			Payload:     m.Value,
			Headers:     headersToMap(m.Headers),
			SourceTopic: m.Topic,
			Timestamp:   m.Time,
			Metadata: map[string]any{
				"partition": m.Partition,
				"offset":    m.Offset,
			},
		}
		select {
		case s.aggregate <- msg:
		case <-s.stop:
			return
		}
	}
}

func headersToMap(hs []kafkago.Header) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}

func (s *Source) Consume(ctx context.Context, timeout time.Duration) (*core.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.aggregate:
		return msg, nil
	case err := <-s.errs:
		return nil, err
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Source) Close() error {
	if s.stop != nil {
		select {
		case <-s.stop:
		default:
			close(s.stop)
		}
	}
	s.wg.Wait()
	var firstErr error
	for _, r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Publisher publishes to Kafka topics named per message. Safe for
// concurrent Publish calls: kafka-go's Writer multiplexes internally.
type Publisher struct {
	writer *kafkago.Writer
}

func newPublisher(settings map[string]string) (*Publisher, error) {
	brokers, err := brokersFromSettings(settings)
	if err != nil {
		return nil, err
	}
	batchSize := 1
	if v := settings["batch_size"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			batchSize = n
		}
	}
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Balancer:     &kafkago.LeastBytes{},
			BatchSize:    batchSize,
			RequiredAcks: kafkago.RequireOne,
		},
	}, nil
}

func (p *Publisher) Open(ctx context.Context) error {
	return nil
}

func (p *Publisher) Publish(ctx context.Context, topic string, msg *core.Message) error {
	headers := make([]kafkago.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Topic:   topic,
		Value:   msg.Payload,
		Headers: headers,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
