package flow

import (
	"fmt"

	"flowbridge.dev/flowbridge/internal/broker"
	"flowbridge.dev/flowbridge/internal/config"
	"flowbridge.dev/flowbridge/internal/core"
	"flowbridge.dev/flowbridge/internal/metrics"
	"flowbridge.dev/flowbridge/internal/processor"
	"flowbridge.dev/flowbridge/internal/resolver"
)

// NewFan builds the one-source-to-dynamic-destinations topology: every
// message's destination topic is resolved at runtime from its headers or
// payload, and all destinations share the same destination adapter type —
// only the topic name varies per message. A single Publisher instance is
// reused across topics; adapters that need per-topic setup (e.g. the Kafka
// writer, which multiplexes internally) are expected to handle this.
func NewFan(cfg *config.GlobalConfig, collector *metrics.Collector) (*Flow, error) {
	if cfg.Fan.SourceTopic == "" {
		return nil, core.NewConfigError(fmt.Errorf("fan.source_topic is required"))
	}

	proc, err := processor.Build(cfg.ProcessorClass, nil)
	if err != nil {
		return nil, core.NewConfigError(err)
	}

	res, err := resolver.New(resolver.Kind(cfg.Fan.Resolver.Type), cfg.Fan.Resolver.Key)
	if err != nil {
		return nil, core.NewConfigError(fmt.Errorf("fan.resolver: %w", err))
	}

	src, err := broker.BuildSource(cfg.Fan.Source.Type, cfg.Fan.Source.Settings)
	if err != nil {
		return nil, core.NewConfigError(fmt.Errorf("fan.source: %w", err))
	}
	bindings := []SourceBinding{{Source: src, Topics: []string{cfg.Fan.SourceTopic}}}

	pub, err := broker.BuildPublisher(cfg.Fan.Destination.Type, cfg.Fan.Destination.Settings)
	if err != nil {
		return nil, core.NewConfigError(fmt.Errorf("fan.destination: %w", err))
	}

	pickDestination := func(out *core.Message) (string, error) {
		topic, err := res.Resolve(out)
		if err != nil {
			return "", core.NewTransientError(out.SourceTopic, err)
		}
		return topic, nil
	}
	publisherFor := func(*core.Message) broker.Publisher { return pub }

	return New(baseConfig("fan", cfg), bindings, []broker.Publisher{pub}, proc, pickDestination, publisherFor, collector), nil
}
