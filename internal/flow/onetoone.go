package flow

import (
	"fmt"

	"flowbridge.dev/flowbridge/internal/broker"
	"flowbridge.dev/flowbridge/internal/config"
	"flowbridge.dev/flowbridge/internal/core"
	"flowbridge.dev/flowbridge/internal/metrics"
	"flowbridge.dev/flowbridge/internal/processor"
)

// NewOneToOne builds the bijective source-topic-to-destination-topic
// topology: a single source subscribes to every mapped source topic, and
// the destination is looked up by the message's (post-processing) source
// topic. Strict per-source-topic FIFO, if required, is achieved by setting
// thread_pool.max_workers to 1 — both stages then run a single worker,
// exactly as the universal worker-pool sizing knob intends.
func NewOneToOne(cfg *config.GlobalConfig, collector *metrics.Collector) (*Flow, error) {
	if len(cfg.OneToOne.Mappings) == 0 {
		return nil, core.NewConfigError(fmt.Errorf("one_to_one.mappings must not be empty"))
	}

	proc, err := processor.Build(cfg.ProcessorClass, nil)
	if err != nil {
		return nil, core.NewConfigError(err)
	}

	mapping := make(map[string]string, len(cfg.OneToOne.Mappings))
	topics := make([]string, 0, len(cfg.OneToOne.Mappings))
	for _, m := range cfg.OneToOne.Mappings {
		mapping[m.SourceTopic] = m.DestinationTopic
		topics = append(topics, m.SourceTopic)
	}

	src, err := broker.BuildSource(cfg.OneToOne.Source.Type, cfg.OneToOne.Source.Settings)
	if err != nil {
		return nil, core.NewConfigError(fmt.Errorf("one_to_one.source: %w", err))
	}
	bindings := []SourceBinding{{Source: src, Topics: topics}}

	pub, err := broker.BuildPublisher(cfg.OneToOne.Destination.Type, cfg.OneToOne.Destination.Settings)
	if err != nil {
		return nil, core.NewConfigError(fmt.Errorf("one_to_one.destination: %w", err))
	}

	pickDestination := func(out *core.Message) (string, error) {
		topic, ok := mapping[out.SourceTopic]
		if !ok {
			return "", core.NewTransientError(out.SourceTopic, fmt.Errorf("no destination mapping for source topic %q", out.SourceTopic))
		}
		return topic, nil
	}
	publisherFor := func(*core.Message) broker.Publisher { return pub }

	return New(baseConfig("one_to_one", cfg), bindings, []broker.Publisher{pub}, proc, pickDestination, publisherFor, collector), nil
}
