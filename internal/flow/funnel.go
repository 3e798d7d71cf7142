package flow

import (
	"fmt"

	"flowbridge.dev/flowbridge/internal/broker"
	"flowbridge.dev/flowbridge/internal/config"
	"flowbridge.dev/flowbridge/internal/core"
	"flowbridge.dev/flowbridge/internal/metrics"
	"flowbridge.dev/flowbridge/internal/processor"
)

// NewFunnel builds the N-sources-to-one-destination topology: every source
// publishes to the same destination_topic on the same destination adapter.
func NewFunnel(cfg *config.GlobalConfig, collector *metrics.Collector) (*Flow, error) {
	if len(cfg.Funnel.Sources) == 0 {
		return nil, core.NewConfigError(fmt.Errorf("funnel.sources must not be empty"))
	}

	proc, err := processor.Build(cfg.ProcessorClass, nil)
	if err != nil {
		return nil, core.NewConfigError(err)
	}

	bindings := make([]SourceBinding, 0, len(cfg.Funnel.Sources))
	for i, sc := range cfg.Funnel.Sources {
		src, err := broker.BuildSource(sc.Type, sc.Settings)
		if err != nil {
			return nil, core.NewConfigError(fmt.Errorf("funnel.sources[%d]: %w", i, err))
		}
		topics := splitTopics(sc.Settings["topics"])
		if len(topics) == 0 {
			return nil, core.NewConfigError(fmt.Errorf("funnel.sources[%d]: settings.topics is required", i))
		}
		bindings = append(bindings, SourceBinding{Source: src, Topics: topics})
	}

	pub, err := broker.BuildPublisher(cfg.Funnel.Destination.Type, cfg.Funnel.Destination.Settings)
	if err != nil {
		return nil, core.NewConfigError(fmt.Errorf("funnel.destination: %w", err))
	}

	destinationTopic := cfg.Funnel.DestinationTopic
	pickDestination := func(*core.Message) (string, error) { return destinationTopic, nil }
	publisherFor := func(*core.Message) broker.Publisher { return pub }

	return New(baseConfig("funnel", cfg), bindings, []broker.Publisher{pub}, proc, pickDestination, publisherFor, collector), nil
}
