package flow

import (
	"strings"
	"time"

	"flowbridge.dev/flowbridge/internal/config"
)

// splitTopics parses a comma-separated "topics" adapter setting into a
// trimmed, non-empty topic list.
func splitTopics(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// baseConfig derives the common stage Config shared by every topology from
// the top-level engine settings.
func baseConfig(name string, cfg *config.GlobalConfig) Config {
	return Config{
		Name:                name,
		MaxWorkers:          cfg.ThreadPool.MaxWorkers,
		QueueSize:           cfg.ThreadPool.QueueSize,
		BackPressureEnabled: cfg.BackPressure.Enabled,
		HighWatermark:       cfg.BackPressure.QueueHighWatermark,
		LowWatermark:        cfg.BackPressure.QueueLowWatermark,
		ShutdownTimeout:     time.Duration(cfg.ShutdownTimeoutSeconds * float64(time.Second)),
	}
}
