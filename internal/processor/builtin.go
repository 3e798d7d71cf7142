package processor

import "flowbridge.dev/flowbridge/internal/core"

// dropEmptyPayload filters out any message with a zero-length payload.
// Registered as "drop_empty_payload".
type dropEmptyPayload struct{}

func (dropEmptyPayload) Process(msg *core.Message) (*core.Message, error) {
	if len(msg.Payload) == 0 {
		return nil, nil
	}
	return msg, nil
}

func init() {
	Register("drop_empty_payload", func(map[string]string) (Processor, error) {
		return dropEmptyPayload{}, nil
	})
}
