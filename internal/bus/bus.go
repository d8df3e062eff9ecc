package bus

import (
	"fmt"

	"github.com/dinary/feecore/internal/domain"
)

// New creates an event bus based on configuration: in-process channels
// by default, NATS for multi-instance deployments.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
