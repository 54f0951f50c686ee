package bus

import (
	"fmt"

	"github.com/opensource-finance/heron/internal/domain"
)

// New builds the EventBus selected by cfg.Type: "channel" (Community tier,
// in-process) or "nats" (Pro tier).
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
}
