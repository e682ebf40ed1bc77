package channel

import (
	"context"

	"github.com/stellarlinkco/yuki/internal/bus"
)

// Channel is a chat transport that publishes inbound events to the bus and
// delivers outbound replies.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allow := make(map[string]struct{}, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = struct{}{}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether senderID may talk to the bot. An empty allow-list
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}
