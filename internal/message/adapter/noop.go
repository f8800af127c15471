package adapter

import (
	"context"
	"log/slog"
	"slices"

	"meridian/internal/message/models"
)

// Noop accepts a fixed set of channels and logs instead of delivering.
// Used in development wiring and as a stand-in while a real channel adapter
// is rolled out.
type Noop struct {
	name     string
	channels []string
	logger   *slog.Logger
}

// NewNoop creates a noop adapter for the given channel codes.
func NewNoop(name string, logger *slog.Logger, channels ...string) *Noop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Noop{name: name, channels: channels, logger: logger}
}

func (n *Noop) Name() string { return n.name }

func (n *Noop) CanHandle(channel string) bool {
	return slices.Contains(n.channels, channel)
}

func (n *Noop) Deliver(ctx context.Context, msg models.Message) error {
	n.logger.InfoContext(ctx, "noop delivery",
		"adapter", n.name, "channel", msg.Channel, "message_id", msg.ID, "recipient", msg.Recipient)
	return nil
}
