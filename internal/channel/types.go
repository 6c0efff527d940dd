package channel

import (
	"context"

	"github.com/repliahq/replia/internal/business"
)

// OutboundMessage is one text message bound for an end user on the
// business's messaging channel.
type OutboundMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// Sender delivers outbound messages through a business's configured
// channel.
type Sender interface {
	Send(ctx context.Context, cfg *business.ChannelSettings, msg OutboundMessage) error
}
