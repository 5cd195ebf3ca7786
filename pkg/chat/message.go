package chat

import "context"

// Message is a single line of text destined for a chat channel.
type Message struct {
	Network string `json:"network"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Sink accepts outbound chat messages. Send enqueues the message and returns
// without waiting for delivery to the chat network.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, msg Message) error

// Send calls f(ctx, msg).
func (f SinkFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
