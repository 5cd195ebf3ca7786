package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Inbound event types published by the chat bridge.
const (
	TypeJoin    = "join"
	TypePart    = "part"
	TypeCommand = "command"
	// TypeMessage marks outbound chat lines read back from the outbound topic.
	TypeMessage = "message"
)

// Event is one message received from the broker. The chat bridge publishes
// it as {"type","network","channel","nick","host","account","text"}.
type Event struct {
	Type    string `json:"type"`
	Network string `json:"network"`
	Channel string `json:"channel"`
	Nick    string `json:"nick"`
	// Host is the user@host part of the sender's prefix.
	Host string `json:"host,omitempty"`
	// Account is the services account the sender is identified to.
	Account string `json:"account,omitempty"`
	Text    string `json:"text"`

	Topic    string            `json:"-"`
	Metadata map[string]string `json:"-"`
}

// decodeEvent reads the JSON envelope of msg. Type, network and channel
// fall back to the message metadata; a message without any type is an
// outbound chat line.
func decodeEvent(topic string, msg *message.Message) (*Event, error) {
	evt := &Event{}
	if err := json.Unmarshal(msg.Payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", topic, err)
	}
	evt.Topic = topic
	evt.Metadata = make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		evt.Metadata[key] = value
	}
	fallback := func(field *string, key string) {
		if *field == "" {
			*field = msg.Metadata.Get(key)
		}
	}
	fallback(&evt.Type, "type")
	fallback(&evt.Network, "network")
	fallback(&evt.Channel, "channel")
	if evt.Type == "" {
		evt.Type = TypeMessage
	}
	return evt, nil
}
