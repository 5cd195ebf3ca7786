package internal

import (
	"context"
	"fmt"
	"log"
	"time"

	"gitlabrelay/pkg/chat"
)

// BrokerSink is the chat.Sink that enqueues messages on the outbound topic.
// Messages sent from one goroutine keep their order; a message is retried
// in place before the next one is published.
type BrokerSink struct {
	publisher Publisher
	topic     string
	attempts  int
	delay     time.Duration
	logger    *log.Logger
}

func NewBrokerSink(publisher Publisher, cfg BrokerConfig, logger *log.Logger) *BrokerSink {
	attempts := cfg.PublishRetry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &BrokerSink{
		publisher: publisher,
		topic:     cfg.OutboundTopic,
		attempts:  attempts,
		delay:     time.Duration(cfg.PublishRetry.DelayMS) * time.Millisecond,
		logger:    logger,
	}
}

func (s *BrokerSink) Send(ctx context.Context, msg chat.Message) error {
	if msg.Channel == "" {
		return fmt.Errorf("chat message has no channel")
	}

	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = s.publisher.Publish(ctx, s.topic, msg); err == nil {
			IncMessage(msg.Channel)
			return nil
		}
		s.logger.Printf("publish attempt %d/%d failed channel=%s: %v", attempt, s.attempts, msg.Channel, err)
		if attempt == s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return fmt.Errorf("publish to %s: %w", s.topic, err)
}
