package internal

import (
	"context"
	"errors"
	"testing"

	"gitlabrelay/pkg/chat"
)

type flakyPublisher struct {
	failures int
	calls    int
	sent     []chat.Message
	topics   []string
}

func (f *flakyPublisher) Publish(ctx context.Context, topic string, msg chat.Message) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, msg)
	f.topics = append(f.topics, topic)
	return nil
}

func (f *flakyPublisher) Close() error { return nil }

func sinkConfig(attempts int) BrokerConfig {
	cfg := BrokerConfig{OutboundTopic: "relay.out"}
	cfg.PublishRetry.Attempts = attempts
	cfg.PublishRetry.DelayMS = 1
	return cfg
}

func TestBrokerSinkRetries(t *testing.T) {
	pub := &flakyPublisher{failures: 2}
	sink := NewBrokerSink(pub, sinkConfig(3), NewLogger("test"))

	msg := chat.Message{Network: "libera", Channel: "#dev", Text: "hi"}
	if err := sink.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.calls != 3 || len(pub.sent) != 1 {
		t.Fatalf("expected 3 attempts and 1 delivery, got %d/%d", pub.calls, len(pub.sent))
	}
	if pub.topics[0] != "relay.out" {
		t.Fatalf("unexpected topic %q", pub.topics[0])
	}
}

func TestBrokerSinkGivesUp(t *testing.T) {
	pub := &flakyPublisher{failures: 5}
	sink := NewBrokerSink(pub, sinkConfig(2), NewLogger("test"))

	if err := sink.Send(context.Background(), chat.Message{Channel: "#dev", Text: "hi"}); err == nil {
		t.Fatalf("expected error after retries")
	}
	if pub.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", pub.calls)
	}
}

func TestBrokerSinkKeepsOrder(t *testing.T) {
	pub := &flakyPublisher{}
	var sink chat.Sink = NewBrokerSink(pub, sinkConfig(1), nil)

	for _, text := range []string{"one", "two", "three"} {
		if err := sink.Send(context.Background(), chat.Message{Channel: "#dev", Text: text}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for i, want := range []string{"one", "two", "three"} {
		if pub.sent[i].Text != want {
			t.Fatalf("message %d: expected %q, got %q", i, want, pub.sent[i].Text)
		}
	}
}

func TestBrokerSinkRejectsEmptyChannel(t *testing.T) {
	sink := NewBrokerSink(&flakyPublisher{}, sinkConfig(1), nil)
	if err := sink.Send(context.Background(), chat.Message{Text: "hi"}); err == nil {
		t.Fatalf("expected error for message without channel")
	}
}
