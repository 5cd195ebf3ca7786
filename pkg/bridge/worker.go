package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrNoTopics is returned by Run when no topic was registered.
var ErrNoTopics = errors.New("at least one topic is required")

// Worker reads the chat bridge topics and dispatches each message to the
// handler registered for its topic or, failing that, for its event type.
//
// Each topic is consumed by one goroutine and every message is acked after
// its handler returns, so messages of one topic are handled in publish
// order. Failed messages are acked too: a redelivered join or command would
// not succeed the second time.
type Worker struct {
	subscriber message.Subscriber
	logger     Logger
	topics     []string
	byTopic    map[string]Handler
	byType     map[string]Handler
	middleware []Middleware
	listeners  []Listener
}

// New creates a Worker.
func New(opts ...Option) *Worker {
	w := &Worker{
		logger:  defaultLogger,
		byTopic: make(map[string]Handler),
		byType:  make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) subscribe(topic string) {
	if topic == "" {
		return
	}
	for _, known := range w.topics {
		if known == topic {
			return
		}
	}
	w.topics = append(w.topics, topic)
}

// HandleTopic subscribes to topic and handles all of its messages with h.
func (w *Worker) HandleTopic(topic string, h Handler) {
	if topic == "" || h == nil {
		return
	}
	w.byTopic[topic] = h
	w.subscribe(topic)
}

// HandleType handles messages of eventType on topics without a topic handler.
func (w *Worker) HandleType(eventType string, h Handler) {
	if eventType == "" || h == nil {
		return
	}
	w.byType[eventType] = h
}

// Run consumes every topic until ctx is canceled or all subscriptions end.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	if len(w.topics) == 0 {
		return ErrNoTopics
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.notify(func(l Listener) {
		if l.OnStart != nil {
			l.OnStart(ctx)
		}
	})
	defer w.notify(func(l Listener) {
		if l.OnExit != nil {
			l.OnExit(ctx)
		}
	})

	streams := make([]<-chan *message.Message, len(w.topics))
	for i, topic := range w.topics {
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			err = fmt.Errorf("subscribe %s: %w", topic, err)
			w.failed(ctx, nil, err)
			return err
		}
		streams[i] = msgs
	}
	topics := append([]string(nil), w.topics...)
	w.notify(func(l Listener) {
		if l.OnReady != nil {
			l.OnReady(ctx, topics)
		}
	})

	var wg sync.WaitGroup
	for i, msgs := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx, topics[i], msgs)
		}()
	}
	wg.Wait()
	return nil
}

// Close shuts down the subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

func (w *Worker) consume(ctx context.Context, topic string, msgs <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			w.process(ctx, topic, msg)
			msg.Ack()
		}
	}
}

func (w *Worker) process(ctx context.Context, topic string, msg *message.Message) {
	evt, err := decodeEvent(topic, msg)
	if err != nil {
		w.logger.Printf("drop undecodable message topic=%s: %v", topic, err)
		w.failed(ctx, nil, err)
		return
	}
	if reqID := evt.Metadata["request_id"]; reqID != "" {
		w.logger.Printf("request_id=%s topic=%s type=%s channel=%s", reqID, topic, evt.Type, evt.Channel)
	}

	handler, ok := w.byTopic[topic]
	if !ok {
		handler, ok = w.byType[evt.Type]
	}
	if !ok {
		w.logger.Printf("no handler for topic=%s type=%s", topic, evt.Type)
		return
	}
	for i := len(w.middleware) - 1; i >= 0; i-- {
		handler = w.middleware[i](handler)
	}

	w.notify(func(l Listener) {
		if l.OnMessageStart != nil {
			l.OnMessageStart(ctx, evt)
		}
	})
	err = handler(ctx, evt)
	w.notify(func(l Listener) {
		if l.OnMessageFinish != nil {
			l.OnMessageFinish(ctx, evt, err)
		}
	})
	if err != nil {
		w.logger.Printf("handler failed topic=%s type=%s: %v", topic, evt.Type, err)
		w.failed(ctx, evt, err)
	}
}

func (w *Worker) failed(ctx context.Context, evt *Event, err error) {
	w.notify(func(l Listener) {
		if l.OnError != nil {
			l.OnError(ctx, evt, err)
		}
	})
}

func (w *Worker) notify(fn func(Listener)) {
	for _, listener := range w.listeners {
		fn(listener)
	}
}
