package bridge

import "github.com/ThreeDotsLabs/watermill/message"

// Option configures a Worker.
type Option func(*Worker)

// WithSubscriber sets the subscriber the worker reads from.
func WithSubscriber(sub message.Subscriber) Option {
	return func(w *Worker) { w.subscriber = sub }
}

// WithTopics subscribes the worker to topics whose messages are routed by
// event type.
func WithTopics(topics ...string) Option {
	return func(w *Worker) {
		for _, topic := range topics {
			w.subscribe(topic)
		}
	}
}

// WithMiddleware wraps every handler, outermost first.
func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) { w.middleware = append(w.middleware, mw...) }
}

func WithLogger(l Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithListener(listener Listener) Option {
	return func(w *Worker) { w.listeners = append(w.listeners, listener) }
}
