package bridge

import "context"

// Listener observes the worker. Nil hooks are skipped.
type Listener struct {
	OnStart func(ctx context.Context)
	// OnReady runs once every topic is subscribed.
	OnReady         func(ctx context.Context, topics []string)
	OnExit          func(ctx context.Context)
	OnMessageStart  func(ctx context.Context, evt *Event)
	OnMessageFinish func(ctx context.Context, evt *Event, err error)
	// OnError receives decode and handler failures; evt is nil when the
	// message could not be decoded.
	OnError func(ctx context.Context, evt *Event, err error)
}
