package bridge

import (
	"context"
	"errors"
	"strings"

	"gitlabrelay/pkg/chat"
	"gitlabrelay/pkg/commands"
)

// Relay applies chat bridge events to the relay: joins and parts update the
// session, commands are answered through the sink.
type Relay struct {
	Session  *chat.Session
	Commands *commands.Handler
	Sink     chat.Sink
	Logger   Logger
}

// Register installs the relay handlers on w.
func (r *Relay) Register(w *Worker) {
	w.HandleType(TypeJoin, r.handleJoin)
	w.HandleType(TypePart, r.handlePart)
	w.HandleType(TypeCommand, r.handleCommand)
}

func (r *Relay) logger() Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return defaultLogger
}

// ours reports whether evt belongs to the relay's network.
func (r *Relay) ours(evt *Event) bool {
	return evt.Network == "" || evt.Network == r.Session.Network()
}

func (r *Relay) handleJoin(ctx context.Context, evt *Event) error {
	if !r.ours(evt) {
		return nil
	}
	if chat.NormalizeChannel(evt.Channel) == "" {
		return errors.New("join without channel")
	}
	r.Session.Join(evt.Channel)
	r.logger().Printf("joined %s on %s", chat.NormalizeChannel(evt.Channel), r.Session.Network())
	return nil
}

func (r *Relay) handlePart(ctx context.Context, evt *Event) error {
	if !r.ours(evt) {
		return nil
	}
	if chat.NormalizeChannel(evt.Channel) == "" {
		return errors.New("part without channel")
	}
	r.Session.Part(evt.Channel)
	r.logger().Printf("parted %s on %s", chat.NormalizeChannel(evt.Channel), r.Session.Network())
	return nil
}

func (r *Relay) handleCommand(ctx context.Context, evt *Event) error {
	if !r.ours(evt) || r.Commands == nil {
		return nil
	}
	caller := commands.Caller{
		Network: r.Session.Network(),
		Channel: strings.TrimSpace(evt.Channel),
		Nick:    evt.Nick,
		Host:    evt.Host,
		Account: evt.Account,
	}
	if caller.Channel != "" {
		caller.Channel = chat.NormalizeChannel(caller.Channel)
	}
	replies, ok := r.Commands.Handle(ctx, caller, evt.Text)
	if !ok {
		return nil
	}

	// Private commands are answered to the nick.
	target := caller.Channel
	if target == "" {
		target = evt.Nick
	}
	var err error
	for _, reply := range replies {
		msg := chat.Message{Network: caller.Network, Channel: target, Text: reply}
		err = errors.Join(err, r.Sink.Send(ctx, msg))
	}
	return err
}

// Console returns a topic handler that writes outbound chat lines to the
// logger. It stands in for a chat bridge when the broker is the in-memory
// go-channel.
func Console(logger Logger) Handler {
	if logger == nil {
		logger = defaultLogger
	}
	return func(ctx context.Context, evt *Event) error {
		logger.Printf("%s %s: %s", evt.Network, evt.Channel, evt.Text)
		return nil
	}
}
