package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gitlabrelay/pkg/chat"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher delivers chat messages to the configured broker drivers.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg chat.Message) error
	Close() error
}

// NewPublisher connects every driver of cfg. Drivers that cannot be reached
// after cfg.ConnectRetry are skipped; at least one must succeed.
func NewPublisher(cfg BrokerConfig) (Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	var fanOut publisherFanOut
	for _, name := range cfg.DriverNames() {
		pub, err := connect(cfg.ConnectRetry, func() (Publisher, error) {
			return newDriverPublisher(cfg, name, logger)
		})
		if err != nil {
			logger.Error("publisher init failed, skipping driver", err, watermill.LogFields{"driver": name})
			continue
		}
		fanOut = append(fanOut, namedPublisher{driver: name, Publisher: pub})
	}
	if len(fanOut) == 0 {
		return nil, errors.New("no publishers available")
	}
	return fanOut, nil
}

func newDriverPublisher(cfg BrokerConfig, name string, logger watermill.LoggerAdapter) (Publisher, error) {
	if name == "riverqueue" {
		return newRiverQueuePublisher(context.Background(), cfg.RiverQueue)
	}
	driver, ok := brokerDrivers[name]
	if !ok || driver.publish == nil {
		return nil, brokerConfigError("unsupported watermill driver: %s", name)
	}
	pub, closeFn, err := driver.publish(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &watermillPublisher{publisher: pub, closeFn: closeFn}, nil
}

// watermillPublisher sends a chat.Message as a JSON payload. Network,
// channel and request id are copied into the metadata so bridges can route
// without decoding.
type watermillPublisher struct {
	publisher message.Publisher
	closeFn   func() error
}

func (w *watermillPublisher) Publish(ctx context.Context, topic string, msg chat.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	out := message.NewMessage(watermill.NewUUID(), payload)
	out.Metadata.Set("network", msg.Network)
	out.Metadata.Set("channel", msg.Channel)
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		out.Metadata.Set("request_id", requestID)
	}
	out.SetContext(ctx)
	return w.publisher.Publish(topic, out)
}

func (w *watermillPublisher) Close() error {
	err := w.publisher.Close()
	if w.closeFn != nil {
		err = errors.Join(err, w.closeFn())
	}
	return err
}

type namedPublisher struct {
	Publisher
	driver string
}

// publisherFanOut publishes every message to each driver in turn.
type publisherFanOut []namedPublisher

func (f publisherFanOut) Publish(ctx context.Context, topic string, msg chat.Message) error {
	var err error
	for _, pub := range f {
		if publishErr := pub.Publish(ctx, topic, msg); publishErr != nil {
			IncPublishError(pub.driver)
			err = errors.Join(err, fmt.Errorf("%s: %w", pub.driver, publishErr))
		}
	}
	return err
}

func (f publisherFanOut) Close() error {
	var err error
	for _, pub := range f {
		err = errors.Join(err, pub.Close())
	}
	return err
}

// DriverNames returns the configured drivers, lower-cased and without
// duplicates. An empty config means the in-memory go-channel.
func (c BrokerConfig) DriverNames() []string {
	names := make([]string, 0, len(c.Drivers)+1)
	seen := make(map[string]struct{}, len(c.Drivers)+1)
	for _, name := range append(append([]string{}, c.Drivers...), c.Driver) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		names = append(names, "gochannel")
	}
	return names
}
