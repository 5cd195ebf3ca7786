package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// ErrBrokerConfig marks broker errors that retrying cannot fix.
var ErrBrokerConfig = errors.New("invalid broker config")

func brokerConfigError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBrokerConfig, fmt.Sprintf(format, args...))
}

// PublisherFactory builds the watermill publisher of one driver. The
// returned close function, if any, runs after the publisher is closed.
type PublisherFactory func(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

type subscriberFactory func(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Subscriber, func() error, error)

type brokerDriver struct {
	publish   PublisherFactory
	subscribe subscriberFactory
}

// brokerDrivers lists the watermill drivers. The go-channel has no
// subscriber here: a second instance would never see the publisher's
// messages, so callers share one through RegisterPublisherDriver.
var brokerDrivers = map[string]brokerDriver{
	"gochannel": {publish: func(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return NewGoChannel(cfg.GoChannel, logger), nil, nil
	}},
	"http":  {publish: httpPublisher},
	"kafka": {publish: kafkaPublisher, subscribe: kafkaSubscriber},
	"nats":  {publish: natsPublisher, subscribe: natsSubscriber},
	"amqp":  {publish: amqpPublisher, subscribe: amqpSubscriber},
	"sql":   {publish: sqlPublisher, subscribe: sqlSubscriber},
}

// RegisterPublisherDriver replaces or adds the publisher of a driver.
func RegisterPublisherDriver(name string, factory PublisherFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || factory == nil {
		return
	}
	driver := brokerDrivers[name]
	driver.publish = factory
	brokerDrivers[name] = driver
}

// SupportsSubscriber reports whether driver can feed the bridge worker.
func SupportsSubscriber(driver string) bool {
	return brokerDrivers[strings.ToLower(driver)].subscribe != nil
}

// NewGoChannel creates the in-memory pub/sub. Publish returns only after
// every subscriber acked the message, so lines sent to one channel arrive
// in order.
func NewGoChannel(cfg GoChannelConfig, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.OutputChannelBuffer,
		Persistent:                     cfg.Persistent,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
}

// connect calls build until it succeeds, fails with ErrBrokerConfig or runs
// out of attempts.
func connect[T any](cfg RetryConfig, build func() (T, error)) (T, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var (
		value T
		err   error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if value, err = build(); err == nil || errors.Is(err, ErrBrokerConfig) {
			return value, err
		}
		if attempt < attempts {
			time.Sleep(time.Duration(cfg.DelayMS) * time.Millisecond)
		}
	}
	return value, err
}

// NewSubscriber subscribes through every subscribable driver of cfg. With
// several drivers the streams are merged and each message carries its
// driver in the "driver" metadata key.
func NewSubscriber(cfg BrokerConfig) (message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)
	var subs fanIn
	for _, name := range cfg.DriverNames() {
		driver := brokerDrivers[name]
		if driver.subscribe == nil {
			continue
		}
		sub, err := connect(cfg.ConnectRetry, func() (message.Subscriber, error) {
			sub, closeFn, err := driver.subscribe(cfg, logger)
			if err != nil {
				return nil, err
			}
			return &closingSubscriber{Subscriber: sub, closeFn: closeFn}, nil
		})
		if err != nil {
			logger.Error("subscriber init failed, skipping driver", err, watermill.LogFields{"driver": name})
			continue
		}
		subs = append(subs, namedSubscriber{driver: name, Subscriber: sub})
	}
	switch len(subs) {
	case 0:
		return nil, errors.New("no subscriber driver available")
	case 1:
		return subs[0].Subscriber, nil
	default:
		return subs, nil
	}
}

type closingSubscriber struct {
	message.Subscriber
	closeFn func() error
}

func (c *closingSubscriber) Close() error {
	err := c.Subscriber.Close()
	if c.closeFn != nil {
		err = errors.Join(err, c.closeFn())
	}
	return err
}

type namedSubscriber struct {
	message.Subscriber
	driver string
}

type fanIn []namedSubscriber

func (f fanIn) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)
	var wg sync.WaitGroup
	for _, sub := range f {
		msgs, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sub.driver, err)
		}
		wg.Add(1)
		go func(driver string) {
			defer wg.Done()
			for msg := range msgs {
				if msg.Metadata == nil {
					msg.Metadata = message.Metadata{}
				}
				msg.Metadata.Set("driver", driver)
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}(sub.driver)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (f fanIn) Close() error {
	var err error
	for _, sub := range f {
		err = errors.Join(err, sub.Close())
	}
	return err
}

func httpPublisher(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	switch strings.ToLower(cfg.HTTP.Mode) {
	case "topic_url":
	case "base_url":
		if cfg.HTTP.BaseURL == "" {
			return nil, nil, brokerConfigError("http base_url is required for base_url mode")
		}
	default:
		return nil, nil, brokerConfigError("unsupported http mode: %s", cfg.HTTP.Mode)
	}
	pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
			target, err := httpTargetURL(cfg.HTTP, topic)
			if err != nil {
				return nil, err
			}
			return wmhttp.DefaultMarshalMessageFunc(target, msg)
		},
	}, logger)
	return pub, nil, err
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	if strings.EqualFold(cfg.Mode, "base_url") {
		base := strings.TrimRight(cfg.BaseURL, "/")
		if base == "" {
			return "", fmt.Errorf("http base_url is empty")
		}
		if topic == "" {
			return base, nil
		}
		return base + "/" + strings.TrimLeft(topic, "/"), nil
	}
	if topic == "" {
		return "", fmt.Errorf("http topic url is empty")
	}
	return topic, nil
}

func kafkaPublisher(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil, brokerConfigError("kafka brokers are required")
	}
	pub, err := wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
	return pub, nil, err
}

func kafkaSubscriber(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Subscriber, func() error, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil, brokerConfigError("kafka brokers are required")
	}
	sub, err := wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}, nil, wmkafka.DefaultMarshaler{}, logger)
	return sub, nil, err
}

func natsOptions(cfg NATSConfig) ([]stan.Option, error) {
	if cfg.ClusterID == "" || cfg.ClientID == "" {
		return nil, brokerConfigError("nats cluster_id and client_id are required")
	}
	if cfg.URL == "" {
		return nil, nil
	}
	return []stan.Option{stan.NatsURL(cfg.URL)}, nil
}

func natsPublisher(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	options, err := natsOptions(cfg.NATS)
	if err != nil {
		return nil, nil, err
	}
	pub, err := wmnats.NewStreamingPublisher(wmnats.StreamingPublisherConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID,
		StanOptions: options,
		Marshaler:   wmnats.GobMarshaler{},
	}, logger)
	return pub, nil, err
}

func natsSubscriber(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Subscriber, func() error, error) {
	options, err := natsOptions(cfg.NATS)
	if err != nil {
		return nil, nil, err
	}
	// stan refuses a second connection under the publisher's client id.
	sub, err := wmnats.NewStreamingSubscriber(wmnats.StreamingSubscriberConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID + "-bridge",
		DurableName: cfg.NATS.Durable,
		StanOptions: options,
		Unmarshaler: wmnats.GobMarshaler{},
	}, logger)
	return sub, nil, err
}

func amqpConfig(cfg AMQPConfig) (wmamaqp.Config, error) {
	if cfg.URL == "" {
		return wmamaqp.Config{}, brokerConfigError("amqp url is required")
	}
	switch strings.ToLower(cfg.Mode) {
	case "", "durable_queue":
		return wmamaqp.NewDurableQueueConfig(cfg.URL), nil
	case "nondurable_queue":
		return wmamaqp.NewNonDurableQueueConfig(cfg.URL), nil
	case "durable_pubsub":
		return wmamaqp.NewDurablePubSubConfig(cfg.URL, nil), nil
	case "nondurable_pubsub":
		return wmamaqp.NewNonDurablePubSubConfig(cfg.URL, nil), nil
	default:
		return wmamaqp.Config{}, brokerConfigError("unsupported amqp mode: %s", cfg.Mode)
	}
}

func amqpPublisher(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	amqpCfg, err := amqpConfig(cfg.AMQP)
	if err != nil {
		return nil, nil, err
	}
	pub, err := wmamaqp.NewPublisher(amqpCfg, logger)
	return pub, nil, err
}

func amqpSubscriber(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Subscriber, func() error, error) {
	amqpCfg, err := amqpConfig(cfg.AMQP)
	if err != nil {
		return nil, nil, err
	}
	sub, err := wmamaqp.NewSubscriber(amqpCfg, logger)
	return sub, nil, err
}

// sqlDialect returns the schema and offsets adapters of cfg.Dialect.
func sqlDialect(cfg SQLConfig) (wmsql.SchemaAdapter, wmsql.OffsetsAdapter, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, nil, brokerConfigError("sql driver and dsn are required")
	}
	switch strings.ToLower(cfg.Dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}, nil
	default:
		return nil, nil, brokerConfigError("unsupported sql dialect: %s", cfg.Dialect)
	}
}

func sqlPublisher(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	schema, _, err := sqlDialect(cfg.SQL)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
		SchemaAdapter:        schema,
		AutoInitializeSchema: cfg.SQL.InitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pub, db.Close, nil
}

func sqlSubscriber(cfg BrokerConfig, logger watermill.LoggerAdapter) (message.Subscriber, func() error, error) {
	schema, offsets, err := sqlDialect(cfg.SQL)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
		ConsumerGroup:    cfg.SQL.ConsumerGroup,
		SchemaAdapter:    schema,
		OffsetsAdapter:   offsets,
		InitializeSchema: cfg.SQL.InitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return sub, db.Close, nil
}
