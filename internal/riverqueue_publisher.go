package internal

import (
	"context"
	"encoding/json"
	"fmt"

	"gitlabrelay/pkg/chat"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// ChatMessageArgs is the river job carrying one outbound chat line.
type ChatMessageArgs struct {
	Network string `json:"network"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	Topic   string `json:"topic"`
}

func (ChatMessageArgs) Kind() string { return "gitlabrelay_chat_message" }

// riverQueuePublisher inserts chat messages as river jobs. The client is
// insert-only; a chat bridge runs the workers.
type riverQueuePublisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    RiverQueueConfig
}

func newRiverQueuePublisher(ctx context.Context, cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("riverqueue dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &riverQueuePublisher{pool: pool, client: client, cfg: cfg}, nil
}

func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, msg chat.Message) error {
	metadata, err := json.Marshal(map[string]string{
		"network":    msg.Network,
		"channel":    msg.Channel,
		"request_id": RequestIDFromContext(ctx),
	})
	if err != nil {
		return err
	}

	_, err = p.client.Insert(ctx, ChatMessageArgs{
		Network: msg.Network,
		Channel: msg.Channel,
		Text:    msg.Text,
		Topic:   topic,
	}, &river.InsertOpts{
		Queue:       p.cfg.Queue,
		MaxAttempts: p.cfg.MaxAttempts,
		Priority:    p.cfg.Priority,
		Tags:        p.cfg.Tags,
		Metadata:    metadata,
	})
	return err
}

func (p *riverQueuePublisher) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
