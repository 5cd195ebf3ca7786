package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateSlug is returned when a slug is already announced to a channel.
	ErrDuplicateSlug = errors.New("project already announced to this channel")
	// ErrNotFound is returned when removing a slug that is not registered.
	ErrNotFound = errors.New("project not registered to this channel")
)

// Subscription announces one GitLab project to one chat channel.
type Subscription struct {
	Network string
	Channel string
	Slug    string
	URL     string
	// Secret, when set, must match the X-Gitlab-Token of a webhook for the
	// subscription to match it.
	Secret    string
	CreatedAt time.Time
}

// SubscriptionStore persists channel subscriptions. Channel names are
// compared case-insensitively.
type SubscriptionStore interface {
	// List returns the subscriptions of a channel ordered by slug.
	List(ctx context.Context, network, channel string) ([]Subscription, error)
	Add(ctx context.Context, sub Subscription) error
	Remove(ctx context.Context, network, channel, slug string) error
	Close() error
}
