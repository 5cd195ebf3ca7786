package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlabrelay/pkg/chat"
	"gitlabrelay/pkg/storage"
)

// Store keeps subscriptions in process memory.
type Store struct {
	mu       sync.RWMutex
	channels map[channelKey]map[string]storage.Subscription
}

type channelKey struct {
	network string
	channel string
}

// New returns an empty Store.
func New() *Store {
	return &Store{channels: make(map[channelKey]map[string]storage.Subscription)}
}

func keyFor(network, channel string) channelKey {
	return channelKey{network: strings.ToLower(network), channel: chat.ChannelKey(channel)}
}

// List returns the subscriptions of a channel ordered by slug.
func (s *Store) List(_ context.Context, network, channel string) ([]storage.Subscription, error) {
	s.mu.RLock()
	entries := s.channels[keyFor(network, channel)]
	out := make([]storage.Subscription, 0, len(entries))
	for _, sub := range entries {
		out = append(out, sub)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Add registers a subscription.
func (s *Store) Add(_ context.Context, sub storage.Subscription) error {
	if sub.Slug == "" || sub.URL == "" {
		return errors.New("slug and url are required")
	}
	sub.Channel = chat.NormalizeChannel(sub.Channel)
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	key := keyFor(sub.Network, sub.Channel)

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.channels[key]
	if !ok {
		entries = make(map[string]storage.Subscription)
		s.channels[key] = entries
	}
	if _, exists := entries[sub.Slug]; exists {
		return storage.ErrDuplicateSlug
	}
	entries[sub.Slug] = sub
	return nil
}

// Remove deletes a subscription by slug.
func (s *Store) Remove(_ context.Context, network, channel, slug string) error {
	key := keyFor(network, channel)

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.channels[key]
	if _, ok := entries[slug]; !ok {
		return storage.ErrNotFound
	}
	delete(entries, slug)
	if len(entries) == 0 {
		delete(s.channels, key)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
