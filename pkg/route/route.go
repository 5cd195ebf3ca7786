package route

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"gitlabrelay/pkg/event"
	"gitlabrelay/pkg/storage"
)

// Target is one (channel, subscription) pair an event is delivered to.
type Target struct {
	Channel string
	Slug    string
}

// Router matches events against channel subscriptions.
type Router struct {
	store   storage.SubscriptionStore
	network string
}

// New creates a Router over the subscriptions of network.
func New(store storage.SubscriptionStore, network string) *Router {
	return &Router{store: store, network: network}
}

// Route returns the targets among channels whose subscriptions match evt,
// ordered by channel and then slug. A lookup failure for one channel does
// not stop the others; failures are joined into the returned error.
func (r *Router) Route(ctx context.Context, evt *event.Event, channels []string) ([]Target, error) {
	if evt == nil {
		return nil, errors.New("nil event")
	}
	var (
		targets []Target
		errs    error
	)
	for _, channel := range channels {
		subs, err := r.store.List(ctx, r.network, channel)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("list %s: %w", channel, err))
			continue
		}
		for _, sub := range subs {
			if Matches(evt, sub) {
				targets = append(targets, Target{Channel: channel, Slug: sub.Slug})
			}
		}
	}
	return targets, errs
}

// Matches reports whether sub selects evt. Push, tag push and note hooks
// match on URL equality with the repository homepage; issue and merge
// request hooks match when the subscription URL is contained in the
// resource URL. A subscription with a secret also requires the webhook
// token to equal it.
func Matches(evt *event.Event, sub storage.Subscription) bool {
	if sub.URL == "" {
		return false
	}
	if evt.Kind.MatchesExactly() {
		if sub.URL != evt.ProjectURL {
			return false
		}
	} else if !strings.Contains(evt.ProjectURL, sub.URL) {
		return false
	}
	if sub.Secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(sub.Secret), []byte(evt.Token)) == 1
}
