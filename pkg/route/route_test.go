package route

import (
	"context"
	"errors"
	"testing"

	"gitlabrelay/pkg/event"
	"gitlabrelay/pkg/storage"
	"gitlabrelay/pkg/storage/memory"
)

const appURL = "https://git.example.com/team/app"

func seed(t *testing.T, subs ...storage.Subscription) *memory.Store {
	t.Helper()
	store := memory.New()
	for _, sub := range subs {
		if sub.Network == "" {
			sub.Network = "mynet"
		}
		if err := store.Add(context.Background(), sub); err != nil {
			t.Fatalf("seed %s: %v", sub.Slug, err)
		}
	}
	return store
}

// TestRoutePushExactMatch tests that push hooks require an exact homepage match.
func TestRoutePushExactMatch(t *testing.T) {
	store := seed(t, storage.Subscription{Channel: "#dev", Slug: "app", URL: appURL})
	router := New(store, "mynet")

	targets, err := router.Route(context.Background(), &event.Event{Kind: event.KindPush, ProjectURL: appURL}, []string{"#dev"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(targets) != 1 || targets[0] != (Target{Channel: "#dev", Slug: "app"}) {
		t.Fatalf("expected one target, got %+v", targets)
	}

	targets, _ = router.Route(context.Background(), &event.Event{Kind: event.KindPush, ProjectURL: appURL + "2"}, []string{"#dev"})
	if len(targets) != 0 {
		t.Fatalf("expected app2 not to match, got %+v", targets)
	}
}

// TestRouteIssueSubstringMatch tests that issue hooks match on a contained project URL.
func TestRouteIssueSubstringMatch(t *testing.T) {
	store := seed(t, storage.Subscription{Channel: "#dev", Slug: "app", URL: appURL})
	router := New(store, "mynet")

	for _, kind := range []event.Kind{event.KindIssue, event.KindMergeRequest} {
		evt := &event.Event{Kind: kind, ProjectURL: appURL + "/issues/42"}
		targets, err := router.Route(context.Background(), evt, []string{"#dev"})
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		if len(targets) != 1 {
			t.Fatalf("%s: expected substring match, got %+v", kind, targets)
		}
	}

	note := &event.Event{Kind: event.KindNote, ProjectURL: appURL + "/issues/42"}
	if targets, _ := router.Route(context.Background(), note, []string{"#dev"}); len(targets) != 0 {
		t.Fatalf("expected note hooks to require an exact match, got %+v", targets)
	}
}

// TestRouteOnlyJoinedChannels tests that subscriptions of other channels are inert.
func TestRouteOnlyJoinedChannels(t *testing.T) {
	store := seed(t,
		storage.Subscription{Channel: "#dev", Slug: "app", URL: appURL},
		storage.Subscription{Channel: "#ops", Slug: "app", URL: appURL},
		storage.Subscription{Channel: "#ops", Slug: "app-mirror", URL: appURL},
	)
	router := New(store, "mynet")

	targets, err := router.Route(context.Background(), &event.Event{Kind: event.KindPush, ProjectURL: appURL}, []string{"#ops"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	want := []Target{{Channel: "#ops", Slug: "app"}, {Channel: "#ops", Slug: "app-mirror"}}
	if len(targets) != len(want) {
		t.Fatalf("expected %v, got %v", want, targets)
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, targets)
		}
	}
}

// TestRouteSecret tests that a subscription secret gates matching on the token.
func TestRouteSecret(t *testing.T) {
	sub := storage.Subscription{Channel: "#dev", Slug: "app", URL: appURL, Secret: "tok"}
	if Matches(&event.Event{Kind: event.KindPush, ProjectURL: appURL}, sub) {
		t.Fatalf("expected missing token not to match")
	}
	if Matches(&event.Event{Kind: event.KindPush, ProjectURL: appURL, Token: "nope"}, sub) {
		t.Fatalf("expected wrong token not to match")
	}
	if !Matches(&event.Event{Kind: event.KindPush, ProjectURL: appURL, Token: "tok"}, sub) {
		t.Fatalf("expected matching token to match")
	}
}

type failingStore struct {
	storage.SubscriptionStore
	fail string
}

func (f failingStore) List(ctx context.Context, network, channel string) ([]storage.Subscription, error) {
	if channel == f.fail {
		return nil, errors.New("boom")
	}
	return f.SubscriptionStore.List(ctx, network, channel)
}

// TestRouteStoreErrorIsolated tests that one failing channel does not hide the others.
func TestRouteStoreErrorIsolated(t *testing.T) {
	store := failingStore{
		SubscriptionStore: seed(t, storage.Subscription{Channel: "#ops", Slug: "app", URL: appURL}),
		fail:              "#dev",
	}
	router := New(store, "mynet")

	targets, err := router.Route(context.Background(), &event.Event{Kind: event.KindPush, ProjectURL: appURL}, []string{"#dev", "#ops"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(targets) != 1 || targets[0].Channel != "#ops" {
		t.Fatalf("expected #ops to still be routed, got %+v", targets)
	}
}
