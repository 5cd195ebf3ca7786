// Package commands implements the chat-side administration of channel
// subscriptions: project add, remove and list.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"gitlabrelay/pkg/chat"
	"gitlabrelay/pkg/storage"
)

const (
	replyOK            = "The operation succeeded."
	replyNoCapability  = "Error: You don't have the admin capability."
	replyDuplicate     = "Error: This project is already announced to this channel."
	replyNotRegistered = "Error: This project is not registered to this channel."
	replyEmpty         = "Error: This channel has no registered projects."
	replyNoChannel     = "Error: A channel is required outside of a channel."
	replyBadURL        = "Error: The project url must be an http or https url."
	replyStore         = "Error: The subscription store is unavailable, try again later."
)

// Caller identifies who sent a command and where.
type Caller struct {
	Network string
	// Channel is empty for private messages.
	Channel string
	Nick    string
	// Host is the user@host part of the sender's prefix.
	Host string
	// Account is the services account the sender is identified to, if any.
	Account string
}

// Handler executes project commands against a subscription store.
type Handler struct {
	store   storage.SubscriptionStore
	network string
	admins  admins
	logger  *log.Logger
	now     func() time.Time
}

// NewHandler returns a Handler. Entries of admins that are neither
// hostmasks nor account:<name> values are ignored.
func NewHandler(store storage.SubscriptionStore, network string, adminEntries []string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{store: store, network: network, admins: newAdmins(adminEntries), logger: logger, now: time.Now}
}

// Handle runs line as a project command. The bool result is false when line
// is not a project command; the replies are then empty.
func (h *Handler) Handle(ctx context.Context, caller Caller, line string) ([]string, bool) {
	fields := strings.Fields(line)
	if len(fields) > 0 && strings.EqualFold(fields[0], "gitlab") {
		fields = fields[1:]
	}
	if len(fields) < 2 || !strings.EqualFold(fields[0], "project") {
		return nil, false
	}
	verb := strings.ToLower(fields[1])
	args := fields[2:]
	switch verb {
	case "add", "remove", "list":
	default:
		return nil, false
	}

	if !h.admins.allows(caller) {
		h.logger.Printf("project %s refused nick=%s host=%s account=%s", verb, caller.Nick, caller.Host, caller.Account)
		return []string{replyNoCapability}, true
	}

	channel := caller.Channel
	if len(args) > 0 && isChannelArg(args[0]) {
		channel = args[0]
		args = args[1:]
	}
	channel = chat.NormalizeChannel(channel)
	if channel == "" {
		return []string{replyNoChannel}, true
	}
	network := caller.Network
	if network == "" {
		network = h.network
	}

	switch verb {
	case "add":
		return h.add(ctx, network, channel, args), true
	case "remove":
		return h.remove(ctx, network, channel, args), true
	default:
		return h.list(ctx, network, channel, args), true
	}
}

func (h *Handler) add(ctx context.Context, network, channel string, args []string) []string {
	if len(args) < 2 || len(args) > 3 {
		return []string{"Error: usage: project add [<channel>] <slug> <url> [<secret>]"}
	}
	if !validURL(args[1]) {
		return []string{replyBadURL}
	}
	sub := storage.Subscription{
		Network:   network,
		Channel:   channel,
		Slug:      args[0],
		URL:       args[1],
		CreatedAt: h.now().UTC(),
	}
	if len(args) == 3 {
		sub.Secret = args[2]
	}

	err := h.store.Add(ctx, sub)
	switch {
	case err == nil:
		h.logger.Printf("project added network=%s channel=%s slug=%s", network, channel, sub.Slug)
		return []string{replyOK}
	case errors.Is(err, storage.ErrDuplicateSlug):
		return []string{replyDuplicate}
	default:
		return h.storeError("add", err)
	}
}

func (h *Handler) remove(ctx context.Context, network, channel string, args []string) []string {
	if len(args) != 1 {
		return []string{"Error: usage: project remove [<channel>] <slug>"}
	}
	err := h.store.Remove(ctx, network, channel, args[0])
	switch {
	case err == nil:
		h.logger.Printf("project removed network=%s channel=%s slug=%s", network, channel, args[0])
		return []string{replyOK}
	case errors.Is(err, storage.ErrNotFound):
		return []string{replyNotRegistered}
	default:
		return h.storeError("remove", err)
	}
}

func (h *Handler) list(ctx context.Context, network, channel string, args []string) []string {
	if len(args) != 0 {
		return []string{"Error: usage: project list [<channel>]"}
	}
	subs, err := h.store.List(ctx, network, channel)
	if err != nil {
		return h.storeError("list", err)
	}
	if len(subs) == 0 {
		return []string{replyEmpty}
	}
	replies := make([]string, 0, len(subs))
	for _, sub := range subs {
		replies = append(replies, fmt.Sprintf("%s: %s", sub.Slug, sub.URL))
	}
	return replies
}

func (h *Handler) storeError(op string, err error) []string {
	h.logger.Printf("project %s failed: %v", op, err)
	return []string{replyStore}
}

func isChannelArg(arg string) bool {
	return arg != "" && strings.ContainsRune("#&+!", rune(arg[0]))
}

func validURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
