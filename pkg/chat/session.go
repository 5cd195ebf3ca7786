package chat

import (
	"sort"
	"strings"
	"sync"
)

// channelPrefixes are the characters a channel name may start with.
const channelPrefixes = "#&+!"

// Session tracks the network the bot is connected to and the channels it has
// joined. It is safe for concurrent use.
type Session struct {
	network string

	mu       sync.RWMutex
	channels map[string]string
}

// NewSession creates a session on network that has already joined channels.
func NewSession(network string, channels ...string) *Session {
	s := &Session{
		network:  network,
		channels: make(map[string]string, len(channels)),
	}
	for _, channel := range channels {
		s.Join(channel)
	}
	return s
}

// Network returns the network name.
func (s *Session) Network() string {
	return s.network
}

// Joined reports whether the bot is in channel.
func (s *Session) Joined(channel string) bool {
	key := ChannelKey(channel)
	if key == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[key]
	return ok
}

// Channels returns the joined channels sorted by name.
func (s *Session) Channels() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.channels))
	for _, name := range s.channels {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Join records that the bot joined channel.
func (s *Session) Join(channel string) {
	name := NormalizeChannel(channel)
	if name == "" {
		return
	}
	s.mu.Lock()
	s.channels[ChannelKey(name)] = name
	s.mu.Unlock()
}

// Part records that the bot left channel.
func (s *Session) Part(channel string) {
	key := ChannelKey(channel)
	if key == "" {
		return
	}
	s.mu.Lock()
	delete(s.channels, key)
	s.mu.Unlock()
}

// NormalizeChannel trims name and prefixes it with '#' unless it already
// carries a channel prefix.
func NormalizeChannel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.ContainsRune(channelPrefixes, rune(name[0])) {
		if len(name) == 1 {
			return ""
		}
		return name
	}
	return "#" + name
}

// ChannelKey is the case-insensitive lookup key for a channel name.
func ChannelKey(name string) string {
	return strings.ToLower(NormalizeChannel(name))
}
