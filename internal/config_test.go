package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadConfigDefaults tests that the default values are applied correctly when loading a config.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "chat:\n  network: libera\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected default body cap, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.GitLab.Path != "/gitlab/" {
		t.Fatalf("expected default gitlab path, got %q", cfg.GitLab.Path)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected memory store, got %q", cfg.Storage.Driver)
	}
	if cfg.Broker.Driver != "gochannel" {
		t.Fatalf("expected default broker driver, got %q", cfg.Broker.Driver)
	}
	if cfg.Broker.OutboundTopic != "gitlabrelay.outbound" || cfg.Broker.InboundTopic != "gitlabrelay.inbound" {
		t.Fatalf("unexpected topics %q %q", cfg.Broker.OutboundTopic, cfg.Broker.InboundTopic)
	}
	if cfg.Broker.GoChannel.OutputChannelBuffer != 64 {
		t.Fatalf("expected default gochannel output buffer, got %d", cfg.Broker.GoChannel.OutputChannelBuffer)
	}
	if cfg.Broker.PublishRetry.Attempts != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", cfg.Broker.PublishRetry.Attempts)
	}
	if cfg.Broker.ConnectRetry.Attempts != 10 || cfg.Broker.ConnectRetry.DelayMS != 2000 {
		t.Fatalf("unexpected connect retry %+v", cfg.Broker.ConnectRetry)
	}
}

// TestLoadConfigRejectsBareAdminNick tests that admins must be hostmasks or accounts.
func TestLoadConfigRejectsBareAdminNick(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "chat:\n  network: libera\n  admins: [alice]\n")); err == nil {
		t.Fatalf("expected error for bare admin nick")
	}
	cfg, err := LoadConfig(writeConfig(t, "chat:\n  network: libera\n  admins: [\"alice!*@staff.example.org\", \"account:carol\"]\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Chat.Admins) != 2 {
		t.Fatalf("unexpected admins %v", cfg.Chat.Admins)
	}
}

// TestLoadConfigRejectsBadTrustedProxy tests server.trusted_proxies validation.
func TestLoadConfigRejectsBadTrustedProxy(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "server:\n  trusted_proxies: [\"10.0.0.0/33\"]\nchat:\n  network: libera\n")); err == nil {
		t.Fatalf("expected error for invalid proxy range")
	}
}

func TestLoadConfigRequiresNetwork(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "{}\n")); err == nil {
		t.Fatalf("expected error for missing chat.network")
	}
}

func TestLoadConfigNormalizes(t *testing.T) {
	t.Setenv("RELAY_SECRET", "s3cret")
	content := `gitlab:
  path: hooks
  secret: ${RELAY_SECRET}
chat:
  network: " libera "
  channels: [dev, "#ops"]
channels:
  dev:
    filter: '[object_attributes.action] == "open"'
    templates:
      push: "{name}: {pusher} -> {branch}"
  "#ops": {}
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.GitLab.Path != "/hooks/" {
		t.Fatalf("expected normalized path, got %q", cfg.GitLab.Path)
	}
	if cfg.GitLab.Secret != "s3cret" {
		t.Fatalf("expected env expansion, got %q", cfg.GitLab.Secret)
	}
	if cfg.Chat.Network != "libera" {
		t.Fatalf("expected trimmed network, got %q", cfg.Chat.Network)
	}
	if len(cfg.Chat.Channels) != 2 || cfg.Chat.Channels[0] != "#dev" {
		t.Fatalf("unexpected channels %v", cfg.Chat.Channels)
	}

	filters := cfg.Filters(nil)
	if len(filters.Filters) != 1 || filters.Filters["dev"] == "" {
		t.Fatalf("unexpected filters %v", filters.Filters)
	}
	templates := cfg.TemplateSet()
	if got := templates.For("#DEV")["push"]; got != "{name}: {pusher} -> {branch}" {
		t.Fatalf("expected channel template override, got %q", got)
	}
	if got := templates.For("#ops")["push"]; got == "{name}: {pusher} -> {branch}" {
		t.Fatalf("expected #ops to keep the default push template")
	}
}

func TestLoadConfigRejectsEmptyChannel(t *testing.T) {
	content := "chat:\n  network: libera\n  channels: [\"#\"]\n"
	if _, err := LoadConfig(writeConfig(t, content)); err == nil {
		t.Fatalf("expected error for empty channel name")
	}
}
