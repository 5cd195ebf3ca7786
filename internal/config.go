package internal

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gitlabrelay/pkg/chat"
	"gitlabrelay/pkg/commands"
	"gitlabrelay/pkg/render"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
		// TrustedProxies lists the addresses or CIDR ranges whose
		// X-Forwarded-For and X-Real-Ip headers are believed.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	// GitLab configures the webhook endpoint.
	GitLab GitLabConfig `yaml:"gitlab"`
	// Chat describes the connected chat network.
	Chat ChatConfig `yaml:"chat"`
	// Broker holds configuration for the watermill publishers and subscribers.
	Broker BrokerConfig `yaml:"broker"`
	// Storage selects the subscription store.
	Storage StorageConfig `yaml:"storage"`
	// Templates overrides the built-in message formats for every channel.
	Templates map[string]string `yaml:"templates"`
	// Channels holds per-channel template overrides and filters.
	Channels map[string]ChannelConfig `yaml:"channels"`
}

// Config is the application configuration loaded from disk.
type Config struct {
	AppConfig `yaml:",inline"`
}

// GitLabConfig configures the webhook endpoint.
type GitLabConfig struct {
	// Path is the mount prefix; requests go to <path><network>/<channel>.
	Path string `yaml:"path"`
	// Secret, when set, must match X-Gitlab-Token on every request.
	Secret      string `yaml:"secret"`
	DebugEvents bool   `yaml:"debug_events"`
}

// ChatConfig describes the chat network the relay announces to.
type ChatConfig struct {
	Network  string   `yaml:"network"`
	Channels []string `yaml:"channels"`
	Admins   []string `yaml:"admins"`
}

// ChannelConfig holds per-channel settings.
type ChannelConfig struct {
	Templates map[string]string `yaml:"templates"`
	Filter    string            `yaml:"filter"`
}

// StorageConfig selects the subscription store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// BrokerConfig holds the configuration for watermill, which carries chat
// traffic between the relay and the chat bridge.
type BrokerConfig struct {
	Driver        string             `yaml:"driver"`
	Drivers       []string           `yaml:"drivers"`
	OutboundTopic string             `yaml:"outbound_topic"`
	InboundTopic  string             `yaml:"inbound_topic"`
	Console       bool               `yaml:"console"`
	GoChannel     GoChannelConfig    `yaml:"gochannel"`
	Kafka         KafkaConfig        `yaml:"kafka"`
	NATS          NATSConfig         `yaml:"nats"`
	AMQP          AMQPConfig         `yaml:"amqp"`
	SQL           SQLConfig          `yaml:"sql"`
	HTTP          HTTPConfig         `yaml:"http"`
	RiverQueue    RiverQueueConfig   `yaml:"riverqueue"`
	// PublishRetry bounds the sink's attempts per chat line.
	PublishRetry RetryConfig `yaml:"publish_retry"`
	// ConnectRetry bounds the attempts to reach a driver at startup.
	ConnectRetry RetryConfig `yaml:"connect_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer int64 `yaml:"output_buffer"`
	Persistent          bool  `yaml:"persistent"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig holds configuration for the NATS streaming pub/sub.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
	Durable   string `yaml:"durable"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	Dialect          string `yaml:"dialect"`
	ConsumerGroup    string `yaml:"consumer_group"`
	InitializeSchema bool   `yaml:"initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the RiverQueue publisher.
type RiverQueueConfig struct {
	DSN         string   `yaml:"dsn"`
	Queue       string   `yaml:"queue"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

// RetryConfig is a fixed-delay retry budget.
type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// LoadConfig loads the application configuration from a YAML file.
// It expands environment variables, applies defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg.AppConfig)
	if err := validate(&cfg.AppConfig); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FiltersConfig carries the per-channel filter expressions.
type FiltersConfig struct {
	Filters map[string]string
	Logger  *log.Logger
}

// Filters extracts the per-channel filter expressions.
func (c AppConfig) Filters(logger *log.Logger) FiltersConfig {
	filters := make(map[string]string, len(c.Channels))
	for channel, cfg := range c.Channels {
		if cfg.Filter != "" {
			filters[channel] = cfg.Filter
		}
	}
	return FiltersConfig{Filters: filters, Logger: logger}
}

// TemplateSet layers the global template overrides and each channel's
// overrides over the built-in formats.
func (c AppConfig) TemplateSet() render.TemplateSet {
	channels := make(map[string]render.Templates, len(c.Channels))
	for channel, cfg := range c.Channels {
		if len(cfg.Templates) > 0 {
			channels[channel] = render.Templates(cfg.Templates)
		}
	}
	return render.NewTemplateSet(render.Templates(c.Templates), channels)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.GitLab.Path == "" {
		cfg.GitLab.Path = "/gitlab/"
	}
	if !strings.HasPrefix(cfg.GitLab.Path, "/") {
		cfg.GitLab.Path = "/" + cfg.GitLab.Path
	}
	if !strings.HasSuffix(cfg.GitLab.Path, "/") {
		cfg.GitLab.Path += "/"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Broker.Driver == "" && len(cfg.Broker.Drivers) == 0 {
		cfg.Broker.Driver = "gochannel"
	}
	if cfg.Broker.OutboundTopic == "" {
		cfg.Broker.OutboundTopic = "gitlabrelay.outbound"
	}
	if cfg.Broker.InboundTopic == "" {
		cfg.Broker.InboundTopic = "gitlabrelay.inbound"
	}
	if cfg.Broker.GoChannel.OutputChannelBuffer == 0 {
		cfg.Broker.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Broker.HTTP.Mode == "" {
		cfg.Broker.HTTP.Mode = "topic_url"
	}
	if cfg.Broker.RiverQueue.Queue == "" {
		cfg.Broker.RiverQueue.Queue = "default"
	}
	if cfg.Broker.RiverQueue.MaxAttempts == 0 {
		cfg.Broker.RiverQueue.MaxAttempts = 25
	}
	if cfg.Broker.PublishRetry.Attempts == 0 {
		cfg.Broker.PublishRetry.Attempts = 3
	}
	if cfg.Broker.PublishRetry.DelayMS == 0 {
		cfg.Broker.PublishRetry.DelayMS = 500
	}
	if cfg.Broker.ConnectRetry.Attempts == 0 {
		cfg.Broker.ConnectRetry.Attempts = 10
	}
	if cfg.Broker.ConnectRetry.DelayMS == 0 {
		cfg.Broker.ConnectRetry.DelayMS = 2000
	}
}

func validate(cfg *AppConfig) error {
	cfg.Chat.Network = strings.TrimSpace(cfg.Chat.Network)
	if cfg.Chat.Network == "" {
		return fmt.Errorf("chat.network is required")
	}
	channels := make([]string, 0, len(cfg.Chat.Channels))
	for i, channel := range cfg.Chat.Channels {
		name := chat.NormalizeChannel(channel)
		if name == "" {
			return fmt.Errorf("chat.channels[%d] is empty", i)
		}
		channels = append(channels, name)
	}
	cfg.Chat.Channels = channels
	for channel := range cfg.Channels {
		if chat.NormalizeChannel(channel) == "" {
			return fmt.Errorf("channels: invalid channel name %q", channel)
		}
	}
	for i, admin := range cfg.Chat.Admins {
		if !commands.IsAdminEntry(admin) {
			return fmt.Errorf("chat.admins[%d] %q must be a hostmask (nick!user@host) or account:<name>", i, admin)
		}
	}
	if _, err := ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	return nil
}
