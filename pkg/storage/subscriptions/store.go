package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gitlabrelay/pkg/chat"
	"gitlabrelay/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config mirrors the storage configuration for the subscriptions table.
type Config struct {
	Driver      string
	DSN         string
	Table       string
	AutoMigrate bool
}

// Store implements storage.SubscriptionStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
	// writes serializes the check-then-write of Add and Remove.
	writes sync.Mutex
}

type row struct {
	Network    string    `gorm:"column:network;size:128;not null;uniqueIndex:idx_subscription,priority:1"`
	ChannelKey string    `gorm:"column:channel_key;size:255;not null;uniqueIndex:idx_subscription,priority:2"`
	Slug       string    `gorm:"column:slug;size:255;not null;uniqueIndex:idx_subscription,priority:3"`
	Channel    string    `gorm:"column:channel;size:255;not null"`
	URL        string    `gorm:"column:url;size:1024;not null"`
	Secret     string    `gorm:"column:secret;size:255"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Open creates a GORM-backed subscriptions store.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = "channel_subscriptions"
	}
	store := &Store{
		db:    gormDB,
		table: table,
	}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// List returns the subscriptions of a channel ordered by slug.
func (s *Store) List(ctx context.Context, network, channel string) ([]storage.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data []row
	err := s.tableDB().
		WithContext(ctx).
		Where("network = ? AND channel_key = ?", strings.ToLower(network), chat.ChannelKey(channel)).
		Order("slug").
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.Subscription, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

// Add inserts a subscription, failing with storage.ErrDuplicateSlug when the
// slug is already registered for the channel.
func (s *Store) Add(ctx context.Context, sub storage.Subscription) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if sub.Network == "" || sub.Channel == "" || sub.Slug == "" || sub.URL == "" {
		return errors.New("network, channel, slug and url are required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	data := toRow(sub)

	s.writes.Lock()
	defer s.writes.Unlock()

	var count int64
	err := s.tableDB().
		WithContext(ctx).
		Where("network = ? AND channel_key = ? AND slug = ?", data.Network, data.ChannelKey, data.Slug).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return storage.ErrDuplicateSlug
	}
	return s.tableDB().WithContext(ctx).Create(&data).Error
}

// Remove deletes a subscription by slug.
func (s *Store) Remove(ctx context.Context, network, channel, slug string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}

	s.writes.Lock()
	defer s.writes.Unlock()

	result := s.tableDB().
		WithContext(ctx).
		Where("network = ? AND channel_key = ? AND slug = ?", strings.ToLower(network), chat.ChannelKey(channel), slug).
		Delete(&row{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(sub storage.Subscription) row {
	channel := chat.NormalizeChannel(sub.Channel)
	return row{
		Network:    strings.ToLower(sub.Network),
		ChannelKey: chat.ChannelKey(channel),
		Slug:       sub.Slug,
		Channel:    channel,
		URL:        sub.URL,
		Secret:     sub.Secret,
		CreatedAt:  sub.CreatedAt,
	}
}

func fromRow(data row) storage.Subscription {
	return storage.Subscription{
		Network:   data.Network,
		Channel:   data.Channel,
		Slug:      data.Slug,
		URL:       data.URL,
		Secret:    data.Secret,
		CreatedAt: data.CreatedAt,
	}
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
