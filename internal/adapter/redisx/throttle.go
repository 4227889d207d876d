package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/arisanid/arisan/internal/ports"
)

// ReminderThrottle implementasi ports.ReminderThrottle dengan Redis.
// One SET NX key per (user, category) with the window as TTL, so the
// suppression works across multiple engine instances.
type ReminderThrottle struct {
	client *redis.Client
	logger *logrus.Logger
}

// Config configuration untuk reminder throttle
type Config struct {
	RedisURL string
}

// NewReminderThrottle membuat instance baru dari ReminderThrottle
func NewReminderThrottle(config Config, logger *logrus.Logger) (ports.ReminderThrottle, error) {
	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Reminder throttle initialized")
	return &ReminderThrottle{client: client, logger: logger}, nil
}

// Allow reports whether a reminder may be sent; a successful SET NX
// claims the window.
func (t *ReminderThrottle) Allow(ctx context.Context, userID, category string, window time.Duration) (bool, error) {
	key := fmt.Sprintf("reminder:%s:%s", category, userID)
	ok, err := t.client.SetNX(ctx, key, time.Now().Unix(), window).Result()
	if err != nil {
		return false, fmt.Errorf("throttle check failed: %w", err)
	}
	return ok, nil
}
