package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisChangeFeed struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisChangeFeed publishes and watches changes over Redis pub/sub.
func NewRedisChangeFeed(client *redis.Client, prefix string, logger *zap.Logger) ChangeFeed {
	return &redisChangeFeed{client: client, prefix: prefix, logger: logger}
}

func (f *redisChangeFeed) channel(topic string) string {
	if f.prefix == "" {
		return topic
	}
	return f.prefix + ":" + topic
}

func (f *redisChangeFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	// Document watchers and collection watchers both see the change.
	channels := []string{f.channel(change.Topic())}
	if change.DocumentID != "" {
		channels = append(channels, f.channel(change.Collection))
	}
	for _, ch := range channels {
		if err := f.client.Publish(ctx, ch, payload).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", ch, err)
		}
	}
	return nil
}

func (f *redisChangeFeed) Watch(ctx context.Context, topic string, fn func(Change)) (func(), error) {
	pubsub := f.client.Subscribe(ctx, f.channel(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				f.logger.Warn("dropping malformed change", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			fn(change)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}, nil
}
