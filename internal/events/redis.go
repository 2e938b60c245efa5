package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChannelPrefix Redis Pub/Sub 頻道前綴，完整頻道為 arena:rooms:<room_key>
const RedisChannelPrefix = "arena:rooms:"

// RedisPublisher 透過 Redis Pub/Sub 發布事件
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher 連接 Redis 並驗證連線
func NewRedisPublisher(ctx context.Context, addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// Publish 發布到房間頻道
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := e.Encode()
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, RedisChannelPrefix+e.RoomKey, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Type, err)
	}
	return nil
}

// Close 關閉連線
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
