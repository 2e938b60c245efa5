// Package events 房間生命週期事件的對外發布
//
// 事件是盡力而為的通知：發布失敗只記錄日誌，不影響房間狀態。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Type 事件類型
type Type string

const (
	RoomCreated   Type = "room_created"
	RoomDestroyed Type = "room_destroyed"
	MatchStarted  Type = "match_started"
	MatchEnded    Type = "match_ended"
)

// Event 房間事件
type Event struct {
	Type       Type      `json:"type"`
	RoomKey    string    `json:"room_key"`
	Map        string    `json:"map,omitempty"`
	MatchID    uint64    `json:"match_id,omitempty"`
	Players    int       `json:"players"`
	Spectators int       `json:"spectators"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Encode 序列化為 JSON
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// Decode 反序列化事件
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Publisher 事件發布者
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop 不做任何事的發布者（未設定事件後端時使用）
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Options 建立發布者所需的連線參數
type Options struct {
	Driver        string // "", "redis", "nats"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
}

// New 依 Driver 建立發布者
func New(ctx context.Context, opts Options) (Publisher, error) {
	switch opts.Driver {
	case "":
		return Nop{}, nil
	case "redis":
		return NewRedisPublisher(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	case "nats":
		return NewNATSPublisher(opts.NATSURL)
	default:
		return nil, fmt.Errorf("unknown events driver %q", opts.Driver)
	}
}
