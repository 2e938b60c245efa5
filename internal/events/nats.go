package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSubjectPrefix NATS 主題前綴，完整主題為 arena.rooms.<room_key>
const NATSSubjectPrefix = "arena.rooms."

// NATSPublisher 透過 NATS core 發布事件（不需要 JetStream 持久化）
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher 連接 NATS Server
//
// 選項：
//   - MaxReconnects(-1)：無限重連
//   - ReconnectWait(1s)：重連間隔
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("match-coordinator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish 發布到房間主題
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := e.Encode()
	if err != nil {
		return err
	}
	if err := p.conn.Publish(NATSSubjectPrefix+e.RoomKey, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", e.Type, err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
