package internal

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-match-coordinator/internal/limiter"
)

// Role 連線在房間中的身份
//
// 身份由 Room 在持有房間鎖時寫入，與 players / spectators 集合同步更新，
// 是連線身份的唯一來源。
type Role int32

const (
	RoleNone      Role = iota // 尚未加入房間
	RolePlayer                // 參與當前比賽
	RoleSpectator             // 觀戰（比賽中加入或已完成）
)

func (r Role) String() string {
	switch r {
	case RolePlayer:
		return "player"
	case RoleSpectator:
		return "spectator"
	default:
		return "none"
	}
}

// Transport 連線底層的控制面（WebSocket 或測試替身）
//
// 數據幀走 Client.Send channel，這裡只處理心跳探測與強制關閉。
type Transport interface {
	Ping() error
	Close() error
}

// Client 一條客戶端連線
type Client struct {
	ID       string // 連線 ID（伺服器生成）
	PlayerID string // 參與者 ID（身份服務提供或伺服器生成）
	RoomKey  string

	Send      chan []byte
	transport Transport
	limiter   *limiter.FixedWindow

	role  atomic.Int32
	alive atomic.Bool

	mu     sync.Mutex
	closed bool
}

// NewClient 創建連線物件
func NewClient(playerID, roomKey string, transport Transport, lim *limiter.FixedWindow) *Client {
	if playerID == "" {
		playerID = uuid.NewString()
	}
	c := &Client{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		RoomKey:   roomKey,
		Send:      make(chan []byte, 256),
		transport: transport,
		limiter:   lim,
	}
	c.alive.Store(true)
	return c
}

// Role 當前身份
func (c *Client) Role() Role {
	return Role(c.role.Load())
}

func (c *Client) setRole(r Role) {
	c.role.Store(int32(r))
}

// Allow 入站限流檢查（未設定限流器時一律放行）
func (c *Client) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// MarkAlive 收到心跳回應
func (c *Client) MarkAlive() {
	c.alive.Store(true)
}

// Alive 心跳旗標
func (c *Client) Alive() bool {
	return c.alive.Load()
}

// probe 心跳檢查：旗標為 true 時清除並送出探測，alive = false 表示應該斷線。
//
// ping 失敗不影響判定，下一輪沒有 pong 自然會斷線。
func (c *Client) probe() (alive bool, pingErr error) {
	if !c.alive.CompareAndSwap(true, false) {
		return false, nil
	}
	if c.transport != nil {
		pingErr = c.transport.Ping()
	}
	return true, pingErr
}

// enqueue 非阻塞寫入發送佇列。
//
// 連線已關閉或緩衝區已滿時丟棄，回傳 false。
// 可以在持有房間鎖時呼叫（不做任何 I/O）。
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// IsOpen 連線是否仍可寫入
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close 關閉發送佇列與底層連線（可重複呼叫）
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.Send)
	c.mu.Unlock()

	if c.transport != nil {
		_ = c.transport.Close()
	}
}
