package internal

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何讓房間內的玩家低延遲地互相轉發遊戲訊息，同時及早發現死連接？
//
// 核心挑戰：
//   1. 實時通信：轉發必須即時，不能被慢客戶端拖累
//   2. 連接管理：斷線、被踢、伺服器關閉都要走同一條清理路徑
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接
//   ✅ 旗標式 Ping/Pong 心跳 - 兩個週期沒有回應就斷線
//   ✅ 緩衝 channel - 異步發送（不阻塞房間鎖）

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 * 1024
)

// Verifier 驗證連線 token，回傳參與者 ID
type Verifier interface {
	Verify(token string) (string, error)
}

// errUnauthorized token 驗證失敗
var errUnauthorized = errors.New("unauthorized")

// wsTransport 把 *websocket.Conn 適配成 Transport
type wsTransport struct {
	conn *websocket.Conn
}

// Ping WriteControl 可以與 writePump 並發呼叫
func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// WebSocketHub WebSocket 連接中心
//
// 系統設計考量：
//
//  1. 連接集合：map[*Client]struct{}
//     - 房間成員由 Room 管理，Hub 只負責連線的生命週期
//     - 心跳監控從這裡取得所有連線的快照
//
//  2. 單一清理路徑：disconnect
//     - readPump 結束、心跳斷線、伺服器關閉都呼叫它
//     - 每一步都是冪等的（unregister、Leave、Close）
type WebSocketHub struct {
	manager   *Manager
	verifier  Verifier
	metrics   *Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	heartbeat *Heartbeat

	clients map[*Client]struct{}
	mu      sync.RWMutex

	stopOnce sync.Once
}

// HubOption 可選設定
type HubOption func(*WebSocketHub)

// WithVerifier 啟用 token 驗證
func WithVerifier(v Verifier) HubOption {
	return func(h *WebSocketHub) { h.verifier = v }
}

// WithHubMetrics 設定指標
func WithHubMetrics(m *Metrics) HubOption {
	return func(h *WebSocketHub) { h.metrics = m }
}

// NewWebSocketHub 創建 WebSocket Hub 並啟動心跳監控
func NewWebSocketHub(manager *Manager, heartbeatInterval time.Duration, logger *slog.Logger, opts ...HubOption) *WebSocketHub {
	hub := &WebSocketHub{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 來源由 CORS 設定與 token 把關
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(hub)
	}

	hub.heartbeat = NewHeartbeat(heartbeatInterval, hub.Clients, hub.disconnect, hub.metrics, logger)
	hub.heartbeat.Start()

	return hub
}

// ServeWS 處理 WebSocket 連接：GET /ws/rooms/{room_key}
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomKey := r.PathValue("room_key")
	if roomKey == "" {
		http.Error(w, "missing room key", http.StatusBadRequest)
		return
	}

	playerID, err := hub.resolvePlayer(r)
	if err != nil {
		hub.logger.Debug("WebSocket 身分驗證失敗", "room_key", roomKey, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := hub.manager.NewClient(playerID, roomKey, &wsTransport{conn: conn})
	hub.register(client)

	go hub.writePump(client, conn)

	if _, err := hub.manager.Join(roomKey, client); err != nil {
		hub.logger.Error("加入房間失敗", "room_key", roomKey, "error", err)
		hub.disconnect(client)
		return
	}

	go hub.readPump(client, conn)
}

// resolvePlayer 參與者 ID：token（啟用驗證時）→ player_id 查詢參數 → 伺服器生成
func (hub *WebSocketHub) resolvePlayer(r *http.Request) (string, error) {
	q := r.URL.Query()

	if hub.verifier != nil {
		token := q.Get("token")
		if token == "" {
			return "", errUnauthorized
		}
		sub, err := hub.verifier.Verify(token)
		if err != nil {
			return "", errors.Join(errUnauthorized, err)
		}
		return sub, nil
	}

	// 空字串由 NewClient 生成 uuid
	return q.Get("player_id"), nil
}

// register 註冊連接
func (hub *WebSocketHub) register(c *Client) {
	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	hub.metrics.connectionOpened()
	hub.logger.Debug("WebSocket 連接建立", "conn_id", c.ID, "player_id", c.PlayerID, "room_key", c.RoomKey)
}

// unregister 取消註冊連接，回傳是否真的移除
func (hub *WebSocketHub) unregister(c *Client) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, ok := hub.clients[c]; !ok {
		return false
	}
	delete(hub.clients, c)
	return true
}

// disconnect 連線的唯一清理路徑
func (hub *WebSocketHub) disconnect(c *Client) {
	if hub.unregister(c) {
		hub.metrics.connectionClosed()
	}
	hub.manager.Leave(c.RoomKey, c)
	c.Close()
}

// Clients 所有連線的快照
func (hub *WebSocketHub) Clients() []*Client {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	out := make([]*Client, 0, len(hub.clients))
	for c := range hub.clients {
		out = append(out, c)
	}
	return out
}

// Heartbeat 心跳監控（測試可直接呼叫 Sweep）
func (hub *WebSocketHub) Heartbeat() *Heartbeat {
	return hub.heartbeat
}

// Stop 停止心跳並關閉所有連接
func (hub *WebSocketHub) Stop() {
	hub.stopOnce.Do(func() {
		hub.heartbeat.Stop()

		clients := hub.Clients()
		for _, c := range clients {
			hub.disconnect(c)
		}
		hub.logger.Info("WebSocket Hub 已停止", "closed", len(clients))
	})
}

// GetConnectionCount 每個房間的連線數
func (hub *WebSocketHub) GetConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	result := make(map[string]int)
	for c := range hub.clients {
		result[c.RoomKey]++
	}
	return result
}

// ConnectionCount 總連線數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// readPump 讀取客戶端消息
//
// 不設讀取期限，死連接由心跳監控處理：
// Pong 處理器只把連線標記為存活。
func (hub *WebSocketHub) readPump(c *Client, conn *websocket.Conn) {
	defer hub.disconnect(c)

	conn.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.logger.Debug("WebSocket 讀取錯誤",
					"error", err,
					"room_key", c.RoomKey,
					"conn_id", c.ID)
			}
			return
		}
		hub.manager.HandleMessage(c, message)
	}
}

// writePump 把 Send 佇列寫入連線
//
// Send 被關閉（Client.Close）時送出關閉幀並結束。
func (hub *WebSocketHub) writePump(c *Client, conn *websocket.Conn) {
	defer conn.Close()

	for message := range c.Send {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			hub.logger.Debug("發送消息失敗", "conn_id", c.ID, "error", err)
			// 交給 readPump 的清理路徑
			_ = conn.Close()
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
