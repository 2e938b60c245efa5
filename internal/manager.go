package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-match-coordinator/internal/events"
	"github.com/koopa0/system-design/14-match-coordinator/internal/limiter"
)

var (
	// ErrRoomNotFound 房間不存在（或已銷毀）
	ErrRoomNotFound = errors.New("room not found")
	// ErrEmptyRoomKey 連線目標沒有房間 key
	ErrEmptyRoomKey = errors.New("empty room key")
)

// RoomStore 房間記錄的持久化服務（只需要刪除）
type RoomStore interface {
	DeleteRoom(ctx context.Context, key string) error
}

// NopRoomStore 未接持久化服務時使用
type NopRoomStore struct{}

func (NopRoomStore) DeleteRoom(context.Context, string) error { return nil }

// Manager 房間註冊表
//
// 系統設計考量：
//
//  1. 房間的生命週期完全由連線驅動：
//     第一條連線建立房間，最後一條連線離開時銷毀
//
//  2. 鎖的順序固定為 Manager.mu → Room.mu：
//     Room.Leave 回傳「已清空」後先釋放房間鎖，再由 Manager 拿自己的鎖移除
//
//  3. 清空與加入的競態：
//     房間清空後標記 closed，新的加入會看到 errRoomClosed 並重建房間
//
//  4. 外部 I/O 不持有任何鎖：
//     刪除記錄在獨立 goroutine 執行；事件進入單一 FIFO 佇列，由一個 worker 依序發布
//
//  5. room_created / room_destroyed 在 Manager.mu 內入列，
//     同一個 key 的事件順序與註冊表的變化一致
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg       *Config
	rotation  *Rotation
	store     RoomStore
	publisher events.Publisher
	metrics   *Metrics
	logger    *slog.Logger

	wg sync.WaitGroup // 背景任務（刪除記錄、尚未發布的事件）

	eventMu       sync.Mutex // 保護 eventQueue 的關閉
	eventQueue    chan events.Event
	eventsClosed  bool
	publisherDone chan struct{}
}

// eventQueueSize 事件佇列容量，滿了就丟棄（事件是盡力而為的通知）
const eventQueueSize = 1024

// ManagerOption 可選設定
type ManagerOption func(*Manager)

// WithRoomStore 設定持久化服務
func WithRoomStore(s RoomStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithPublisher 設定事件發布者
func WithPublisher(p events.Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithMetrics 設定指標
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRotation 替換地圖輪替（測試可注入固定亂數）
func WithRotation(r *Rotation) ManagerOption {
	return func(m *Manager) { m.rotation = r }
}

// NewManager 創建房間註冊表
func NewManager(cfg *Config, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		rooms:         make(map[string]*Room),
		cfg:           cfg,
		store:         NopRoomStore{},
		publisher:     events.Nop{},
		logger:        logger,
		eventQueue:    make(chan events.Event, eventQueueSize),
		publisherDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rotation == nil {
		m.rotation = NewRotation(cfg.Match.Maps, cfg.Match.FallbackMap, cfg.Match.HotWeight)
	}

	go m.runPublisher()
	return m
}

// NewClient 建立屬於某房間的連線（附帶該連線的限流器）
func (m *Manager) NewClient(playerID, roomKey string, transport Transport) *Client {
	lim := limiter.NewFixedWindow(m.cfg.RateLimit.MaxMessages, m.cfg.RateLimit.Window)
	return NewClient(playerID, roomKey, transport, lim)
}

// Join 連線加入房間（房間不存在時建立）
func (m *Manager) Join(roomKey string, c *Client) (RoomView, error) {
	if roomKey == "" {
		return RoomView{}, ErrEmptyRoomKey
	}

	for {
		room := m.getOrCreate(roomKey)
		view, err := room.Join(c)
		if errors.Is(err, errRoomClosed) {
			// 房間剛好清空，下一輪會建立新房間
			continue
		}
		if err != nil {
			return RoomView{}, err
		}

		m.logger.Info("玩家加入房間",
			"room_key", roomKey,
			"player_id", c.PlayerID,
			"conn_id", c.ID,
			"role", c.Role().String())
		return view, nil
	}
}

// Leave 連線離開房間（可重複呼叫）
func (m *Manager) Leave(roomKey string, c *Client) {
	m.mu.Lock()
	room, ok := m.rooms[roomKey]
	m.mu.Unlock()
	if !ok {
		return
	}

	removed, empty := room.Leave(c)
	if !removed {
		return
	}
	m.logger.Info("玩家離開房間", "room_key", roomKey, "player_id", c.PlayerID, "conn_id", c.ID)

	if !empty {
		return
	}

	m.mu.Lock()
	destroyed := m.rooms[roomKey] == room
	if destroyed {
		delete(m.rooms, roomKey)
		m.publish(events.Event{Type: events.RoomDestroyed, RoomKey: roomKey})
	}
	m.mu.Unlock()

	// 同一個 key 已經有新房間，記錄屬於新房間
	if !destroyed {
		return
	}

	m.metrics.roomDestroyed()
	m.logger.Info("房間已銷毀", "room_key", roomKey)
	m.deleteRecord(roomKey)
}

// HandleMessage 處理一則入站訊息
//
// 順序：限流 → 解析 → 控制訊息 / 轉發。任何失敗都只是丟棄，連線保持開啟。
func (m *Manager) HandleMessage(c *Client, raw []byte) {
	if !c.Allow() {
		m.metrics.dropped(DropRateLimited)
		return
	}

	env, ok := parseEnvelope(raw)
	if !ok {
		m.metrics.dropped(DropMalformed)
		m.logger.Debug("丟棄格式錯誤的訊息", "conn_id", c.ID, "room_key", c.RoomKey)
		return
	}

	m.mu.Lock()
	room, exists := m.rooms[c.RoomKey]
	m.mu.Unlock()
	if !exists {
		m.metrics.dropped(DropNoRoom)
		return
	}

	switch env.Type {
	case MsgFinish:
		if room.Finish(c) {
			m.logger.Debug("所有玩家已完成", "room_key", c.RoomKey)
		}
	case MsgRequestFirstMap:
		room.RequestMap(c)
	default:
		room.Relay(c, raw)
	}
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(roomKey string) (*Room, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomKey]
	m.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// ListRooms 所有房間快照（依 key 排序）
func (m *Manager) ListRooms() []RoomView {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	views := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, r.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return views
}

// RoomCount 房間數量
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	views := m.ListRooms()

	byState := make(map[MatchState]int)
	players, spectators := 0, 0
	for _, v := range views {
		byState[v.State]++
		players += v.Players
		spectators += v.Spectators
	}

	return map[string]any{
		"total_rooms":      len(views),
		"total_players":    players,
		"total_spectators": spectators,
		"by_state":         byState,
	}
}

// Stop 停止所有房間的計時器，發布完佇列中的事件後等待背景任務完成（可重複呼叫）
func (m *Manager) Stop() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	clear(m.rooms)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Shutdown()
	}

	m.eventMu.Lock()
	if !m.eventsClosed {
		m.eventsClosed = true
		close(m.eventQueue)
	}
	m.eventMu.Unlock()

	m.wg.Wait()
	<-m.publisherDone
	m.logger.Info("房間管理器已停止", "rooms", len(rooms))
}

// Wait 等待背景任務完成，包含佇列中的事件（測試用）
func (m *Manager) Wait() {
	m.wg.Wait()
}

// getOrCreate 取得房間，不存在或已關閉時建立新房間
//
// room_created 在房間可被加入之前入列，一定排在該房間第一個 match_started 前面。
func (m *Manager) getOrCreate(roomKey string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[roomKey]; ok {
		if !room.isClosed() {
			return room
		}
		// 已清空但還沒被移除，直接取代；舊房間的 Leave 不會再發出銷毀事件
		m.metrics.roomDestroyed()
		m.publish(events.Event{Type: events.RoomDestroyed, RoomKey: roomKey})
	}

	room := NewRoom(roomKey, m.cfg.Match.Duration, m.rotation, m.roomHooks(roomKey))
	m.rooms[roomKey] = room
	m.metrics.roomCreated()
	m.publish(events.Event{Type: events.RoomCreated, RoomKey: roomKey})
	m.logger.Info("房間已創建", "room_key", roomKey)
	return room
}

// roomHooks 房間事件 → 指標與事件發布（在房間鎖內呼叫，只派發不阻塞）
func (m *Manager) roomHooks(roomKey string) RoomHooks {
	return RoomHooks{
		MatchStarted: func(v RoomView) {
			m.metrics.matchStarted()
			m.logger.Info("比賽開始",
				"room_key", roomKey,
				"map", v.CurrentMap,
				"match_id", v.MatchID,
				"players", v.Players)
			m.publish(events.Event{
				Type:       events.MatchStarted,
				RoomKey:    roomKey,
				Map:        v.CurrentMap,
				MatchID:    v.MatchID,
				Players:    v.Players,
				Spectators: v.Spectators,
			})
		},
		MatchEnded: func(v RoomView, reason EndReason) {
			m.metrics.matchEnded(reason)
			m.logger.Info("比賽結束",
				"room_key", roomKey,
				"map", v.CurrentMap,
				"match_id", v.MatchID,
				"reason", reason)
			m.publish(events.Event{
				Type:       events.MatchEnded,
				RoomKey:    roomKey,
				Map:        v.CurrentMap,
				MatchID:    v.MatchID,
				Players:    v.Players,
				Spectators: v.Spectators,
				Reason:     string(reason),
			})
		},
		Relayed: m.metrics.relayed,
	}
}

// deleteRecord 盡力刪除持久化記錄：失敗只記錄，不重試
func (m *Manager) deleteRecord(roomKey string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Persistence.DeleteTimeout)
		defer cancel()

		if err := m.store.DeleteRoom(ctx, roomKey); err != nil {
			m.metrics.deleteFailed()
			m.logger.Warn("刪除房間記錄失敗", "room_key", roomKey, "error", err)
		}
	}()
}

// publish 事件入列（不阻塞，可在房間鎖或 Manager.mu 內呼叫）
func (m *Manager) publish(e events.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	if m.eventsClosed {
		return
	}

	m.wg.Add(1)
	select {
	case m.eventQueue <- e:
	default:
		m.wg.Done()
		m.logger.Warn("事件佇列已滿，丟棄事件", "type", e.Type, "room_key", e.RoomKey)
	}
}

// runPublisher 依入列順序逐一發布事件，佇列關閉後結束
func (m *Manager) runPublisher() {
	defer close(m.publisherDone)

	for e := range m.eventQueue {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Events.PublishTimeout)
		if err := m.publisher.Publish(ctx, e); err != nil {
			m.logger.Warn("發布事件失敗", "type", e.Type, "room_key", e.RoomKey, "error", err)
		}
		cancel()
		m.wg.Done()
	}
}

// parseEnvelope 只接受 JSON 物件，type 必須是字串（可缺省）
func parseEnvelope(raw []byte) (Envelope, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}
