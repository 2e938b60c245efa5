package internal

import (
	"errors"
	"sync"
	"time"
)

// 系統設計問題：
//   如何讓每個房間不停地「一場接一場」地比賽，同時正確處理中途加入、提前完成與斷線？
//
// 核心挑戰：
//   1. 狀態一致：連線必須恰好屬於 players 或 spectators 其中之一
//   2. 計時器競態：計時器觸發與「全員完成」提前結束可能同時發生
//   3. 不阻塞：房間鎖內不能做任何網路 I/O
//
// 設計方案：
//   ✅ 每房間一把 Mutex - 所有狀態變更序列化
//   ✅ matchID 世代號 - 過期的計時器回呼自動失效（endMatch 每場最多一次）
//   ✅ 非阻塞發送 - 鎖內只寫入連線的 Send channel

// MatchState 房間比賽狀態
//
// 狀態機：
//
//	Waiting ──startMatch──▶ InMatch
//	   ▲                       │
//	   └──────endMatch─────────┘（endMatch 結束後立即 startMatch）
//
// Waiting 只在房間剛建立、或房間即將銷毀時短暫出現。
type MatchState string

const (
	StateWaiting MatchState = "waiting"
	StateInMatch MatchState = "in_match"
)

// EndReason 比賽結束原因
type EndReason string

const (
	EndTimer    EndReason = "timer"    // 計時器到期
	EndFinished EndReason = "finished" // 所有玩家完成
	EndLeft     EndReason = "left"     // 最後的玩家離開，只剩觀戰者
)

// errRoomClosed 房間已清空、等待從註冊表移除（Manager 會重試建立新房間）
var errRoomClosed = errors.New("room closed")

// RoomHooks 房間事件回呼
//
// 在持有房間鎖時呼叫，實作不可阻塞（只能更新計數或派發 goroutine）。
type RoomHooks struct {
	MatchStarted func(view RoomView)
	MatchEnded   func(view RoomView, reason EndReason)
	Relayed      func(recipients int)
}

// RoomView 房間快照
type RoomView struct {
	Key           string         `json:"room_key"`
	State         MatchState     `json:"state"`
	Players       int            `json:"players"`
	Spectators    int            `json:"spectators"`
	CurrentMap    string         `json:"current_map,omitempty"`
	MatchID       uint64         `json:"match_id"`
	ExpectedTotal int            `json:"expected_total"`
	FinishedCount int            `json:"finished_count"`
	TimerArmed    bool           `json:"timer_armed"`
	MapWeights    map[string]int `json:"map_weights"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Room 遊戲房間
//
// 系統設計考量：
//
//  1. 為什麼用 Mutex 而非 RWMutex？
//     幾乎每個操作都會改狀態（加入、完成、轉發也要檢查狀態），讀寫鎖沒有收益
//
//  2. 計時器（matchTimer）：
//     - time.AfterFunc 一次性計時器，只在 InMatch 時存在
//     - 回呼帶著建立時的 matchID，拿到鎖後先比對
//     - 提前結束時 Stop() 可能來不及，但回呼看到 matchID 已變，直接返回
//
//  3. 完成追蹤：
//     - expectedTotal：開賽時的玩家數快照
//     - finishedCount：本場已送出 finish 的人數
type Room struct {
	Key       string
	CreatedAt time.Time

	mu         sync.Mutex
	players    map[*Client]struct{}
	spectators map[*Client]struct{}
	state      MatchState
	currentMap string
	weights    map[string]int
	timer      *time.Timer
	matchID    uint64

	expectedTotal int
	finishedCount int

	closed bool

	duration time.Duration
	rotation *Rotation
	hooks    RoomHooks
}

// NewRoom 創建房間（Waiting，地圖權重均等）
func NewRoom(key string, duration time.Duration, rotation *Rotation, hooks RoomHooks) *Room {
	return &Room{
		Key:        key,
		CreatedAt:  time.Now(),
		players:    make(map[*Client]struct{}),
		spectators: make(map[*Client]struct{}),
		state:      StateWaiting,
		weights:    rotation.Baseline(),
		duration:   duration,
		rotation:   rotation,
		hooks:      hooks,
	}
}

// Join 加入房間
//
// 比賽中加入 → 觀戰；Waiting 時加入 → 玩家。
// 第一位玩家進入 Waiting 房間時自動開賽。
func (r *Room) Join(c *Client) (RoomView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return RoomView{}, errRoomClosed
	}

	// 重複加入（冪等）
	if _, ok := r.players[c]; ok {
		return r.viewLocked(), nil
	}
	if _, ok := r.spectators[c]; ok {
		return r.viewLocked(), nil
	}

	role := RolePlayer
	if r.state == StateInMatch {
		role = RoleSpectator
		r.spectators[c] = struct{}{}
	} else {
		r.players[c] = struct{}{}
	}
	c.setRole(role)

	c.enqueue(joinedMessage(r.Key, c.PlayerID))
	c.enqueue(roleMessage(role))
	r.broadcastAllLocked(playerCountMessage(len(r.players)))

	if r.state == StateWaiting && len(r.players) == 1 {
		r.startMatchLocked()
	}

	return r.viewLocked(), nil
}

// Leave 離開房間
//
// 回傳 empty = true 表示房間已清空（計時器已取消、房間已關閉），
// 呼叫端負責從註冊表移除並通知持久化服務。
func (r *Room) Leave(c *Client) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[c]; ok {
		delete(r.players, c)
		removed = true
	} else if _, ok := r.spectators[c]; ok {
		delete(r.spectators, c)
		removed = true
	}
	if !removed {
		return false, false
	}
	c.setRole(RoleNone)

	if len(r.players)+len(r.spectators) == 0 {
		r.stopTimerLocked()
		r.state = StateWaiting
		r.clearMatchLocked()
		r.closed = true
		return true, true
	}

	r.broadcastAllLocked(playerCountMessage(len(r.players)))

	// 離開也計入「全員完成或離開」
	if r.state == StateInMatch && r.everyoneDoneLocked() {
		r.endMatchLocked(EndLeft)
	}
	return true, false
}

// Finish 玩家完成本場比賽，轉為觀戰。
//
// 回傳 true 表示這次完成觸發了提前結束。
func (r *Room) Finish(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInMatch {
		return false
	}
	if _, ok := r.players[c]; !ok {
		return false
	}

	delete(r.players, c)
	r.spectators[c] = struct{}{}
	c.setRole(RoleSpectator)
	r.finishedCount++
	c.enqueue(roleMessage(RoleSpectator))

	if r.everyoneDoneLocked() {
		r.endMatchLocked(EndFinished)
		return true
	}
	return false
}

// Relay 轉發遊戲訊息給其他玩家（不含觀戰者、不含發送者）。
//
// 只在比賽中轉發，回傳實際送達的連線數。
func (r *Room) Relay(sender *Client, raw []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInMatch {
		return 0
	}

	sent := 0
	for c := range r.players {
		if c == sender {
			continue
		}
		if c.enqueue(raw) {
			sent++
		}
	}
	if r.hooks.Relayed != nil && sent > 0 {
		r.hooks.Relayed(sent)
	}
	return sent
}

// RequestMap 只回覆請求者當前地圖（不廣播）
func (r *Room) RequestMap(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInMatch {
		return false
	}
	if _, ok := r.players[c]; !ok {
		if _, ok := r.spectators[c]; !ok {
			return false
		}
	}
	return c.enqueue(mapChangedMessage(r.currentMap))
}

// View 房間快照
func (r *Room) View() RoomView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// RoleOf 連線在此房間的身份（不在房間內回傳 RoleNone）
func (r *Room) RoleOf(c *Client) Role {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[c]; ok {
		return RolePlayer
	}
	if _, ok := r.spectators[c]; ok {
		return RoleSpectator
	}
	return RoleNone
}

// Shutdown 關閉房間（伺服器停止時使用），取消計時器
func (r *Room) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopTimerLocked()
	r.state = StateWaiting
	r.clearMatchLocked()
	r.closed = true
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// startMatchLocked Waiting → InMatch
func (r *Room) startMatchLocked() {
	if len(r.players) == 0 {
		return
	}

	r.currentMap = r.rotation.Next(r.weights)
	r.state = StateInMatch
	r.matchID++
	r.expectedTotal = len(r.players)
	r.finishedCount = 0

	r.broadcastPlayersLocked(matchStartMessage(r.currentMap))

	id := r.matchID
	r.timer = time.AfterFunc(r.duration, func() {
		r.expire(id)
	})

	if r.hooks.MatchStarted != nil {
		r.hooks.MatchStarted(r.viewLocked())
	}
}

// expire 計時器回呼
func (r *Room) expire(matchID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 提前結束或房間已關閉，這個計時器已經過期
	if r.closed || r.state != StateInMatch || r.matchID != matchID {
		return
	}
	r.timer = nil
	r.endMatchLocked(EndTimer)
}

// endMatchLocked InMatch → Waiting → （立即）InMatch
func (r *Room) endMatchLocked(reason EndReason) {
	if r.state != StateInMatch {
		return
	}

	r.stopTimerLocked()
	ended := r.viewLocked()
	r.state = StateWaiting
	r.clearMatchLocked()

	// 已完成的玩家此時都在 spectators 裡，結束通知發給所有人
	r.broadcastAllLocked(matchEndMessage())

	// 觀戰者全部升為玩家
	promote := roleMessage(RolePlayer)
	for c := range r.spectators {
		r.players[c] = struct{}{}
		c.setRole(RolePlayer)
		c.enqueue(promote)
	}
	clear(r.spectators)

	r.broadcastAllLocked(playerCountMessage(len(r.players)))
	r.weights = r.rotation.Baseline()

	if r.hooks.MatchEnded != nil {
		r.hooks.MatchEnded(ended, reason)
	}

	r.startMatchLocked()
}

func (r *Room) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Room) clearMatchLocked() {
	r.currentMap = ""
	r.expectedTotal = 0
	r.finishedCount = 0
}

// everyoneDoneLocked 觀戰人數 >= 房間總人數，即沒有玩家還在比賽
func (r *Room) everyoneDoneLocked() bool {
	return len(r.spectators) >= len(r.players)+len(r.spectators)
}

func (r *Room) broadcastPlayersLocked(msg []byte) {
	for c := range r.players {
		c.enqueue(msg)
	}
}

func (r *Room) broadcastAllLocked(msg []byte) {
	for c := range r.players {
		c.enqueue(msg)
	}
	for c := range r.spectators {
		c.enqueue(msg)
	}
}

func (r *Room) viewLocked() RoomView {
	weights := make(map[string]int, len(r.weights))
	for k, v := range r.weights {
		weights[k] = v
	}
	return RoomView{
		Key:           r.Key,
		State:         r.state,
		Players:       len(r.players),
		Spectators:    len(r.spectators),
		CurrentMap:    r.currentMap,
		MatchID:       r.matchID,
		ExpectedTotal: r.expectedTotal,
		FinishedCount: r.finishedCount,
		TimerArmed:    r.timer != nil,
		MapWeights:    weights,
		CreatedAt:     r.CreatedAt,
	}
}
