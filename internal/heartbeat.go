package internal

import (
	"log/slog"
	"sync"
	"time"
)

// Heartbeat 連線存活監控
//
// 每個週期對所有連線：
//   - 旗標為 false（上一輪的 ping 沒有回應）→ 強制斷線
//   - 旗標為 true → 清除旗標並送出 ping，等待 pong 把旗標設回 true
//
// 沒有回應的連線最多存活兩個週期。
type Heartbeat struct {
	interval time.Duration
	source   func() []*Client
	evict    func(*Client)
	metrics  *Metrics
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeat 建立心跳監控
//
// source 回傳當前所有連線的快照；evict 負責關閉連線並從房間移除。
func NewHeartbeat(interval time.Duration, source func() []*Client, evict func(*Client), metrics *Metrics, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		source:   source,
		evict:    evict,
		metrics:  metrics,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動背景巡檢
func (h *Heartbeat) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.Sweep()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Sweep 執行一輪巡檢，回傳被斷線的數量
func (h *Heartbeat) Sweep() int {
	evicted := 0
	for _, c := range h.source() {
		alive, err := c.probe()
		if err != nil {
			h.logger.Debug("發送 ping 失敗", "conn_id", c.ID, "error", err)
		}
		if alive {
			continue
		}
		evicted++
		h.metrics.evicted()
		h.logger.Info("心跳逾時，斷開連接",
			"conn_id", c.ID,
			"player_id", c.PlayerID,
			"room_key", c.RoomKey)
		h.evict(c)
	}
	return evicted
}

// Stop 停止巡檢（可重複呼叫）
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}
