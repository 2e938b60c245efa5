// Package limiter 實作單一連線的入站訊息限流。
//
// 設計考量：
//
// 為何每條連線各自一個限流器？
//   - 一條連線只會由自己的 readPump 讀取，狀態天然屬於該連線
//   - 不需要全域 map，也就不需要清理過期的 key
//
// 為何選擇固定視窗而非滑動視窗？
//   - 遊戲座標更新頻率固定，邊界問題（2 倍突發）可以接受
//   - 只需兩個欄位（視窗起點 + 計數），熱路徑 O(1)
package limiter

import (
	"sync"
	"time"
)

// FixedWindow 固定視窗計數器。
//
// 演算法：
//  1. 距離視窗起點超過 window → 重置（count = 0，起點 = now）
//  2. count++
//  3. count <= limit 才放行
//
// 超過上限的訊息直接丟棄，不回錯誤給發送端（避免錯誤訊息放大流量）。
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Option 設定 FixedWindow
type Option func(*FixedWindow)

// WithClock 注入時鐘（測試用）
func WithClock(now func() time.Time) Option {
	return func(f *FixedWindow) {
		f.now = now
	}
}

// NewFixedWindow 建立固定視窗限流器。
//
// 參數：
//
//	limit: 每個視窗允許的訊息數（參考值 20）
//	window: 視窗長度（參考值 1 秒）
func NewFixedWindow(limit int, window time.Duration, opts ...Option) *FixedWindow {
	f := &FixedWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.windowStart = f.now()
	return f
}

// Allow 記錄一則訊息並回報是否放行。
func (f *FixedWindow) Allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.windowStart) > f.window {
		f.count = 0
		f.windowStart = now
	}

	f.count++
	return f.count <= f.limit
}

// Count 當前視窗已記錄的訊息數（包含被拒絕的）
func (f *FixedWindow) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
