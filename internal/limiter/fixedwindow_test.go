package limiter_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-match-coordinator/internal/limiter"
	"github.com/stretchr/testify/assert"
)

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestFixedWindow_Allow 測試視窗內的放行與丟棄
func TestFixedWindow_Allow(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		messages    int
		wantAllowed int
	}{
		{name: "under limit", limit: 20, messages: 10, wantAllowed: 10},
		{name: "exactly limit", limit: 20, messages: 20, wantAllowed: 20},
		{name: "25 messages within one window", limit: 20, messages: 25, wantAllowed: 20},
		{name: "limit of one", limit: 1, messages: 5, wantAllowed: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1000, 0)}
			l := limiter.NewFixedWindow(tt.limit, time.Second, limiter.WithClock(clock.Now))

			allowed := 0
			for i := 0; i < tt.messages; i++ {
				if l.Allow() {
					allowed++
				}
				clock.Advance(10 * time.Millisecond)
			}

			assert.Equal(t, tt.wantAllowed, allowed)
			assert.Equal(t, tt.messages-tt.wantAllowed, tt.messages-allowed, "dropped count")
		})
	}
}

// TestFixedWindow_Reset 測試視窗過期後重置
func TestFixedWindow_Reset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := limiter.NewFixedWindow(20, time.Second, limiter.WithClock(clock.Now))

	for i := 0; i < 25; i++ {
		l.Allow()
	}
	assert.False(t, l.Allow(), "still inside the first window")

	// 剛好等於視窗長度不重置（必須「超過」）
	clock.Advance(time.Second)
	assert.False(t, l.Allow())

	clock.Advance(time.Millisecond)
	assert.True(t, l.Allow(), "new window accepts the 21st message")
	assert.Equal(t, 1, l.Count())
}

// TestFixedWindow_Concurrent 測試併發呼叫不會超發
func TestFixedWindow_Concurrent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := limiter.NewFixedWindow(20, time.Second, limiter.WithClock(clock.Now))

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), allowed.Load())
	assert.Equal(t, 100, l.Count())
}
