package internal_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-match-coordinator/internal"
)

// fakeTransport 記錄 ping 與 close 的 Transport 替身
type fakeTransport struct {
	pings   atomic.Int32
	closed  atomic.Bool
	pingErr error // 建立後、開始巡檢前設定
}

func (f *fakeTransport) Ping() error {
	f.pings.Add(1)
	return f.pingErr
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

// newTestClient 沒有限流器的連線
func newTestClient(playerID, roomKey string) (*internal.Client, *fakeTransport) {
	tr := &fakeTransport{}
	return internal.NewClient(playerID, roomKey, tr, nil), tr
}

// newTestRotation 固定抽籤值 0（永遠選第一張非熱門地圖）
func newTestRotation() *internal.Rotation {
	return internal.NewRotation(testMaps, "", 100, internal.WithDraw(constDraw(0)))
}

// newTestRoom 比賽時長 duration 的房間
func newTestRoom(key string, duration time.Duration) *internal.Room {
	return internal.NewRoom(key, duration, newTestRotation(), internal.RoomHooks{})
}

// newTestManager 使用預設配置與固定抽籤的註冊表
func newTestManager(t *testing.T, opts ...internal.ManagerOption) *internal.Manager {
	t.Helper()

	cfg := internal.DefaultConfig()
	opts = append([]internal.ManagerOption{internal.WithRotation(newTestRotation())}, opts...)
	m := internal.NewManager(cfg, discardLogger(), opts...)
	t.Cleanup(m.Stop)
	return m
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain 取出 Send 佇列中目前所有的訊息
func drain(t *testing.T, c *internal.Client) []map[string]any {
	t.Helper()

	var out []map[string]any
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return out
			}
			var msg map[string]any
			require.NoError(t, json.Unmarshal(raw, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

// types 訊息的 type 欄位序列
func types(msgs []map[string]any) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		s, _ := m["type"].(string)
		out = append(out, s)
	}
	return out
}

// lastOf 最後一則指定類型的訊息
func lastOf(msgs []map[string]any, typ string) map[string]any {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == typ {
			return msgs[i]
		}
	}
	return nil
}
