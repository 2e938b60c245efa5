package internal_test

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-match-coordinator/internal"
)

// TestHeartbeat_Sweep 沒有回應的連線在第二輪被斷線
func TestHeartbeat_Sweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := internal.NewMetrics(reg)
	m := newTestManager(t, internal.WithMetrics(metrics))

	alive, aliveTr := newTestClient("alive", "R1")
	dead, deadTr := newTestClient("dead", "R1")
	_, err := m.Join("R1", alive)
	require.NoError(t, err)
	_, err = m.Join("R1", dead)
	require.NoError(t, err)

	clients := []*internal.Client{alive, dead}
	var (
		mu      sync.Mutex
		evicted []*internal.Client
	)
	hb := internal.NewHeartbeat(time.Hour,
		func() []*internal.Client { return clients },
		func(c *internal.Client) {
			mu.Lock()
			evicted = append(evicted, c)
			mu.Unlock()
			m.Leave(c.RoomKey, c)
			c.Close()
		},
		metrics, discardLogger())

	// 第一輪：兩條連線都送出 ping，旗標清除
	assert.Equal(t, 0, hb.Sweep())
	assert.Equal(t, int32(1), aliveTr.pings.Load())
	assert.Equal(t, int32(1), deadTr.pings.Load())
	assert.False(t, dead.Alive())

	// 只有 alive 回 pong
	alive.MarkAlive()

	// 第二輪：dead 被斷線
	assert.Equal(t, 1, hb.Sweep())
	assert.Equal(t, int32(2), aliveTr.pings.Load())
	assert.Equal(t, int32(1), deadTr.pings.Load())
	assert.True(t, deadTr.closed.Load())
	assert.False(t, aliveTr.closed.Load())

	mu.Lock()
	assert.Equal(t, []*internal.Client{dead}, evicted)
	mu.Unlock()

	room, err := m.GetRoom("R1")
	require.NoError(t, err)
	assert.Equal(t, internal.RoleNone, room.RoleOf(dead))
	v := room.View()
	assert.Equal(t, 1, v.Players+v.Spectators)

	assert.Equal(t, 1.0, metricValue(t, reg, "arena_heartbeat_evictions_total", ""))
}

func TestHeartbeat_StartStop(t *testing.T) {
	c, tr := newTestClient("a", "R1")

	hb := internal.NewHeartbeat(5*time.Millisecond,
		func() []*internal.Client { return []*internal.Client{c} },
		func(c *internal.Client) { c.Close() },
		nil, discardLogger())
	hb.Start()

	// 沒有 pong：ping 一次後被斷線
	require.Eventually(t, tr.closed.Load, time.Second, 5*time.Millisecond)
	hb.Stop()
	hb.Stop()

	assert.Equal(t, int32(1), tr.pings.Load())
	assert.False(t, c.IsOpen())
}

// TestHeartbeat_PingError ping 失敗只記錄，不會提早斷線
func TestHeartbeat_PingError(t *testing.T) {
	c, tr := newTestClient("a", "R1")
	tr.pingErr = errors.New("broken pipe")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hb := internal.NewHeartbeat(time.Hour,
		func() []*internal.Client { return []*internal.Client{c} },
		func(c *internal.Client) { c.Close() },
		nil, logger)

	assert.Equal(t, 0, hb.Sweep())
	assert.False(t, tr.closed.Load())
	assert.Contains(t, buf.String(), "conn_id="+c.ID)
	assert.Contains(t, buf.String(), "broken pipe")

	assert.Equal(t, 1, hb.Sweep())
	assert.True(t, tr.closed.Load())
}
