package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRoom_StaleTimerIsNoop 模擬「提前結束後，舊計時器的回呼才拿到鎖」
func TestRoom_StaleTimerIsNoop(t *testing.T) {
	rot := NewRotation([]string{"classic", "night"}, "", 100, WithDraw(func() float64 { return 0 }))
	room := NewRoom("R1", time.Hour, rot, RoomHooks{})
	defer room.Shutdown()

	a := NewClient("a", "R1", nil, nil)
	b := NewClient("b", "R1", nil, nil)
	_, _ = room.Join(a)
	_, _ = room.Join(b)

	first := room.View().MatchID
	assert.True(t, room.Finish(a))
	assert.Equal(t, first+1, room.View().MatchID)

	// 第一場的計時器回呼晚到
	room.expire(first)

	v := room.View()
	assert.Equal(t, first+1, v.MatchID)
	assert.Equal(t, StateInMatch, v.State)
	assert.True(t, v.TimerArmed)
}

func TestRoom_ExpireAfterClose(t *testing.T) {
	rot := NewRotation([]string{"classic"}, "", 100)
	room := NewRoom("R1", time.Hour, rot, RoomHooks{})

	a := NewClient("a", "R1", nil, nil)
	_, _ = room.Join(a)
	id := room.View().MatchID
	room.Leave(a)

	room.expire(id)

	v := room.View()
	assert.Equal(t, StateWaiting, v.State)
	assert.Equal(t, id, v.MatchID)
	assert.False(t, v.TimerArmed)
}
