package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/system-design/14-match-coordinator/internal/events"
)

func TestNew_Driver(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{name: "empty driver is nop", driver: ""},
		{name: "unknown driver", driver: "kafka", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, err := events.New(context.Background(), events.Options{Driver: tt.driver})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, events.Nop{}, pub)
			assert.NoError(t, pub.Publish(context.Background(), events.Event{Type: events.RoomCreated}))
			assert.NoError(t, pub.Close())
		})
	}
}

// TestRedisPublisher_Publish 需要 Docker
func TestRedisPublisher_Publish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	pub, err := events.New(ctx, events.Options{Driver: "redis", RedisAddr: endpoint})
	require.NoError(t, err)
	require.IsType(t, &events.RedisPublisher{}, pub)
	defer pub.Close()

	sub := redis.NewClient(&redis.Options{Addr: endpoint})
	defer sub.Close()

	ps := sub.Subscribe(ctx, events.RedisChannelPrefix+"R1")
	defer ps.Close()
	_, err = ps.Receive(ctx) // 等待訂閱確認
	require.NoError(t, err)

	want := events.Event{
		Type:    events.MatchStarted,
		RoomKey: "R1",
		Map:     "night",
		MatchID: 3,
		Players: 2,
		At:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, pub.Publish(ctx, want))

	select {
	case msg := <-ps.Channel():
		got, err := events.Decode([]byte(msg.Payload))
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Map, got.Map)
		assert.Equal(t, want.MatchID, got.MatchID)
		assert.True(t, want.At.Equal(got.At))
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

// TestNATSPublisher_Publish 需要 Docker
func TestNATSPublisher_Publish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)

	pub, err := events.New(ctx, events.Options{Driver: "nats", NATSURL: url})
	require.NoError(t, err)
	require.IsType(t, &events.NATSPublisher{}, pub)
	defer pub.Close()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync(events.NATSSubjectPrefix + "R1")
	require.NoError(t, err)
	require.NoError(t, nc.Flush()) // 確保訂閱已送達 server

	want := events.Event{
		Type:       events.MatchEnded,
		RoomKey:    "R1",
		Map:        "canyon",
		MatchID:    7,
		Players:    3,
		Spectators: 1,
		Reason:     "timer",
		At:         time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, pub.Publish(ctx, want))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	got, err := events.Decode(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.RoomKey, got.RoomKey)
	assert.Equal(t, want.MatchID, got.MatchID)
	assert.Equal(t, want.Reason, got.Reason)
	assert.True(t, want.At.Equal(got.At))

	// 已取消的 context 不發布
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, pub.Publish(canceled, want), context.Canceled)
}
