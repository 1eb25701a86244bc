package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startHub serves hub.ServeWS with the user id taken from ?user=.
func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
		hub.ServeWS(w, r, core.UserID(id))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, user int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+strconv.Itoa(user), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// First frame is the hello.
	ev := readEvent(t, conn)
	require.Equal(t, EventHello, ev.Type)
	require.NotEmpty(t, ev.ClientID)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func message(user core.UserID, content string) *core.ProactiveMessage {
	return &core.ProactiveMessage{
		ID:          1,
		UserID:      user,
		MessageType: core.ProactiveFollowUp,
		Content:     content,
		CreatedAt:   testutil.Now,
	}
}

// =============================================================================
// Hub Tests
// =============================================================================

func TestHub_DeliversToOwner(t *testing.T) {
	hub, url := startHub(t)
	alice := dial(t, url, 1)
	bob := dial(t, url, 2)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, message(2, "for bob")))
	require.NoError(t, hub.Publish(ctx, message(1, "for alice")))

	ev := readEvent(t, alice)
	assert.Equal(t, EventProactive, ev.Type)
	require.NotNil(t, ev.Payload)
	assert.Equal(t, "for alice", ev.Payload.Content)

	ev = readEvent(t, bob)
	require.NotNil(t, ev.Payload)
	assert.Equal(t, "for bob", ev.Payload.Content)

	stats := hub.Stats()
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, int64(2), stats.Delivered)
}

func TestHub_DeliverCountsClients(t *testing.T) {
	hub, url := startHub(t)
	dial(t, url, 1)
	dial(t, url, 1)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	if got := hub.Deliver(message(1, "two tabs")); got != 2 {
		t.Errorf("Deliver() = %d, want 2", got)
	}
	if got := hub.Deliver(message(3, "nobody")); got != 0 {
		t.Errorf("Deliver() = %d, want 0", got)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url, 1)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url, 1)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

// =============================================================================
// Redis Relay Tests
// =============================================================================

func TestRedisSubscriber_Relay(t *testing.T) {
	addr := testutil.RequireEnv(t, "COMPANION_REDIS_ADDR")
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	hub, url := startHub(t)
	conn := dial(t, url, 1)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	relay := NewRedisSubscriber(rdb, "companion:test:"+t.Name(), hub)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, relay.channel).Result()
		return err == nil && n[relay.channel] > 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, relay.Publish(ctx, message(1, "via redis")))
	ev := readEvent(t, conn)
	require.NotNil(t, ev.Payload)
	assert.Equal(t, "via redis", ev.Payload.Content)
}

func TestRedisSubscriber_HandleMalformed(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	relay := NewRedisSubscriber(nil, "", hub)

	assert.Equal(t, DefaultChannel, relay.channel)
	// Neither payload reaches a client or panics.
	relay.handle("not json")
	relay.handle(`{"origin":"x"}`)
	assert.Equal(t, int64(0), hub.Stats().Delivered)
}
