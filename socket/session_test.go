package socket_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclebinho/zefood.app.customer/internal/mockbackend"
	"github.com/fclebinho/zefood.app.customer/socket"
	"github.com/fclebinho/zefood.app.customer/zefood"
)

func newConnectedSession(t *testing.T, backend *mockbackend.Server) *socket.Session {
	t.Helper()
	sess := socket.New(socket.Config{
		URL:               backend.SocketURL(),
		AuthToken:         "test-token",
		ReconnectAttempts: 20,
		ReconnectDelay:    10 * time.Millisecond,
	})
	require.NoError(t, sess.Open())
	t.Cleanup(func() { sess.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.WaitConnected(ctx))
	return sess
}

func TestConnectAssignsSessionID(t *testing.T) {
	backend := mockbackend.New(t)
	sess := newConnectedSession(t, backend)

	assert.True(t, sess.Connected())
	assert.Equal(t, socket.StatusConnected, sess.Status())
	assert.NotEmpty(t, sess.SessionID())
	assert.Equal(t, 1, backend.SessionCount())
}

func TestEmitWithAckRoundTrip(t *testing.T) {
	backend := mockbackend.New(t)
	backend.State().SeedSnapshot(zefood.TrackingSnapshot{
		OrderID: "ord-1",
		Status:  zefood.StatusPreparing,
	})
	sess := newConnectedSession(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := sess.EmitWithAck(ctx, "getOrderTracking", map[string]string{"orderId": "ord-1"})
	require.NoError(t, err)

	var reply struct {
		Data zefood.TrackingSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, "ord-1", reply.Data.OrderID)
	assert.Equal(t, zefood.StatusPreparing, reply.Data.Status)
}

func TestEmitWithAckTimesOutWithoutReply(t *testing.T) {
	backend := mockbackend.New(t)
	sess := newConnectedSession(t, backend)

	// No snapshot seeded: the backend stays silent and the caller's context
	// bounds the wait.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := sess.EmitWithAck(ctx, "getOrderTracking", map[string]string{"orderId": "missing"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmitWhileDisconnected(t *testing.T) {
	sess := socket.New(socket.Config{URL: "ws://127.0.0.1:1/socket"})
	err := sess.Emit("joinOrder", map[string]string{"orderId": "ord-1"})
	require.ErrorIs(t, err, socket.ErrNotConnected)
}

func TestReconnectGetsNewSessionID(t *testing.T) {
	backend := mockbackend.New(t)
	sess := newConnectedSession(t, backend)
	first := sess.SessionID()

	backend.DropConnections()

	require.Eventually(t, func() bool {
		return sess.Connected() && sess.SessionID() != first
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReconnectBudgetExhausted(t *testing.T) {
	sess := socket.New(socket.Config{
		URL:               "ws://127.0.0.1:1/socket",
		ReconnectAttempts: 2,
		ReconnectDelay:    10 * time.Millisecond,
	})
	require.NoError(t, sess.Open())
	defer sess.Close()

	require.Eventually(t, func() bool {
		return sess.Status() == socket.StatusError
	}, 5*time.Second, 10*time.Millisecond)
	assert.Error(t, sess.LastError())
}

func TestConnectHooksRunBeforeEvents(t *testing.T) {
	backend := mockbackend.New(t)

	var mu sync.Mutex
	var sequence []string

	sess := socket.New(socket.Config{
		URL:            backend.SocketURL(),
		ReconnectDelay: 10 * time.Millisecond,
	})
	sess.OnConnect(func() {
		mu.Lock()
		sequence = append(sequence, "hook")
		mu.Unlock()
		_ = sess.Emit("joinOrder", map[string]string{"orderId": "ord-1"})
	})
	sess.OnEvent("orderStatusUpdate", func(data json.RawMessage) {
		mu.Lock()
		sequence = append(sequence, "event")
		mu.Unlock()
	})
	require.NoError(t, sess.Open())
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.WaitConnected(ctx))

	require.Eventually(t, func() bool {
		return backend.RoomSize("ord-1") == 1
	}, 2*time.Second, 10*time.Millisecond)
	backend.PushStatusUpdate("ord-1", zefood.StatusPreparing, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sequence) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hook", "event"}, sequence)
}

func TestDisconnectHookFiresOnDrop(t *testing.T) {
	backend := mockbackend.New(t)

	dropped := make(chan error, 1)
	sess := socket.New(socket.Config{
		URL:            backend.SocketURL(),
		ReconnectDelay: 10 * time.Millisecond,
	})
	sess.OnDisconnect(func(err error) {
		select {
		case dropped <- err:
		default:
		}
	})
	require.NoError(t, sess.Open())
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.WaitConnected(ctx))

	backend.DropConnections()

	select {
	case err := <-dropped:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect hook never fired")
	}
}

func TestCloseRunsCloseHooksAndIsIdempotent(t *testing.T) {
	backend := mockbackend.New(t)

	sess := socket.New(socket.Config{URL: backend.SocketURL()})
	sess.OnClose(func() {
		_ = sess.Emit("leaveOrder", map[string]string{"orderId": "ord-1"})
	})
	require.NoError(t, sess.Open())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.WaitConnected(ctx))
	require.NoError(t, sess.Emit("joinOrder", map[string]string{"orderId": "ord-1"}))
	require.Eventually(t, func() bool {
		return backend.RoomSize("ord-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	assert.Equal(t, socket.StatusDisconnected, sess.Status())
	assert.ErrorIs(t, sess.Emit("joinOrder", nil), socket.ErrClosed)
	require.Eventually(t, func() bool {
		return len(backend.Emissions("leaveOrder")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnhandledEventsAreIgnored(t *testing.T) {
	backend := mockbackend.New(t)
	sess := newConnectedSession(t, backend)

	backend.Broadcast("promotionalBanner", map[string]string{"text": "free delivery"})

	// The session must stay healthy; a follow-up round trip proves the read
	// loop survived the unknown event.
	backend.State().SeedSnapshot(zefood.TrackingSnapshot{OrderID: "ord-9"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := sess.EmitWithAck(ctx, "getOrderTracking", map[string]string{"orderId": "ord-9"})
	require.NoError(t, err)
}
