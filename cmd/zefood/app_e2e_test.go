package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclebinho/zefood.app.customer/api"
	"github.com/fclebinho/zefood.app.customer/cmd/zefood/internal/config"
	"github.com/fclebinho/zefood.app.customer/internal/mockbackend"
	"github.com/fclebinho/zefood.app.customer/zefood"
)

func e2eConfig(t *testing.T, backend *mockbackend.Server) config.AppConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.APIBaseURL = backend.URL()
	cfg.SocketBaseURL = backend.SocketURL()
	cfg.AuthToken = "test-token"
	cfg.StoragePath = filepath.Join(t.TempDir(), "journal.sqlite3")
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.FallbackAfter = 200 * time.Millisecond
	return cfg
}

func startApp(t *testing.T, backend *mockbackend.Server, opts ...Option) *App {
	t.Helper()
	app, err := NewApp(e2eConfig(t, backend), testLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, app.Start(ctx))
	return app
}

func TestOrderLifecycleEndToEnd(t *testing.T) {
	backend := mockbackend.New(t)
	backend.State().SeedOrder(zefood.Order{
		ID:         "ord-1",
		Status:     zefood.StatusPending,
		Restaurant: &zefood.Restaurant{ID: "rest-1", Name: "Cantina da Vila"},
		Total:      58.9,
		CreatedAt:  time.Now().UTC(),
	})

	app := startApp(t, backend)

	// The list load marks ord-1 active; the join is queued while the socket
	// handshakes and replayed once it is up.
	require.Eventually(t, func() bool {
		return backend.RoomSize("ord-1") >= 1
	}, 5*time.Second, 10*time.Millisecond)

	backend.PushStatusUpdate("ord-1", zefood.StatusPreparing, nil)
	require.Eventually(t, func() bool {
		list := app.Feed().Orders()
		return len(list) == 1 && list[0].Status == zefood.StatusPreparing
	}, 5*time.Second, 10*time.Millisecond)

	// Open the tracking screen.
	backend.State().SeedSnapshot(zefood.TrackingSnapshot{
		OrderID: "ord-1",
		Status:  zefood.StatusPreparing,
	})
	app.TrackOrder("ord-1")

	require.Eventually(t, func() bool {
		snap := app.Tracking().Snapshot()
		return snap != nil && snap.Status == zefood.StatusPreparing
	}, 5*time.Second, 10*time.Millisecond)

	backend.PushDriverLocation("ord-1", zefood.DriverLocation{
		DriverID:  "drv-1",
		Latitude:  -8.05,
		Longitude: -34.9,
		Timestamp: time.Now().UTC(),
	})
	require.Eventually(t, func() bool {
		snap := app.Tracking().Snapshot()
		return snap != nil && snap.Driver != nil && snap.Driver.Location != nil &&
			snap.Driver.Location.Latitude == -8.05
	}, 5*time.Second, 10*time.Millisecond)

	// Delivery is terminal: the feed updates the row and leaves the room.
	backend.PushStatusUpdate("ord-1", zefood.StatusDelivered, nil)
	require.Eventually(t, func() bool {
		list := app.Feed().Orders()
		return len(list) == 1 && list[0].Status == zefood.StatusDelivered
	}, 5*time.Second, 10*time.Millisecond)

	leaves := func() int { return len(backend.Emissions("leaveOrder")) }
	require.Eventually(t, func() bool { return leaves() == 1 }, 5*time.Second, 10*time.Millisecond)

	app.Shutdown()
	app.Shutdown()
}

func TestReconnectReplaysMemberships(t *testing.T) {
	backend := mockbackend.New(t)
	backend.State().SeedOrder(zefood.Order{ID: "ord-1", Status: zefood.StatusConfirmed})

	app := startApp(t, backend)
	require.Eventually(t, func() bool {
		return backend.RoomSize("ord-1") >= 1 && backend.SessionCount() == 2
	}, 5*time.Second, 10*time.Millisecond)

	backend.DropConnections()

	// Both namespaces reconnect and the join is replayed without any caller
	// intervention.
	require.Eventually(t, func() bool {
		return backend.SessionCount() == 2 && backend.RoomSize("ord-1") >= 1
	}, 5*time.Second, 10*time.Millisecond)

	// Pushes on the new connection still land.
	backend.PushStatusUpdate("ord-1", zefood.StatusOutForDelivery, nil)
	require.Eventually(t, func() bool {
		list := app.Feed().Orders()
		return len(list) == 1 && list[0].Status == zefood.StatusOutForDelivery
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnectivityIndicatorFollowsSocketState(t *testing.T) {
	backend := mockbackend.New(t)
	backend.State().SeedOrder(zefood.Order{ID: "ord-1", Status: zefood.StatusConfirmed})

	var mu sync.Mutex
	transitions := make(map[string][]bool)
	startApp(t, backend, WithConnectivityListener(func(namespace string, online bool) {
		mu.Lock()
		transitions[namespace] = append(transitions[namespace], online)
		mu.Unlock()
	}))

	seq := func(namespace string) []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), transitions[namespace]...)
	}
	require.Eventually(t, func() bool {
		return len(seq("orders")) >= 1 && len(seq("tracking")) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, seq("orders")[0])
	assert.True(t, seq("tracking")[0])

	backend.DropConnections()

	// Each namespace reports the drop and then the successful reconnect.
	require.Eventually(t, func() bool {
		for _, namespace := range []string{"orders", "tracking"} {
			states := seq(namespace)
			sawOffline := false
			for _, online := range states {
				if !online {
					sawOffline = true
				}
			}
			if !sawOffline || !states[len(states)-1] {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubmitPaymentWatchesSettlement(t *testing.T) {
	backend := mockbackend.New(t)
	backend.State().SeedOrder(zefood.Order{ID: "ord-1", Status: zefood.StatusPending})

	app := startApp(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := app.SubmitPayment(ctx, api.PaymentRequest{OrderID: "ord-1", CardID: "card-1"})
	require.NoError(t, err)
	assert.Equal(t, zefood.PaymentPending, result.PaymentStatus)
}

func TestDiagLogPersistsIntoJournal(t *testing.T) {
	backend := mockbackend.New(t)
	backend.State().SeedOrder(zefood.Order{ID: "ord-1", Status: zefood.StatusPending})

	cfg := e2eConfig(t, backend)
	cfg.DiagLog = true
	app, err := NewApp(cfg, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))

	// The connect logs alone guarantee at least one persisted entry.
	require.Eventually(t, func() bool {
		logs, err := app.Store().ListClientLogs(ctx, 10)
		return err == nil && len(logs) > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSessionExpiredSurfacesOnce(t *testing.T) {
	backend := mockbackend.New(t)
	backend.State().SeedOrder(zefood.Order{ID: "ord-1", Status: zefood.StatusPending})

	expired := make(chan struct{}, 8)
	app := startApp(t, backend, WithSessionExpiredListener(func() {
		expired <- struct{}{}
	}))

	backend.State().SetAuthFailure(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := app.Client().ListOrders(ctx, 1, 10)
	require.ErrorIs(t, err, api.ErrSessionExpired)

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("session-expired listener never fired")
	}
}
