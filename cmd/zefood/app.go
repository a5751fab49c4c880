package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fclebinho/zefood.app.customer/api"
	"github.com/fclebinho/zefood.app.customer/cmd/zefood/internal/config"
	"github.com/fclebinho/zefood.app.customer/internal/events"
	zlog "github.com/fclebinho/zefood.app.customer/log"
	"github.com/fclebinho/zefood.app.customer/orders"
	"github.com/fclebinho/zefood.app.customer/payments"
	"github.com/fclebinho/zefood.app.customer/pkg/diaglog"
	"github.com/fclebinho/zefood.app.customer/rooms"
	"github.com/fclebinho/zefood.app.customer/socket"
	"github.com/fclebinho/zefood.app.customer/storage"
	"github.com/fclebinho/zefood.app.customer/tracking"
	"github.com/fclebinho/zefood.app.customer/zefood"
)

// App is the composition root: storage, the REST client, one socket session
// per namespace, the orders feed, the tracking session and the payments
// poller, wired together and torn down as a unit.
type App struct {
	cfg    config.AppConfig
	logger *slog.Logger

	store        *storage.Storage
	bus          *events.Bus
	client       *api.Client
	ordersSock   *socket.Session
	trackingSock *socket.Session
	feed         *orders.Feed
	tracking     *tracking.Session
	payments     *payments.Poller
	diag         *diaglog.Handler

	unsubscribe  func()
	shutdownOnce sync.Once
}

// Option mutates App wiring before the components are constructed.
type Option func(*appOptions)

type appOptions struct {
	onOrders       func([]zefood.OrderSummary)
	onTracking     func(*zefood.TrackingSnapshot)
	onExpired      func()
	onConnectivity func(namespace string, online bool)
}

// WithOrdersListener registers the callback for orders list changes.
func WithOrdersListener(fn func([]zefood.OrderSummary)) Option {
	return func(o *appOptions) { o.onOrders = fn }
}

// WithTrackingListener registers the callback for tracking snapshot changes.
func WithTrackingListener(fn func(*zefood.TrackingSnapshot)) Option {
	return func(o *appOptions) { o.onTracking = fn }
}

// WithSessionExpiredListener registers the callback for auth expiry. The app
// itself only logs; prompting for re-authentication is the caller's job.
func WithSessionExpiredListener(fn func()) Option {
	return func(o *appOptions) { o.onExpired = fn }
}

// WithConnectivityListener registers the callback driving the reconnecting
// indicator. It fires per namespace on every connect and disconnect and must
// not block.
func WithConnectivityListener(fn func(namespace string, online bool)) Option {
	return func(o *appOptions) { o.onConnectivity = fn }
}

func NewApp(cfg config.AppConfig, logger *slog.Logger, opts ...Option) (*App, error) {
	var options appOptions
	for _, opt := range opts {
		opt(&options)
	}

	store, err := storage.New(cfg.StoragePath, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}

	// The diagnostic log rides on the same journal, so every component
	// constructed below logs through the tee.
	var diag *diaglog.Handler
	if cfg.DiagLog {
		diag, err = diaglog.New(store.InsertClientLog)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("diag log init: %w", err)
		}
		logger = slog.New(zlog.NewTeeHandler(logger.Handler(), diag))
	}

	bus := events.NewBus()

	client, err := api.NewClient(api.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   func() string { return cfg.AuthToken },
		Bus:     bus,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("api client init: %w", err)
	}

	ordersSock := socket.New(socket.Config{
		URL:               cfg.OrdersSocketURL(),
		AuthToken:         cfg.AuthToken,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		Logger:            logger,
	})
	trackingSock := socket.New(socket.Config{
		URL:               cfg.TrackingSocketURL(),
		AuthToken:         cfg.AuthToken,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		Logger:            logger,
	})

	// Both namespaces feed the reconnecting indicator through the bus.
	wireConnectivity := func(namespace string, sess *socket.Session) {
		sess.OnConnect(func() {
			bus.Publish(events.Event{Kind: events.KindConnectivityChanged, Message: namespace, Online: true})
		})
		sess.OnDisconnect(func(error) {
			bus.Publish(events.Event{Kind: events.KindConnectivityChanged, Message: namespace, Online: false})
		})
	}
	wireConnectivity("orders", ordersSock)
	wireConnectivity("tracking", trackingSock)

	feed := orders.New(orders.Config{
		Lister:   client,
		Conn:     ordersSock,
		Journal:  store,
		PageSize: cfg.PageSize,
		Logger:   logger,
		OnUpdate: options.onOrders,
	})

	// Room replay must precede the tracking session's connect-time re-fetch,
	// so the tracker's hook is registered first.
	trackingRooms := rooms.New(trackingSock, rooms.Config{
		JoinEvent:  "subscribeToOrder",
		LeaveEvent: "unsubscribeFromOrder",
		Logger:     logger,
	})
	trackingSock.OnConnect(trackingRooms.ReconcileOnReconnect)
	trackingSock.OnClose(trackingRooms.LeaveAll)

	trackingSession := tracking.New(tracking.Config{
		Fetcher:       client,
		Conn:          trackingSock,
		Rooms:         trackingRooms,
		Store:         store,
		FallbackAfter: cfg.FallbackAfter,
		Logger:        logger,
		OnChange:      options.onTracking,
	})

	poller := payments.New(payments.Config{
		API:     client,
		Workers: cfg.PaymentWorkers,
		Logger:  logger,
		OnSettled: func(orderID string, order *zefood.Order) {
			if order == nil {
				logger.Warn("payment outcome unknown", slog.String("order_id", orderID))
				return
			}
			logger.Info("payment settled",
				slog.String("order_id", orderID),
				slog.String("payment_status", string(order.PaymentStatus)))
		},
	})

	app := &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		bus:          bus,
		client:       client,
		ordersSock:   ordersSock,
		trackingSock: trackingSock,
		feed:         feed,
		tracking:     trackingSession,
		payments:     poller,
		diag:         diag,
	}
	app.unsubscribe = bus.Subscribe(func(evt events.Event) {
		switch evt.Kind {
		case events.KindSessionExpired:
			logger.Warn("session expired, re-authentication required")
			if options.onExpired != nil {
				options.onExpired()
			}
		case events.KindConnectivityChanged:
			if evt.Online {
				logger.Info("socket online", slog.String("namespace", evt.Message))
			} else {
				logger.Warn("socket reconnecting", slog.String("namespace", evt.Message))
			}
			if options.onConnectivity != nil {
				options.onConnectivity(evt.Message, evt.Online)
			}
		}
	})
	return app, nil
}

// Start opens both socket sessions, loads the orders list and starts the
// payment workers. The initial list load failing is not fatal: the cached
// journal keeps the UI populated and the reconnect path re-fetches.
func (a *App) Start(ctx context.Context) error {
	if err := a.ordersSock.Open(); err != nil {
		return err
	}
	if err := a.trackingSock.Open(); err != nil {
		return err
	}

	a.payments.Run(ctx)

	if err := a.feed.Load(ctx); err != nil {
		a.logger.Warn("initial orders load failed", slog.String("error", err.Error()))
	}

	if removed, err := a.store.PruneHistory(ctx, a.cfg.HistoryRetention); err != nil {
		a.logger.Debug("history prune failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		a.logger.Debug("pruned status history", slog.Int64("rows", removed))
	}
	if _, err := a.store.PruneClientLogs(ctx, a.cfg.HistoryRetention); err != nil {
		a.logger.Debug("diag log prune failed", slog.String("error", err.Error()))
	}

	return nil
}

// TrackOrder re-targets the tracking session.
func (a *App) TrackOrder(orderID string) {
	a.tracking.SetOrder(orderID)
}

// SubmitPayment submits the payment and starts watching for settlement.
func (a *App) SubmitPayment(ctx context.Context, req api.PaymentRequest) (*api.PaymentResult, error) {
	result, err := a.client.SubmitPayment(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.PaymentStatus.Settled() {
		a.payments.Watch(req.OrderID)
	}
	return result, nil
}

// Feed returns the live orders list.
func (a *App) Feed() *orders.Feed { return a.feed }

// Tracking returns the tracking session.
func (a *App) Tracking() *tracking.Session { return a.tracking }

// Client returns the REST client for one-off catalog calls.
func (a *App) Client() *api.Client { return a.client }

// Store returns the local journal.
func (a *App) Store() *storage.Storage { return a.store }

// Shutdown tears everything down exactly once, in dependency order: consumers
// first, then the sockets they ride on, then storage.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.unsubscribe()
		a.tracking.Close()
		a.feed.Close()
		a.payments.Shutdown()
		_ = a.trackingSock.Close()
		_ = a.ordersSock.Close()
		if a.diag != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := a.diag.Close(ctx); err != nil {
				a.logger.Warn("closing diag log failed", slog.String("error", err.Error()))
			}
			cancel()
		}
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing storage failed", slog.String("error", err.Error()))
		}
	})
}
