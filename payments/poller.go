// Package payments polls GET /orders/{id} until a watched order's payment
// settles. The client submits a payment exactly once; settlement is
// asynchronous on the backend, so the outcome is observed by polling with
// backoff rather than resubmitting.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/fclebinho/zefood.app.customer/zefood"
)

// OrderGetter is the REST slice the poller needs. Satisfied by *api.Client.
type OrderGetter interface {
	GetOrder(ctx context.Context, orderID string) (*zefood.Order, error)
}

// Config configures the Poller.
type Config struct {
	API OrderGetter

	// Workers is the number of polling goroutines. Zero means 2.
	Workers int
	// MaxRequeues bounds polling per order before giving up. Zero means 60.
	MaxRequeues int
	// BaseDelay/MaxDelay shape the per-order backoff. Zero means 1s/30s.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	Logger *slog.Logger

	// OnSettled fires once per watched order when its payment reaches
	// PAID or FAILED, or when the polling budget is exhausted (order nil).
	OnSettled func(orderID string, order *zefood.Order)
}

// Poller watches orders until their payment settles.
type Poller struct {
	cfg    Config
	logger *slog.Logger
	queue  workqueue.TypedRateLimitingInterface[string]

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(cfg Config) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxRequeues <= 0 {
		cfg.MaxRequeues = 60
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := workqueue.NewTypedItemExponentialFailureRateLimiter[string](cfg.BaseDelay, cfg.MaxDelay)
	queue := workqueue.NewTypedRateLimitingQueueWithConfig(limiter,
		workqueue.TypedRateLimitingQueueConfig[string]{Name: "payments"})

	return &Poller{
		cfg:    cfg,
		logger: logger.WithGroup("payments"),
		queue:  queue,
	}
}

// Run starts the workers. It returns immediately; call Shutdown to stop.
func (p *Poller) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
}

// Watch enqueues an order for payment polling. Watching an order already in
// the queue is a no-op (the queue de-duplicates by key).
func (p *Poller) Watch(orderID string) {
	if orderID == "" {
		return
	}
	p.queue.Add(orderID)
}

// Shutdown drains the queue and waits for workers to exit.
func (p *Poller) Shutdown() {
	p.stopOnce.Do(p.queue.ShutDown)
	p.wg.Wait()
}

func (p *Poller) runWorker(ctx context.Context) {
	defer p.wg.Done()

	for {
		orderID, shutdown := p.queue.Get()
		if shutdown {
			return
		}
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		p.pollOne(reqCtx, orderID)
		cancel()
	}
}

func (p *Poller) pollOne(ctx context.Context, orderID string) {
	defer p.queue.Done(orderID)

	order, err := p.cfg.API.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.queue.Forget(orderID)
			return
		}
		p.logger.Debug("payment poll failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
		p.requeueOrGiveUp(orderID)
		return
	}

	if order.PaymentStatus.Settled() {
		p.queue.Forget(orderID)
		p.logger.Info("payment settled",
			slog.String("order_id", orderID),
			slog.String("payment_status", string(order.PaymentStatus)))
		if p.cfg.OnSettled != nil {
			p.cfg.OnSettled(orderID, order)
		}
		return
	}

	p.requeueOrGiveUp(orderID)
}

func (p *Poller) requeueOrGiveUp(orderID string) {
	if p.queue.NumRequeues(orderID) < p.cfg.MaxRequeues {
		p.queue.AddRateLimited(orderID)
		return
	}
	p.queue.Forget(orderID)
	p.logger.Warn("payment polling budget exhausted", slog.String("order_id", orderID))
	if p.cfg.OnSettled != nil {
		p.cfg.OnSettled(orderID, nil)
	}
}
