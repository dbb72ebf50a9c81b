// Package delivery pushes activities to remote inboxes on detached
// goroutines, isolating every recipient from the others and from the
// request that triggered the delivery.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/metrics"
	"github.com/cvhariharan/sailboat/models"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 32
)

// Sender posts a signed body to a remote inbox. *transport.Client implements it.
type Sender interface {
	SignedPost(ctx context.Context, uri string, as *models.CurrentProfile, body []byte) error
}

// Dispatcher runs deliveries in the background. Each delivery is attempted
// once; failures are logged and counted, never retried.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithConcurrency bounds the number of deliveries in flight. Deliveries
// beyond the bound wait on their own goroutine.
func WithConcurrency(n int) Option {
	return func(dp *Dispatcher) {
		if n > 0 {
			dp.slots = make(chan struct{}, n)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(dp *Dispatcher) { dp.metrics = m }
}

func NewDispatcher(sender Sender, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: DefaultTimeout,
		slots:   make(chan struct{}, DefaultConcurrency),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver schedules body for delivery to inbox, signed as the given profile,
// and returns immediately. kind labels the delivery in logs and metrics.
func (d *Dispatcher) Deliver(as *models.CurrentProfile, inbox string, body []byte, kind string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.slots <- struct{}{}
		defer func() { <-d.slots }()
		d.deliver(as, inbox, body, kind)
	}()
}

func (d *Dispatcher) deliver(as *models.CurrentProfile, inbox string, body []byte, kind string) {
	logger := d.logger.With(zap.String("kind", kind), zap.String("inbox", inbox))
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("delivery panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		d.metrics.ObserveDelivery(kind, err, time.Since(start))
	}()

	// Detached from any request context: the delivery outlives the request
	// that scheduled it.
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err = d.sender.SignedPost(ctx, inbox, as, body); err != nil {
		logger.Warn("delivery failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	logger.Debug("delivered", zap.Duration("elapsed", time.Since(start)))
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
