package notify

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/types"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
)

// Notification is one queued user-facing message.
type Notification struct {
	Kind      types.NotificationKind
	Recipient string
	Payload   map[string]any
}

// Sink delivers a notification to its channel (email, etc).
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans queued notifications out to a bounded worker pool.
// Enqueue never blocks the caller: when the queue is full the
// notification is dropped and logged.
type Dispatcher struct {
	queue   chan Notification
	workers int
	sink    Sink
	log     *zap.SugaredLogger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDispatcher(lc fx.Lifecycle, cfg *config.Config, sink Sink, log *zap.SugaredLogger) *Dispatcher {
	workers := cfg.Notify.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := cfg.Notify.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	d := &Dispatcher{
		queue:   make(chan Notification, size),
		workers: workers,
		sink:    sink,
		log:     log,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Stop()
			return nil
		},
	})
	return d
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Stop drains the queue and waits for in-flight sends to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Enqueue queues a notification, reporting whether it was accepted.
func (d *Dispatcher) Enqueue(kind types.NotificationKind, recipient string, payload map[string]any) bool {
	n := Notification{Kind: kind, Recipient: recipient, Payload: payload}
	select {
	case d.queue <- n:
		return true
	default:
		d.log.Warnw("notification queue full, dropping", "kind", kind, "recipient", recipient)
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		if err := d.sink.Send(context.Background(), n); err != nil {
			d.log.Errorw("notification send failed", "kind", n.Kind, "recipient", n.Recipient, "err", err)
		}
	}
}
