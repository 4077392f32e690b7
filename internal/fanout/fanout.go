// Package fanout distributes copied frames to N consumers with mailbox
// semantics: one slot per consumer, newest value wins, drops are counted.
//
// The capture side must never wait on a slow consumer. Publish is O(1) and
// never blocks; each consumer reads the latest value at its own pace.
package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStarted is returned by Start on a running distributor.
var ErrStarted = errors.New("fanout: already started")

// batchSize is the consumer count above which distribution is spread over
// goroutines of batchSize consumers each.
const batchSize = 8

// idleThreshold marks a consumer idle when it has not read for this long.
const idleThreshold = 30 * time.Second

// Delivery is one published value as seen by a consumer.
type Delivery[T any] struct {
	Seq   uint64 // assigned at distribution, monotonically increasing
	Value T
}

// Distributor fans values out to subscribed consumers.
//
// Lifecycle: New → Start → Publish/Subscribe → Stop. All methods are safe
// for concurrent use.
type Distributor[T any] struct {
	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inbox      *T
	inboxDrops atomic.Uint64

	slots sync.Map // id → *slot[T]
	seq   atomic.Uint64

	mu       sync.Mutex
	started  bool
	stopping atomic.Bool
	cancel   context.CancelFunc
	ctx      context.Context
	wg       sync.WaitGroup
}

// New returns an idle distributor.
func New[T any]() *Distributor[T] {
	d := &Distributor[T]{}
	d.inboxCond = sync.NewCond(&d.inboxMu)
	return d
}

// Start spawns the distribution loop. It runs until ctx is done or Stop.
func (d *Distributor[T]) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrStarted
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.started = true

	d.wg.Add(2)
	go d.loop()
	go func() {
		defer d.wg.Done()
		<-d.ctx.Done()
		d.stopping.Store(true)
		d.inboxMu.Lock()
		d.inboxCond.Broadcast()
		d.inboxMu.Unlock()
		d.slots.Range(func(key, _ any) bool {
			d.Unsubscribe(key.(string))
			return true
		})
	}()
	return nil
}

// Stop ends distribution and wakes every consumer with ok == false. The
// same happens when the Start context is cancelled. Idempotent.
func (d *Distributor[T]) Stop() error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}
	d.cancel()
	d.wg.Wait()
	return nil
}

// Publish hands v to the distribution loop, replacing any value the loop
// has not picked up yet.
func (d *Distributor[T]) Publish(v T) {
	if d.stopping.Load() {
		return
	}
	d.inboxMu.Lock()
	if d.inbox != nil {
		d.inboxDrops.Add(1)
	}
	d.inbox = &v
	d.inboxCond.Signal()
	d.inboxMu.Unlock()
}

func (d *Distributor[T]) loop() {
	defer d.wg.Done()
	for {
		d.inboxMu.Lock()
		for d.inbox == nil {
			if d.ctx.Err() != nil {
				d.inboxMu.Unlock()
				return
			}
			d.inboxCond.Wait()
		}
		v := d.inbox
		d.inbox = nil
		d.inboxMu.Unlock()

		d.distribute(Delivery[T]{Seq: d.seq.Add(1), Value: *v})
	}
}

// distribute delivers sequentially up to batchSize consumers and in
// fire-and-forget batches beyond that. Distribution finishes long before
// the next frame, so batches cannot reorder deliveries.
func (d *Distributor[T]) distribute(v Delivery[T]) {
	var slots []*slot[T]
	d.slots.Range(func(_, value any) bool {
		slots = append(slots, value.(*slot[T]))
		return true
	})

	if len(slots) <= batchSize {
		for _, s := range slots {
			s.put(v)
		}
		return
	}
	for i := 0; i < len(slots); i += batchSize {
		batch := slots[i:min(i+batchSize, len(slots))]
		go func() {
			for _, s := range batch {
				s.put(v)
			}
		}()
	}
}
