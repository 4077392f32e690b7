package fanout

import (
	"sync"
	"time"
)

type slot[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond
	v    *Delivery[T]

	lastReadAt       time.Time
	lastReadSeq      uint64
	consecutiveDrops uint64
	totalDrops       uint64

	closed bool
}

func (s *slot[T]) put(v Delivery[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.v != nil {
		s.consecutiveDrops++
		s.totalDrops++
	}
	s.v = &v
	s.cond.Signal()
}

func (s *slot[T]) read() (Delivery[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.v == nil && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return Delivery[T]{}, false
	}
	v := *s.v
	s.v = nil
	s.lastReadAt = time.Now()
	s.lastReadSeq = v.Seq
	s.consecutiveDrops = 0
	return v, true
}

// Subscribe registers consumer id and returns its blocking read function.
// The function returns ok == false once the consumer is unsubscribed or the
// distributor stops. It must be called from a single goroutine.
//
// Subscribing an id twice replaces the previous mailbox, whose reader is
// woken with ok == false.
func (d *Distributor[T]) Subscribe(id string) func() (Delivery[T], bool) {
	if d.stopping.Load() {
		return func() (Delivery[T], bool) { return Delivery[T]{}, false }
	}
	s := &slot[T]{lastReadAt: time.Now()}
	s.cond = sync.NewCond(&s.mu)
	if prev, loaded := d.slots.Swap(id, s); loaded {
		prev.(*slot[T]).close()
	}
	return s.read
}

// Unsubscribe removes consumer id and wakes its reader. Unknown ids are ignored.
func (d *Distributor[T]) Unsubscribe(id string) {
	if v, ok := d.slots.LoadAndDelete(id); ok {
		v.(*slot[T]).close()
	}
}

func (s *slot[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Stats is a snapshot of distributor state.
type Stats struct {
	// InboxDrops counts values replaced before the loop picked them up.
	// Non-zero means the loop itself is starved.
	InboxDrops uint64
	Consumers  map[string]ConsumerStats
}

// ConsumerStats describes one consumer.
type ConsumerStats struct {
	ID               string
	LastReadAt       time.Time
	LastReadSeq      uint64
	ConsecutiveDrops uint64
	TotalDrops       uint64
	IsIdle           bool
}

// Stats returns a snapshot.
func (d *Distributor[T]) Stats() Stats {
	st := Stats{InboxDrops: d.inboxDrops.Load(), Consumers: make(map[string]ConsumerStats)}
	d.slots.Range(func(key, value any) bool {
		id, s := key.(string), value.(*slot[T])
		s.mu.Lock()
		st.Consumers[id] = ConsumerStats{
			ID:               id,
			LastReadAt:       s.lastReadAt,
			LastReadSeq:      s.lastReadSeq,
			ConsecutiveDrops: s.consecutiveDrops,
			TotalDrops:       s.totalDrops,
			IsIdle:           time.Since(s.lastReadAt) > idleThreshold,
		}
		s.mu.Unlock()
		return true
	})
	return st
}
