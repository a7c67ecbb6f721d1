package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker keeps queues in process memory. Messages do not survive a
// restart. It is the default for tests and local runs.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string][]Message
	inflight map[string]*Delivery
	// wake is closed and replaced whenever a message becomes available.
	wake   chan struct{}
	closed bool
	now    func() time.Time
}

// NewMemoryBroker returns an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:   make(map[string][]Message),
		inflight: make(map[string]*Delivery),
		wake:     make(chan struct{}),
		now:      time.Now,
	}
}

// Ensure MemoryBroker implements Broker.
var _ Broker = (*MemoryBroker)(nil)

func (b *MemoryBroker) Publish(ctx context.Context, queue string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.queues[queue] = append(b.queues[queue], prepare(msg, b.now()))
	b.broadcastLocked()
	return nil
}

func (b *MemoryBroker) Receive(ctx context.Context, queue string) (*Delivery, error) {
	tmr := idleTimer()
	defer tmr.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		now := b.now()
		var next time.Time
		msgs := b.queues[queue]
		for i, m := range msgs {
			if !m.NotBefore.After(now) {
				b.queues[queue] = append(msgs[:i:i], msgs[i+1:]...)
				m.Attempts++
				d := &Delivery{Message: m, Queue: queue, token: uuid.NewString()}
				b.inflight[d.token] = d
				b.mu.Unlock()
				return d, nil
			}
			if next.IsZero() || m.NotBefore.Before(next) {
				next = m.NotBefore
			}
		}
		wake := b.wake
		b.mu.Unlock()

		var timeout <-chan time.Time
		if !next.IsZero() {
			tmr.Reset(next.Sub(now))
			timeout = tmr.C
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		case <-timeout:
		}
		if !tmr.Stop() {
			select {
			case <-tmr.C:
			default:
			}
		}
	}
}

func (b *MemoryBroker) Ack(ctx context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inflight[d.token]; !ok {
		return ErrLeaseLost
	}
	delete(b.inflight, d.token)
	return nil
}

func (b *MemoryBroker) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inflight[d.token]; !ok {
		return ErrLeaseLost
	}
	delete(b.inflight, d.token)
	if b.closed {
		return ErrClosed
	}

	m := d.Message
	m.NotBefore = b.now().Add(delay)
	// Redelivered messages go back to the head of the queue.
	b.queues[d.Queue] = append([]Message{m}, b.queues[d.Queue]...)
	b.broadcastLocked()
	return nil
}

func (b *MemoryBroker) Len(ctx context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue]), nil
}

// Messages returns a snapshot of the messages waiting in queue.
func (b *MemoryBroker) Messages(queue string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.queues[queue]))
	copy(out, b.queues[queue])
	return out
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.broadcastLocked()
	}
	return nil
}

func (b *MemoryBroker) broadcastLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}
