// Package broker is the message-queue layer under the transport: named
// queues carrying header-annotated messages, with leased delivery.
//
// A consumer receives a Delivery, processes it, and then either Acks it
// (the message is gone) or Nacks it (the message becomes available again,
// optionally after a delay). This gives every backend the commit-on-success
// semantics of a transacted session.
package broker

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/taskdispatch/pkg/api"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker: closed")

// ErrLeaseLost is returned by Ack and Nack when the delivery's lease expired
// and the message was handed to another consumer.
var ErrLeaseLost = errors.New("broker: lease lost")

// Message is one queued message.
type Message struct {
	ID      string
	Headers map[string]string
	Body    []byte

	// Attempts counts deliveries, including the current one.
	Attempts int

	EnqueuedAt time.Time

	// NotBefore is the earliest time the message is delivered. When zero at
	// publish time it is derived from the scheduled-delay header.
	NotBefore time.Time
}

// NewMessage returns a message with a fresh ID.
func NewMessage(body []byte, headers map[string]string) Message {
	return Message{ID: uuid.NewString(), Body: body, Headers: headers}
}

// Header returns the header value for name.
func (m Message) Header(name string) string {
	return m.Headers[name]
}

// Delivery is a leased message.
type Delivery struct {
	Message
	Queue string
	token string
}

// Broker publishes to and leases from named queues. Implementations are safe
// for concurrent use.
type Broker interface {
	// Publish appends msg to queue.
	Publish(ctx context.Context, queue string, msg Message) error

	// Receive blocks until a message of queue is due, leases it and returns
	// it, or until ctx is done.
	Receive(ctx context.Context, queue string) (*Delivery, error)

	// Ack removes a delivered message for good.
	Ack(ctx context.Context, d *Delivery) error

	// Nack releases a delivered message for redelivery after delay.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error

	// Len returns the number of messages waiting in queue, leased ones excluded.
	Len(ctx context.Context, queue string) (int, error)

	Close() error
}

// CopyHeaders returns a copy of h without the named headers.
func CopyHeaders(h map[string]string, except ...string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	for _, k := range except {
		delete(out, k)
	}
	return out
}

// ScheduledDelay parses the scheduled-delay header (milliseconds).
func ScheduledDelay(h map[string]string) time.Duration {
	raw := strings.TrimSpace(h[api.HeaderScheduledDelay])
	if raw == "" {
		return 0
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// prepare fills in the ID, timestamps and schedule of a message about to be
// published. Headers are copied so the caller may reuse its map.
func prepare(msg Message, now time.Time) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Headers = CopyHeaders(msg.Headers)
	msg.Attempts = 0
	msg.EnqueuedAt = now
	if msg.NotBefore.IsZero() {
		msg.NotBefore = now.Add(ScheduledDelay(msg.Headers))
	}
	return msg
}

type config struct {
	pollInterval time.Duration
	leaseTTL     time.Duration
	prefix       string
	database     string
}

func defaultConfig() config {
	return config{
		pollInterval: 100 * time.Millisecond,
		leaseTTL:     5 * time.Minute,
		prefix:       "taskdispatch:",
		database:     "taskdispatch",
	}
}

// Option customizes a broker backend.
type Option func(*config)

// WithPollInterval sets how often polling backends look for due messages.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLeaseTTL sets how long a delivery stays invisible to other consumers
// before it is handed out again. Ignored by the memory backend.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.leaseTTL = d
		}
	}
}

// WithPrefix sets the key prefix of the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithDatabase sets the MongoDB database name.
func WithDatabase(name string) Option {
	return func(c *config) {
		if name != "" {
			c.database = name
		}
	}
}

func newConfig(opts []Option) config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// idleTimer returns a stopped timer for poll loops.
func idleTimer() *time.Timer {
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	return tmr
}

// waitPoll sleeps for d on tmr or returns ctx.Err().
func waitPoll(ctx context.Context, tmr *time.Timer, d time.Duration) error {
	tmr.Reset(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			select {
			case <-tmr.C:
			default:
			}
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
