package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker with four keys per queue:
//
//	<prefix>ready:<queue>    list of due message ids (LPUSH in, RPOP out)
//	<prefix>delayed:<queue>  sorted set of scheduled ids, score = due time (ms)
//	<prefix>leases:<queue>   sorted set of leased ids, score = lease expiry (ms)
//	<prefix>owners:<queue>   hash of leased id to lease token
//
// plus <prefix>msg:<id> holding the gob-encoded message. A lease that is
// neither acked nor nacked before it expires is handed out again, so a
// crashed consumer never strands a message.
type RedisBroker struct {
	client redis.UniversalClient
	cfg    config
	owns   bool
}

// NewRedisBroker returns a broker on client.
func NewRedisBroker(client redis.UniversalClient, opts ...Option) *RedisBroker {
	return &RedisBroker{client: client, cfg: newConfig(opts)}
}

// Ensure RedisBroker implements Broker.
var _ Broker = (*RedisBroker)(nil)

func (b *RedisBroker) readyKey(q string) string   { return b.cfg.prefix + "ready:" + q }
func (b *RedisBroker) delayedKey(q string) string { return b.cfg.prefix + "delayed:" + q }
func (b *RedisBroker) leasesKey(q string) string  { return b.cfg.prefix + "leases:" + q }
func (b *RedisBroker) ownersKey(q string) string  { return b.cfg.prefix + "owners:" + q }
func (b *RedisBroker) msgKey(id string) string    { return b.cfg.prefix + "msg:" + id }

func (b *RedisBroker) queueKeys(q string) []string {
	return []string{b.readyKey(q), b.delayedKey(q), b.leasesKey(q), b.ownersKey(q)}
}

// KEYS: ready, delayed, leases, owners. ARGV: now (ms), lease expiry (ms), token.
// Due delayed ids and expired leases go back to the ready list, then the
// oldest ready id is leased.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('LPUSH', KEYS[1], id)
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('HDEL', KEYS[4], id)
	redis.call('RPUSH', KEYS[1], id)
end
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[2], id)
redis.call('HSET', KEYS[4], id, ARGV[3])
return id
`)

// KEYS: ready, delayed, leases, owners, msg. ARGV: id, token, mode, message, due (ms).
// mode "ack" deletes the message, "nack" stores it and reschedules it. A
// token that no longer owns the lease returns 0.
var settleScript = redis.NewScript(`
if redis.call('HGET', KEYS[4], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
if ARGV[3] == 'ack' then
	redis.call('DEL', KEYS[5])
	return 1
end
redis.call('SET', KEYS[5], ARGV[4])
if ARGV[5] ~= '0' then
	redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
else
	redis.call('RPUSH', KEYS[1], ARGV[1])
end
return 1
`)

// KEYS: ready, leases, owners. Every leased id goes back to the ready list.
var releaseScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[2], 0, -1)
for _, id in ipairs(ids) do
	redis.call('RPUSH', KEYS[1], id)
end
redis.call('DEL', KEYS[2], KEYS[3])
return #ids
`)

func (b *RedisBroker) Publish(ctx context.Context, queue string, msg Message) error {
	now := time.Now()
	msg = prepare(msg, now)
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	_, err = b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, b.msgKey(msg.ID), data, 0)
		if msg.NotBefore.After(now) {
			p.ZAdd(ctx, b.delayedKey(queue), redis.Z{Score: float64(msg.NotBefore.UnixMilli()), Member: msg.ID})
		} else {
			p.LPush(ctx, b.readyKey(queue), msg.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("broker: redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Receive(ctx context.Context, queue string) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now()
		token := uuid.NewString()
		id, err := claimScript.Run(ctx, b.client, b.queueKeys(queue),
			now.UnixMilli(), now.Add(b.cfg.leaseTTL).UnixMilli(), token).Text()
		if errors.Is(err, redis.Nil) {
			if err := sleepCtx(ctx, b.cfg.pollInterval); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("broker: redis receive: %w", err)
		}

		data, err := b.client.Get(ctx, b.msgKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Message body vanished; drop the dangling lease.
				b.client.ZRem(ctx, b.leasesKey(queue), id)
				b.client.HDel(ctx, b.ownersKey(queue), id)
				continue
			}
			return nil, fmt.Errorf("broker: redis load %s: %w", id, err)
		}
		msg, err := decodeMessage(data)
		if err != nil {
			return nil, err
		}
		msg.Attempts++
		if err := b.store(ctx, *msg); err != nil {
			return nil, err
		}
		return &Delivery{Message: *msg, Queue: queue, token: token}, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *RedisBroker) store(ctx context.Context, m Message) error {
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.msgKey(m.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("broker: redis store: %w", err)
	}
	return nil
}

func (b *RedisBroker) settle(ctx context.Context, d *Delivery, mode string, data []byte, due int64) error {
	keys := append(b.queueKeys(d.Queue), b.msgKey(d.ID))
	settled, err := settleScript.Run(ctx, b.client, keys, d.ID, d.token, mode, data, due).Int()
	if err != nil {
		return fmt.Errorf("broker: redis %s: %w", mode, err)
	}
	if settled == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (b *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	return b.settle(ctx, d, "ack", nil, 0)
}

func (b *RedisBroker) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	m := d.Message
	m.NotBefore = time.Now().Add(delay)
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	var due int64
	if delay > 0 {
		due = m.NotBefore.UnixMilli()
	}
	// A zero due time pushes the id where the claim pops from, so it is
	// redelivered first.
	return b.settle(ctx, d, "nack", data, due)
}

func (b *RedisBroker) Len(ctx context.Context, queue string) (int, error) {
	ready, err := b.client.LLen(ctx, b.readyKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: redis len: %w", err)
	}
	delayed, err := b.client.ZCard(ctx, b.delayedKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: redis len: %w", err)
	}
	return int(ready + delayed), nil
}

// Requeue releases every lease of queue at once instead of waiting for the
// leases to expire. Outstanding deliveries of the queue lose their lease.
func (b *RedisBroker) Requeue(ctx context.Context, queue string) (int, error) {
	keys := []string{b.readyKey(queue), b.leasesKey(queue), b.ownersKey(queue)}
	n, err := releaseScript.Run(ctx, b.client, keys).Int()
	if err != nil {
		return 0, fmt.Errorf("broker: redis requeue: %w", err)
	}
	return n, nil
}

func (b *RedisBroker) Close() error {
	if b.owns {
		return b.client.Close()
	}
	return nil
}
