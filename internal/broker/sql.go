package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name   string
	schema []string
	insert string
	claim  string
	ack    string
	nack   string
	count  string
}

// sqlBroker implements Broker on a single table:
//
//	broker_messages(seq, id, queue, headers, body, attempts,
//	                enqueued_at, not_before, lease_until, lease_token)
//
// Times are Unix nanoseconds. A message is due when not_before and
// lease_until are both in the past; claiming it pushes lease_until forward
// by the lease TTL, so a consumer that dies without acking releases the
// message once the lease runs out.
type sqlBroker struct {
	db     *sql.DB
	d      dialect
	cfg    config
	ownsDB bool
}

func newSQLBroker(ctx context.Context, db *sql.DB, d dialect, opts []Option) (*sqlBroker, error) {
	b := &sqlBroker{db: db, d: d, cfg: newConfig(opts)}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("broker: %s schema: %w", d.name, err)
		}
	}
	return b, nil
}

// Ensure sqlBroker implements Broker.
var _ Broker = (*sqlBroker)(nil)

func (b *sqlBroker) Publish(ctx context.Context, queue string, msg Message) error {
	msg = prepare(msg, time.Now())
	headers, err := encodeHeaders(msg.Headers)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, b.d.insert,
		msg.ID,
		queue,
		headers,
		msg.Body,
		msg.EnqueuedAt.UnixNano(),
		msg.NotBefore.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("broker: %s publish: %w", b.d.name, err)
	}
	return nil
}

func (b *sqlBroker) Receive(ctx context.Context, queue string) (*Delivery, error) {
	tmr := idleTimer()
	defer tmr.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, err := b.claim(ctx, queue)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		// Nothing due yet: wait and poll again.
		if err := waitPoll(ctx, tmr, b.cfg.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (b *sqlBroker) claim(ctx context.Context, queue string) (*Delivery, error) {
	now := time.Now()
	token := uuid.NewString()

	var (
		id         string
		headers    string
		body       []byte
		attempts   int
		enqueuedAt int64
		notBefore  int64
	)
	err := b.db.QueryRowContext(ctx, b.d.claim,
		now.Add(b.cfg.leaseTTL).UnixNano(),
		token,
		queue,
		now.UnixNano(),
	).Scan(&id, &headers, &body, &attempts, &enqueuedAt, &notBefore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("broker: %s claim: %w", b.d.name, err)
	}

	h, err := decodeHeaders(headers)
	if err != nil {
		return nil, err
	}
	return &Delivery{
		Message: Message{
			ID:         id,
			Headers:    h,
			Body:       body,
			Attempts:   attempts,
			EnqueuedAt: time.Unix(0, enqueuedAt),
			NotBefore:  time.Unix(0, notBefore),
		},
		Queue: queue,
		token: token,
	}, nil
}

func (b *sqlBroker) Ack(ctx context.Context, d *Delivery) error {
	res, err := b.db.ExecContext(ctx, b.d.ack, d.ID, d.token)
	if err != nil {
		return fmt.Errorf("broker: %s ack: %w", b.d.name, err)
	}
	return leaseResult(res)
}

func (b *sqlBroker) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	res, err := b.db.ExecContext(ctx, b.d.nack, time.Now().Add(delay).UnixNano(), d.ID, d.token)
	if err != nil {
		return fmt.Errorf("broker: %s nack: %w", b.d.name, err)
	}
	return leaseResult(res)
}

func (b *sqlBroker) Len(ctx context.Context, queue string) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, b.d.count, queue, time.Now().UnixNano()).Scan(&n); err != nil {
		return 0, fmt.Errorf("broker: %s len: %w", b.d.name, err)
	}
	return n, nil
}

func (b *sqlBroker) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

func leaseResult(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS broker_messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			queue       TEXT NOT NULL,
			headers     TEXT NOT NULL,
			body        BLOB,
			attempts    INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL,
			not_before  INTEGER NOT NULL,
			lease_until INTEGER NOT NULL DEFAULT 0,
			lease_token TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS broker_messages_due ON broker_messages (queue, not_before, seq);`,
	},
	insert: `
		INSERT INTO broker_messages (id, queue, headers, body, enqueued_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?)`,
	// A single UPDATE is atomic under SQLite's database write lock.
	claim: `
		UPDATE broker_messages
		SET lease_until = ?1, lease_token = ?2, attempts = attempts + 1
		WHERE seq = (
			SELECT seq FROM broker_messages
			WHERE queue = ?3 AND not_before <= ?4 AND lease_until <= ?4
			ORDER BY not_before, seq
			LIMIT 1
		)
		RETURNING id, headers, body, attempts, enqueued_at, not_before`,
	ack: `DELETE FROM broker_messages WHERE id = ? AND lease_token = ?`,
	nack: `
		UPDATE broker_messages
		SET lease_until = 0, lease_token = '', not_before = ?
		WHERE id = ? AND lease_token = ?`,
	count: `SELECT COUNT(*) FROM broker_messages WHERE queue = ? AND lease_until <= ?`,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS broker_messages (
			seq         BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL UNIQUE,
			queue       TEXT NOT NULL,
			headers     TEXT NOT NULL,
			body        BYTEA,
			attempts    INTEGER NOT NULL DEFAULT 0,
			enqueued_at BIGINT NOT NULL,
			not_before  BIGINT NOT NULL,
			lease_until BIGINT NOT NULL DEFAULT 0,
			lease_token TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS broker_messages_due ON broker_messages (queue, not_before, seq);`,
	},
	insert: `
		INSERT INTO broker_messages (id, queue, headers, body, enqueued_at, not_before)
		VALUES ($1, $2, $3, $4, $5, $6)`,
	claim: `
		UPDATE broker_messages
		SET lease_until = $1, lease_token = $2, attempts = attempts + 1
		WHERE seq = (
			SELECT seq FROM broker_messages
			WHERE queue = $3 AND not_before <= $4 AND lease_until <= $4
			ORDER BY not_before, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, headers, body, attempts, enqueued_at, not_before`,
	ack: `DELETE FROM broker_messages WHERE id = $1 AND lease_token = $2`,
	nack: `
		UPDATE broker_messages
		SET lease_until = 0, lease_token = '', not_before = $1
		WHERE id = $2 AND lease_token = $3`,
	count: `SELECT COUNT(*) FROM broker_messages WHERE queue = $1 AND lease_until <= $2`,
}

// NewSQLiteBroker creates the broker table in db if needed. In-memory
// databases must be limited to one connection (db.SetMaxOpenConns(1)) so
// every query sees the same database.
func NewSQLiteBroker(ctx context.Context, db *sql.DB, opts ...Option) (Broker, error) {
	return newSQLBroker(ctx, db, sqliteDialect, opts)
}

// NewPostgresBroker creates the broker table in db if needed. db is expected
// to use the pgx stdlib driver.
func NewPostgresBroker(ctx context.Context, db *sql.DB, opts ...Option) (Broker, error) {
	return newSQLBroker(ctx, db, postgresDialect, opts)
}
