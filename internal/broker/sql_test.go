package broker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/taskdispatch/internal/testutil"
)

func openSQLiteBroker(t *testing.T) Broker {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	b, err := NewSQLiteBroker(context.Background(), db, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSQLiteBroker failed: %v", err)
	}
	return b
}

func TestSQLiteBroker(t *testing.T) {
	runBrokerSuite(t, openSQLiteBroker(t))
}

func TestSQLiteBroker_ExpiredLeaseIsRedelivered(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := NewSQLiteBroker(ctx, db,
		WithPollInterval(10*time.Millisecond),
		WithLeaseTTL(50*time.Millisecond),
	)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "q", NewMessage([]byte("job"), nil)))
	first, err := b.Receive(ctx, "q")
	require.NoError(t, err)

	// No ack: the lease runs out and another consumer gets the message.
	second, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempts)

	require.ErrorIs(t, b.Ack(ctx, first), ErrLeaseLost)
	require.NoError(t, b.Ack(ctx, second))
}

func TestOpen_SQLiteOwnsConnection(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, KindSQLite, "", WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "q", NewMessage([]byte("x"), nil)))
	n, err := b.Len(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, b.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "carrier-pigeon", "")
	require.Error(t, err)
}

func TestPostgresBroker(t *testing.T) {
	dsn := testutil.PostgresDSN(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := Open(ctx, KindPostgres, dsn, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open postgres failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	runBrokerSuite(t, b)
}
