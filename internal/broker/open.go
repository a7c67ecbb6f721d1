package broker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	// database/sql drivers for the SQL backends.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Backend kinds accepted by Open.
const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindMongo    = "mongo"
)

// Open connects to the backend named by kind. dsn is interpreted by the
// backend: a file path or ":memory:" for sqlite, a libpq URL for postgres, a
// redis:// URL for redis and a mongodb:// URI for mongo. The returned broker
// owns the connection and closes it on Close.
func Open(ctx context.Context, kind, dsn string, opts ...Option) (Broker, error) {
	switch strings.ToLower(kind) {
	case "", KindMemory:
		return NewMemoryBroker(), nil

	case KindSQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("broker: open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection also keeps an
		// in-memory database alive and shared.
		db.SetMaxOpenConns(1)
		b, err := newSQLBroker(ctx, db, sqliteDialect, opts)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		b.ownsDB = true
		return b, nil

	case KindPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("broker: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("broker: ping postgres: %w", err)
		}
		b, err := newSQLBroker(ctx, db, postgresDialect, opts)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		b.ownsDB = true
		return b, nil

	case KindRedis:
		ropts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("broker: parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("broker: ping redis: %w", err)
		}
		b := NewRedisBroker(client, opts...)
		b.owns = true
		return b, nil

	case KindMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(dsn))
		if err != nil {
			return nil, fmt.Errorf("broker: connect mongo: %w", err)
		}
		b := NewMongoBroker(client, opts...)
		b.owns = true
		if err := b.EnsureIndexes(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("broker: unknown backend %q", kind)
}
