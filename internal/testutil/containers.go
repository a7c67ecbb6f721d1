package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgUser     = "taskdispatch"
	pgPassword = "taskdispatch"
	pgDatabase = "taskdispatch_test"
)

// sharedContainer is one broker backend container shared by every test of
// the binary. The testcontainers reaper removes it when the binary exits.
type sharedContainer struct {
	name  string
	image string
	port  string
	opts  []testcontainers.ContainerCustomizer
	// dsn turns the mapped host:port into a connection string.
	dsn func(endpoint string) string

	once     sync.Once
	resolved string
	err      error
}

func (c *sharedContainer) get(t *testing.T) string {
	t.Helper()
	skipShort(t)
	c.once.Do(c.start)
	skipIfUnavailable(t, c.name, c.err)
	return c.resolved
}

func (c *sharedContainer) start() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	opts := append([]testcontainers.ContainerCustomizer{
		testcontainers.WithExposedPorts(c.port),
	}, c.opts...)

	ctr, err := testcontainers.Run(ctx, c.image, opts...)
	if err != nil {
		c.err = fmt.Errorf("start %s: %w", c.image, err)
		return
	}

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		_ = ctr.Terminate(context.Background())
		c.err = fmt.Errorf("resolve %s endpoint: %w", c.image, err)
		return
	}
	c.resolved = c.dsn(endpoint)
}

var postgres = &sharedContainer{
	name:  "postgres",
	image: "postgres:16",
	port:  "5432/tcp",
	opts: []testcontainers.ContainerCustomizer{
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections"),
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return postgresDSN(fmt.Sprintf("%s:%s", host, port.Port()))
				}).WithQuery("SELECT 1"),
			).WithDeadline(2 * time.Minute),
		),
	},
	dsn: postgresDSN,
}

var redis = &sharedContainer{
	name:  "redis",
	image: "redis:7",
	port:  "6379/tcp",
	opts: []testcontainers.ContainerCustomizer{
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	},
	dsn: func(endpoint string) string { return "redis://" + endpoint },
}

var mongo = &sharedContainer{
	name:  "mongo",
	image: "mongo:7",
	port:  "27017/tcp",
	opts: []testcontainers.ContainerCustomizer{
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("mongod startup complete"),
		),
	},
	dsn: func(endpoint string) string { return "mongodb://" + endpoint },
}

func postgresDSN(endpoint string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, endpoint, pgDatabase)
}

// PostgresDSN returns a pgx connection string for a throwaway PostgreSQL.
func PostgresDSN(t *testing.T) string { return postgres.get(t) }

// RedisURL returns a redis:// URL for a throwaway Redis.
func RedisURL(t *testing.T) string { return redis.get(t) }

// MongoURI returns a mongodb:// URI for a throwaway MongoDB.
func MongoURI(t *testing.T) string { return mongo.get(t) }
