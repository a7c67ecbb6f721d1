package broker

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/taskdispatch/internal/testutil"
)

func TestMongoBroker(t *testing.T) {
	uri := testutil.MongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	b := NewMongoBroker(client, WithDatabase("taskdispatch_broker_test"), WithPollInterval(20*time.Millisecond))
	if err := b.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	runBrokerSuite(t, b)
}
