package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBroker implements Broker on one collection.
//
// Document schema:
//
//	{
//	  _id:         string,             // message ID
//	  queue:       string,
//	  headers:     map[string]string,
//	  body:        []byte,
//	  attempts:    int,
//	  enqueued_at: time.Time,
//	  not_before:  time.Time,
//	  lease_until: time.Time,          // zero time when not leased
//	  lease_token: string,
//	}
type MongoBroker struct {
	client *mongo.Client
	coll   *mongo.Collection
	cfg    config
	owns   bool
}

// NewMongoBroker returns a broker storing messages in the "broker_messages"
// collection of the configured database (default "taskdispatch").
func NewMongoBroker(client *mongo.Client, opts ...Option) *MongoBroker {
	cfg := newConfig(opts)
	return &MongoBroker{
		client: client,
		coll:   client.Database(cfg.database).Collection("broker_messages"),
		cfg:    cfg,
	}
}

// Ensure MongoBroker implements Broker.
var _ Broker = (*MongoBroker)(nil)

type mongoMessageDoc struct {
	ID         string            `bson:"_id"`
	Queue      string            `bson:"queue"`
	Headers    map[string]string `bson:"headers"`
	Body       []byte            `bson:"body"`
	Attempts   int               `bson:"attempts"`
	EnqueuedAt time.Time         `bson:"enqueued_at"`
	NotBefore  time.Time         `bson:"not_before"`
	LeaseUntil time.Time         `bson:"lease_until"`
	LeaseToken string            `bson:"lease_token"`
}

// EnsureIndexes creates the index used by Receive.
func (b *MongoBroker) EnsureIndexes(ctx context.Context) error {
	_, err := b.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "queue", Value: 1},
			{Key: "not_before", Value: 1},
			{Key: "enqueued_at", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("broker: mongo index: %w", err)
	}
	return nil
}

func (b *MongoBroker) Publish(ctx context.Context, queue string, msg Message) error {
	msg = prepare(msg, time.Now().UTC())
	doc := mongoMessageDoc{
		ID:         msg.ID,
		Queue:      queue,
		Headers:    msg.Headers,
		Body:       msg.Body,
		EnqueuedAt: msg.EnqueuedAt,
		NotBefore:  msg.NotBefore,
		LeaseUntil: time.Time{},
	}
	if _, err := b.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("broker: mongo publish: %w", err)
	}
	return nil
}

// Receive polls for a due message until one is leased or ctx is done.
func (b *MongoBroker) Receive(ctx context.Context, queue string) (*Delivery, error) {
	tmr := idleTimer()
	defer tmr.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		token := uuid.NewString()
		var doc mongoMessageDoc
		err := b.coll.FindOneAndUpdate(
			ctx,
			bson.M{
				"queue":       queue,
				"not_before":  bson.M{"$lte": now},
				"lease_until": bson.M{"$lte": now},
			},
			bson.M{
				"$set": bson.M{"lease_until": now.Add(b.cfg.leaseTTL), "lease_token": token},
				"$inc": bson.M{"attempts": 1},
			},
			options.FindOneAndUpdate().
				SetSort(bson.D{{Key: "not_before", Value: 1}, {Key: "enqueued_at", Value: 1}}).
				SetReturnDocument(options.After),
		).Decode(&doc)

		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				if err := waitPoll(ctx, tmr, b.cfg.pollInterval); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("broker: mongo receive: %w", err)
		}

		return &Delivery{
			Message: Message{
				ID:         doc.ID,
				Headers:    doc.Headers,
				Body:       doc.Body,
				Attempts:   doc.Attempts,
				EnqueuedAt: doc.EnqueuedAt,
				NotBefore:  doc.NotBefore,
			},
			Queue: queue,
			token: token,
		}, nil
	}
}

func (b *MongoBroker) Ack(ctx context.Context, d *Delivery) error {
	res, err := b.coll.DeleteOne(ctx, bson.M{"_id": d.ID, "lease_token": d.token})
	if err != nil {
		return fmt.Errorf("broker: mongo ack: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (b *MongoBroker) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	res, err := b.coll.UpdateOne(ctx,
		bson.M{"_id": d.ID, "lease_token": d.token},
		bson.M{"$set": bson.M{
			"lease_until": time.Time{},
			"lease_token": "",
			"not_before":  time.Now().UTC().Add(delay),
		}},
	)
	if err != nil {
		return fmt.Errorf("broker: mongo nack: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (b *MongoBroker) Len(ctx context.Context, queue string) (int, error) {
	n, err := b.coll.CountDocuments(ctx, bson.M{
		"queue":       queue,
		"lease_until": bson.M{"$lte": time.Now().UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("broker: mongo len: %w", err)
	}
	return int(n), nil
}

func (b *MongoBroker) Close() error {
	if b.owns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.client.Disconnect(ctx)
	}
	return nil
}
