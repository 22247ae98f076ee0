package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
)

// MongoStore implements Store on a MongoDB collection. One document per
// order; the status field doubles as the CAS guard for Replace.
type MongoStore struct {
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongoStore connects, pings and prepares the orders collection with its
// indexes.
func NewMongoStore(ctx context.Context, uri string, timeout time.Duration) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	collection := client.Database("orders").Collection("orders")
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "customerId", Value: 1}, {Key: "orderDate", Value: -1}}},
		{Keys: bson.D{{Key: "orderDate", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(connectCtx, indexes); err != nil {
		return nil, fmt.Errorf("create order indexes: %w", err)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoStore{collection: collection, timeout: timeout}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.collection.Database().Client().Disconnect(ctx)
}

func (s *MongoStore) Create(ctx context.Context, o *Order) error {
	const op = "orders.Create"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.collection.InsertOne(ctx, o)
	if mongo.IsDuplicateKeyError(err) {
		return fault.Newf(fault.Conflict, op, "order %s already exists", o.ID)
	}
	if err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Order, error) {
	const op = "orders.Get"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var o Order
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fault.Newf(fault.NotFound, op, "order %s not found", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.Transient, op, err)
	}
	return &o, nil
}

func (s *MongoStore) ListByCustomer(ctx context.Context, customerID string, page, pageSize int) ([]*Order, int64, error) {
	const op = "orders.ListByCustomer"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"customerId": customerID}
	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fault.Wrap(fault.Transient, op, err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "orderDate", Value: -1}}).
		SetSkip(int64(page-1) * int64(pageSize)).
		SetLimit(int64(pageSize))
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fault.Wrap(fault.Transient, op, err)
	}
	defer cursor.Close(ctx)

	var out []*Order
	for cursor.Next(ctx) {
		var o Order
		if err := cursor.Decode(&o); err != nil {
			return nil, 0, fault.Wrap(fault.Transient, op, err)
		}
		out = append(out, &o)
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fault.Wrap(fault.Transient, op, err)
	}
	return out, total, nil
}

func (s *MongoStore) Replace(ctx context.Context, o *Order, expected Status) error {
	const op = "orders.Replace"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// The filter carries the expected status: a writer that lost the race
	// matches nothing and must re-read.
	filter := bson.M{"_id": o.ID, "status": expected}
	result, err := s.collection.ReplaceOne(ctx, filter, o)
	if err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}
	if result.MatchedCount == 0 {
		if _, getErr := s.Get(ctx, o.ID); getErr != nil {
			return getErr
		}
		return fault.Newf(fault.Conflict, op,
			"order %s moved past %s concurrently", o.ID, expected)
	}
	return nil
}

func (s *MongoStore) SavePaymentDetails(ctx context.Context, orderID string, details *PaymentDetails) error {
	const op = "orders.SavePaymentDetails"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": orderID},
		bson.M{"$set": bson.M{"paymentDetails": details, "lastUpdated": time.Now().UTC()}},
	)
	if err != nil {
		return fault.Wrap(fault.Transient, op, err)
	}
	if result.MatchedCount == 0 {
		return fault.Newf(fault.NotFound, op, "order %s not found", orderID)
	}
	return nil
}
