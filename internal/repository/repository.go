package repository

import (
	"context"
	"errors"
	"regexp"
	"time"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDuplicateOrderNumber is returned by Insert when the order number is already taken.
var ErrDuplicateOrderNumber = errors.New("order number already exists")

// OrderFilter drives the admin listing. Zero values mean "no constraint".
type OrderFilter struct {
	Status model.Status
	Search string // substring of the order number, case-insensitive
	Page   int
	Limit  int
}

// Normalized applies the paging defaults: page 1, 20 per page, at most 100.
func (f OrderFilter) Normalized() OrderFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	return f
}

// Mongo implementation
type MongoOrderRepository struct {
	col *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{col: db.Collection("orders")}
}

// EnsureIndexes creates the unique order number index and the lookup indexes.
func (m *MongoOrderRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_number", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "tx_refs", Value: 1}}},
		{Keys: bson.D{{Key: "payment_result.external_ref", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

func (m *MongoOrderRepository) Insert(ctx context.Context, o *model.Order) error {
	_, err := m.col.InsertOne(ctx, o)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateOrderNumber
	}
	return err
}

func (m *MongoOrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	return m.findOne(ctx, bson.M{"_id": id}, "order", id)
}

// FindByTxRef matches the current and every superseded payment reference.
// Documents written before tx_refs was populated only carry the current ref.
func (m *MongoOrderRepository) FindByTxRef(ctx context.Context, txRef string) (*model.Order, error) {
	return m.findOne(ctx, txRefFilter(txRef), "payment reference", txRef)
}

func txRefFilter(txRef string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"tx_refs": txRef},
		bson.M{"payment_result.external_ref": txRef},
	}}
}

func (m *MongoOrderRepository) findOne(ctx context.Context, filter bson.M, resource, key string) (*model.Order, error) {
	var res model.Order
	err := m.col.FindOne(ctx, filter).Decode(&res)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound(resource, key)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Replace writes o only if the stored version still equals expectedVersion.
func (m *MongoOrderRepository) Replace(ctx context.Context, o *model.Order, expectedVersion int64) error {
	res, err := m.col.ReplaceOne(ctx, bson.M{"_id": o.ID, "version": expectedVersion}, o)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := m.col.CountDocuments(ctx, bson.M{"_id": o.ID})
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("order", o.ID)
		}
		return &apperr.ConcurrentModificationError{OrderID: o.ID, ExpectedVersion: expectedVersion}
	}
	return nil
}

func (m *MongoOrderRepository) FindByUserID(ctx context.Context, userID string) ([]*model.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return m.findMany(ctx, bson.M{"user_id": userID}, opts)
}

func (m *MongoOrderRepository) Find(ctx context.Context, f OrderFilter) ([]*model.Order, int64, error) {
	f = f.Normalized()
	query := bson.M{}
	if f.Status != "" {
		query["status"] = f.Status
	}
	if f.Search != "" {
		query["order_number"] = bson.M{"$regex": regexp.QuoteMeta(f.Search), "$options": "i"}
	}

	total, err := m.col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((f.Page - 1) * f.Limit)).
		SetLimit(int64(f.Limit))
	out, err := m.findMany(ctx, query, opts)
	return out, total, err
}

func (m *MongoOrderRepository) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Order, error) {
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*model.Order{}
	for cur.Next(ctx) {
		var v model.Order
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}

// MongoReservationRepository stores reservation tokens next to the orders.
type MongoReservationRepository struct {
	col *mongo.Collection
}

func NewMongoReservationRepository(db *mongo.Database) *MongoReservationRepository {
	return &MongoReservationRepository{col: db.Collection("reservations")}
}

func (m *MongoReservationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.col.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "order_id", Value: 1}}})
	return err
}

func (m *MongoReservationRepository) Create(ctx context.Context, r *model.Reservation) error {
	_, err := m.col.InsertOne(ctx, r)
	return err
}

func (m *MongoReservationRepository) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("reservation", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkReleased flips the released flag. It reports true only for the caller that flipped it.
func (m *MongoReservationRepository) MarkReleased(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := m.col.UpdateOne(ctx,
		bson.M{"_id": id, "released": false},
		bson.M{"$set": bson.M{"released": true, "released_at": at.UTC()}},
	)
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	n, err := m.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, apperr.NotFound("reservation", id)
	}
	return false, nil
}
