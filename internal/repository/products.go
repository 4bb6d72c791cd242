package repository

import (
	"context"
	"errors"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoProductStore reads catalog snapshots and owns the stock counter when STOCK_BACKEND=mongo.
type MongoProductStore struct {
	col *mongo.Collection
}

func NewMongoProductStore(db *mongo.Database) *MongoProductStore {
	return &MongoProductStore{col: db.Collection("products")}
}

func (m *MongoProductStore) GetProduct(ctx context.Context, ref string) (*model.Product, error) {
	var p model.Product
	err := m.col.FindOne(ctx, bson.M{"_id": ref}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("product", ref)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *MongoProductStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	cur, err := m.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.Product
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoProductStore) GetStock(ctx context.Context, ref string) (int, error) {
	var doc struct {
		Stock int `bson:"stock"`
	}
	opts := options.FindOne().SetProjection(bson.M{"stock": 1})
	err := m.col.FindOne(ctx, bson.M{"_id": ref}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, apperr.NotFound("product", ref)
	}
	return doc.Stock, err
}

// DecrementStock is a single conditional update: the filter carries the stock >= qty check.
func (m *MongoProductStore) DecrementStock(ctx context.Context, ref string, qty int) (bool, error) {
	res, err := m.col.UpdateOne(ctx,
		bson.M{"_id": ref, "stock": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"stock": -qty, "sales_count": qty}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (m *MongoProductStore) IncrementStock(ctx context.Context, ref string, qty int) error {
	res, err := m.col.UpdateOne(ctx,
		bson.M{"_id": ref},
		bson.M{"$inc": bson.M{"stock": qty, "sales_count": -qty}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("product", ref)
	}
	return nil
}
