package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/cart"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type cartDoc struct {
	UserID any           `bson:"userId"`
	Items  []cartItemDoc `bson:"items"`
}

type cartItemDoc struct {
	ProductID any `bson:"productId"`
	Qty       int `bson:"qty"`
}

type CartRepository struct {
	carts *mongo.Collection
}

func NewCartRepository(db *mongo.Database) *CartRepository {
	return &CartRepository{carts: db.Collection(CartsCollection)}
}

var _ domain.Repository = (*CartRepository)(nil)

// Lines returns the user's cart lines; a user without a cart has none.
func (r *CartRepository) Lines(ctx context.Context, userID string) ([]domain.Line, error) {
	var doc cartDoc
	err := r.carts.FindOne(ctx, bson.M{"userId": ref(userID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: find cart: %w", err)
	}

	lines := make([]domain.Line, 0, len(doc.Items))
	for _, it := range doc.Items {
		oid, ok := it.ProductID.(primitive.ObjectID)
		if !ok {
			return nil, domain.ErrInvalidProduct
		}
		lines = append(lines, domain.Line{ProductID: oid.Hex(), Qty: it.Qty})
	}
	return lines, nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.carts.UpdateOne(ctx,
		bson.M{"userId": ref(userID)},
		bson.M{"$set": bson.M{"items": bson.A{}, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("mongo: clear cart: %w", err)
	}
	return nil
}

// Put replaces the user's cart, creating it when missing.
func (r *CartRepository) Put(ctx context.Context, userID string, lines []domain.Line) error {
	items := make(bson.A, 0, len(lines))
	for _, l := range lines {
		items = append(items, bson.M{"productId": ref(l.ProductID), "qty": l.Qty})
	}
	_, err := r.carts.UpdateOne(ctx,
		bson.M{"userId": ref(userID)},
		bson.M{"$set": bson.M{"items": items, "updatedAt": time.Now().UTC()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: put cart: %w", err)
	}
	return nil
}
