package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/ahz777/nxtmarket/internal/domain/catalog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type productDoc struct {
	ID       primitive.ObjectID `bson:"_id"`
	SKU      string             `bson:"sku"`
	Title    string             `bson:"title"`
	Price    bson.RawValue      `bson:"price"`
	Stock    int                `bson:"stock"`
	VendorID any                `bson:"vendorId"`
}

func (d productDoc) toDomain() (*domain.Product, error) {
	price, err := decodePrice(d.Price)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", d.ID.Hex(), err)
	}
	return &domain.Product{
		ID:       d.ID.Hex(),
		SKU:      d.SKU,
		Title:    d.Title,
		Price:    price,
		Stock:    d.Stock,
		VendorID: refString(d.VendorID),
	}, nil
}

// decodePrice accepts the numeric encodings a product may have been written
// with.
func decodePrice(v bson.RawValue) (decimal.Decimal, error) {
	switch v.Type {
	case bsontype.Double:
		return decimal.NewFromFloat(v.Double()), nil
	case bsontype.Int32:
		return decimal.NewFromInt(int64(v.Int32())), nil
	case bsontype.Int64:
		return decimal.NewFromInt(v.Int64()), nil
	case bsontype.Decimal128:
		return decimal.NewFromString(v.Decimal128().String())
	case bsontype.String:
		return decimal.NewFromString(v.StringValue())
	default:
		return decimal.Zero, fmt.Errorf("unsupported price type %s", v.Type)
	}
}

// Catalog is the stock ledger over the products collection.
type Catalog struct {
	products *mongo.Collection
}

func NewCatalog(db *mongo.Database) *Catalog {
	return &Catalog{products: db.Collection(ProductsCollection)}
}

var _ domain.Ledger = (*Catalog)(nil)

// Insert writes a product with a fresh ObjectID and returns it.
func (c *Catalog) Insert(ctx context.Context, p domain.Product) (string, error) {
	price, err := primitive.ParseDecimal128(p.Price.String())
	if err != nil {
		return "", fmt.Errorf("mongo: product price: %w", err)
	}
	oid := primitive.NewObjectID()
	_, err = c.products.InsertOne(ctx, bson.M{
		"_id":      oid,
		"sku":      strings.ToUpper(p.SKU),
		"title":    p.Title,
		"price":    price,
		"stock":    p.Stock,
		"vendorId": ref(p.VendorID),
	})
	if err != nil {
		return "", fmt.Errorf("mongo: insert product: %w", err)
	}
	return oid.Hex(), nil
}

func (c *Catalog) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	var doc productDoc
	err = c.products.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: find product: %w", err)
	}
	return doc.toDomain()
}

// Decrement takes qty from stock only while enough remains. A miss is
// resolved into not-found or insufficient with a second read.
func (c *Catalog) Decrement(ctx context.Context, id string, qty int) (int, error) {
	if qty <= 0 {
		return 0, domain.ErrInvalidQuantity
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return 0, domain.ErrInvalidID
	}

	var doc productDoc
	err = c.products.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "stock": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"stock": -qty}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.Stock, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("mongo: decrement stock: %w", err)
	}

	current, ferr := c.FindByID(ctx, id)
	if ferr != nil {
		return 0, ferr
	}
	return current.Stock, domain.ErrInsufficientStock
}

func (c *Catalog) Increment(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrInvalidID
	}
	res, err := c.products.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$inc": bson.M{"stock": qty}})
	if err != nil {
		return fmt.Errorf("mongo: increment stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (c *Catalog) IncrementBySKU(ctx context.Context, sku string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	res, err := c.products.UpdateOne(ctx,
		bson.M{"sku": strings.ToUpper(sku)},
		bson.M{"$inc": bson.M{"stock": qty}})
	if err != nil {
		return fmt.Errorf("mongo: increment stock by sku: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
