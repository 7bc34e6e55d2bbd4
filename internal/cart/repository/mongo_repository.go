package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// abandoned carts are dropped by mongo after this long without an update
const cartTTL = 90 * 24 * time.Hour

type cartDocument struct {
	ID        string         `bson:"cart_id"`
	Owner     string         `bson:"owner"`
	Items     []itemDocument `bson:"items"`
	Version   int64          `bson:"version"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

// prices are stored as strings, bson has no lossless decimal mapping for
// shopspring decimals
type itemDocument struct {
	ProductID   int64     `bson:"product_id"`
	ProductName string    `bson:"product_name"`
	Quantity    int32     `bson:"quantity"`
	UnitPrice   string    `bson:"unit_price"`
	AddedAt     time.Time `bson:"added_at"`
}

func toDocument(c *domain.Cart) cartDocument {
	doc := cartDocument{
		ID:        c.ID,
		Owner:     c.Owner,
		Items:     make([]itemDocument, len(c.Items)),
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	for i, item := range c.Items {
		doc.Items[i] = itemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			AddedAt:     item.AddedAt,
		}
	}
	return doc
}

func (d cartDocument) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:        d.ID,
		Owner:     d.Owner,
		Items:     make([]domain.CartItem, len(d.Items)),
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for i, item := range d.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid unit price %q for product %d: %w", item.UnitPrice, item.ProductID, err)
		}
		cart.Items[i] = domain.CartItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   price,
			AddedAt:     item.AddedAt,
		}
	}
	return cart, nil
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, owner string) (*domain.Cart, error) {
	var doc cartDocument

	err := m.collection.FindOne(ctx, bson.M{"owner": owner}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return doc.toDomain()
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	doc := toDocument(cart)
	doc.Version = cart.Version + 1

	if cart.Version == 0 {
		if _, err := m.collection.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert cart: %w", err)
		}
		cart.Version = doc.Version
		return nil
	}

	filter := bson.M{"owner": cart.Owner, "version": cart.Version}
	result, err := m.collection.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrConcurrentModification
	}

	cart.Version = doc.Version
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, owner string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"owner": owner})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}

	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cartTTL / time.Second)),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
