package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collectionUsers      = "users"
	fieldChatUserID      = "telegramId"
	fieldEncryptedSecret = "encryptedSecret"
)

// Mongo stores user records in a MongoDB collection with a unique index on telegramId.
type Mongo struct {
	client *mongo.Client
	users  *mongo.Collection
}

// OpenMongo connects, pings and ensures the unique index exists.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	users := client.Database(database).Collection(collectionUsers)
	_, err = users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: fieldChatUserID, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("telegramId_unique"),
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo create index: %w", err)
	}
	return &Mongo{client: client, users: users}, nil
}

// FindByChatID implements Store.
func (s *Mongo) FindByChatID(ctx context.Context, chatUserID string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{fieldChatUserID: chatUserID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", chatUserID, err)
	}
	return &u, nil
}

// UpsertByChatID implements Store with a single find-and-modify.
func (s *Mongo) UpsertByChatID(ctx context.Context, chatUserID string, fields Fields) (*User, error) {
	if chatUserID == "" {
		return nil, errors.New("empty chat user id")
	}
	filter := bson.M{fieldChatUserID: chatUserID}
	if fields.Generated != nil {
		// null matches a missing field
		filter[fieldEncryptedSecret] = bson.M{"$in": bson.A{nil, ""}}
	}
	update := updateDocument(fields, nowFunc().UTC())
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var u User
	err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	if mongo.IsDuplicateKeyError(err) {
		// two concurrent inserts raced on the unique index; the loser now matches
		err = s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	}
	if fields.Generated != nil && mongo.IsDuplicateKeyError(err) {
		// the record exists with a sealed secret, so the filter excluded it
		return s.FindByChatID(ctx, chatUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", chatUserID, err)
	}
	return &u, nil
}

// ListAll implements Store.
func (s *Mongo) ListAll(ctx context.Context) ([]User, error) {
	cur, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var users []User
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// Close implements Store.
func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// updateDocument translates Fields into a $set/$setOnInsert update.
// A field never appears in both operators.
func updateDocument(f Fields, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	onInsert := bson.M{"createdAt": now}

	switch {
	case f.Generated != nil:
		set["walletAddress"] = f.Generated.Address
		set[fieldEncryptedSecret] = f.Generated.EncryptedSecret
	case f.ClearWallet:
		set["walletAddress"] = nil
	case f.WalletAddress != nil:
		set["walletAddress"] = *f.WalletAddress
	default:
		onInsert["walletAddress"] = nil
	}
	if f.WalletName != nil {
		set["walletName"] = *f.WalletName
	}
	if f.EncryptedSecret != nil && f.Generated == nil {
		set[fieldEncryptedSecret] = *f.EncryptedSecret
	}
	if f.Transactions != nil {
		set["transactions"] = f.Transactions
	}
	return bson.M{"$set": set, "$setOnInsert": onInsert}
}
