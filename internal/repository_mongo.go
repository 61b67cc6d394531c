package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const PaymentsCollection = "payments"

type paymentDocument struct {
	Id          string    `bson:"_id"`
	Amount      string    `bson:"amount"`
	Processor   string    `bson:"processor"`
	Status      string    `bson:"status"`
	Timestamp   time.Time `bson:"timestamp"`
	Description string    `bson:"description,omitempty"`
}

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection(PaymentsCollection),
	}
}

func (s *MongoStore) Put(ctx context.Context, record PaymentRecord) error {
	doc := paymentDocument{
		Id:          record.Id,
		Amount:      record.Amount.String(),
		Processor:   string(record.Processor),
		Status:      string(record.Status),
		Timestamp:   record.Timestamp.UTC(),
		Description: record.Description,
	}

	var err error
	if record.Status == PaymentProcessed {
		_, err = s.collection.ReplaceOne(ctx, processedUpsertFilter(record.Id), doc, options.Replace().SetUpsert(true))
		// The filter missed an existing processed document and the upsert hit its _id.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
	} else {
		insert := bson.M{
			"amount":    doc.Amount,
			"processor": doc.Processor,
			"status":    doc.Status,
			"timestamp": doc.Timestamp,
		}
		if doc.Description != "" {
			insert["description"] = doc.Description
		}
		_, err = s.collection.UpdateOne(ctx, bson.M{"_id": record.Id}, bson.M{"$setOnInsert": insert}, options.Update().SetUpsert(true))
	}
	if err != nil {
		slog.Error("failed to save payment in mongodb", "id", record.Id, "err", err)
	}
	return err
}

// processedUpsertFilter matches the id only while it is not already processed.
func processedUpsertFilter(id string) bson.M {
	return bson.M{
		"_id":    id,
		"status": bson.M{"$ne": string(PaymentProcessed)},
	}
}

func (s *MongoStore) Get(ctx context.Context, id string) (PaymentRecord, error) {
	var doc paymentDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentRecord{}, ErrPaymentNotFound
	}
	if err != nil {
		return PaymentRecord{}, err
	}

	return doc.toRecord()
}

func (s *MongoStore) ScanAll(ctx context.Context) ([]PaymentRecord, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		slog.Error("failed to scan payments in mongodb", "err", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []paymentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]PaymentRecord, 0, len(docs))
	for _, doc := range docs {
		record, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *MongoStore) Purge(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{})
	return err
}

func (d paymentDocument) toRecord() (PaymentRecord, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("payment %s has invalid amount %q: %w", d.Id, d.Amount, err)
	}

	return PaymentRecord{
		Id:          d.Id,
		Amount:      amount,
		Processor:   UpstreamID(d.Processor),
		Status:      PaymentStatus(d.Status),
		Timestamp:   d.Timestamp.UTC(),
		Description: d.Description,
	}, nil
}
