package mongodb

import (
	// Go Internal Packages
	"context"
	goerrors "errors"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"

	// External Packages
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// maxUpdateRetries bounds how often Update re-reads a record after losing a
// compare-and-set race to another writer.
const maxUpdateRetries = 3

type TxRepository struct {
	client     *mongo.Client
	database   string
	collection string
	logger     *zap.Logger
	now        func() time.Time
}

func NewTxRepository(client *mongo.Client, database string, logger *zap.Logger) *TxRepository {
	return &TxRepository{
		client:     client,
		database:   database,
		collection: "transactions",
		logger:     logger,
		now:        time.Now,
	}
}

func (r *TxRepository) coll() *mongo.Collection {
	return r.client.Database(r.database).Collection(r.collection)
}

// EnsureIndexes creates the index backing ListPending and the purge query
func (r *TxRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

// Put inserts a new pending record; re-inserting the same record is a no-op
func (r *TxRepository) Put(ctx context.Context, rec models.TransactionRecord) error {
	if err := rec.ValidateNew(); err != nil {
		return err
	}

	_, err := r.coll().InsertOne(ctx, rec.Transform())
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		r.logger.Error("failed to insert transaction", zap.String("tx_id", rec.ID), zap.Error(err))
		return errors.E(errors.Unavailable, "insert transaction", err)
	}

	existing, getErr := r.Get(ctx, rec.ID)
	if getErr != nil {
		return getErr
	}
	if existing.SameIdentity(rec) {
		return nil
	}
	return errors.ConflictErr(rec.ID, err)
}

func (r *TxRepository) Get(ctx context.Context, id string) (models.TransactionRecord, error) {
	var doc models.MongoTransaction
	err := r.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if goerrors.Is(err, mongo.ErrNoDocuments) {
			return models.TransactionRecord{}, errors.NotFoundErr(id)
		}
		return models.TransactionRecord{}, errors.E(errors.Unavailable, "find transaction", err)
	}
	return doc.Record(), nil
}

// Update applies u with a compare-and-set on the version read, so concurrent writers
// of the same id are serialized by the database.
func (r *TxRepository) Update(ctx context.Context, id string, u models.StatusUpdate) (models.TransactionRecord, bool, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return models.TransactionRecord{}, false, err
		}
		next, changed, err := cur.Apply(u, r.now())
		if err != nil || !changed {
			return next, false, err
		}

		doc := next.Transform()
		set := bson.M{
			"status":         doc.Status,
			"failure_reason": doc.FailureReason,
			"outcome":        doc.Outcome,
			"updated_at":     doc.UpdatedAt,
			"version":        doc.Version,
		}
		filter := bson.M{"_id": id, "version": cur.Version}
		res, err := r.coll().UpdateOne(ctx, filter, bson.M{"$set": set})
		if err != nil {
			r.logger.Error("failed to update transaction", zap.String("tx_id", id), zap.Error(err))
			return models.TransactionRecord{}, false, errors.E(errors.Unavailable, "update transaction", err)
		}
		if res.MatchedCount == 1 {
			return next, true, nil
		}
		r.logger.Debug("lost update race, retrying", zap.String("tx_id", id), zap.Int("attempt", attempt+1))
	}
	return models.TransactionRecord{}, false, errors.E(errors.Conflict, "concurrent updates on "+id, nil)
}

// ListPending returns every unresolved record in insertion order
func (r *TxRepository) ListPending(ctx context.Context) ([]models.TransactionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll().Find(ctx, bson.M{"status": string(models.StatusPending)}, opts)
	if err != nil {
		return nil, errors.E(errors.Unavailable, "list pending transactions", err)
	}
	defer cursor.Close(ctx)

	var docs []models.MongoTransaction
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.E(errors.Unavailable, "decode pending transactions", err)
	}
	out := make([]models.TransactionRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Record())
	}
	return out, nil
}

// PurgeResolvedOlderThan deletes resolved records created before now-d. The status
// filter names the resolved states explicitly so pending records can never match.
func (r *TxRepository) PurgeResolvedOlderThan(ctx context.Context, d time.Duration) (int64, error) {
	cutoff := r.now().Add(-d).UTC()
	filter := bson.M{
		"status":     bson.M{"$in": bson.A{string(models.StatusSucceeded), string(models.StatusFailed)}},
		"created_at": bson.M{"$lt": cutoff},
	}
	res, err := r.coll().DeleteMany(ctx, filter)
	if err != nil {
		return 0, errors.E(errors.Unavailable, "purge transactions", err)
	}
	return res.DeletedCount, nil
}
