package mongodb

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"testing"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"

	// External Packages
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"
)

const ns = "txtracker.transactions"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRepo(mt *mtest.T) *TxRepository {
	repo := NewTxRepository(mt.Client, "txtracker", zap.NewNop())
	repo.now = func() time.Time { return now }
	return repo
}

func pending(id string, version int64) models.TransactionRecord {
	rec := models.NewPendingRecord(id, models.Operation{Category: models.CategoryAuctionBid, Description: "slot 7"}, now.Add(-time.Minute))
	rec.Version = version
	return rec
}

func toDoc(t *testing.T, rec models.TransactionRecord) bson.D {
	t.Helper()
	raw, err := bson.Marshal(rec.Transform())
	require.NoError(t, err)
	var d bson.D
	require.NoError(t, bson.Unmarshal(raw, &d))
	return d
}

func found(t *testing.T, recs ...models.TransactionRecord) bson.D {
	t.Helper()
	docs := make([]bson.D, 0, len(recs))
	for _, r := range recs {
		docs = append(docs, toDoc(t, r))
	}
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, docs...)
}

func matched(n int) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "n", Value: n}, bson.E{Key: "nModified", Value: n})
}

func TestPut(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	dup := mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"})

	mt.Run("inserts new record", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		assert.NoError(mt, newRepo(mt).Put(context.Background(), pending("tx1", 1)))
	})

	mt.Run("same record twice is a no-op", func(mt *mtest.T) {
		rec := pending("tx1", 1)
		mt.AddMockResponses(dup, found(mt.T, rec))
		assert.NoError(mt, newRepo(mt).Put(context.Background(), rec))
	})

	mt.Run("different record under the same id conflicts", func(mt *mtest.T) {
		stored := pending("tx1", 1)
		other := stored
		other.Description = "slot 8"
		mt.AddMockResponses(dup, found(mt.T, stored))

		err := newRepo(mt).Put(context.Background(), other)
		assert.True(mt, errors.Is(errors.Conflict, err))
	})

	mt.Run("rejects non pending record", func(mt *mtest.T) {
		rec := pending("tx1", 1)
		rec.Status = models.StatusFailed
		err := newRepo(mt).Put(context.Background(), rec)
		assert.True(mt, errors.Is(errors.Invalid, err))
	})
}

func TestGet(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("found", func(mt *mtest.T) {
		rec := pending("tx1", 1)
		mt.AddMockResponses(found(mt.T, rec))

		got, err := newRepo(mt).Get(context.Background(), "tx1")
		require.NoError(mt, err)
		assert.Equal(mt, rec, got)
	})

	mt.Run("missing", func(mt *mtest.T) {
		mt.AddMockResponses(found(mt.T))
		_, err := newRepo(mt).Get(context.Background(), "nope")
		assert.True(mt, errors.Is(errors.NotFound, err))
	})

	mt.Run("server error is unavailable", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Message: "bad value", Name: "BadValue"}))
		_, err := newRepo(mt).Get(context.Background(), "tx1")
		assert.True(mt, errors.Is(errors.Unavailable, err))
	})
}

func TestUpdate(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	outcome := models.Succeeded(json.RawMessage(`{"value":42}`))

	mt.Run("retries after losing the version race", func(mt *mtest.T) {
		// another writer bumped the version between our read and our write
		mt.AddMockResponses(found(mt.T, pending("tx1", 1)), matched(0), found(mt.T, pending("tx1", 2)), matched(1))
		mt.ClearEvents()

		got, changed, err := newRepo(mt).Update(context.Background(), "tx1", outcome)
		require.NoError(mt, err)
		assert.True(mt, changed)
		assert.Equal(mt, models.StatusSucceeded, got.Status)
		assert.Equal(mt, int64(3), got.Version)
		assert.JSONEq(mt, `{"value":42}`, string(got.Outcome))

		var versions []int64
		for evt := mt.GetStartedEvent(); evt != nil; evt = mt.GetStartedEvent() {
			if evt.CommandName != "update" {
				continue
			}
			v, ok := evt.Command.Lookup("updates", "0", "q", "version").AsInt64OK()
			require.True(mt, ok)
			versions = append(versions, v)
		}
		assert.Equal(mt, []int64{1, 2}, versions)
	})

	mt.Run("conflict once retries run out", func(mt *mtest.T) {
		for i := 0; i < maxUpdateRetries; i++ {
			mt.AddMockResponses(found(mt.T, pending("tx1", int64(i+1))), matched(0))
		}
		_, changed, err := newRepo(mt).Update(context.Background(), "tx1", outcome)
		assert.False(mt, changed)
		assert.True(mt, errors.Is(errors.Conflict, err))
	})

	mt.Run("repeat of stored outcome writes nothing", func(mt *mtest.T) {
		done := pending("tx1", 2)
		done.Status = models.StatusSucceeded
		done.Outcome = json.RawMessage(`{"value":42}`)
		mt.AddMockResponses(found(mt.T, done))
		mt.ClearEvents()

		got, changed, err := newRepo(mt).Update(context.Background(), "tx1", outcome)
		require.NoError(mt, err)
		assert.False(mt, changed)
		assert.Equal(mt, int64(2), got.Version)
		mt.GetStartedEvent()
		assert.Nil(mt, mt.GetStartedEvent(), "no write after the read")
	})

	mt.Run("contradicting outcome is an invalid transition", func(mt *mtest.T) {
		done := pending("tx1", 2)
		done.Status = models.StatusFailed
		done.FailureReason = "reverted"
		mt.AddMockResponses(found(mt.T, done))

		_, _, err := newRepo(mt).Update(context.Background(), "tx1", outcome)
		assert.True(mt, errors.Is(errors.InvalidTransition, err))
	})
}

func TestListPending(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("sorted by creation then id", func(mt *mtest.T) {
		a, b := pending("a", 1), pending("b", 1)
		mt.AddMockResponses(found(mt.T, a, b))
		mt.ClearEvents()

		got, err := newRepo(mt).ListPending(context.Background())
		require.NoError(mt, err)
		require.Len(mt, got, 2)
		assert.Equal(mt, "a", got[0].ID)
		assert.Equal(mt, "b", got[1].ID)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "find", evt.CommandName)
		assert.Equal(mt, "pending", evt.Command.Lookup("filter", "status").StringValue())

		elems, err := evt.Command.Lookup("sort").Document().Elements()
		require.NoError(mt, err)
		require.Len(mt, elems, 2)
		assert.Equal(mt, "created_at", elems[0].Key())
		assert.Equal(mt, "_id", elems[1].Key())
	})
}

func TestPurgeNeverMatchesPending(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("filters on resolved statuses", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}))
		mt.ClearEvents()

		n, err := newRepo(mt).PurgeResolvedOlderThan(context.Background(), time.Hour)
		require.NoError(mt, err)
		assert.Equal(mt, int64(2), n)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "delete", evt.CommandName)

		values, err := evt.Command.Lookup("deletes", "0", "q", "status", "$in").Array().Values()
		require.NoError(mt, err)
		var statuses []string
		for _, v := range values {
			statuses = append(statuses, v.StringValue())
		}
		assert.ElementsMatch(mt, []string{"succeeded", "failed"}, statuses)
		assert.NotContains(mt, statuses, "pending")

		cutoff := evt.Command.Lookup("deletes", "0", "q", "created_at", "$lt").Time()
		assert.True(mt, cutoff.Equal(now.Add(-time.Hour)))
	})
}
