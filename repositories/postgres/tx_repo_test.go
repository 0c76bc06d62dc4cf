package postgres

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"

	// External Packages
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	selectByID   = regexp.QuoteMeta(`SELECT * FROM "transactions" WHERE id = $1`)
	casUpdate    = `UPDATE "transactions" SET .* WHERE id = \$\d+ AND version = \$\d+`
	selectStatus = regexp.QuoteMeta(`SELECT * FROM "transactions" WHERE status = $1 ORDER BY created_at ASC, id ASC`)
	purgeDelete  = regexp.QuoteMeta(`DELETE FROM "transactions" WHERE status IN ($1,$2) AND created_at < $3`)

	columns = []string{"id", "category", "status", "description", "outcome", "failure_reason", "created_at", "updated_at", "version"}
)

func newMockRepo(t *testing.T) (*TxRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := NewTxRepository(db, zap.NewNop())
	repo.now = func() time.Time { return now }
	return repo, mock
}

func pendingRow(id string, version int64) *sqlmock.Rows {
	at := now.Add(-time.Minute)
	return sqlmock.NewRows(columns).AddRow(id, "auction_bid", "pending", "slot 7", nil, "", at, at, version)
}

func TestRowConversionRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := models.NewPendingRecord("tx1", models.Operation{Category: models.CategoryPayoutExecute, Description: "march payout"}, at)

	assert.Nil(t, txModelFromRecord(rec).Outcome)
	assert.Equal(t, rec, txModelFromRecord(rec).toRecord())

	rec.Status = models.StatusSucceeded
	rec.Outcome = json.RawMessage(`{"paid":100}`)
	row := txModelFromRecord(rec)
	if assert.NotNil(t, row.Outcome) {
		assert.Equal(t, `{"paid":100}`, *row.Outcome)
	}
	assert.Equal(t, rec, row.toRecord())
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("create: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(dup))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, isUniqueViolation(fmt.Errorf("timeout")))
}

func TestUpdateRetriesAfterLostVersionRace(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(selectByID).WillReturnRows(pendingRow("tx1", 1))
	mock.ExpectExec(casUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
	// the winner bumped the version; the re-read sees it and the write lands
	mock.ExpectQuery(selectByID).WillReturnRows(pendingRow("tx1", 2))
	mock.ExpectExec(casUpdate).WillReturnResult(sqlmock.NewResult(0, 1))

	got, changed, err := repo.Update(context.Background(), "tx1", models.Succeeded(json.RawMessage(`{"value": 42}`)))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	assert.Equal(t, int64(3), got.Version)
	assert.JSONEq(t, `{"value":42}`, string(got.Outcome))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConflictOnceRetriesRunOut(t *testing.T) {
	repo, mock := newMockRepo(t)
	for i := 0; i < maxUpdateRetries; i++ {
		mock.ExpectQuery(selectByID).WillReturnRows(pendingRow("tx1", int64(i+1)))
		mock.ExpectExec(casUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	_, changed, err := repo.Update(context.Background(), "tx1", models.Failed("reverted"))
	assert.False(t, changed)
	assert.True(t, errors.Is(errors.Conflict, err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(selectByID).WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Get(context.Background(), "nope")
	assert.True(t, errors.Is(errors.NotFound, err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDatabaseErrorIsUnavailable(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(selectByID).WillReturnError(fmt.Errorf("connection reset"))

	_, err := repo.Get(context.Background(), "tx1")
	assert.True(t, errors.Is(errors.Unavailable, err))
}

func TestListPendingOrder(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := sqlmock.NewRows(columns)
	for _, id := range []string{"a", "b"} {
		rows.AddRow(id, "auction_bid", "pending", "", nil, "", now, now, int64(1))
	}
	mock.ExpectQuery(selectStatus).WithArgs("pending").WillReturnRows(rows)

	got, err := repo.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeOnlyDeletesResolved(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(purgeDelete).
		WithArgs("succeeded", "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.PurgeResolvedOlderThan(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutDuplicate(t *testing.T) {
	insert := regexp.QuoteMeta(`INSERT INTO "transactions"`)
	rec := models.NewPendingRecord("tx1", models.Operation{Category: models.CategoryAuctionBid, Description: "slot 7"}, now.Add(-time.Minute))

	t.Run("same record is a no-op", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(insert).WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectQuery(selectByID).WillReturnRows(pendingRow("tx1", 1))

		assert.NoError(t, repo.Put(context.Background(), rec))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("different record conflicts", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(insert).WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectQuery(selectByID).WillReturnRows(pendingRow("tx1", 1))

		other := rec
		other.Description = "slot 8"
		assert.True(t, errors.Is(errors.Conflict, repo.Put(context.Background(), other)))
	})
}
