package submitter

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	metrics "tx-tracker/metrics"
	models "tx-tracker/models"

	// External Packages
	"go.uber.org/zap"
)

const (
	putAttempts = 3
	putBackoff  = 100 * time.Millisecond
)

type TxRepository interface {
	Put(ctx context.Context, rec models.TransactionRecord) error
}

type Ledger interface {
	Submit(ctx context.Context, op models.Operation) (string, error)
}

// Tracker is told about every record right after it is persisted.
type Tracker interface {
	Track(ctx context.Context, rec models.TransactionRecord) error
}

// Poller starts a background confirmation poll for a transaction id.
type Poller interface {
	PollAsync(txID string)
}

type TxSubmitter struct {
	Logger  *zap.Logger
	Ledger  Ledger
	TxRepo  TxRepository
	Tracker Tracker
	Poller  Poller
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewTxSubmitter(logger *zap.Logger, ledger Ledger, txRepo TxRepository, tracker Tracker, poller Poller, m *metrics.Metrics) *TxSubmitter {
	return &TxSubmitter{
		Logger:  logger,
		Ledger:  ledger,
		TxRepo:  txRepo,
		Tracker: tracker,
		Poller:  poller,
		Metrics: m,
		Now:     time.Now,
	}
}

// Submit sends op to the ledger and persists it as pending before returning the
// transaction id. When the ledger refuses the call no record is written. When the
// ledger accepted it but the record could not be written, the id is returned along
// with the error so the caller still learns what was submitted.
func (s *TxSubmitter) Submit(ctx context.Context, op models.Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", err
	}
	op.Category = models.ParseCategory(string(op.Category))

	txID, err := s.Ledger.Submit(ctx, op)
	if err != nil {
		s.Metrics.Submission("rejected")
		s.Logger.Warn("ledger refused submission", zap.String("category", string(op.Category)), zap.Error(err))
		return "", err
	}

	rec := models.NewPendingRecord(txID, op, s.Now())

	// The ledger already has the transaction; losing the caller must not lose the record.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.persist(persistCtx, rec); err != nil {
		s.Metrics.Submission("unrecorded")
		s.Logger.Error("transaction submitted but not recorded",
			zap.String("tx_id", txID),
			zap.String("category", string(op.Category)),
			zap.Error(err),
		)
		return txID, errors.E(errors.Unavailable, "record submitted transaction "+txID, err)
	}
	s.Metrics.Submission("accepted")

	// the reconciler tracks the record again before resolving it
	if s.Tracker != nil {
		if err := s.Tracker.Track(persistCtx, rec); err != nil {
			s.Logger.Warn("failed to track transaction for notification", zap.String("tx_id", txID), zap.Error(err))
		}
	}
	if s.Poller != nil {
		s.Poller.PollAsync(txID)
	}

	s.Logger.Info("transaction submitted",
		zap.String("tx_id", txID),
		zap.String("category", string(op.Category)),
	)
	return txID, nil
}

func (s *TxSubmitter) persist(ctx context.Context, rec models.TransactionRecord) error {
	var err error
	for attempt := 1; attempt <= putAttempts; attempt++ {
		err = s.TxRepo.Put(ctx, rec)
		if err == nil || !errors.Is(errors.Unavailable, err) {
			return err
		}
		s.Logger.Warn("retrying record write", zap.String("tx_id", rec.ID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < putAttempts {
			time.Sleep(putBackoff * time.Duration(attempt))
		}
	}
	return err
}
