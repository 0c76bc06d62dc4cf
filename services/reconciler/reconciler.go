package reconciler

import (
	// Go Internal Packages
	"context"
	"sync"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	metrics "tx-tracker/metrics"
	models "tx-tracker/models"

	// External Packages
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReasonNotFoundExpired is the failure reason the sweep writes for transactions the
// ledger still does not know after Config.NotFoundAfter.
const ReasonNotFoundExpired = "not found (expired)"

type TxRepository interface {
	Get(ctx context.Context, id string) (models.TransactionRecord, error)
	Update(ctx context.Context, id string, u models.StatusUpdate) (models.TransactionRecord, bool, error)
	ListPending(ctx context.Context) ([]models.TransactionRecord, error)
	PurgeResolvedOlderThan(ctx context.Context, d time.Duration) (int64, error)
}

type Ledger interface {
	GetTransactionOutcome(ctx context.Context, txID string) (models.LedgerOutcome, error)
}

// Observer sees every record snapshot the reconciler reads or writes.
type Observer interface {
	Observe(ctx context.Context, rec models.TransactionRecord) (bool, error)
}

type Config struct {
	PollInterval     time.Duration
	MaxAttempts      int
	SweepInterval    time.Duration
	SweepConcurrency int
	// NotFoundAfter is a heuristic, not a ledger guarantee: a transaction the ledger
	// has not indexed after this long is declared failed.
	NotFoundAfter time.Duration
	PurgeInterval time.Duration
	Retention     time.Duration
}

// PollResult is the outcome of an active poll. TimedOut means the attempts ran out
// while the ledger had no verdict; the record stays pending.
type PollResult struct {
	Record   models.TransactionRecord
	Attempts int
	TimedOut bool
}

type SweepReport struct {
	Checked      int
	Succeeded    int
	Failed       int
	Expired      int
	StillPending int
	Errors       int
}

type Reconciler struct {
	Logger   *zap.Logger
	TxRepo   TxRepository
	Ledger   Ledger
	Observer Observer
	Metrics  *metrics.Metrics
	Config   Config
	Now      func() time.Time

	// background polls started by PollAsync live until Close
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	inflight sync.Map
}

func NewReconciler(logger *zap.Logger, txRepo TxRepository, ledger Ledger, observer Observer, m *metrics.Metrics, conf Config) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	if conf.SweepConcurrency < 1 {
		conf.SweepConcurrency = 1
	}
	if conf.MaxAttempts < 1 {
		conf.MaxAttempts = 1
	}
	return &Reconciler{
		Logger:   logger,
		TxRepo:   txRepo,
		Ledger:   ledger,
		Observer: observer,
		Metrics:  m,
		Config:   conf,
		Now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Poll queries the ledger for txID every PollInterval, at most MaxAttempts times,
// and writes the first terminal outcome. Cancelling ctx abandons the poll and
// leaves the record as it is.
func (r *Reconciler) Poll(ctx context.Context, txID string) (PollResult, error) {
	var res PollResult
	for attempt := 1; attempt <= r.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, r.Config.PollInterval); err != nil {
				return res, err
			}
		}

		rec, err := r.TxRepo.Get(ctx, txID)
		if err != nil {
			if !errors.Is(errors.Unavailable, err) || ctx.Err() != nil {
				return res, err
			}
			res.Attempts = attempt
			r.Logger.Warn("poll read failed", zap.String("tx_id", txID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		res.Record = rec
		if rec.Status.Resolved() {
			// gives a transition whose notification was lost another chance
			_ = r.observe(ctx, rec)
			return res, nil
		}
		res.Attempts = attempt

		// only tracked records get resolved, otherwise the transition goes unnoticed
		if err := r.observe(ctx, rec); err != nil {
			r.Logger.Warn("cannot track pending record, skipping attempt",
				zap.String("tx_id", txID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		out, err := r.Ledger.GetTransactionOutcome(ctx, txID)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.Logger.Warn("poll query failed", zap.String("tx_id", txID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if !out.Terminal() {
			r.Logger.Debug("transaction not settled yet",
				zap.String("tx_id", txID),
				zap.Int("attempt", attempt),
				zap.String("ledger_status", string(out.Status)),
			)
			continue
		}

		updated, err := r.resolve(ctx, txID, out.Update(), "poll")
		if err != nil {
			return res, err
		}
		res.Record = updated
		return res, nil
	}

	r.Metrics.PollTimeout()
	r.Logger.Info("poll gave up, transaction stays pending",
		zap.String("tx_id", txID),
		zap.Int("attempts", res.Attempts),
	)
	res.TimedOut = true
	return res, nil
}

// PollAsync runs Poll in the background. A second call for an id already being
// polled is ignored.
func (r *Reconciler) PollAsync(txID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, busy := r.inflight.LoadOrStore(txID, struct{}{}); busy {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inflight.Delete(txID)

		res, err := r.Poll(r.ctx, txID)
		switch {
		case err != nil && r.ctx.Err() == nil:
			r.Logger.Error("background poll failed", zap.String("tx_id", txID), zap.Error(err))
		case res.Record.Status.Resolved():
			r.Logger.Debug("background poll resolved transaction",
				zap.String("tx_id", txID),
				zap.String("status", string(res.Record.Status)),
			)
		}
	}()
}

// Close stops background polls and waits for them to return. PollAsync calls after
// Close are ignored.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// Sweep checks every pending record against the ledger concurrently. Errors on one
// record are logged and counted; they never stop the others. Only a failure to list
// the pending records is returned.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	pending, err := r.TxRepo.ListPending(ctx)
	if err != nil {
		return report, err
	}
	now := r.Now()

	var mu sync.Mutex
	count := func(f func(*SweepReport)) {
		mu.Lock()
		f(&report)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(r.Config.SweepConcurrency)
	for _, rec := range pending {
		rec := rec
		g.Go(func() error {
			r.reconcileOne(ctx, rec, now, count)
			return nil
		})
	}
	_ = g.Wait()

	report.Checked = len(pending)
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec models.TransactionRecord, now time.Time, count func(func(*SweepReport))) {
	log := r.Logger.With(zap.String("tx_id", rec.ID))

	// Seeds notification tracking for records submitted before a restart.
	if err := r.observe(ctx, rec); err != nil {
		r.Metrics.SweepError()
		log.Warn("cannot track pending record, skipping", zap.Error(err))
		count(func(s *SweepReport) { s.Errors++ })
		return
	}

	out, err := r.Ledger.GetTransactionOutcome(ctx, rec.ID)
	if err != nil {
		r.Metrics.SweepError()
		log.Warn("sweep query failed", zap.Error(err))
		count(func(s *SweepReport) { s.Errors++ })
		return
	}

	var u models.StatusUpdate
	expired := false
	switch {
	case out.Terminal():
		u = out.Update()
	case out.Status == models.LedgerNotFound && rec.Age(now) >= r.Config.NotFoundAfter:
		log.Info("transaction not found past threshold, marking failed",
			zap.Duration("age", rec.Age(now)),
			zap.Duration("threshold", r.Config.NotFoundAfter),
		)
		u = models.Failed(ReasonNotFoundExpired)
		expired = true
	default:
		count(func(s *SweepReport) { s.StillPending++ })
		return
	}

	updated, err := r.resolve(ctx, rec.ID, u, "sweep")
	if err != nil {
		r.Metrics.SweepError()
		count(func(s *SweepReport) { s.Errors++ })
		return
	}
	count(func(s *SweepReport) {
		switch {
		case expired:
			s.Expired++
		case updated.Status == models.StatusSucceeded:
			s.Succeeded++
		default:
			s.Failed++
		}
	})
}

// resolve writes a terminal update and hands the resulting snapshot to the observer.
func (r *Reconciler) resolve(ctx context.Context, txID string, u models.StatusUpdate, source string) (models.TransactionRecord, error) {
	updated, changed, err := r.TxRepo.Update(ctx, txID, u)
	if err != nil {
		if errors.Is(errors.InvalidTransition, err) {
			r.Logger.Error("ledger outcome contradicts stored status",
				zap.String("tx_id", txID),
				zap.String("source", source),
				zap.String("ledger_status", string(u.Status)),
				zap.Error(err),
			)
		} else {
			r.Logger.Warn("failed to write outcome", zap.String("tx_id", txID), zap.String("source", source), zap.Error(err))
		}
		return models.TransactionRecord{}, err
	}

	if changed {
		r.Metrics.Resolved(string(updated.Status), source)
		r.Logger.Info("transaction resolved",
			zap.String("tx_id", txID),
			zap.String("status", string(updated.Status)),
			zap.String("source", source),
		)
	}
	if err := r.observe(ctx, updated); err != nil {
		r.Logger.Warn("observer failed", zap.String("tx_id", txID), zap.Error(err))
	}
	return updated, nil
}

func (r *Reconciler) observe(ctx context.Context, rec models.TransactionRecord) error {
	if r.Observer == nil {
		return nil
	}
	_, err := r.Observer.Observe(ctx, rec)
	return err
}

// Purge removes resolved records past the retention window.
func (r *Reconciler) Purge(ctx context.Context) (int64, error) {
	n, err := r.TxRepo.PurgeResolvedOlderThan(ctx, r.Config.Retention)
	if err != nil {
		return 0, err
	}
	r.Metrics.Purged(n)
	if n > 0 {
		r.Logger.Info("purged resolved transactions", zap.Int64("count", n), zap.Duration("retention", r.Config.Retention))
	}
	return n, nil
}

// Run sweeps once immediately and then on every SweepInterval, purging on every
// PurgeInterval, until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.sweepAndLog(ctx)

	sweepTicker := time.NewTicker(r.Config.SweepInterval)
	defer sweepTicker.Stop()
	purgeTicker := time.NewTicker(r.Config.PurgeInterval)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("reconciler stopped")
			return ctx.Err()
		case <-sweepTicker.C:
			r.sweepAndLog(ctx)
		case <-purgeTicker.C:
			if _, err := r.Purge(ctx); err != nil && ctx.Err() == nil {
				r.Logger.Error("purge failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) sweepAndLog(ctx context.Context) {
	report, err := r.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.Logger.Error("sweep failed", zap.Error(err))
		}
		return
	}
	r.Logger.Info("sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("expired", report.Expired),
		zap.Int("still_pending", report.StillPending),
		zap.Int("errors", report.Errors),
	)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
