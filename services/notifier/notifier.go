package notifier

import (
	// Go Internal Packages
	"context"
	"fmt"
	"sync"
	"time"

	// Local Packages
	metrics "tx-tracker/metrics"
	models "tx-tracker/models"

	// External Packages
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Marks remembers, per transaction, the last status a notification decision was made on.
type Marks interface {
	MarkIfAbsent(ctx context.Context, txID string, status models.Status) error
	// Advance moves the mark from -> to and reports whether this call moved it.
	Advance(ctx context.Context, txID string, from, to models.Status) (bool, error)
}

type Sink interface {
	Publish(ctx context.Context, n models.Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n models.Notification) error

func (f SinkFunc) Publish(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

// Notifier emits one notification per pending -> terminal transition. The check and
// the mark happen in a single Advance call, so concurrent observers of the same
// record (poll and sweep) race on the mark and only the winner publishes.
type Notifier struct {
	Logger  *zap.Logger
	Marks   Marks
	Sink    Sink
	Metrics *metrics.Metrics
	Now     func() time.Time

	// undelivered holds transitions whose publish failed or whose mark could not
	// be checked, keyed by tx id, until Redeliver gets them out.
	mu          sync.Mutex
	undelivered map[string]heldTransition
}

// heldTransition is a transition waiting for Redeliver. note is nil while the mark
// still has to be advanced.
type heldTransition struct {
	rec  models.TransactionRecord
	note *models.Notification
}

func NewNotifier(logger *zap.Logger, marks Marks, sink Sink, m *metrics.Metrics) *Notifier {
	return &Notifier{
		Logger:      logger,
		Marks:       marks,
		Sink:        sink,
		Metrics:     m,
		Now:         time.Now,
		undelivered: make(map[string]heldTransition),
	}
}

// Track starts watching a freshly submitted record.
func (n *Notifier) Track(ctx context.Context, rec models.TransactionRecord) error {
	if rec.Status != models.StatusPending {
		return nil
	}
	return n.Marks.MarkIfAbsent(ctx, rec.ID, models.StatusPending)
}

// Observe is called with every record snapshot the store hands back after a write or
// a scan. It reports whether a notification was emitted.
func (n *Notifier) Observe(ctx context.Context, rec models.TransactionRecord) (bool, error) {
	if rec.Status == models.StatusPending {
		return false, n.Track(ctx, rec)
	}

	moved, err := n.Marks.Advance(ctx, rec.ID, models.StatusPending, rec.Status)
	if err != nil {
		n.Logger.Error("failed to advance notification mark", zap.String("tx_id", rec.ID), zap.Error(err))
		n.hold(heldTransition{rec: rec})
		return false, err
	}
	if !moved {
		return false, nil
	}

	// the mark is ours from here on; a failed publish is retried by Redeliver
	// with the same notification id
	note := n.build(rec)
	if err := n.publish(ctx, note); err != nil {
		n.hold(heldTransition{rec: rec, note: &note})
		return false, err
	}
	return true, nil
}

func (n *Notifier) publish(ctx context.Context, note models.Notification) error {
	if err := n.Sink.Publish(ctx, note); err != nil {
		n.Logger.Error("failed to publish notification",
			zap.String("tx_id", note.TxID),
			zap.String("status", string(note.Status)),
			zap.Error(err),
		)
		return err
	}
	n.Metrics.Notified(string(note.Status))
	n.Logger.Info("transaction notified", zap.String("tx_id", note.TxID), zap.String("status", string(note.Status)))
	return nil
}

func (n *Notifier) hold(u heldTransition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.undelivered[u.rec.ID]; ok && cur.note != nil {
		return
	}
	n.undelivered[u.rec.ID] = u
}

// Pending reports how many transitions are waiting for redelivery.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.undelivered)
}

// Redeliver retries every undelivered transition once and returns how many
// notifications went out.
func (n *Notifier) Redeliver(ctx context.Context) int {
	n.mu.Lock()
	batch := make([]heldTransition, 0, len(n.undelivered))
	for _, u := range n.undelivered {
		batch = append(batch, u)
	}
	n.mu.Unlock()

	sent := 0
	for _, u := range batch {
		if ctx.Err() != nil {
			break
		}
		done, err := n.redeliver(ctx, u)
		if err != nil {
			continue
		}
		n.mu.Lock()
		delete(n.undelivered, u.rec.ID)
		n.mu.Unlock()
		if done {
			sent++
		}
	}
	return sent
}

func (n *Notifier) redeliver(ctx context.Context, u heldTransition) (bool, error) {
	if u.note == nil {
		moved, err := n.Marks.Advance(ctx, u.rec.ID, models.StatusPending, u.rec.Status)
		if err != nil {
			n.Logger.Warn("notification mark still unavailable", zap.String("tx_id", u.rec.ID), zap.Error(err))
			return false, err
		}
		if !moved {
			return false, nil
		}
		note := n.build(u.rec)
		u.note = &note
		n.mu.Lock()
		n.undelivered[u.rec.ID] = u
		n.mu.Unlock()
	}
	if err := n.publish(ctx, *u.note); err != nil {
		return false, err
	}
	return true, nil
}

// Run calls Redeliver on every interval until ctx is done.
func (n *Notifier) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if sent := n.Redeliver(ctx); sent > 0 {
				n.Logger.Info("redelivered notifications", zap.Int("count", sent))
			}
		}
	}
}

func (n *Notifier) build(rec models.TransactionRecord) models.Notification {
	desc := rec.Category.Label()
	if rec.Description != "" {
		desc = fmt.Sprintf("%s: %s", desc, rec.Description)
	}
	return models.Notification{
		ID:          uuid.NewString(),
		TxID:        rec.ID,
		Category:    rec.Category,
		Description: desc,
		Status:      rec.Status,
		Reason:      rec.FailureReason,
		CreatedAt:   n.Now().UTC(),
	}
}
