package memory

import (
	// Go Internal Packages
	"context"
	"sync"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"
)

type entry struct {
	mu      sync.Mutex
	rec     models.TransactionRecord
	deleted bool
}

// TxRepository keeps records in process memory. It satisfies the same contract as
// the durable drivers but loses everything on restart, so it is for tests and local
// runs only. The index lock guards the map and insertion order; each record has its
// own lock so writes to different ids never wait on each other.
type TxRepository struct {
	mu      sync.RWMutex
	records map[string]*entry
	order   []string
	now     func() time.Time
}

func NewTxRepository(now func() time.Time) *TxRepository {
	if now == nil {
		now = time.Now
	}
	return &TxRepository{records: make(map[string]*entry), now: now}
}

func (r *TxRepository) Put(_ context.Context, rec models.TransactionRecord) error {
	if err := rec.ValidateNew(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.records[rec.ID]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.rec.SameIdentity(rec) {
			return nil
		}
		return errors.ConflictErr(rec.ID, nil)
	}
	r.records[rec.ID] = &entry{rec: rec.Clone()}
	r.order = append(r.order, rec.ID)
	return nil
}

func (r *TxRepository) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[id]
}

func (r *TxRepository) Get(_ context.Context, id string) (models.TransactionRecord, error) {
	e := r.lookup(id)
	if e == nil {
		return models.TransactionRecord{}, errors.NotFoundErr(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.TransactionRecord{}, errors.NotFoundErr(id)
	}
	return e.rec.Clone(), nil
}

func (r *TxRepository) Update(_ context.Context, id string, u models.StatusUpdate) (models.TransactionRecord, bool, error) {
	e := r.lookup(id)
	if e == nil {
		return models.TransactionRecord{}, false, errors.NotFoundErr(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.TransactionRecord{}, false, errors.NotFoundErr(id)
	}

	next, changed, err := e.rec.Apply(u, r.now())
	if err != nil {
		return models.TransactionRecord{}, false, err
	}
	if changed {
		e.rec = next.Clone()
	}
	return next, changed, nil
}

func (r *TxRepository) ListPending(_ context.Context) ([]models.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TransactionRecord, 0)
	for _, id := range r.order {
		e := r.records[id]
		e.mu.Lock()
		if e.rec.Status == models.StatusPending {
			out = append(out, e.rec.Clone())
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (r *TxRepository) PurgeResolvedOlderThan(_ context.Context, d time.Duration) (int64, error) {
	cutoff := r.now().Add(-d)

	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	kept := r.order[:0]
	for _, id := range r.order {
		e := r.records[id]
		e.mu.Lock()
		if e.rec.Status.Resolved() && e.rec.CreatedAt.Before(cutoff) {
			e.deleted = true
			delete(r.records, id)
			purged++
		} else {
			kept = append(kept, id)
		}
		e.mu.Unlock()
	}
	r.order = kept
	return purged, nil
}

// Len is the number of records held.
func (r *TxRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
