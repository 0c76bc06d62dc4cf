package notifier

import (
	// Go Internal Packages
	"context"
	"sync"

	// Local Packages
	models "tx-tracker/models"
)

// MemoryMarks is the in-process Marks used when no shared store is configured.
type MemoryMarks struct {
	mu    sync.Mutex
	marks map[string]models.Status
}

func NewMemoryMarks() *MemoryMarks {
	return &MemoryMarks{marks: make(map[string]models.Status)}
}

func (m *MemoryMarks) MarkIfAbsent(_ context.Context, txID string, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.marks[txID]; !ok {
		m.marks[txID] = status
	}
	return nil
}

func (m *MemoryMarks) Advance(_ context.Context, txID string, from, to models.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.marks[txID]; !ok || cur != from {
		return false, nil
	}
	m.marks[txID] = to
	return true, nil
}
