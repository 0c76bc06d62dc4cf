package broadcast

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"sync"

	// Local Packages
	metrics "tx-tracker/metrics"
	models "tx-tracker/models"

	// External Packages
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is one downstream subscriber connection.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Broadcaster fans upstream events out to every connected subscriber. A subscriber
// whose write fails is dropped without affecting the others.
type Broadcaster struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	mu     sync.RWMutex
	conns  map[string]Conn
	closed bool
}

func NewBroadcaster(logger *zap.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		Logger:  logger,
		Metrics: m,
		conns:   make(map[string]Conn),
	}
}

// Add registers c and returns its id. After Close it closes c right away and returns
// an empty id.
func (b *Broadcaster) Add(c Conn) string {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = c.Close()
		return ""
	}
	id := uuid.NewString()
	b.conns[id] = c
	n := len(b.conns)
	b.mu.Unlock()

	b.Metrics.Subscribers(n)
	b.Logger.Info("subscriber connected", zap.String("subscriber_id", id), zap.Int("subscribers", n))
	return id
}

// Remove drops and closes the subscriber. Removing an unknown id is a no-op.
func (b *Broadcaster) Remove(id string) {
	b.mu.Lock()
	c, ok := b.conns[id]
	delete(b.conns, id)
	n := len(b.conns)
	b.mu.Unlock()
	if !ok {
		return
	}

	_ = c.Close()
	b.Metrics.Subscribers(n)
	b.Logger.Info("subscriber disconnected", zap.String("subscriber_id", id), zap.Int("subscribers", n))
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Broadcast serializes ev once and writes it to a snapshot of the current subscribers
// concurrently. It returns how many writes succeeded.
func (b *Broadcaster) Broadcast(ctx context.Context, ev models.UpstreamEvent) int {
	msg, err := json.Marshal(ev)
	if err != nil {
		b.Logger.Error("failed to encode event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return 0
	}

	b.mu.RLock()
	snapshot := make(map[string]Conn, len(b.conns))
	for id, c := range b.conns {
		snapshot[id] = c
	}
	b.mu.RUnlock()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		failed    []string
	)
	for id, c := range snapshot {
		wg.Add(1)
		go func(id string, c Conn) {
			defer wg.Done()
			if err := c.Send(ctx, msg); err != nil {
				b.Logger.Warn("dropping subscriber after failed write", zap.String("subscriber_id", id), zap.Error(err))
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(id, c)
	}
	wg.Wait()

	for _, id := range failed {
		b.Metrics.SubscriberDropped()
		b.Remove(id)
	}
	return delivered
}

// Handle adapts Broadcast to the feed subscriber's handler signature.
func (b *Broadcaster) Handle(ctx context.Context) func(models.UpstreamEvent) {
	return func(ev models.UpstreamEvent) {
		b.Broadcast(ctx, ev)
	}
}

// Close disconnects every subscriber and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[string]Conn)
	b.closed = true
	b.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	b.Metrics.Subscribers(0)
}
