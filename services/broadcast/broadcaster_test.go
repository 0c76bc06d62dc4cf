package broadcast

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	// Local Packages
	models "tx-tracker/models"

	// External Packages
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu     sync.Mutex
	fail   bool
	msgs   [][]byte
	closed bool
}

func (c *fakeConn) Send(_ context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return goerrors.New("broken pipe")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func event(seq int64) models.UpstreamEvent {
	return models.NewEvent(models.EventLedgerClosed, models.LedgerClosed{Sequence: seq},
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestBroadcastSurvivesFailingSubscriber(t *testing.T) {
	b := NewBroadcaster(zap.NewNop(), nil)
	healthy := make([]*fakeConn, 4)
	for i := range healthy {
		healthy[i] = &fakeConn{}
		require.NotEmpty(t, b.Add(healthy[i]))
	}
	broken := &fakeConn{fail: true}
	b.Add(broken)
	require.Equal(t, 5, b.Len())

	delivered := b.Broadcast(context.Background(), event(1))

	assert.Equal(t, 4, delivered)
	assert.Equal(t, 4, b.Len())
	assert.True(t, broken.closed)
	for i, c := range healthy {
		assert.Equal(t, 1, c.received(), "subscriber %d", i)
	}

	assert.Equal(t, 4, b.Broadcast(context.Background(), event(2)))
	for _, c := range healthy {
		assert.Equal(t, 2, c.received())
	}
}

func TestBroadcastSendsSerializedEvent(t *testing.T) {
	b := NewBroadcaster(zap.NewNop(), nil)
	c := &fakeConn{}
	b.Add(c)

	b.Broadcast(context.Background(), event(42))
	require.Equal(t, 1, c.received())

	var got models.UpstreamEvent
	require.NoError(t, json.Unmarshal(c.msgs[0], &got))
	assert.Equal(t, models.EventLedgerClosed, got.Kind)

	var payload models.LedgerClosed
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, int64(42), payload.Sequence)
}

func TestBroadcastWithNoSubscribers(t *testing.T) {
	b := NewBroadcaster(zap.NewNop(), nil)
	assert.Equal(t, 0, b.Broadcast(context.Background(), event(1)))
}

func TestRemoveIsIdempotent(t *testing.T) {
	b := NewBroadcaster(zap.NewNop(), nil)
	c := &fakeConn{}
	id := b.Add(c)

	b.Remove(id)
	b.Remove(id)
	b.Remove("unknown")
	assert.Equal(t, 0, b.Len())
	assert.True(t, c.closed)
}

func TestConcurrentAddRemoveDuringBroadcast(t *testing.T) {
	b := NewBroadcaster(zap.NewNop(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := b.Add(&fakeConn{})
			b.Remove(id)
		}()
		go func(seq int) {
			defer wg.Done()
			b.Broadcast(context.Background(), event(int64(seq)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, b.Len())
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	b := NewBroadcaster(zap.NewNop(), nil)
	conns := make([]*fakeConn, 3)
	for i := range conns {
		conns[i] = &fakeConn{}
		b.Add(conns[i])
	}

	b.Close()
	assert.Equal(t, 0, b.Len())
	for i, c := range conns {
		assert.True(t, c.closed, fmt.Sprintf("conn %d", i))
	}

	late := &fakeConn{}
	assert.Empty(t, b.Add(late))
	assert.True(t, late.closed)
}
