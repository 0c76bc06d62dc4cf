package feed

import (
	// Go Internal Packages
	"context"
	"sync"
	"time"

	// Local Packages
	metrics "tx-tracker/metrics"
	models "tx-tracker/models"

	// External Packages
	"go.uber.org/zap"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Streaming
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Source opens connections to the upstream ledger feed.
type Source interface {
	Connect(ctx context.Context) (Stream, error)
}

// Stream is one live upstream connection. Next blocks until an event arrives, the
// connection fails or ctx is done.
type Stream interface {
	Next(ctx context.Context) (models.UpstreamEvent, error)
	Close() error
}

type Handler func(models.UpstreamEvent)

// Subscriber keeps one connection to the upstream feed open forever, reconnecting
// with exponential backoff, and hands every event to Handler. Handler runs on the
// subscriber goroutine.
type Subscriber struct {
	Logger  *zap.Logger
	Source  Source
	Handler Handler
	Metrics *metrics.Metrics
	Now     func() time.Time

	backoff  *Backoff
	failures int
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	state  State
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(logger *zap.Logger, source Source, handler Handler, m *metrics.Metrics, floor, ceiling time.Duration) *Subscriber {
	return &Subscriber{
		Logger:  logger,
		Source:  source,
		Handler: handler,
		Metrics: m,
		Now:     time.Now,
		backoff: NewBackoff(floor, ceiling),
		sleep:   sleep,
	}
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.Logger.Debug("feed state changed", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
}

// Start runs the subscriber in its own goroutine until Stop is called or ctx ends.
func (s *Subscriber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
}

// Stop cancels any pending reconnect wait, releases the upstream connection and
// waits for the loop to exit. No events are delivered once Stop returns.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel, done, stream := s.cancel, s.done, s.stream
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if stream != nil {
		_ = stream.Close()
	}
	<-done
}

// Run blocks until ctx is done. It never gives up on the upstream.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.setState(Disconnected)
	reconnecting := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(Connecting)
		stream, err := s.Source.Connect(ctx)
		if err == nil {
			stream = &onceCloser{Stream: stream}
			s.setStream(stream)
			s.setState(Streaming)
			if reconnecting {
				s.Logger.Info("feed reconnected", zap.Int("after_failures", s.failures))
				s.emit(ctx, models.NewEvent(models.EventReconnected, models.ReconnectInfo{Attempt: s.failures}, s.Now()))
				reconnecting = false
			}
			err = s.consume(ctx, stream)
			s.setStream(nil)
			_ = stream.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		s.failures++
		s.setState(Reconnecting)
		delay := s.backoff.Next()
		s.Metrics.FeedReconnect()
		s.Logger.Warn("feed connection lost",
			zap.Int("attempt", s.failures),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		s.emit(ctx, models.NewEvent(models.EventError, models.ReconnectInfo{Attempt: s.failures, Reason: errString(err)}, s.Now()))
		s.emit(ctx, models.NewEvent(models.EventReconnecting, models.ReconnectInfo{
			Attempt: s.failures,
			DelayMS: delay.Milliseconds(),
			Reason:  errString(err),
		}, s.Now()))
		reconnecting = true

		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// consume forwards events until the stream fails. A real upstream event proves the
// connection healthy and resets the backoff.
func (s *Subscriber) consume(ctx context.Context, stream Stream) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Kind.Upstream() {
			s.backoff.Reset()
			s.failures = 0
		}
		s.emit(ctx, ev)
	}
}

func (s *Subscriber) emit(ctx context.Context, ev models.UpstreamEvent) {
	if ctx.Err() != nil || s.Handler == nil {
		return
	}
	s.Metrics.FeedEvent(string(ev.Kind))
	s.Handler(ev)
}

func (s *Subscriber) setStream(st Stream) {
	s.mu.Lock()
	s.stream = st
	s.mu.Unlock()
}

// onceCloser makes Close safe to call from both Stop and the loop.
type onceCloser struct {
	Stream
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.Stream.Close() })
	return c.err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return "stream ended"
	}
	return err.Error()
}
