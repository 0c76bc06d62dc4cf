package kafka

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
	models "tx-tracker/models"
	feed "tx-tracker/services/feed"
	utils "tx-tracker/utils"

	// External Packages
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
)

// KindHeader marks the event kind of a record. Records without it are ledger closes.
const KindHeader = "kind"

var errStreamClosed = goerrors.New("ledger feed stream closed")

// LedgerFeed reads ledger events from a Kafka topic. It implements feed.Source; every
// Connect hands out a stream that starts wherever the client left off.
type LedgerFeed struct {
	Client *kgo.Client
	Config *models.ConsumerConfig
	Logger *zap.Logger
}

// NewLedgerFeed creates the kafka client. Without a consumer group every partition of
// the topic is read from the current end, so a restarted tracker only sees new ledgers.
func NewLedgerFeed(conf *models.ConsumerConfig, metrics *kprom.Metrics, logger *zap.Logger) (*LedgerFeed, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),                // Connects to Kafka brokers
		kgo.ClientID(conf.Name),                         // Identifies the tracker to the brokers
		kgo.ConsumeTopics(conf.Topic),                   // Specifies a single topic to consume
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()), // Only ledgers closed from now on
		kgo.FetchMaxWait(time.Second),                   // Keeps idle polls short
	}
	if metrics != nil {
		opts = append(opts, kgo.WithHooks(metrics)) // Attaches monitoring hooks
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	if conf.IdleTimeout <= 0 {
		conf.IdleTimeout = 30 * time.Second
	}
	if conf.RecordsPerPoll <= 0 {
		conf.RecordsPerPoll = 100
	}
	return &LedgerFeed{Client: client, Config: conf, Logger: logger}, nil
}

// Connect checks that a broker answers and returns a stream over the topic.
func (f *LedgerFeed) Connect(ctx context.Context) (feed.Stream, error) {
	if err := f.ping(ctx); err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(context.Background())
	return &ledgerStream{feed: f, ctx: sctx, cancel: cancel}, nil
}

// Close releases the kafka client. Streams fail once it is closed.
func (f *LedgerFeed) Close() {
	f.Client.Close()
}

func (f *LedgerFeed) ping(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, f.Config.IdleTimeout)
	defer cancel()
	if err := f.Client.Ping(pctx); err != nil {
		return errors.E(errors.Unavailable, "kafka brokers unreachable", err)
	}
	return nil
}

type ledgerStream struct {
	feed    *LedgerFeed
	ctx     context.Context
	cancel  context.CancelFunc
	pending []models.Record
}

// Next returns the next decodable event. A poll that stays empty for the idle timeout
// pings the brokers and fails the stream if none answer.
func (s *ledgerStream) Next(ctx context.Context) (models.UpstreamEvent, error) {
	for {
		for len(s.pending) > 0 {
			rec := s.pending[0]
			s.pending = s.pending[1:]
			ev, err := DecodeRecord(rec)
			if err != nil {
				s.feed.Logger.Warn("skipping undecodable ledger record",
					zap.String("topic", rec.Topic),
					zap.ByteString("key", rec.Key),
					zap.Error(err),
				)
				continue
			}
			return ev, nil
		}

		if err := s.poll(ctx); err != nil {
			return models.UpstreamEvent{}, err
		}
	}
}

func (s *ledgerStream) poll(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, s.feed.Config.IdleTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	fetches := s.feed.Client.PollRecords(pctx, s.feed.Config.RecordsPerPoll)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.ctx.Err() != nil {
		return errStreamClosed
	}
	if fetches.IsClientClosed() {
		return errors.E(errors.Unavailable, "kafka client closed", nil)
	}

	var (
		fetchErr   error
		partitions []int32
	)
	fetches.EachError(func(topic string, partition int32, err error) {
		if goerrors.Is(err, context.DeadlineExceeded) || goerrors.Is(err, context.Canceled) {
			return
		}
		partitions = append(partitions, partition)
		if fetchErr == nil {
			fetchErr = fmt.Errorf("fetch %s: %w", topic, err)
		}
	})
	if fetchErr != nil {
		s.feed.Logger.Warn("ledger fetch failed",
			zap.String("partitions", utils.FormatPartitions(partitions)),
			zap.Error(fetchErr),
		)
		return errors.E(errors.Unavailable, "ledger feed fetch failed", fetchErr)
	}

	records := fetches.Records()
	if len(records) == 0 {
		s.feed.Logger.Debug("ledger feed idle, pinging brokers")
		return s.feed.ping(ctx)
	}

	s.pending = make([]models.Record, len(records))
	for idx, record := range records {
		s.pending[idx] = toRecord(record)
	}
	return nil
}

func (s *ledgerStream) Close() error {
	s.cancel()
	return nil
}

func toRecord(r *kgo.Record) models.Record {
	rec := models.Record{
		Key:       r.Key,
		Value:     r.Value,
		Topic:     r.Topic,
		Timestamp: r.Timestamp,
	}
	if len(r.Headers) > 0 {
		rec.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			rec.Headers[h.Key] = string(h.Value)
		}
	}
	return rec
}

// DecodeRecord turns a topic record into an upstream event. Heartbeats may carry any
// JSON payload or none; ledger closes must carry a LedgerClosed document.
func DecodeRecord(r models.Record) (models.UpstreamEvent, error) {
	at := r.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	kind := models.EventKind(r.Headers[KindHeader])
	switch kind {
	case models.EventHeartbeat:
		ev := models.NewEvent(models.EventHeartbeat, nil, at)
		if len(r.Value) > 0 && json.Valid(r.Value) {
			ev.Payload = json.RawMessage(r.Value)
		}
		return ev, nil
	case "", models.EventLedgerClosed:
		var lc models.LedgerClosed
		if err := json.Unmarshal(r.Value, &lc); err != nil {
			return models.UpstreamEvent{}, err
		}
		if lc.Sequence <= 0 {
			return models.UpstreamEvent{}, fmt.Errorf("invalid ledger sequence %d", lc.Sequence)
		}
		return models.NewEvent(models.EventLedgerClosed, lc, at), nil
	default:
		return models.UpstreamEvent{}, fmt.Errorf("unsupported event kind %q", kind)
	}
}
