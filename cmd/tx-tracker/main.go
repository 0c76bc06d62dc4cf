package main

import (
	// Go Internal Packages
	"context"
	goerrors "errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Local Packages
	config "tx-tracker/config"
	kafka "tx-tracker/kafka"
	ledger "tx-tracker/ledger"
	metrics "tx-tracker/metrics"
	models "tx-tracker/models"
	memory "tx-tracker/repositories/memory"
	mongodb "tx-tracker/repositories/mongodb"
	postgres "tx-tracker/repositories/postgres"
	redis "tx-tracker/repositories/redis"
	server "tx-tracker/server"
	broadcast "tx-tracker/services/broadcast"
	feed "tx-tracker/services/feed"
	notifier "tx-tracker/services/notifier"
	reconciler "tx-tracker/services/reconciler"
	submitter "tx-tracker/services/submitter"

	// External Packages
	"github.com/alecthomas/kingpin/v2"
	_ "github.com/jsternberg/zap-logfmt"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// txStore is everything the services need from a record store driver.
type txStore interface {
	submitter.TxRepository
	reconciler.TxRepository
	server.TxReader
}

// LoadConfig loads the default configuration and overrides it with the config file
// specified by the path defined in the config flag, then with the environment
func LoadConfig() *koanf.Koanf {
	configPathMsg := "Path to the application config file"
	configPath := kingpin.Flag("config", configPathMsg).Short('c').Default("config.yml").String()

	kingpin.Parse()
	k := koanf.New(".")
	_ = k.Load(rawbytes.Provider(config.DefaultConfig), yaml.Parser())
	if *configPath != "" {
		_ = k.Load(file.Provider(*configPath), yaml.Parser())
	}
	_ = k.Load(config.EnvProvider(), nil)
	return k
}

func main() {
	k := LoadConfig()
	appKonf := config.Config{}

	// Unmarshalling config into struct
	err := k.Unmarshal("", &appKonf)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Validate the config loaded
	if err = appKonf.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if !appKonf.IsProdMode {
		k.Print()
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "logfmt"
	_ = cfg.Level.UnmarshalText([]byte(appKonf.Logger.Level))
	cfg.InitialFields = make(map[string]any)
	cfg.InitialFields["host"], _ = os.Hostname()
	cfg.InitialFields["service"] = appKonf.Application
	cfg.OutputPaths = []string{"stdout"}
	logger, _ := cfg.Build()
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, appKonf, logger); err != nil {
		logger.Fatal("tx-tracker stopped with error", zap.Error(err))
	}
	logger.Info("tx-tracker stopped")
}

func run(ctx context.Context, appKonf config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics("txtracker", registry)

	store, closeStore, err := openStore(ctx, appKonf, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis Connection
	redisClient, err := redis.Connect(ctx, appKonf.Redis.URI, appKonf.Redis.Password)
	if err != nil {
		logger.Error("cannot create redis client", zap.Error(err))
		return err
	}
	defer func() {
		_ = redisClient.Close()
	}()

	marks := redis.NewNotificationMarks(redisClient, appKonf.Purge.Retention)
	queue := redis.NewNotificationQueue(redisClient, logger, appKonf.Redis.NotificationsList)
	txNotifier := notifier.NewNotifier(logger, marks, queue, appMetrics)

	ledgerClient := ledger.NewClient(appKonf.Ledger.RPCURL, appKonf.Ledger.Timeout, logger)
	defer func() {
		_ = ledgerClient.Close()
	}()
	txReconciler := reconciler.NewReconciler(logger, store, ledgerClient, txNotifier, appMetrics, reconciler.Config{
		PollInterval:     appKonf.Poll.Interval,
		MaxAttempts:      appKonf.Poll.MaxAttempts,
		SweepInterval:    appKonf.Sweep.Interval,
		SweepConcurrency: appKonf.Sweep.Concurrency,
		NotFoundAfter:    appKonf.Sweep.NotFoundAfter,
		PurgeInterval:    appKonf.Purge.Interval,
		Retention:        appKonf.Purge.Retention,
	})
	defer txReconciler.Close()

	var poller submitter.Poller
	if appKonf.Poll.AfterSubmit {
		poller = txReconciler
	}
	txSubmitter := submitter.NewTxSubmitter(logger, ledgerClient, store, txNotifier, poller, appMetrics)

	hub := broadcast.NewBroadcaster(logger, appMetrics)
	defer hub.Close()

	var (
		subscriber   *feed.Subscriber
		kafkaMetrics *kprom.Metrics
	)
	if appKonf.Kafka.Consume {
		kafkaMetrics = kprom.NewMetrics("txtracker")
		conf := &models.ConsumerConfig{
			Brokers:        appKonf.Kafka.Brokers,
			Name:           appKonf.Kafka.ConsumerName,
			Topic:          appKonf.Kafka.Topic,
			RecordsPerPoll: appKonf.Kafka.RecordsPerPoll,
			IdleTimeout:    appKonf.Kafka.IdleTimeout,
		}
		ledgerFeed, err := kafka.NewLedgerFeed(conf, kafkaMetrics, logger)
		if err != nil {
			logger.Error("cannot create ledger feed consumer", zap.Error(err))
			return err
		}
		defer ledgerFeed.Close()

		subscriber = feed.NewSubscriber(logger, ledgerFeed, hub.Handle(ctx), appMetrics,
			appKonf.Feed.InitialDelay, appKonf.Feed.MaxDelay)
	}

	srv := server.NewServer(logger, txSubmitter, store, txReconciler, hub, registry, kafkaHandler(kafkaMetrics), appKonf.HTTP.WriteTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(txReconciler.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(txNotifier.Run(gctx, appKonf.Notify.RetryInterval))
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, appKonf.HTTP.Listen)
	})
	if subscriber != nil {
		subscriber.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			subscriber.Stop()
			return nil
		})
	}

	logger.Info("tx-tracker started",
		zap.String("store", appKonf.Store.Driver),
		zap.Bool("feed", subscriber != nil),
	)
	return g.Wait()
}

// openStore connects the configured record store and returns its close func.
func openStore(ctx context.Context, appKonf config.Config, logger *zap.Logger) (txStore, func(), error) {
	switch appKonf.Store.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, appKonf.Postgres.DSN)
		if err != nil {
			logger.Error("cannot connect to postgres", zap.Error(err))
			return nil, nil, err
		}
		return postgres.NewTxRepository(db, logger), func() { _ = postgres.Close(db) }, nil

	case "memory":
		logger.Warn("using in-memory store, records are lost on restart")
		return memory.NewTxRepository(nil), func() {}, nil

	default:
		// Mongo Connection
		mongoClient, err := mongodb.Connect(ctx, appKonf.Mongo.URI, appKonf.Application)
		if err != nil {
			logger.Error("cannot create mongo client", zap.Error(err))
			return nil, nil, err
		}
		repo := mongodb.NewTxRepository(mongoClient, appKonf.Mongo.Database, logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Error("cannot create mongo indexes", zap.Error(err))
			return nil, nil, err
		}
		return repo, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(dctx)
		}, nil
	}
}

func kafkaHandler(m *kprom.Metrics) http.Handler {
	if m == nil {
		return nil
	}
	return m.Handler()
}

func ignoreCanceled(err error) error {
	if goerrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
