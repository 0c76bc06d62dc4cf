package server

import (
	// Go Internal Packages
	"context"
	goerrors "errors"
	"io"
	"net/http"
	"time"

	// Local Packages
	models "tx-tracker/models"
	broadcast "tx-tracker/services/broadcast"
	reconciler "tx-tracker/services/reconciler"

	// External Packages
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Submitter interface {
	Submit(ctx context.Context, op models.Operation) (string, error)
}

type TxReader interface {
	Get(ctx context.Context, id string) (models.TransactionRecord, error)
	ListPending(ctx context.Context) ([]models.TransactionRecord, error)
}

type Poller interface {
	Poll(ctx context.Context, txID string) (reconciler.PollResult, error)
}

// Hub is the set of downstream event subscribers.
type Hub interface {
	Add(c broadcast.Conn) string
	Remove(id string)
	Len() int
}

type Server struct {
	Logger       *zap.Logger
	Router       *mux.Router
	Submitter    Submitter
	TxRepo       TxReader
	Poller       Poller
	Hub          Hub
	WriteTimeout time.Duration

	upgrader websocket.Upgrader
}

// NewServer wires the routes. kafkaMetrics may be nil when the kafka feed is disabled.
func NewServer(logger *zap.Logger, submitter Submitter, txRepo TxReader, poller Poller, hub Hub,
	gatherer prometheus.Gatherer, kafkaMetrics http.Handler, writeTimeout time.Duration) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	s := &Server{
		Logger:       logger,
		Router:       mux.NewRouter(),
		Submitter:    submitter,
		TxRepo:       txRepo,
		Poller:       poller,
		Hub:          hub,
		WriteTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := s.Router
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/transactions", s.submit).Methods(http.MethodPost)
	r.HandleFunc("/v1/transactions", s.listPending).Methods(http.MethodGet)
	r.HandleFunc("/v1/transactions/{id}", s.getTransaction).Methods(http.MethodGet)
	r.HandleFunc("/v1/transactions/{id}/poll", s.poll).Methods(http.MethodPost)
	r.HandleFunc("/v1/events", s.events).Methods(http.MethodGet)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if kafkaMetrics != nil {
		r.Handle("/metrics/kafka", kafkaMetrics).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the router wrapped with access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.Logger)),
		handlers.PrintRecoveryStack(true),
	)
	return handlers.CustomLoggingHandler(io.Discard, recovery(s.Router), s.logRequest)
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.Logger.Debug("http request",
		zap.String("method", p.Request.Method),
		zap.String("path", p.URL.Path),
		zap.Int("status", p.StatusCode),
		zap.Int("size", p.Size),
		zap.Duration("took", time.Since(p.TimeStamp)),
	)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !goerrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
