// Package api exposes the transfer core and the user directory over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/presale-transfer/internal/storage"
	"github.com/rovshanmuradov/presale-transfer/internal/transfer"
)

const (
	maxBodyBytes      = 64 << 10
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// TransferService - ядро перевода
type TransferService interface {
	Transfer(ctx context.Context, req transfer.Request) (*transfer.Result, error)
}

// Handler обслуживает HTTP маршруты сервиса
type Handler struct {
	transfers TransferService
	users     storage.UserStore
	records   storage.TransferLog
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

// NewHandler создает обработчик. gatherer == nil - метрики из
// prometheus.DefaultGatherer.
func NewHandler(transfers TransferService, users storage.UserStore, records storage.TransferLog, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		transfers: transfers,
		users:     users,
		records:   records,
		gatherer:  gatherer,
		logger:    logger.Named("http-api"),
	}
}

// Routes возвращает мультиплексор со всеми маршрутами
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/transfer", h.handleTransfer)
	mux.HandleFunc("GET /api/transfer/{signature}", h.handleTransferStatus)
	mux.HandleFunc("POST /api/user", h.handleUser)
	mux.HandleFunc("POST /api/user/update-rewards", h.handleUpdateRewards)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return h.logRequests(mux)
}

// Server - HTTP сервер с привязкой к контексту
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
			// WriteTimeout не задан: заявка ждет подтверждения в сети
		},
		logger: logger.Named("http-server"),
	}
}

// Serve слушает до закрытия ln или вызова Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe открывает Addr и обслуживает запросы
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown ждет завершения активных запросов до истечения ctx
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
