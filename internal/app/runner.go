// internal/app/runner.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/presale-transfer/internal/api"
	"github.com/rovshanmuradov/presale-transfer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/presale-transfer/internal/config"
	"github.com/rovshanmuradov/presale-transfer/internal/metrics"
	"github.com/rovshanmuradov/presale-transfer/internal/storage"
	"github.com/rovshanmuradov/presale-transfer/internal/storage/memory"
	"github.com/rovshanmuradov/presale-transfer/internal/storage/postgres"
	"github.com/rovshanmuradov/presale-transfer/internal/storage/sqlite"
	"github.com/rovshanmuradov/presale-transfer/internal/transfer"
	"github.com/rovshanmuradov/presale-transfer/internal/wallet"
)

// Runner собирает компоненты сервиса и управляет их жизненным циклом
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	dial     rpc.DialFunc
	registry *prometheus.Registry

	store   storage.Backend
	service *transfer.Service
	server  *api.Server
}

type RunnerOption func(*Runner)

// WithDialer подменяет создание RPC соединений
func WithDialer(dial rpc.DialFunc) RunnerOption {
	return func(r *Runner) {
		r.dial = dial
	}
}

func NewRunner(cfg *config.Config, logger *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		dial:     rpc.Dial,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize создает хранилище, пул узлов, пайплайн перевода и HTTP сервер
func (r *Runner) Initialize(ctx context.Context) error {
	r.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(r.registry)

	sender, err := wallet.NewWallet(r.cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	mint, err := r.cfg.Mint()
	if err != nil {
		return err
	}
	calc, err := r.cfg.Calculator()
	if err != nil {
		return err
	}

	store, err := OpenStorage(ctx, r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.store = store
	dir := storage.NewDirectory(store, r.logger)

	pool, err := rpc.NewPool(r.cfg.RPCList, r.dial)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	prober := rpc.NewProber(pool, r.logger,
		rpc.WithProbeTimeout(r.cfg.ProbeTimeout),
		rpc.WithProbeMode(rpc.ProbeMode(r.cfg.ProbeMode)),
		rpc.WithProbeObserver(collector))

	minPaid, maxPaid := r.cfg.PaidAmountBounds()
	builder := transfer.NewBuilder(calc, sender, mint, minPaid, maxPaid, r.logger,
		transfer.WithAccountCheckTimeout(r.cfg.RPCTimeout))

	submitter, err := transfer.NewSubmitter(prober, sender, sender.PublicKey, r.cfg.FeeTiers, r.cfg.TierDelay, r.logger,
		transfer.WithSubmitObserver(collector),
		transfer.WithCallTimeout(r.cfg.RPCTimeout))
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	poller := transfer.NewPoller(transfer.PollerConfig{
		AttemptTimeout: r.cfg.ConfirmTimeout,
		MaxRetries:     r.cfg.ConfirmRetries,
		RetryDelay:     r.cfg.ConfirmDelay,
		PollInterval:   r.cfg.ConfirmPollInterval,
		CallTimeout:    r.cfg.RPCTimeout,
	}, r.logger, transfer.WithConfirmObserver(collector))

	rewards, err := transfer.NewRewardUpdater(dir, calc, r.cfg.RewardTimeout, r.logger,
		transfer.WithRewardObserver(collector))
	if err != nil {
		return err
	}

	r.service = transfer.NewService(builder, prober, submitter, poller, rewards, r.logger,
		transfer.WithTransferLog(dir),
		transfer.WithTransferObserver(collector))

	handler := api.NewHandler(r.service, dir, dir, r.registry, r.logger)
	r.server = api.NewServer(r.cfg.ListenAddr, handler.Routes(), r.logger)

	r.logger.Info("Service initialized",
		zap.String("sender", sender.PublicKey.String()),
		zap.String("mint", mint.String()),
		zap.Int("endpoints", pool.Len()),
		zap.Int("fee_tiers", len(r.cfg.FeeTiers)),
		zap.String("storage", r.cfg.StorageDriver))
	return nil
}

// Run обслуживает HTTP до SIGINT/SIGTERM или отмены ctx, затем
// дожидается активных заявок в пределах ShutdownTimeout.
func (r *Runner) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.ListenAddr, err)
	}
	return r.Serve(ctx, ln)
}

// Serve - Run на готовом listener
func (r *Runner) Serve(ctx context.Context, ln net.Listener) error {
	if r.server == nil {
		return errors.New("runner is not initialized")
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return r.server.Serve(ln)
	})
	g.Go(func() error {
		<-gCtx.Done()
		r.logger.Info("Shutdown requested", zap.Error(context.Cause(gCtx)))

		// заявки в работе досылают транзакции, не обрываем их вместе с ctx
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ShutdownTimeout)
		defer cancel()
		return r.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown освобождает хранилище
func (r *Runner) Shutdown() {
	r.logger.Info("Service shutting down")
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("Failed to close storage", zap.Error(err))
		}
	}
}

// OpenStorage открывает хранилище выбранного драйвера
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Backend, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case config.StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return store, nil
	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.NewStore(pool), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrConfiguration, cfg.StorageDriver)
	}
}
