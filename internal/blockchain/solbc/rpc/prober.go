// internal/blockchain/solbc/rpc/prober.go
package rpc

import (
	"context"
	"fmt"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober находит первый живой узел пула и возвращает привязанную к нему сессию.
type Prober struct {
	pool     *Pool
	timeout  time.Duration
	mode     ProbeMode
	observer ProbeObserver
	logger   *zap.Logger
}

// ProberOption настраивает Prober
type ProberOption func(*Prober)

// WithProbeTimeout задает таймаут одной проверки
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithProbeMode задает режим проверки (последовательный или гонка)
func WithProbeMode(mode ProbeMode) ProberOption {
	return func(p *Prober) {
		if mode != "" {
			p.mode = mode
		}
	}
}

// WithProbeObserver подключает сбор метрик проверок
func WithProbeObserver(o ProbeObserver) ProberOption {
	return func(p *Prober) {
		p.observer = o
	}
}

// NewProber создает Prober для пула
func NewProber(pool *Pool, logger *zap.Logger, opts ...ProberOption) *Prober {
	p := &Prober{
		pool:    pool,
		timeout: DefaultProbeTimeout,
		mode:    ProbeSequential,
		logger:  logger.Named("endpoint-prober"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pool возвращает пул узлов
func (p *Prober) Pool() *Pool {
	return p.pool
}

// Acquire возвращает сессию первого узла, ответившего на проверку.
// exclude - URL последнего использованного узла, он проверяется последним.
// Повторов внутри нет: при неудаче всех узлов возвращается ErrNoEndpointAvailable.
func (p *Prober) Acquire(ctx context.Context, exclude string) (*Session, error) {
	nodes := p.pool.Ordered(exclude)

	var (
		session *Session
		err     error
	)
	if p.mode == ProbeRace {
		session, err = p.race(ctx, nodes)
	} else {
		session, err = p.sequential(ctx, nodes)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info("Connected to RPC", zap.String("url", session.URL()))
	return session, nil
}

func (p *Prober) sequential(ctx context.Context, nodes []*Node) (*Session, error) {
	var lastErr error
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.probe(ctx, node); err != nil {
			lastErr = err
			p.logger.Warn("Failed to connect, trying next endpoint",
				zap.String("url", node.Endpoint.URL),
				zap.Error(err))
			continue
		}
		return &Session{Endpoint: node.Endpoint, Conn: node.Conn}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoEndpointAvailable, lastErr)
}

// race проверяет все узлы параллельно и берет первый успешный ответ.
func (p *Prober) race(ctx context.Context, nodes []*Node) (*Session, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	winners := make(chan *Node, len(nodes))
	errs := make(chan error, len(nodes))

	g, gCtx := errgroup.WithContext(raceCtx)
	for _, node := range nodes {
		g.Go(func() error {
			if err := p.probe(gCtx, node); err != nil {
				errs <- err
				return nil
			}
			winners <- node
			cancel()
			return nil
		})
	}
	_ = g.Wait()
	close(winners)
	close(errs)

	if node, ok := <-winners; ok {
		return &Session{Endpoint: node.Endpoint, Conn: node.Conn}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lastErr error
	for err := range errs {
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrNoEndpointAvailable, lastErr)
}

// probe выполняет дешевый запрос последнего blockhash с ограничением по времени.
func (p *Prober) probe(ctx context.Context, node *Node) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	_, err := node.Conn.GetLatestBlockhash(probeCtx, solanarpc.CommitmentConfirmed)
	latency := time.Since(start)

	if p.observer != nil {
		p.observer.RecordProbe(node.Endpoint.URL, err == nil, latency)
	}
	if err != nil {
		if probeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = ErrProbeTimeout
		}
		return NewError(err, node.Endpoint.URL, "getLatestBlockhash")
	}
	return nil
}
