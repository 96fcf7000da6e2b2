// Package pool owns the physical backend connections: min/max sizing,
// acquire with timeout, health-probed release, and background eviction of
// aged or broken connections. The pool is the sole owner of every physical
// connection it creates; callers lease and must return, never retain.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrExhausted is returned when no connection becomes available within the
// acquire timeout.
var ErrExhausted = errors.New("pool: exhausted")

// ErrClosed is returned for operations on a closed pool.
var ErrClosed = errors.New("pool: closed")

// Conn is the surface of one physical backend connection. *sql.Conn
// satisfies it; tests use fakes.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Dialer opens one physical backend connection.
type Dialer func(ctx context.Context) (Conn, error)

// PooledConn is a leased connection plus its pool bookkeeping. It must be
// returned through Release and never used after that.
type PooledConn struct {
	Conn
	id        int64
	createdAt time.Time
	lastUsed  time.Time
}

// Age returns how long ago the physical connection was created.
func (p *PooledConn) Age() time.Duration {
	return time.Since(p.createdAt)
}

// IdleFor returns how long the connection has been unused.
func (p *PooledConn) IdleFor() time.Duration {
	return time.Since(p.lastUsed)
}

// Config is the pool's own config type.
type Config struct {
	Min                 int
	Max                 int
	AcquireTimeout      time.Duration
	HealthCheckInterval time.Duration
	MaxConnAge          time.Duration
	// DialRetries and DialBackoff govern replacement dialing only.
	// Statement execution is never retried here.
	DialRetries int
	DialBackoff time.Duration
}

// Pool is safe for concurrent use.
type Pool struct {
	config Config
	dial   Dialer
	logger zerolog.Logger

	mu     sync.Mutex
	total  int // connections alive or being dialed
	nextID int64
	closed bool

	free chan *PooledConn

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a pool and eagerly opens Min connections. Dial failures during
// startup are logged, not fatal; the background sweeper keeps retrying.
// Panics on invalid sizing config.
func New(config Config, dial Dialer, logger zerolog.Logger) *Pool {
	if dial == nil {
		panic("pool: dialer must not be nil")
	}
	if config.Max <= 0 {
		panic("pool: max must be > 0")
	}
	if config.Min < 0 || config.Min > config.Max {
		panic(fmt.Sprintf("pool: min %d must be within [0, max %d]", config.Min, config.Max))
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 30 * time.Second
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = time.Minute
	}
	if config.MaxConnAge <= 0 {
		config.MaxConnAge = time.Hour
	}
	if config.DialRetries <= 0 {
		config.DialRetries = 3
	}
	if config.DialBackoff <= 0 {
		config.DialBackoff = 100 * time.Millisecond
	}

	p := &Pool{
		config: config,
		dial:   dial,
		logger: logger,
		free:   make(chan *PooledConn, config.Max),
		stop:   make(chan struct{}),
	}

	for i := 0; i < config.Min; i++ {
		pc, err := p.open(context.Background())
		if err != nil {
			p.logger.Warn().Err(err).Msg("pool: eager open failed, deferring to sweeper")
			break
		}
		p.free <- pc
	}

	p.wg.Add(1)
	go p.sweeper()
	return p
}

// Acquire leases a connection, blocking up to the configured acquire timeout
// (or ctx, whichever ends first) when the pool is at max. Stale connections
// found on the free list are discarded and never handed out.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		p.mu.Unlock()

		// Fast path: a free connection.
		select {
		case pc := <-p.free:
			if p.stale(pc) {
				p.destroy(pc)
				continue
			}
			pc.lastUsed = time.Now()
			return pc, nil
		default:
		}

		// No free connection: open a new one if under max.
		p.mu.Lock()
		if p.total < p.config.Max {
			p.total++ // reserve before dialing so max is never exceeded
			p.mu.Unlock()
			pc, err := p.openReserved(ctx)
			if err != nil {
				return nil, err
			}
			pc.lastUsed = time.Now()
			return pc, nil
		}
		p.mu.Unlock()

		// At max: wait for a release, the timeout, or cancellation.
		select {
		case pc := <-p.free:
			if p.stale(pc) {
				p.destroy(pc)
				continue
			}
			pc.lastUsed = time.Now()
			return pc, nil
		case <-timer.C:
			return nil, fmt.Errorf("%w: no connection within %s", ErrExhausted, p.config.AcquireTimeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrExhausted, ctx.Err())
		case <-p.stop:
			return nil, ErrClosed
		}
	}
}

// Release returns a leased connection. healthy=false marks the connection
// suspect (after a timeout or backend error); it is probed asynchronously
// and either requeued or discarded and replaced, never reused unprobed.
func (p *Pool) Release(pc *PooledConn, healthy bool) {
	if pc == nil {
		return
	}
	if p.stale(pc) {
		p.destroy(pc)
		p.replenish()
		return
	}
	if !healthy {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.probeAndRequeue(pc)
		}()
		return
	}
	pc.lastUsed = time.Now()
	p.requeue(pc)
}

// Close shuts down the sweeper and closes every free connection. Leased
// connections are closed as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()

	for {
		select {
		case pc := <-p.free:
			p.destroy(pc)
		default:
			return
		}
	}
}

// Stats returns live connection counts.
func (p *Pool) Stats() (total, free int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, len(p.free)
}

// open dials a new connection and accounts for it.
func (p *Pool) open(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	p.total++
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	pc, err := p.finishOpen(ctx, id)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	return pc, nil
}

// openReserved dials after the caller has already incremented total.
func (p *Pool) openReserved(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	pc, err := p.finishOpen(ctx, id)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	return pc, nil
}

func (p *Pool) finishOpen(ctx context.Context, id int64) (*PooledConn, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: dial failed: %w", err)
	}
	now := time.Now()
	return &PooledConn{Conn: conn, id: id, createdAt: now, lastUsed: now}, nil
}

func (p *Pool) stale(pc *PooledConn) bool {
	return pc.Age() > p.config.MaxConnAge
}

func (p *Pool) destroy(pc *PooledConn) {
	_ = pc.Conn.Close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// requeue puts a connection back on the free list, or destroys it if the
// pool is closed.
func (p *Pool) requeue(pc *PooledConn) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.destroy(pc)
		return
	}
	select {
	case p.free <- pc:
	default:
		// Free list full can only happen on accounting bugs; never block.
		p.destroy(pc)
	}
}

// probeAndRequeue pings a suspect connection; failures discard it and
// trigger an asynchronous replacement toward min.
func (p *Pool) probeAndRequeue(pc *PooledConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pc.PingContext(ctx); err != nil {
		p.logger.Debug().Err(err).Int64("conn_id", pc.id).Msg("pool: probe failed, discarding connection")
		p.destroy(pc)
		p.replenish()
		return
	}
	pc.lastUsed = time.Now()
	p.requeue(pc)
}

// replenish asynchronously restores the pool toward min with capped backoff.
func (p *Pool) replenish() {
	p.mu.Lock()
	if p.closed || p.total >= p.config.Min {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		backoff := p.config.DialBackoff
		for attempt := 0; attempt < p.config.DialRetries; attempt++ {
			p.mu.Lock()
			if p.closed || p.total >= p.config.Min {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()

			pc, err := p.open(context.Background())
			if err == nil {
				p.requeue(pc)
				return
			}
			p.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("pool: replacement dial failed")
			select {
			case <-time.After(backoff):
			case <-p.stop:
				return
			}
			backoff *= 2
		}
	}()
}

// sweeper periodically evicts aged connections, probes idle ones, and tops
// the pool back up to min.
func (p *Pool) sweeper() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	// Drain the free list once; connections in flight are untouched.
	var batch []*PooledConn
drain:
	for {
		select {
		case pc := <-p.free:
			batch = append(batch, pc)
		default:
			break drain
		}
	}
	for _, pc := range batch {
		if p.stale(pc) {
			p.logger.Debug().Int64("conn_id", pc.id).Msg("pool: evicting aged connection")
			p.destroy(pc)
			continue
		}
		if pc.IdleFor() >= p.config.HealthCheckInterval {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := pc.PingContext(ctx)
			cancel()
			if err != nil {
				p.logger.Debug().Err(err).Int64("conn_id", pc.id).Msg("pool: evicting unhealthy connection")
				p.destroy(pc)
				continue
			}
		}
		p.requeue(pc)
	}

	// Top back up to min.
	for {
		p.mu.Lock()
		need := p.config.Min - p.total
		closed := p.closed
		p.mu.Unlock()
		if closed || need <= 0 {
			return
		}
		pc, err := p.open(context.Background())
		if err != nil {
			p.logger.Warn().Err(err).Msg("pool: top-up dial failed")
			return
		}
		p.requeue(pc)
	}
}
