package storage

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
)

// PoolConfig mirrors the §5 connection-pool knobs: a FIFO waiter queue on
// top of a bounded set of underlying *sql.Conn connections.
type PoolConfig struct {
	MinConnections    int
	MaxConnections    int
	AcquireTimeout    time.Duration
	IdleTimeout       time.Duration
	TestOnBorrow      bool
	ValidationPeriod  time.Duration // how often the background sweep runs; defaults to 60s
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.MinConnections < 0 {
		c.MinConnections = 0
	}
	if c.MinConnections > c.MaxConnections {
		c.MinConnections = c.MaxConnections
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ValidationPeriod <= 0 {
		c.ValidationPeriod = 60 * time.Second
	}
	return c
}

// pooledConn is one physical connection tracked by the pool. inTx guards
// against nested transactions on the same connection, per §5.
type pooledConn struct {
	conn      *sql.Conn
	createdAt time.Time
	lastUsed  time.Time
	inTx      bool
}

type waiter struct {
	ch chan *pooledConn
}

// Pool is the explicit acquire/release connection pool described in §5:
// a total set, an available set, an in-use set, and a FIFO waiter queue.
// It is built on top of database/sql's own *sql.DB (which owns the actual
// network/file connections) so that every pooledConn is a real, usable
// *sql.Conn; the pool adds the visible accounting and waiter semantics the
// spec requires on top.
type Pool struct {
	db     *sql.DB
	cfg    PoolConfig
	logger log.Logger

	mu         sync.Mutex
	available  []*pooledConn
	inUse      map[*pooledConn]struct{}
	waiters    []*waiter
	total      int
	closed     bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewPool opens db and primes it with cfg.MinConnections connections, each
// tuned per §5's connection-level policy.
func NewPool(ctx context.Context, db *sql.DB, cfg PoolConfig, logger log.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	db.SetMaxOpenConns(cfg.MaxConnections)

	p := &Pool{
		db:        db,
		cfg:       cfg,
		logger:    logger,
		inUse:     make(map[*pooledConn]struct{}),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	for i := 0; i < cfg.MinConnections; i++ {
		pc, err := p.newConn(ctx)
		if err != nil {
			return nil, connErr(err)
		}
		p.available = append(p.available, pc)
	}

	go p.sweepLoop()
	return p, nil
}

func (p *Pool) newConn(ctx context.Context) (*pooledConn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := tuneConnection(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	p.total++
	now := time.Now()
	return &pooledConn{conn: conn, createdAt: now, lastUsed: now}, nil
}

// tuneConnection applies the §5 connection-level policy: WAL journaling,
// normal synchronous durability, an in-memory temp store, a 256MiB mmap
// region, and a 10,000-page cache.
func tuneConnection(ctx context.Context, conn *sql.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA mmap_size=268435456",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Acquire returns an available connection, creates a new one if the pool
// has headroom, or enqueues as a FIFO waiter bounded by
// cfg.AcquireTimeout (or ctx's own deadline, whichever is sooner).
func (p *Pool) Acquire(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, connErr(errPoolClosed)
	}

	for len(p.available) > 0 {
		pc := p.available[0]
		p.available = p.available[1:]
		if p.cfg.TestOnBorrow && !p.validate(ctx, pc) {
			p.replace(ctx, pc)
			continue
		}
		p.inUse[pc] = struct{}{}
		p.mu.Unlock()
		return pc, nil
	}

	if p.total < p.cfg.MaxConnections {
		pc, err := p.newConn(ctx)
		if err != nil {
			p.mu.Unlock()
			return nil, connErr(err)
		}
		p.inUse[pc] = struct{}{}
		p.mu.Unlock()
		return pc, nil
	}

	w := &waiter{ch: make(chan *pooledConn, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case pc := <-w.ch:
		if pc == nil {
			return nil, connErr(errPoolClosed)
		}
		return pc, nil
	case <-timer.C:
		p.removeWaiter(w)
		return nil, timeoutErr()
	case <-ctx.Done():
		p.removeWaiter(w)
		return nil, connErr(ctx.Err())
	}
}

func (p *Pool) removeWaiter(target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Release hands pc to the oldest waiter if any, otherwise returns it to
// the available set.
func (p *Pool) Release(pc *pooledConn) {
	pc.lastUsed = time.Now()
	pc.inTx = false

	p.mu.Lock()
	delete(p.inUse, pc)
	if p.closed {
		p.mu.Unlock()
		pc.conn.Close()
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.inUse[pc] = struct{}{}
		p.mu.Unlock()
		w.ch <- pc
		return
	}
	p.available = append(p.available, pc)
	p.mu.Unlock()
}

func (p *Pool) validate(ctx context.Context, pc *pooledConn) bool {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return pc.conn.PingContext(cctx) == nil
}

// replace closes an invalid connection and, best-effort, opens a
// replacement so pool capacity does not shrink on validation failure.
func (p *Pool) replace(ctx context.Context, bad *pooledConn) {
	bad.conn.Close()
	p.total--
	level.Warn(p.logger).Log("msg", "replacing invalid pooled connection")
	if fresh, err := p.newConn(ctx); err == nil {
		p.available = append(p.available, fresh)
	}
}

// sweepLoop runs every ValidationPeriod: it validates idle connections,
// drops the ones that fail, and refills the pool back up to MinConnections.
func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.cfg.ValidationPeriod)
	defer ticker.Stop()
	b := backoff.New(context.Background(), backoff.Config{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		MaxRetries: 3,
	})
	for {
		select {
		case <-ticker.C:
			p.sweepOnce(b)
		case <-p.stopSweep:
			return
		}
	}
}

func (p *Pool) sweepOnce(b *backoff.Backoff) {
	ctx := context.Background()
	p.mu.Lock()
	stale := append([]*pooledConn(nil), p.available...)
	p.available = p.available[:0]
	p.mu.Unlock()

	var kept []*pooledConn
	for _, pc := range stale {
		if p.validate(ctx, pc) {
			kept = append(kept, pc)
			continue
		}
		pc.conn.Close()
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.available = append(p.available, kept...)
	need := p.cfg.MinConnections - (p.total)
	p.mu.Unlock()

	b.Reset()
	for i := 0; i < need; i++ {
		pc, err := p.newConn(ctx)
		if err != nil {
			level.Warn(p.logger).Log("msg", "failed to refill pool", "err", err)
			if !b.Ongoing() {
				break
			}
			b.Wait()
			continue
		}
		p.mu.Lock()
		p.available = append(p.available, pc)
		p.mu.Unlock()
	}
}

// Close cancels every waiter and closes all connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	avail := p.available
	p.available = nil
	inUse := p.inUse
	p.inUse = make(map[*pooledConn]struct{})
	p.mu.Unlock()

	for _, w := range waiters {
		w.ch <- nil
	}
	for _, pc := range avail {
		pc.conn.Close()
	}
	for pc := range inUse {
		pc.conn.Close()
	}

	close(p.stopSweep)
	<-p.sweepDone
	return p.db.Close()
}

// Stats is a snapshot of pool occupancy, suitable for Prometheus gauges.
type Stats struct {
	Total     int
	Available int
	InUse     int
	Waiters   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:     p.total,
		Available: len(p.available),
		InUse:     len(p.inUse),
		Waiters:   len(p.waiters),
	}
}
