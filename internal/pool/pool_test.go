package pool

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn is a fake physical connection.
type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	pingErr  error
	pingged  int
	closedAt time.Time
}

func (f *fakeConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("fakeConn: not a real backend")
}

func (f *fakeConn) PingContext(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingged++
	return f.pingErr
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closedAt = time.Now()
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials atomic.Int64
}

func (d *fakeDialer) dial(ctx context.Context) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestPool(t *testing.T, config Config, d *fakeDialer) *Pool {
	t.Helper()
	p := New(config, d.dial, testLogger())
	t.Cleanup(p.Close)
	return p
}

func TestEagerMinConnections(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 3, Max: 5, HealthCheckInterval: time.Hour}, d)
	total, free := p.Stats()
	if total != 3 || free != 3 {
		t.Errorf("expected 3 eager connections, got total=%d free=%d", total, free)
	}
}

func TestAcquireReusesFreeConnection(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 1, Max: 2, HealthCheckInterval: time.Hour}, d)

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release(pc, true)

	pc2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Release(pc2, true)

	if d.dials.Load() != 1 {
		t.Errorf("expected the free connection reused, got %d dials", d.dials.Load())
	}
}

func TestPoolNeverExceedsMax(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 0, Max: 3, AcquireTimeout: 50 * time.Millisecond, HealthCheckInterval: time.Hour}, d)

	var leased []*PooledConn
	for i := 0; i < 3; i++ {
		pc, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		leased = append(leased, pc)
	}
	total, _ := p.Stats()
	if total != 3 {
		t.Fatalf("expected 3 live connections, got %d", total)
	}

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted at max, got %v", err)
	}
	for _, pc := range leased {
		p.Release(pc, true)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 1, Max: 1, AcquireTimeout: 2 * time.Second, HealthCheckInterval: time.Hour}, d)

	first, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan *PooledConn, 1)
	go func() {
		pc, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("second acquire: %v", err)
			acquired <- nil
			return
		}
		acquired <- pc
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while the only connection is leased")
	case <-time.After(100 * time.Millisecond):
	}

	p.Release(first, true)
	select {
	case pc := <-acquired:
		if pc != nil {
			p.Release(pc, true)
		}
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestAcquireTimesOutWhenSaturated(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 1, Max: 1, AcquireTimeout: 60 * time.Millisecond, HealthCheckInterval: time.Hour}, d)

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(pc, true)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("acquire returned before the timeout elapsed")
	}
}

func TestUnhealthyReleaseProbesBeforeReuse(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 1, Max: 1, HealthCheckInterval: time.Hour}, d)

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	fc := pc.Conn.(*fakeConn)
	p.Release(pc, false)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fc.mu.Lock()
		n := fc.pingged
		fc.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("suspect connection was not probed after unhealthy release")
}

func TestBrokenConnectionDiscardedAndReplaced(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 1, Max: 2, HealthCheckInterval: time.Hour, DialBackoff: time.Millisecond}, d)

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	fc := pc.Conn.(*fakeConn)
	fc.mu.Lock()
	fc.pingErr = errors.New("gone away")
	fc.mu.Unlock()

	p.Release(pc, false)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fc.isClosed() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !fc.isClosed() {
		t.Fatal("broken connection was not discarded")
	}

	// The pool replaces it toward min.
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		total, _ := p.Stats()
		if total >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("discarded connection was not replaced toward min")
}

func TestAgedConnectionNeverHandedOut(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 1, Max: 2, MaxConnAge: 30 * time.Millisecond, HealthCheckInterval: time.Hour}, d)

	time.Sleep(60 * time.Millisecond) // let the eager connection age out

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(pc, true)
	if pc.Age() > 30*time.Millisecond {
		t.Errorf("received a connection older than max age: %v", pc.Age())
	}
	if d.dials.Load() < 2 {
		t.Errorf("expected a fresh dial replacing the aged connection, got %d dials", d.dials.Load())
	}
}

func TestSweeperEvictsAgedConnections(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := newTestPool(t, Config{Min: 0, Max: 2, MaxConnAge: 20 * time.Millisecond, HealthCheckInterval: 25 * time.Millisecond}, d)

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	fc := pc.Conn.(*fakeConn)
	p.Release(pc, true)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fc.isClosed() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("sweeper did not evict the aged connection")
}

func TestDialFailureSurfacesError(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{err: errors.New("connection refused")}
	p := newTestPool(t, Config{Min: 0, Max: 2, AcquireTimeout: 50 * time.Millisecond, HealthCheckInterval: time.Hour}, d)

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Error("expected dial error to surface")
	}
	total, _ := p.Stats()
	if total != 0 {
		t.Errorf("failed dial must not leak accounting, total=%d", total)
	}
}

func TestAcquireAfterClose(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	p := New(Config{Min: 0, Max: 1, HealthCheckInterval: time.Hour}, d.dial, testLogger())
	p.Close()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentAcquireReleaseWithinBounds(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	const max = 4
	p := newTestPool(t, Config{Min: 1, Max: max, AcquireTimeout: 2 * time.Second, HealthCheckInterval: time.Hour}, d)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			p.Release(pc, true)
		}()
	}
	wg.Wait()

	if peak.Load() > max {
		t.Errorf("in-flight leases %d exceeded max %d", peak.Load(), max)
	}
	total, _ := p.Stats()
	if total > max {
		t.Errorf("live connections %d exceeded max %d", total, max)
	}
}
