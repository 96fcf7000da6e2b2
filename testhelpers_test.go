package dorismcp

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhenghao-lu/doris-mcp/internal/catalog"
	"github.com/zhenghao-lu/doris-mcp/internal/pool"
)

// fakeBackend is an in-memory driver standing in for a Doris FE. Results
// are registered per statement; the pipeline runs against real *sql.Rows.
type fakeBackend struct {
	mu      sync.Mutex
	results map[string]fakeResult
	errs    map[string]error
	delays  map[string]time.Duration
	calls   map[string]int
}

type fakeResult struct {
	columns []string
	rows    [][]driver.Value
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		results: make(map[string]fakeResult),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]int),
	}
}

func (b *fakeBackend) on(statement string, columns []string, rows ...[]driver.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[statement] = fakeResult{columns: columns, rows: rows}
}

func (b *fakeBackend) failWith(statement string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[statement] = err
}

func (b *fakeBackend) delay(statement string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delays[statement] = d
}

func (b *fakeBackend) callCount(statement string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[statement]
}

func (b *fakeBackend) totalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

// driver plumbing

type fakeConnector struct{ backend *fakeBackend }

func (c *fakeConnector) Connect(ctx context.Context) (driver.Conn, error) {
	return &fakeDriverConn{backend: c.backend}, nil
}

func (c *fakeConnector) Driver() driver.Driver { return fakeDriverImpl{} }

type fakeDriverImpl struct{}

func (fakeDriverImpl) Open(name string) (driver.Conn, error) {
	return nil, errors.New("use the connector")
}

type fakeDriverConn struct{ backend *fakeBackend }

func (c *fakeDriverConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeDriverConn) Close() error { return nil }

func (c *fakeDriverConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *fakeDriverConn) Ping(ctx context.Context) error { return nil }

func (c *fakeDriverConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.backend.mu.Lock()
	c.backend.calls[query]++
	res, ok := c.backend.results[query]
	errv := c.backend.errs[query]
	delay := c.backend.delays[query]
	c.backend.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if errv != nil {
		return nil, errv
	}
	if !ok {
		return &fakeDriverRows{}, nil
	}
	return &fakeDriverRows{columns: res.columns, rows: res.rows}, nil
}

type fakeDriverRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *fakeDriverRows) Columns() []string { return r.columns }
func (r *fakeDriverRows) Close() error      { return nil }

func (r *fakeDriverRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

// engine construction

func testCatalogs() []catalog.Handle {
	return []catalog.Handle{
		{Name: "internal", Type: catalog.TypeInternal, Backend: "internal"},
		{Name: "hive_prod", Type: catalog.TypeExternal, Backend: "hive"},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Pool.MinConns = 1
	cfg.Pool.MaxConns = 4
	cfg.Pool.ConnectionTimeoutSeconds = 2
	cfg.Audit.MemoryBuffer = 100
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, backend *fakeBackend, opts ...Option) *DorisMcp {
	t.Helper()
	db := sql.OpenDB(&fakeConnector{backend: backend})
	db.SetMaxIdleConns(0)
	dialer := func(ctx context.Context) (pool.Conn, error) {
		return db.Conn(ctx)
	}
	lister := catalog.ListerFunc(func(ctx context.Context) ([]catalog.Handle, error) {
		return testCatalogs(), nil
	})

	allOpts := append([]Option{WithDialer(dialer), WithCatalogLister(lister)}, opts...)
	d, err := New(context.Background(), "", cfg, zerolog.Nop(), allOpts...)
	if err != nil {
		t.Fatalf("engine construction: %v", err)
	}
	t.Cleanup(func() {
		d.Close(context.Background())
		db.Close()
	})
	return d
}

func internalContext() SecurityContext {
	return SecurityContext{
		PrincipalID:   "analyst",
		AuthMethod:    "token",
		Level:         LevelInternal,
		AllowedTables: []string{"*"},
		SessionID:     "session-1",
	}
}

func secretContext() SecurityContext {
	return SecurityContext{
		PrincipalID:   "admin",
		AuthMethod:    "token",
		Level:         LevelSecret,
		AllowedTables: []string{"*"},
		SessionID:     "session-2",
	}
}
