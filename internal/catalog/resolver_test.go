package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func staticLister(calls *atomic.Int64, handles ...Handle) Lister {
	return ListerFunc(func(ctx context.Context) ([]Handle, error) {
		if calls != nil {
			calls.Add(1)
		}
		return handles, nil
	})
}

var testCatalogs = []Handle{
	{Name: "internal", Type: TypeInternal, Backend: "olap"},
	{Name: "hive_catalog", Type: TypeExternal, Backend: "hive"},
	{Name: "iceberg_catalog", Type: TypeExternal, Backend: "iceberg"},
}

func TestResolveThreePartName(t *testing.T) {
	t.Parallel()
	r := NewResolver(Config{RefreshInterval: time.Minute}, staticLister(nil, testCatalogs...))
	h, parts, err := r.Resolve(context.Background(), "internal.db.customers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Name != "internal" || h.Type != TypeInternal {
		t.Errorf("unexpected handle %+v", h)
	}
	if parts.String() != "internal.db.customers" {
		t.Errorf("unexpected parts %v", parts)
	}
}

func TestRejectShortNamesByDefault(t *testing.T) {
	t.Parallel()
	r := NewResolver(Config{}, staticLister(nil, testCatalogs...))
	for _, id := range []string{"users", "db.users"} {
		_, _, err := r.Resolve(context.Background(), id)
		var unres *UnresolvedError
		if !errors.As(err, &unres) {
			t.Errorf("%q: expected UnresolvedError, got %v", id, err)
		}
	}
}

func TestPermissiveAutoQualify(t *testing.T) {
	t.Parallel()
	r := NewResolver(Config{
		Permissive:      true,
		DefaultCatalog:  "internal",
		DefaultDatabase: "db",
	}, staticLister(nil, testCatalogs...))

	_, parts, err := r.Resolve(context.Background(), "db.users")
	if err != nil {
		t.Fatalf("two-part: %v", err)
	}
	if parts.Catalog != "internal" {
		t.Errorf("expected default catalog, got %q", parts.Catalog)
	}

	_, parts, err = r.Resolve(context.Background(), "users")
	if err != nil {
		t.Fatalf("one-part: %v", err)
	}
	if parts.String() != "internal.db.users" {
		t.Errorf("expected internal.db.users, got %v", parts)
	}
}

func TestUnknownCatalogRejectedWithoutBackendTrip(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	r := NewResolver(Config{RefreshInterval: time.Minute}, staticLister(&calls, testCatalogs...))

	if _, _, err := r.Resolve(context.Background(), "internal.db.t"); err != nil {
		t.Fatalf("warm-up resolve: %v", err)
	}
	first := calls.Load()

	_, _, err := r.Resolve(context.Background(), "bogus.db.t")
	var unres *UnresolvedError
	if !errors.As(err, &unres) {
		t.Fatalf("expected UnresolvedError, got %v", err)
	}
	if calls.Load() != first {
		t.Errorf("invalid catalog must be rejected from cache, lister called %d extra times", calls.Load()-first)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	r := NewResolver(Config{RefreshInterval: time.Hour}, staticLister(&calls, testCatalogs...))

	r.Resolve(context.Background(), "internal.db.t")
	r.Resolve(context.Background(), "internal.db.t")
	if calls.Load() != 1 {
		t.Fatalf("expected single fetch, got %d", calls.Load())
	}
	r.Invalidate()
	r.Resolve(context.Background(), "internal.db.t")
	if calls.Load() != 2 {
		t.Errorf("expected refetch after invalidate, got %d calls", calls.Load())
	}
}

func TestStaleListServedOnListerFailure(t *testing.T) {
	t.Parallel()
	failing := false
	lister := ListerFunc(func(ctx context.Context) ([]Handle, error) {
		if failing {
			return nil, errors.New("backend down")
		}
		return testCatalogs, nil
	})
	r := NewResolver(Config{RefreshInterval: time.Nanosecond}, lister)

	if _, _, err := r.Resolve(context.Background(), "internal.db.t"); err != nil {
		t.Fatalf("warm-up: %v", err)
	}
	failing = true
	time.Sleep(time.Millisecond)
	if _, _, err := r.Resolve(context.Background(), "internal.db.t"); err != nil {
		t.Errorf("stale list should serve while backend is down: %v", err)
	}
}

func TestEmptyAndMalformedIdentifiers(t *testing.T) {
	t.Parallel()
	r := NewResolver(Config{}, staticLister(nil, testCatalogs...))
	for _, id := range []string{"", "  ", "a..b", ".a.b", "a.b.c.d"} {
		_, _, err := r.Resolve(context.Background(), id)
		var unres *UnresolvedError
		if !errors.As(err, &unres) {
			t.Errorf("%q: expected UnresolvedError, got %v", id, err)
		}
	}
}
