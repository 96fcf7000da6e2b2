// Package catalog resolves three-part table identifiers
// (catalog.database.table) against the cluster's catalog list.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Type distinguishes cluster-internal catalogs from externally federated ones.
type Type string

const (
	TypeInternal Type = "internal"
	TypeExternal Type = "external"
)

// Handle is a resolved, routable catalog reference.
type Handle struct {
	Name    string
	Type    Type
	Backend string // backend descriptor, e.g. the FE connector type
}

// Parts is a fully qualified table identifier.
type Parts struct {
	Catalog  string
	Database string
	Table    string
}

func (p Parts) String() string {
	return p.Catalog + "." + p.Database + "." + p.Table
}

// UnresolvedError reports an identifier that could not be resolved.
type UnresolvedError struct {
	Identifier string
	Reason     string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Identifier, e.Reason)
}

// Lister fetches the current catalog list from the backend. The resolver
// calls it at most once per refresh interval.
type Lister interface {
	ListCatalogs(ctx context.Context) ([]Handle, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context) ([]Handle, error)

func (f ListerFunc) ListCatalogs(ctx context.Context) ([]Handle, error) {
	return f(ctx)
}

// Config is the resolver's own config type.
type Config struct {
	// Permissive auto-qualifies one- and two-part identifiers with the
	// defaults below instead of rejecting them.
	Permissive      bool
	DefaultCatalog  string
	DefaultDatabase string
	// RefreshInterval bounds how stale the cached catalog list may be.
	RefreshInterval time.Duration
}

// Resolver validates identifiers and maps catalog names to handles. The
// catalog list is cached and refreshed lazily on expiry or explicit
// invalidation, so invalid catalogs are rejected without a backend trip.
type Resolver struct {
	config Config
	lister Lister

	mu        sync.Mutex
	catalogs  map[string]Handle
	fetchedAt time.Time
}

// NewResolver creates a Resolver. Panics if permissive mode is enabled
// without a default catalog, or no lister is supplied.
func NewResolver(config Config, lister Lister) *Resolver {
	if lister == nil {
		panic("catalog: lister must not be nil")
	}
	if config.Permissive && config.DefaultCatalog == "" {
		panic("catalog: permissive mode requires a default catalog")
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = time.Minute
	}
	return &Resolver{config: config, lister: lister}
}

// Resolve validates one table identifier and returns the catalog handle it
// routes to plus the fully qualified parts. Identifiers must have exactly
// three dot-separated parts unless permissive mode fills in defaults.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (Handle, Parts, error) {
	parts, err := r.qualify(identifier)
	if err != nil {
		return Handle{}, Parts{}, err
	}

	handle, err := r.lookup(ctx, parts.Catalog)
	if err != nil {
		return Handle{}, Parts{}, err
	}
	return handle, parts, nil
}

// Invalidate drops the cached catalog list; the next Resolve refetches.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogs = nil
	r.fetchedAt = time.Time{}
}

func (r *Resolver) qualify(identifier string) (Parts, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return Parts{}, &UnresolvedError{Identifier: identifier, Reason: "empty identifier"}
	}
	segs := strings.Split(trimmed, ".")
	for _, s := range segs {
		if s == "" {
			return Parts{}, &UnresolvedError{Identifier: identifier, Reason: "empty identifier segment"}
		}
	}
	switch len(segs) {
	case 3:
		return Parts{Catalog: segs[0], Database: segs[1], Table: segs[2]}, nil
	case 2:
		if !r.config.Permissive {
			return Parts{}, &UnresolvedError{Identifier: identifier, Reason: "table references must use catalog.database.table"}
		}
		return Parts{Catalog: r.config.DefaultCatalog, Database: segs[0], Table: segs[1]}, nil
	case 1:
		if !r.config.Permissive {
			return Parts{}, &UnresolvedError{Identifier: identifier, Reason: "table references must use catalog.database.table"}
		}
		if r.config.DefaultDatabase == "" {
			return Parts{}, &UnresolvedError{Identifier: identifier, Reason: "bare table name and no default database configured"}
		}
		return Parts{Catalog: r.config.DefaultCatalog, Database: r.config.DefaultDatabase, Table: segs[0]}, nil
	default:
		return Parts{}, &UnresolvedError{Identifier: identifier, Reason: fmt.Sprintf("%d identifier parts, want 3", len(segs))}
	}
}

func (r *Resolver) lookup(ctx context.Context, name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalogs == nil || time.Since(r.fetchedAt) > r.config.RefreshInterval {
		listed, err := r.lister.ListCatalogs(ctx)
		if err != nil {
			// A stale list beats a failed resolution, if one exists.
			if r.catalogs == nil {
				return Handle{}, fmt.Errorf("catalog list unavailable: %w", err)
			}
		} else {
			m := make(map[string]Handle, len(listed))
			for _, h := range listed {
				m[strings.ToLower(h.Name)] = h
			}
			r.catalogs = m
			r.fetchedAt = time.Now()
		}
	}

	h, ok := r.catalogs[strings.ToLower(name)]
	if !ok {
		return Handle{}, &UnresolvedError{Identifier: name, Reason: "unknown catalog"}
	}
	return h, nil
}
