// Package cache is the content-addressed query result cache: TTL plus LRU
// eviction with a bounded entry count, and single-flight deduplication of
// concurrent identical misses.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Entry is one cached result set. Level is the security level the entry was
// created under; an entry is never served to a lower level.
type Entry struct {
	Columns   []string
	Rows      []map[string]interface{}
	Truncated bool
	Level     int
	CreatedAt time.Time
}

// CloneRows returns a fresh row slice with copied row maps so callers can
// transform values (masking) without corrupting the cached entry.
func (e *Entry) CloneRows() []map[string]interface{} {
	rows := make([]map[string]interface{}, len(e.Rows))
	for i, row := range e.Rows {
		m := make(map[string]interface{}, len(row))
		for k, v := range row {
			m[k] = v
		}
		rows[i] = m
	}
	return rows
}

// Config is the cache's own config type.
type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// Cache is safe for concurrent use.
type Cache struct {
	lru    *expirable.LRU[string, *Entry]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache. Entries expire after TTL and the oldest entries are
// evicted beyond MaxEntries.
func New(config Config) *Cache {
	if config.MaxEntries <= 0 {
		panic("cache: max_entries must be > 0")
	}
	if config.TTL <= 0 {
		panic("cache: ttl must be > 0")
	}
	return &Cache{
		lru: expirable.NewLRU[string, *Entry](config.MaxEntries, nil, config.TTL),
	}
}

// Get returns the entry for key if present, unexpired, and created under a
// level the requester may read (requester level >= entry level). The level
// is part of the key already; the check here is the defensive half of the
// no-leak contract.
func (c *Cache) Get(key string, level int) (*Entry, bool) {
	e, ok := c.lru.Get(key)
	if !ok || level < e.Level {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e, true
}

// Put stores an entry under key.
func (c *Cache) Put(key string, e *Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	c.lru.Add(key, e)
}

// Do executes fn under single-flight for key: the first caller runs it,
// concurrent callers for the same key wait and share its result. shared
// reports whether the result was produced by another in-flight call.
func (c *Cache) Do(key string, fn func() (*Entry, error)) (entry *Entry, shared bool, err error) {
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*Entry), shared, nil
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops all entries.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the content address for a statement execution: normalized
// statement, sorted resolved table set, effective row limit, and requester
// security level. Including the level makes entries per-profile, which is
// what keeps a cache hit from ever crossing masking profiles.
func Key(normalizedSQL string, tables []string, limit int, level int) string {
	sorted := make([]string, len(tables))
	copy(sorted, tables)
	sort.Strings(sorted)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d", normalizedSQL, strings.Join(sorted, ","), limit, level)
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize canonicalizes a statement for key derivation: comments removed,
// whitespace collapsed, keywords lower-cased, trailing semicolon dropped.
// String literals are preserved verbatim: different literals are different
// queries.
func Normalize(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	lastSpace := true
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(sql) {
				if sql[j] == '\\' && j+1 < len(sql) {
					j += 2
					continue
				}
				if sql[j] == quote {
					if j+1 < len(sql) && sql[j+1] == quote {
						j += 2
						continue
					}
					break
				}
				j++
			}
			end := j
			if end < len(sql) {
				end = j + 1
			}
			b.WriteString(sql[i:end])
			lastSpace = false
			i = end
		case strings.HasPrefix(sql[i:], "--") || c == '#':
			nl := strings.IndexByte(sql[i:], '\n')
			if nl < 0 {
				i = len(sql)
			} else {
				i += nl + 1
			}
		case strings.HasPrefix(sql[i:], "/*"):
			term := strings.Index(sql[i+2:], "*/")
			if term < 0 {
				i = len(sql)
			} else {
				i += 2 + term + 2
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			i++
		default:
			// Lower-case ASCII only; multibyte runes pass through untouched.
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			b.WriteByte(c)
			lastSpace = false
			i++
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.TrimSuffix(out, ";")
	return strings.TrimSpace(out)
}
