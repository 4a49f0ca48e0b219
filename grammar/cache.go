package grammar

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/ollama/constrain/container"
)

// Cache memoizes compiled grammars by a fingerprint of their rule
// table. Entries are evicted least-recently-used once the capacity is
// exceeded; concurrent misses for the same grammar compile it once.
// Cached Grammars are immutable: an invalidated fingerprint always
// recompiles into a fresh Grammar, never mutates a shared one.
type Cache struct {
	limit int

	group singleflight.Group

	mu    sync.Mutex
	order *container.List[string] // recency order, most recent at the back
	items map[string]cacheItem
}

type cacheItem struct {
	grammar *Grammar
	handle  int32
}

const defaultCacheLimit = 64

// NewCache returns a cache holding at most limit grammars; limit <= 0
// selects a small default.
func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = defaultCacheLimit
	}
	return &Cache{
		limit: limit,
		order: container.NewList[string](limit),
		items: make(map[string]cacheItem, limit),
	}
}

// Len reports the number of cached grammars.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops every cached grammar.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Clear()
	clear(c.items)
}

// Compile returns the compiled, canonicalized grammar for the given
// rule table, building it only when no cached copy exists.
func (c *Cache) Compile(root string, defs []RuleDef) (*Grammar, error) {
	key := Fingerprint(root, defs)
	if g, ok := c.lookup(key); ok {
		return g, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if g, ok := c.lookup(key); ok {
			return g, nil
		}
		start := time.Now()
		g, err := New(root, defs)
		if err != nil {
			return nil, err
		}
		if err := g.Canonicalize(); err != nil {
			return nil, err
		}
		slog.Debug("compiled grammar", "key", key, "rules", len(defs), "took", time.Since(start))
		c.insert(key, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Grammar), nil
}

func (c *Cache) lookup(key string) (*Grammar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveBack(it.handle)
	return it.grammar, true
}

func (c *Cache) insert(key string, g *Grammar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{grammar: g, handle: c.order.PushBack(key)}
	for len(c.items) > c.limit {
		h := c.order.Front()
		evicted := *c.order.At(h)
		c.order.Erase(h)
		delete(c.items, evicted)
		slog.Debug("evicted grammar", "key", evicted)
	}
}

// Fingerprint returns a stable identifier for a rule table: equal
// tables fingerprint equally across processes.
func Fingerprint(root string, defs []RuleDef) string {
	h := blake3.New()
	writeString(h, root)
	writeInt(h, int64(len(defs)))
	for _, d := range defs {
		writeString(h, d.Name)
		writeExpr(h, d.Body)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func writeInt(w io.Writer, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	w.Write(buf[:])
}

func writeString(w io.Writer, s string) {
	writeInt(w, int64(len(s)))
	io.WriteString(w, s)
}

func writeExpr(w io.Writer, expr Expr) {
	switch e := expr.(type) {
	case CharClass:
		writeInt(w, 1)
		writeInt(w, int64(len(e.Ranges)))
		for _, r := range e.Ranges {
			writeInt(w, int64(r.Lo))
			writeInt(w, int64(r.Hi))
		}
	case Literal:
		writeInt(w, 2)
		writeString(w, string(e))
	case Sequence:
		writeInt(w, 3)
		writeInt(w, int64(len(e)))
		for _, sub := range e {
			writeExpr(w, sub)
		}
	case Choice:
		writeInt(w, 4)
		writeInt(w, int64(len(e)))
		for _, sub := range e {
			writeExpr(w, sub)
		}
	case Repeat:
		writeInt(w, 5)
		writeInt(w, int64(e.Op))
		writeExpr(w, e.Body)
	case Ref:
		writeInt(w, 6)
		writeString(w, string(e))
	default:
		writeInt(w, 0)
	}
}
