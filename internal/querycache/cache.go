// Package querycache is the client-side keyed store of query results.
//
// Entries go stale after a per-key window. A stale hit returns the cached
// data at once and refreshes it in the background, with at most one load in
// flight per key. Loader errors are kept as the entry's rejected state and
// are not retried until the key is invalidated.
package querycache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/bus"
)

const (
	KeyContacts      = "contacts"
	MessagesPrefix   = "messages/"
	ContactsStaleFor = 5 * time.Minute
)

// MessagesKey is the cache key of one contact's thread.
func MessagesKey(contactID string) string {
	return MessagesPrefix + contactID
}

type State string

const (
	StateEmpty   State = "empty"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Loader fetches the current value of a key.
type Loader func(ctx context.Context) (any, error)

// Snapshot is a copy of an entry taken without loading.
type Snapshot struct {
	Data        any
	Err         error
	State       State
	FetchedAt   time.Time
	Invalidated bool
	Fetching    bool
}

// Update is the payload of cache.updated events.
type Update struct {
	Key string
}

type call struct {
	epoch uint64
	done  chan struct{}
	data  any
	err   error
}

type entry struct {
	data        any
	err         error
	state       State
	fetchedAt   time.Time
	invalidated bool
	epoch       uint64
	inflight    *call
}

type staleRule struct {
	prefix string
	window time.Duration
}

// Cache is safe for concurrent use.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*entry
	rules        []staleRule
	defaultStale time.Duration
	now          func() time.Time

	pub       bus.Publisher
	logger    *zap.Logger
	refreshCh chan struct{}
	wg        sync.WaitGroup
}

// New returns a cache with contacts stale after five minutes and message
// threads always stale. pub may be nil.
func New(pub bus.Publisher, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		entries:   make(map[string]*entry),
		now:       time.Now,
		pub:       pub,
		logger:    logger.Named("querycache"),
		refreshCh: make(chan struct{}, 1),
	}
	c.SetStaleTime(KeyContacts, ContactsStaleFor)
	c.SetStaleTime(MessagesPrefix, 0)
	return c
}

// SetStaleTime sets the staleness window for keys starting with prefix.
// The longest matching prefix wins.
func (c *Cache) SetStaleTime(prefix string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.rules {
		if c.rules[i].prefix == prefix {
			c.rules[i].window = d
			return
		}
	}
	c.rules = append(c.rules, staleRule{prefix: prefix, window: d})
}

// SetDefaultStaleTime applies to keys no rule matches.
func (c *Cache) SetDefaultStaleTime(d time.Duration) {
	c.mu.Lock()
	c.defaultStale = d
	c.mu.Unlock()
}

// SetClock replaces the time source. Tests only.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// RefreshCh signals that some entry changed. Signals coalesce.
func (c *Cache) RefreshCh() <-chan struct{} {
	return c.refreshCh
}

// Fetch returns the cached value of key, loading it when needed.
func (c *Cache) Fetch(ctx context.Context, key string, load Loader) (any, error) {
	c.mu.Lock()
	e := c.entries[key]
	if e == nil {
		e = &entry{state: StateEmpty}
		c.entries[key] = e
	}

	if e.state == StateEmpty || e.invalidated {
		cl := e.inflight
		if cl == nil || cl.epoch != e.epoch {
			cl = c.startLocked(e)
			// The load outlives a caller that gives up, so a cancelled
			// context never lands in the entry as a loader error.
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.run(context.WithoutCancel(ctx), key, cl, load)
			}()
		}
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.data, cl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if e.state == StateError {
		err := e.err
		c.mu.Unlock()
		return nil, err
	}

	data := e.data
	if c.staleLocked(key, e) && e.inflight == nil {
		cl := c.startLocked(e)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.run(context.WithoutCancel(ctx), key, cl, load)
		}()
	}
	c.mu.Unlock()
	return data, nil
}

// Get is Fetch with a typed loader and result.
func Get[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: key %s holds %T", key, v)
	}
	return out, nil
}

func (c *Cache) startLocked(e *entry) *call {
	cl := &call{epoch: e.epoch, done: make(chan struct{})}
	e.inflight = cl
	return cl
}

// run executes the loader and stores its outcome unless the entry was
// invalidated or rewritten meanwhile.
func (c *Cache) run(ctx context.Context, key string, cl *call, load Loader) {
	data, err := load(ctx)
	cl.data, cl.err = data, err

	c.mu.Lock()
	e := c.entries[key]
	changed := false
	if e != nil && e.inflight == cl {
		e.inflight = nil
		if e.epoch == cl.epoch {
			if err != nil {
				e.err = err
				e.state = StateError
			} else {
				e.data = data
				e.err = nil
				e.state = StateSuccess
			}
			e.fetchedAt = c.now()
			e.invalidated = false
			changed = true
		}
	}
	c.mu.Unlock()
	close(cl.done)

	if err != nil {
		c.logger.Warn("load failed", zap.String("key", key), zap.Error(err))
	}
	if changed {
		c.notify(key)
	}
}

func (c *Cache) staleLocked(key string, e *entry) bool {
	window := c.defaultStale
	best := -1
	for _, r := range c.rules {
		if strings.HasPrefix(key, r.prefix) && len(r.prefix) > best {
			best = len(r.prefix)
			window = r.window
		}
	}
	return !e.fetchedAt.Add(window).After(c.now())
}

// Invalidate makes the next access of key reload it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	e := c.entries[key]
	if e != nil {
		e.invalidated = true
		e.epoch++
	}
	c.mu.Unlock()
	if e != nil {
		c.notify(key)
	}
}

// InvalidatePrefix invalidates every key starting with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	var keys []string
	c.mu.Lock()
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) {
			e.invalidated = true
			e.epoch++
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.notify(k)
	}
}

// Write replaces the data of key with updater's result. ok reports whether
// old holds loaded data. A load already in flight for key is discarded.
func (c *Cache) Write(key string, updater func(old any, ok bool) any) {
	c.mu.Lock()
	e := c.entries[key]
	if e == nil {
		e = &entry{state: StateEmpty}
		c.entries[key] = e
	}
	e.data = updater(e.data, e.state == StateSuccess)
	e.err = nil
	e.state = StateSuccess
	e.fetchedAt = c.now()
	e.invalidated = false
	e.epoch++
	c.mu.Unlock()
	c.notify(key)
}

// Remove drops key entirely.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Peek returns the entry for key without loading it.
func (c *Cache) Peek(key string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key]
	if e == nil {
		return Snapshot{State: StateEmpty}, false
	}
	return Snapshot{
		Data:        e.data,
		Err:         e.err,
		State:       e.state,
		FetchedAt:   e.fetchedAt,
		Invalidated: e.invalidated,
		Fetching:    e.inflight != nil,
	}, true
}

// Wait blocks until loads started so far have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) notify(key string) {
	if c.pub != nil {
		c.pub.Publish(bus.Event{Kind: bus.KindCacheUpdated, Payload: Update{Key: key}})
	}
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}
