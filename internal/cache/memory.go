package cache

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/geomcache/geomcache/pkg/types"
)

// MemoryConfig represents in-memory cache configuration
type MemoryConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	SoftAfter       time.Duration `yaml:"soft_after"`
	MaxMemory       int64         `yaml:"max_memory"`
	Shards          int           `yaml:"shards"`
	MissHistory     int           `yaml:"miss_history"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// MemoryCache keeps recently used buffers in process memory. Entries expire
// TTL after their last access. Entries idle for SoftAfter, or the least
// recently used ones once MaxMemory is exceeded, are only weakly held and
// disappear at the garbage collector's discretion.
//
// On a miss the backing store is consulted, once per label at a time, and a
// hit there repopulates the cache without writing it back.
type MemoryCache struct {
	config  MemoryConfig
	shards  []*memShard
	backing types.BufferStore
	loads   singleflight.Group
	misses  *missRing

	strongBytes atomic.Int64

	hits      atomic.Uint64
	missCount atomic.Uint64
	loadCount atomic.Uint64
	evictions atomic.Uint64
	demotions atomic.Uint64

	logger  *log.Logger
	metrics types.MetricsRecorder
	now     func() time.Time

	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type memShard struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

// memEntry is replaced, never modified, when its value changes or it is
// demoted. lastAccess is the only field updated in place, under the shard
// lock.
type memEntry struct {
	strong     *types.TypedBuffer // nil once demoted
	weak       weak.Pointer[types.TypedBuffer]
	size       int64
	lastAccess time.Time
}

// NewMemoryCache creates the cache and starts its janitor. backing may be
// nil.
func NewMemoryCache(config MemoryConfig, backing types.BufferStore, opts ...Option) *MemoryCache {
	if config.Shards <= 0 {
		config.Shards = 16
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = time.Minute
	}

	o := buildOptions(opts)
	c := &MemoryCache{
		config:  config,
		shards:  make([]*memShard, config.Shards),
		backing: backing,
		misses:  newMissRing(config.MissHistory),
		logger:  o.logger.With("component", TierMemory),
		metrics: o.metrics,
		now:     o.now,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &memShard{entries: make(map[string]*memEntry)}
	}

	go c.janitor()
	return c
}

func (c *MemoryCache) shard(label string) *memShard {
	return c.shards[xxhash.Sum64String(label)%uint64(len(c.shards))]
}

// Get returns the buffer for label, loading it from the backing store on a
// miss. Backing store errors are logged and reported as a miss.
func (c *MemoryCache) Get(label string) (types.TypedBuffer, bool) {
	if b, ok := c.lookup(label); ok {
		c.hits.Add(1)
		c.metrics.RecordHit(TierMemory)
		return b, true
	}

	c.missCount.Add(1)
	c.misses.add(label)
	c.metrics.RecordMiss(TierMemory)

	if c.backing == nil {
		return types.TypedBuffer{}, false
	}

	v, err, _ := c.loads.Do(label, func() (any, error) {
		// another caller may have finished loading while we waited
		if b, ok := c.lookup(label); ok {
			return b, nil
		}
		b, ok, err := c.backing.Get(label)
		if err != nil || !ok {
			return nil, err
		}
		c.loadCount.Add(1)
		c.store(b)
		return b, nil
	})
	if err != nil {
		c.logger.Warn("backing store read failed", "label", label, "err", err)
		return types.TypedBuffer{}, false
	}
	if v == nil {
		return types.TypedBuffer{}, false
	}
	return v.(types.TypedBuffer), true
}

// lookup returns a live entry and refreshes its access time. A weakly held
// value that is still reachable becomes strongly held again.
func (c *MemoryCache) lookup(label string) (types.TypedBuffer, bool) {
	sh := c.shard(label)
	now := c.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[label]
	if !ok {
		return types.TypedBuffer{}, false
	}
	if c.expired(e, now) {
		c.dropLocked(sh, label, e)
		return types.TypedBuffer{}, false
	}

	b := e.strong
	if b == nil {
		b = e.weak.Value()
		if b == nil {
			c.dropLocked(sh, label, e)
			return types.TypedBuffer{}, false
		}
		e = &memEntry{strong: b, weak: e.weak, size: e.size}
		sh.entries[label] = e
		c.addStrong(e.size)
	}
	e.lastAccess = now
	return *b, true
}

func (c *MemoryCache) expired(e *memEntry, now time.Time) bool {
	return c.config.TTL > 0 && now.Sub(e.lastAccess) > c.config.TTL
}

func (c *MemoryCache) dropLocked(sh *memShard, label string, e *memEntry) {
	delete(sh.entries, label)
	if e.strong != nil {
		c.addStrong(-e.size)
	}
	c.evictions.Add(1)
	c.metrics.RecordEviction(TierMemory)
}

func (c *MemoryCache) addStrong(delta int64) {
	c.metrics.SetSize(TierMemory, c.strongBytes.Add(delta))
}

// Put caches buf in memory and writes it to the backing store.
func (c *MemoryCache) Put(buf types.TypedBuffer) error {
	if buf.Elements == nil {
		return fmt.Errorf("%w: buffer %q has no elements", ErrUnsupportedType, buf.Label)
	}
	c.store(buf)
	if c.backing == nil {
		return nil
	}
	return c.backing.Put(buf)
}

// store caches buf in memory only. Loads from the backing store use it
// directly so they are never written back.
func (c *MemoryCache) store(buf types.TypedBuffer) {
	p := &buf
	e := &memEntry{
		strong:     p,
		weak:       weak.Make(p),
		size:       buf.SizeBytes(),
		lastAccess: c.now(),
	}

	sh := c.shard(buf.Label)
	sh.mu.Lock()
	if old, ok := sh.entries[buf.Label]; ok && old.strong != nil {
		c.addStrong(-old.size)
	}
	sh.entries[buf.Label] = e
	c.addStrong(e.size)
	sh.mu.Unlock()

	if c.config.MaxMemory > 0 && c.strongBytes.Load() > c.config.MaxMemory {
		c.enforceBudget()
	}
}

// Remove drops label from memory only.
func (c *MemoryCache) Remove(label string) {
	sh := c.shard(label)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[label]; ok {
		delete(sh.entries, label)
		if e.strong != nil {
			c.addStrong(-e.size)
		}
	}
}

// Clear drops every entry from memory.
func (c *MemoryCache) Clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		for label, e := range sh.entries {
			delete(sh.entries, label)
			if e.strong != nil {
				c.addStrong(-e.size)
			}
		}
		sh.mu.Unlock()
	}
}

// Len returns the number of entries, including weakly held ones that may
// already be gone.
func (c *MemoryCache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// StrongBytes returns the size of the values currently strongly held.
func (c *MemoryCache) StrongBytes() int64 {
	return c.strongBytes.Load()
}

// RecentMisses returns the most recent miss labels, oldest first.
func (c *MemoryCache) RecentMisses() []string {
	return c.misses.snapshot()
}

// Demotions returns how many entries were switched to weak references.
func (c *MemoryCache) Demotions() uint64 {
	return c.demotions.Load()
}

// Stats returns cache statistics. Size counts strongly held bytes only.
func (c *MemoryCache) Stats() types.CacheStats {
	stats := types.CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.missCount.Load(),
		Evictions: c.evictions.Load(),
		Loads:     c.loadCount.Load(),
		Entries:   c.Len(),
		Size:      c.strongBytes.Load(),
		Capacity:  c.config.MaxMemory,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	}
	return stats
}

// Close stops the janitor. Close is idempotent.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	<-c.stopped
	return nil
}

func (c *MemoryCache) janitor() {
	defer close(c.stopped)

	ticker := time.NewTicker(c.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep expires old entries, forgets collected ones and demotes idle ones.
func (c *MemoryCache) sweep() {
	now := c.now()
	for _, sh := range c.shards {
		sh.mu.Lock()
		for label, e := range sh.entries {
			switch {
			case c.expired(e, now):
				c.dropLocked(sh, label, e)
			case e.strong == nil && e.weak.Value() == nil:
				c.dropLocked(sh, label, e)
			case e.strong != nil && c.config.SoftAfter > 0 && now.Sub(e.lastAccess) > c.config.SoftAfter:
				c.demoteLocked(sh, label, e)
			}
		}
		sh.mu.Unlock()
	}

	if c.config.MaxMemory > 0 && c.strongBytes.Load() > c.config.MaxMemory {
		c.enforceBudget()
	}
}

// demoteLocked drops the strong reference. The weak pointer targets the
// entry's private box, which lookup never hands out, so a demoted value
// lives until the next GC cycle unless it is read again first.
func (c *MemoryCache) demoteLocked(sh *memShard, label string, e *memEntry) {
	sh.entries[label] = &memEntry{weak: e.weak, size: e.size, lastAccess: e.lastAccess}
	c.addStrong(-e.size)
	c.demotions.Add(1)
}

// enforceBudget demotes the least recently used strong entries until the
// strongly held bytes fit MaxMemory.
func (c *MemoryCache) enforceBudget() {
	type candidate struct {
		sh         *memShard
		label      string
		e          *memEntry
		lastAccess time.Time
	}

	var candidates []candidate
	for _, sh := range c.shards {
		sh.mu.Lock()
		for label, e := range sh.entries {
			if e.strong != nil {
				candidates = append(candidates, candidate{sh, label, e, e.lastAccess})
			}
		}
		sh.mu.Unlock()
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		return a.lastAccess.Compare(b.lastAccess)
	})

	for _, cd := range candidates {
		if c.strongBytes.Load() <= c.config.MaxMemory {
			return
		}
		cd.sh.mu.Lock()
		// skip entries replaced or touched since the scan
		if cur := cd.sh.entries[cd.label]; cur == cd.e && cur.strong != nil && cur.lastAccess.Equal(cd.lastAccess) {
			c.demoteLocked(cd.sh, cd.label, cur)
		}
		cd.sh.mu.Unlock()
	}
}

// missRing remembers the last n miss labels.
type missRing struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

func newMissRing(n int) *missRing {
	if n < 0 {
		n = 0
	}
	return &missRing{buf: make([]string, n)}
}

func (r *missRing) add(label string) {
	if len(r.buf) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = label
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *missRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return slices.Clone(r.buf[:r.next])
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
