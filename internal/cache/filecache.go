package cache

import (
	"container/list"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/geomcache/geomcache/internal/naming"
	cerrors "github.com/geomcache/geomcache/pkg/errors"
	"github.com/geomcache/geomcache/pkg/types"
	"github.com/geomcache/geomcache/pkg/utils"
)

// FileCacheConfig represents file resource cache configuration.
// Tier labels logs and metrics and defaults to TierFiles. StripExtensions
// names stored data after the key alone.
type FileCacheConfig struct {
	Directory       string `yaml:"directory"`
	MaxSize         int64  `yaml:"max_size"`
	Tier            string `yaml:"-"`
	StripExtensions bool   `yaml:"-"`
}

// FileCache caches files and directories under a managed root and keeps
// their total size under MaxSize by evicting the least recently accessed
// entries. Each entry has a JSON sidecar from which the index is rebuilt
// when the cache is opened again.
//
// All operations are serialized by one mutex.
type FileCache struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	size    int64
	entries map[string]*list.Element
	lru     *list.List // front is most recently accessed

	tier      string
	plainName bool
	logger    *log.Logger
	metrics   types.MetricsRecorder
	now       func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

// fileEntry represents an item in the file cache
type fileEntry struct {
	key        string
	name       string
	size       int64
	lastAccess time.Time
	extra      map[string]any
}

// NewFileCache opens the cache rooted at config.Directory, creating it if
// needed, and rebuilds the index from the sidecars found there.
func NewFileCache(config FileCacheConfig, opts ...Option) (*FileCache, error) {
	if config.Directory == "" {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "cache directory cannot be empty").
			WithComponent(TierFiles)
	}
	if config.Tier == "" {
		config.Tier = TierFiles
	}

	dir, err := filepath.Abs(config.Directory)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodePathInvalid, "failed to resolve cache directory").
			WithComponent(config.Tier)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodeStorageWrite, "failed to create cache directory").
			WithComponent(config.Tier)
	}

	o := buildOptions(opts)
	c := &FileCache{
		dir:       dir,
		maxSize:   config.MaxSize,
		entries:   make(map[string]*list.Element),
		lru:       list.New(),
		tier:      config.Tier,
		plainName: config.StripExtensions,
		logger:    o.logger.With("component", config.Tier),
		metrics:   o.metrics,
		now:       o.now,
	}

	if err := c.recover(); err != nil {
		return nil, err
	}
	c.metrics.SetSize(c.tier, c.size)
	return c, nil
}

// recover scans the directory for sidecars and rebuilds the index. Sizes are
// measured from the data on disk. Unreadable sidecars and sidecars whose
// data is gone are skipped.
func (c *FileCache) recover() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeStorageRead, "failed to scan cache directory").
			WithComponent(c.tier).WithOperation("recover")
	}

	p := pool.NewWithResults[*fileEntry]().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !naming.IsMeta(name) {
			continue
		}
		p.Go(func() *fileEntry {
			return c.recoverEntry(name)
		})
	}

	recovered := slices.DeleteFunc(p.Wait(), func(e *fileEntry) bool { return e == nil })
	slices.SortFunc(recovered, func(a, b *fileEntry) int {
		return a.lastAccess.Compare(b.lastAccess)
	})

	for _, e := range recovered {
		if old, ok := c.entries[e.key]; ok {
			// two sidecars claim the key; the newer one wins
			c.size -= old.Value.(*fileEntry).size
			c.lru.Remove(old)
		}
		c.entries[e.key] = c.lru.PushFront(e)
		c.size += e.size
	}

	c.logger.Debug("index recovered", "entries", len(c.entries), "size", utils.FormatBytes(c.size))
	return nil
}

func (c *FileCache) recoverEntry(metaName string) *fileEntry {
	sc, err := readSidecar(filepath.Join(c.dir, metaName))
	if err != nil {
		c.logger.Warn("skipping unreadable sidecar", "file", metaName, "err", err)
		return nil
	}

	name := naming.DataName(metaName)
	size, err := utils.PathSize(filepath.Join(c.dir, name))
	if err != nil {
		c.logger.Debug("skipping sidecar without data", "file", metaName, "err", err)
		return nil
	}

	return &fileEntry{
		key:        sc.Key,
		name:       name,
		size:       size,
		lastAccess: sc.lastAccess(),
		extra:      sc.Extra,
	}
}

// Put moves the file or directory at source into the cache under key and
// returns its new location. If key is already cached its existing path is
// returned and source is left alone. If room cannot be made for source it
// is not cached and source itself is returned.
func (c *FileCache) Put(key string, extra map[string]any, source string) (string, error) {
	start := c.now()
	defer func() { c.metrics.ObserveDuration(c.tier, "put", c.now().Sub(start)) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*fileEntry)
		c.touchLocked(el)
		return c.path(e.name), nil
	}

	size, err := utils.PathSize(source)
	if err != nil {
		code := cerrors.ErrCodeStorageRead
		if os.IsNotExist(err) {
			code = cerrors.ErrCodeFileNotFound
		}
		return "", cerrors.Wrap(err, code, "failed to measure source").
			WithComponent(c.tier).WithOperation("put").WithContext("key", key)
	}

	if !c.insureCapacityLocked(size) {
		c.logger.Debug("not caching, capacity unavailable",
			"key", key, "size", utils.FormatBytes(size), "max", utils.FormatBytes(c.maxSize))
		return source, nil
	}

	ext := ""
	if !c.plainName {
		ext = dataExt(source)
	}
	name := naming.NameFor(key, ext)
	dest, err := utils.SecureJoin(c.dir, name)
	if err != nil {
		return source, cerrors.Wrap(err, cerrors.ErrCodePathInvalid, "invalid cache path").
			WithComponent(c.tier).WithOperation("put").WithContext("key", key)
	}

	// data left behind without a sidecar is never adopted
	if err := os.RemoveAll(dest); err != nil {
		return source, cerrors.Wrap(err, cerrors.ErrCodeStorageDelete, "failed to clear stale data").
			WithComponent(c.tier).WithOperation("put").WithContext("key", key)
	}
	if err := utils.MovePath(source, dest); err != nil {
		c.metrics.RecordWriteError(c.tier)
		return source, cerrors.Wrap(err, cerrors.ErrCodeStorageWrite, "failed to move resource into cache").
			WithComponent(c.tier).WithOperation("put").WithContext("key", key)
	}

	e := &fileEntry{
		key:        key,
		name:       name,
		size:       size,
		lastAccess: c.now(),
		extra:      maps.Clone(extra),
	}
	if err := writeSidecar(c.path(naming.MetaName(name)), newSidecar(key, e.lastAccess, e.extra)); err != nil {
		c.metrics.RecordWriteError(c.tier)
		if mvErr := utils.MovePath(dest, source); mvErr != nil {
			c.logger.Error("failed to restore source after sidecar failure", "key", key, "err", mvErr)
		}
		return source, cerrors.Wrap(err, cerrors.ErrCodeStorageWrite, "failed to write sidecar").
			WithComponent(c.tier).WithOperation("put").WithContext("key", key)
	}

	c.entries[key] = c.lru.PushFront(e)
	c.size += size
	c.metrics.SetSize(c.tier, c.size)
	return dest, nil
}

// Get returns the cached path for key.
func (c *FileCache) Get(key string) (string, bool) {
	path, _, ok := c.GetWithExtra(key)
	return path, ok
}

// GetWithExtra returns the cached path for key and a copy of the extra
// metadata stored with it. An entry whose data has vanished from disk is
// reported as a miss but stays indexed.
func (c *FileCache) GetWithExtra(key string) (string, map[string]any, bool) {
	start := c.now()
	defer func() { c.metrics.ObserveDuration(c.tier, "get", c.now().Sub(start)) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.missLocked()
		return "", nil, false
	}

	e := el.Value.(*fileEntry)
	path := c.path(e.name)
	if _, err := os.Stat(path); err != nil {
		c.logger.Debug("cached data missing", "key", key, "path", path)
		c.missLocked()
		return "", nil, false
	}

	c.touchLocked(el)
	c.hits++
	c.metrics.RecordHit(c.tier)
	return path, maps.Clone(e.extra), true
}

func (c *FileCache) missLocked() {
	c.misses++
	c.metrics.RecordMiss(c.tier)
}

// touchLocked marks the entry as most recently used in memory and in its
// sidecar. Sidecar failures only cost recency after a restart.
func (c *FileCache) touchLocked(el *list.Element) {
	e := el.Value.(*fileEntry)
	e.lastAccess = c.now()
	c.lru.MoveToFront(el)

	if err := writeSidecar(c.path(naming.MetaName(e.name)), newSidecar(e.key, e.lastAccess, e.extra)); err != nil {
		c.logger.Debug("failed to update sidecar", "key", e.key, "err", err)
	}
}

// Remove deletes key and its data. Removing an unknown key succeeds. If the
// data cannot be deleted the entry stays indexed and false is returned.
func (c *FileCache) Remove(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return true, nil
	}
	if err := c.removeLocked(el); err != nil {
		return false, err
	}
	return true, nil
}

func (c *FileCache) removeLocked(el *list.Element) error {
	e := el.Value.(*fileEntry)

	if err := os.Remove(c.path(naming.MetaName(e.name))); err != nil && !os.IsNotExist(err) {
		return cerrors.Wrap(err, cerrors.ErrCodeStorageDelete, "failed to delete sidecar").
			WithComponent(c.tier).WithOperation("remove").WithContext("key", e.key)
	}
	if err := os.RemoveAll(c.path(e.name)); err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeStorageDelete, "failed to delete data").
			WithComponent(c.tier).WithOperation("remove").WithContext("key", e.key)
	}

	c.lru.Remove(el)
	delete(c.entries, e.key)
	c.size -= e.size
	c.metrics.SetSize(c.tier, c.size)
	return nil
}

// InsureCapacity evicts least recently accessed entries until requested
// more bytes fit. It reports whether they do. Evictions are not undone when
// it gives up.
func (c *FileCache) InsureCapacity(requested int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insureCapacityLocked(requested)
}

func (c *FileCache) insureCapacityLocked(requested int64) bool {
	if c.size+requested <= c.maxSize {
		return true
	}
	if requested > c.maxSize {
		return false
	}

	for el := c.lru.Back(); el != nil && c.size+requested > c.maxSize; {
		prev := el.Prev()
		e := el.Value.(*fileEntry)
		if err := c.removeLocked(el); err != nil {
			c.logger.Warn("eviction failed, trying next entry", "key", e.key, "err", err)
		} else {
			c.evictions++
			c.metrics.RecordEviction(c.tier)
			c.logger.Debug("evicted", "key", e.key, "size", utils.FormatBytes(e.size))
		}
		el = prev
	}
	return c.size+requested <= c.maxSize
}

// Clear deletes everything under the cache directory and resets the index.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrCodeStorageRead, "failed to list cache directory").
			WithComponent(c.tier).WithOperation("clear")
	}

	var errs error
	for _, de := range dirEntries {
		errs = multierr.Append(errs, os.RemoveAll(filepath.Join(c.dir, de.Name())))
	}

	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.size = 0
	c.metrics.SetSize(c.tier, 0)

	if errs != nil {
		return cerrors.Wrap(errs, cerrors.ErrCodeStorageDelete, "failed to delete cached data").
			WithComponent(c.tier).WithOperation("clear")
	}
	return nil
}

// Size returns the total size of all cached entries in bytes.
func (c *FileCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxSize returns the capacity in bytes.
func (c *FileCache) MaxSize() int64 {
	return c.maxSize
}

// Len returns the number of entries.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Dir returns the managed directory.
func (c *FileCache) Dir() string {
	return c.dir
}

// Keys returns all keys, most recently accessed first.
func (c *FileCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for el := c.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*fileEntry).key)
	}
	return keys
}

// Entry describes key without touching it.
func (c *FileCache) Entry(key string) (types.EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return types.EntryInfo{}, false
	}
	return c.info(el.Value.(*fileEntry)), true
}

// Entries describes all entries, most recently accessed first.
func (c *FileCache) Entries() []types.EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]types.EntryInfo, 0, len(c.entries))
	for el := c.lru.Front(); el != nil; el = el.Next() {
		infos = append(infos, c.info(el.Value.(*fileEntry)))
	}
	return infos
}

func (c *FileCache) info(e *fileEntry) types.EntryInfo {
	return types.EntryInfo{
		Key:        e.key,
		Path:       c.path(e.name),
		Size:       e.size,
		LastAccess: e.lastAccess,
		Extra:      maps.Clone(e.extra),
	}
}

// Stats returns cache statistics
func (c *FileCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
		Size:      c.size,
		Capacity:  c.maxSize,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	if c.maxSize > 0 {
		stats.Utilization = float64(c.size) / float64(c.maxSize)
	}
	return stats
}

func (c *FileCache) path(name string) string {
	return filepath.Join(c.dir, name)
}

func (c *FileCache) String() string {
	return fmt.Sprintf("FileCache(%s, %s/%s)", c.dir,
		utils.FormatBytes(c.Size()), utils.FormatBytes(c.maxSize))
}

// dataExt keeps short alphanumeric file extensions so cached files still
// open with the right tool. Directories get none, and neither do files whose
// extension would make them look like a sidecar.
func dataExt(source string) string {
	if info, err := os.Stat(source); err != nil || info.IsDir() {
		return ""
	}
	ext := strings.TrimPrefix(filepath.Ext(source), ".")
	if ext == "" || len(ext) > 10 || strings.EqualFold(ext, naming.MetaExt) {
		return ""
	}
	for _, r := range ext {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return ""
		}
	}
	return ext
}

var _ types.ResourceCache = (*FileCache)(nil)
