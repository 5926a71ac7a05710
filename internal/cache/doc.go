/*
Package cache provides the three cache tiers used by geometry computations.

A computation derives a key from its inputs (see types.KeyDeriver) and asks
the cache before doing the work. Results are either typed numeric buffers
(vertex positions, indices, normals) or whole files and directories written
by exporters.

# Cache Architecture

	┌─────────────────────────────────────────────┐
	│              Computation                    │
	│        (key derived from inputs)            │
	└─────────────────────────────────────────────┘
	              │                    │
	┌──────────────────────────┐ ┌────────────────────────┐
	│       MemoryCache        │ │       FileCache        │
	│  • sharded by xxhash     │ │  • files/directories   │
	│  • TTL + weak demotion   │ │  • size-bounded LRU    │
	│  • miss loads from disk  │ │  • JSON sidecars       │
	└──────────────────────────┘ └────────────────────────┘
	              │
	┌──────────────────────────┐
	│     BufferDiskCache      │
	│  • write-behind queue    │
	│  • optional gzip         │
	│  • mmap reads            │
	│  • FileCache underneath  │
	└──────────────────────────┘

# File Resource Tier

FileCache moves a produced file or directory into its directory under a
name derived from the key, and writes "<name>.meta" beside it:

	{"lastAccess": 1718000000000, "key": "export(mesh=1)", "extra": {}}

The total size of cached data never exceeds the configured maximum. The
least recently used entries are evicted to make room; an item that cannot
fit is left at its source path and Put returns that path unchanged. On
startup the sidecars are read back to rebuild the index.

# Typed Buffer Tier

BufferDiskCache stores each buffer as raw big-endian elements, optionally
gzip compressed, in a private FileCache. The element type, count and
compression flag are kept in the sidecar extra map. With lazy writes
enabled, Put returns immediately and a single goroutine persists buffers in
order; Close drains the queue.

# In-Memory Tier

MemoryCache holds buffers strongly until they go idle for SoftAfter or the
MaxMemory budget is exceeded, and weakly afterwards. A weakly held buffer
that is read again before collection becomes strong again. Entries expire
TTL after their last access.

# Usage

	cfg := config.NewDefault()
	_ = cfg.ResolveDirectories()
	m, err := cache.NewManager(&cfg.Cache, cache.WithLogger(logger))
	if err != nil {
		return err
	}
	defer m.Close()

	if buf, ok := m.GetBuffer(key); ok {
		return buf, nil
	}

All exported methods are safe for concurrent use.
*/
package cache
