package types

import "time"

// KeyDeriver turns the logical inputs of a computation into a stable,
// unique cache key. Implemented by the parameter system.
type KeyDeriver interface {
	CacheKey() string
}

// ResourceCache caches files or directories on disk.
type ResourceCache interface {
	Put(key string, extra map[string]any, path string) (string, error)
	Get(key string) (string, bool)
	Remove(key string) (bool, error)
	Clear() error
	Size() int64
	Stats() CacheStats
}

// BufferStore caches typed buffers by label.
type BufferStore interface {
	Put(buf TypedBuffer) error
	Get(label string) (TypedBuffer, bool, error)
}

// MetricsRecorder receives cache events. The tiers accept a nil recorder.
type MetricsRecorder interface {
	RecordHit(tier string)
	RecordMiss(tier string)
	RecordEviction(tier string)
	RecordWriteError(tier string)
	SetSize(tier string, bytes int64)
	SetQueueDepth(depth int)
	ObserveDuration(tier, op string, d time.Duration)
}
