package types

import (
	"time"
)

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Loads       uint64  `json:"loads"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// EntryInfo describes one entry of a disk tier.
type EntryInfo struct {
	Key        string         `json:"key"`
	Path       string         `json:"path"`
	Size       int64          `json:"size"`
	LastAccess time.Time      `json:"last_access"`
	Extra      map[string]any `json:"extra,omitempty"`
}
