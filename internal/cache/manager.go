package cache

import (
	"context"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"github.com/geomcache/geomcache/internal/config"
	cerrors "github.com/geomcache/geomcache/pkg/errors"
	"github.com/geomcache/geomcache/pkg/types"
)

// Manager owns the cache tiers built from one immutable configuration.
// Create it once at startup, share it, and Close it on shutdown so queued
// buffer writes reach the disk.
type Manager struct {
	// Memory is nil when the in-memory tier is disabled.
	Memory *MemoryCache
	// Buffers is always set; a disabled buffer tier stores nothing.
	Buffers *BufferDiskCache
	// Files is nil when the file resource tier is disabled.
	Files *FileCache

	logger *log.Logger
}

// NewManager builds the enabled tiers. Tier directories must already be
// resolved, see config.Configuration.ResolveDirectories.
func NewManager(cfg *config.CacheConfig, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "cache configuration is required").
			WithComponent("manager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrCodeConfigValidation, "invalid cache configuration").
			WithComponent("manager")
	}

	o := buildOptions(opts)
	m := &Manager{logger: o.logger.With("component", "manager")}

	bufferSize, _ := cfg.Buffer.MaxSizeBytes()
	buffers, err := NewBufferDiskCache(BufferDiskConfig{
		Enabled:          cfg.Buffer.Enabled,
		Directory:        cfg.Buffer.Directory,
		MaxSize:          bufferSize,
		Compress:         cfg.Buffer.Compress,
		CompressionLevel: cfg.Buffer.CompressionLevel,
		LazyWrites:       cfg.Buffer.LazyWrites,
	}, opts...)
	if err != nil {
		return nil, err
	}
	m.Buffers = buffers

	if cfg.Files.Enabled {
		filesSize, _ := cfg.Files.MaxSizeBytes()
		files, err := NewFileCache(FileCacheConfig{
			Directory: cfg.Files.Directory,
			MaxSize:   filesSize,
		}, opts...)
		if err != nil {
			_ = buffers.Close()
			return nil, err
		}
		m.Files = files
	}

	if cfg.Memory.Enabled {
		budget, _ := cfg.Memory.MaxMemoryBytes()
		var backing types.BufferStore
		if buffers.enabled() {
			backing = buffers
		}
		m.Memory = NewMemoryCache(MemoryConfig{
			TTL:             cfg.Memory.TTL,
			SoftAfter:       cfg.Memory.SoftAfter,
			MaxMemory:       budget,
			Shards:          cfg.Memory.Shards,
			MissHistory:     cfg.Memory.MissHistory,
			JanitorInterval: cfg.Memory.JanitorInterval,
		}, backing, opts...)
	}

	m.logger.Info("cache opened",
		"memory", m.Memory != nil,
		"buffers", buffers.enabled(),
		"files", m.Files != nil)
	return m, nil
}

// GetBuffer looks label up in memory first and then on disk.
func (m *Manager) GetBuffer(label string) (types.TypedBuffer, bool) {
	if m.Memory != nil {
		return m.Memory.Get(label)
	}
	b, ok, err := m.Buffers.Get(label)
	if err != nil {
		m.logger.Warn("buffer read failed", "label", label, "err", err)
		return types.TypedBuffer{}, false
	}
	return b, ok
}

// PutBuffer caches buf in every enabled buffer tier.
func (m *Manager) PutBuffer(buf types.TypedBuffer) error {
	if m.Memory != nil {
		return m.Memory.Put(buf)
	}
	return m.Buffers.Put(buf)
}

// Flush waits for queued buffer writes.
func (m *Manager) Flush(ctx context.Context) error {
	return m.Buffers.Flush(ctx)
}

// Stats returns statistics per enabled tier.
func (m *Manager) Stats() map[string]types.CacheStats {
	stats := map[string]types.CacheStats{TierBuffer: m.Buffers.Stats()}
	if m.Memory != nil {
		stats[TierMemory] = m.Memory.Stats()
	}
	if m.Files != nil {
		stats[TierFiles] = m.Files.Stats()
	}
	return stats
}

// Close drains the write-behind queue and stops every tier. Close is
// idempotent.
func (m *Manager) Close() error {
	err := m.Buffers.Close()
	if m.Memory != nil {
		err = multierr.Append(err, m.Memory.Close())
	}
	if err == nil {
		m.logger.Debug("cache closed")
	}
	return err
}
