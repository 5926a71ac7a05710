package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	"github.com/geomcache/geomcache/internal/buffer"
	cerrors "github.com/geomcache/geomcache/pkg/errors"
	"github.com/geomcache/geomcache/pkg/types"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = cerrors.NewError(cerrors.ErrCodeComponentStopped, "cache closed")

// Keys of the extra metadata stored with every buffer.
const (
	extraType        = "type"
	extraNumElements = "numElements"
	extraCompressed  = "compressed"
)

const incomingPattern = ".incoming-*"

// BufferDiskConfig represents typed buffer disk cache configuration.
// A zero CompressionLevel selects the gzip default.
type BufferDiskConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Directory        string `yaml:"directory"`
	MaxSize          int64  `yaml:"max_size"`
	Compress         bool   `yaml:"compress"`
	CompressionLevel int    `yaml:"compression_level"`
	LazyWrites       bool   `yaml:"lazy_writes"`
}

// BufferDiskCache stores typed buffers on disk keyed by label. Storage
// bookkeeping is delegated to a private FileCache. With LazyWrites, Put only
// queues the buffer and a single background consumer writes it.
//
// A disabled cache, or one with MaxSize <= 0, accepts every call and stores
// nothing.
type BufferDiskCache struct {
	config  BufferDiskConfig
	files   *FileCache
	queue   *buffer.WriteBehind[types.TypedBuffer]
	scratch *buffer.BytePool

	logger  *log.Logger
	metrics types.MetricsRecorder
	now     func() time.Time

	closed atomic.Bool
}

// NewBufferDiskCache opens the buffer cache and starts the write-behind
// consumer when LazyWrites is set.
func NewBufferDiskCache(config BufferDiskConfig, opts ...Option) (*BufferDiskCache, error) {
	o := buildOptions(opts)
	c := &BufferDiskCache{
		config:  config,
		scratch: buffer.NewBytePool(),
		logger:  o.logger.With("component", TierBuffer),
		metrics: o.metrics,
		now:     o.now,
	}
	if !c.enabled() {
		c.logger.Debug("buffer cache disabled")
		return c, nil
	}

	if config.CompressionLevel == 0 {
		c.config.CompressionLevel = gzip.DefaultCompression
	}
	if c.config.CompressionLevel < gzip.HuffmanOnly || c.config.CompressionLevel > gzip.BestCompression {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid compression level %d", config.CompressionLevel)).WithComponent(TierBuffer)
	}

	files, err := NewFileCache(FileCacheConfig{
		Directory:       config.Directory,
		MaxSize:         config.MaxSize,
		Tier:            TierBuffer,
		StripExtensions: true,
	}, opts...)
	if err != nil {
		return nil, err
	}
	c.files = files
	c.removeIncoming()

	if config.LazyWrites {
		c.queue = buffer.NewWriteBehind(c.flushQueued)
	}
	return c, nil
}

func (c *BufferDiskCache) enabled() bool {
	return c.config.Enabled && c.config.MaxSize > 0
}

// removeIncoming deletes temporary files left by an interrupted write.
func (c *BufferDiskCache) removeIncoming() {
	leftovers, err := filepath.Glob(filepath.Join(c.files.Dir(), incomingPattern))
	if err != nil {
		return
	}
	for _, p := range leftovers {
		if err := os.Remove(p); err != nil {
			c.logger.Warn("failed to remove leftover temporary file", "path", p, "err", err)
		}
	}
}

// Put stores buf, through the write-behind queue when LazyWrites is set.
// A queued buffer must not be modified by the caller.
func (c *BufferDiskCache) Put(buf types.TypedBuffer) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if buf.Elements == nil {
		return fmt.Errorf("%w: buffer %q has no elements", ErrUnsupportedType, buf.Label)
	}
	if !c.enabled() {
		return nil
	}
	if c.queue == nil {
		return c.store(buf)
	}

	if err := c.queue.Push(buf); err != nil {
		return ErrClosed
	}
	c.metrics.SetQueueDepth(c.queue.Pending())
	return nil
}

// PutDirect encodes and writes buf synchronously. If the label is already
// cached nothing is written. If no room can be made the buffer is silently
// not cached.
func (c *BufferDiskCache) PutDirect(buf types.TypedBuffer) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if buf.Elements == nil {
		return fmt.Errorf("%w: buffer %q has no elements", ErrUnsupportedType, buf.Label)
	}
	if !c.enabled() {
		return nil
	}
	return c.store(buf)
}

func (c *BufferDiskCache) flushQueued(buf types.TypedBuffer) error {
	err := c.store(buf)
	if err != nil {
		c.logger.Error("write-behind store failed", "label", buf.Label, "err", err)
	}
	c.metrics.SetQueueDepth(c.queue.Pending() - 1)
	return err
}

func (c *BufferDiskCache) store(buf types.TypedBuffer) error {
	start := c.now()
	defer func() { c.metrics.ObserveDuration(TierBuffer, "store", c.now().Sub(start)) }()

	if _, ok := c.files.Entry(buf.Label); ok {
		return nil
	}

	tmp, err := c.writeIncoming(buf.Elements)
	if err != nil {
		c.metrics.RecordWriteError(TierBuffer)
		return err
	}
	defer func() {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove temporary file", "path", tmp, "err", err)
		}
	}()

	extra := map[string]any{
		extraType:        buf.Type().String(),
		extraNumElements: buf.NumElements(),
		extraCompressed:  c.config.Compress,
	}
	stored, err := c.files.Put(buf.Label, extra, tmp)
	if err != nil {
		return err
	}
	if stored == tmp {
		c.logger.Debug("buffer not cached, capacity unavailable", "label", buf.Label, "bytes", buf.SizeBytes())
	}
	return nil
}

// writeIncoming encodes e into a new temporary file in the cache directory
// and returns its path.
func (c *BufferDiskCache) writeIncoming(e types.Elements) (path string, err error) {
	scratch := c.scratch.Get(encodedLen(e))
	defer c.scratch.Put(scratch)

	data, err := appendEncoded(scratch[:0], e)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(c.files.Dir(), incomingPattern)
	if err != nil {
		return "", cerrors.Wrap(err, cerrors.ErrCodeStorageWrite, "failed to create temporary file").
			WithComponent(TierBuffer).WithOperation("put")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerrors.Wrap(cerr, cerrors.ErrCodeStorageWrite, "failed to close temporary file").
				WithComponent(TierBuffer).WithOperation("put")
		}
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	var w io.Writer = f
	var zw *gzip.Writer
	if c.config.Compress {
		zw, err = gzip.NewWriterLevel(f, c.config.CompressionLevel)
		if err != nil {
			return "", err
		}
		w = zw
	}
	if _, err := w.Write(data); err != nil {
		return "", cerrors.Wrap(err, cerrors.ErrCodeStorageWrite, "failed to write buffer").
			WithComponent(TierBuffer).WithOperation("put")
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return "", cerrors.Wrap(err, cerrors.ErrCodeStorageWrite, "failed to finish compressed stream").
				WithComponent(TierBuffer).WithOperation("put")
		}
	}
	return f.Name(), nil
}

// Get returns the buffer stored under label. A missing label is reported as
// ok == false with a nil error. Unreadable or corrupt data yields an error.
func (c *BufferDiskCache) Get(label string) (types.TypedBuffer, bool, error) {
	if !c.enabled() {
		return types.TypedBuffer{}, false, nil
	}

	start := c.now()
	defer func() { c.metrics.ObserveDuration(TierBuffer, "load", c.now().Sub(start)) }()

	path, extra, ok := c.files.GetWithExtra(label)
	if !ok {
		return types.TypedBuffer{}, false, nil
	}

	t, n, compressed, err := parseBufferExtra(extra)
	if err != nil {
		return types.TypedBuffer{}, false, cerrors.Wrap(err, cerrors.ErrCodeCorruptMetadata, "invalid buffer metadata").
			WithComponent(TierBuffer).WithOperation("get").WithContext("label", label)
	}

	var elems types.Elements
	if compressed {
		elems, err = c.readCompressed(path, t, n)
	} else {
		elems, err = readPlain(path, t, n)
	}
	if err != nil {
		return types.TypedBuffer{}, false, cerrors.Wrap(err, cerrors.ErrCodeStorageRead, "failed to read buffer").
			WithComponent(TierBuffer).WithOperation("get").WithContext("label", label)
	}
	return types.TypedBuffer{Label: label, Elements: elems}, true, nil
}

func (c *BufferDiskCache) readCompressed(path string, t types.ElementType, n int) (types.Elements, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	// Read at most one byte past the promised size; decode rejects any
	// mismatch.
	want := n * t.Width()
	data, err := io.ReadAll(io.LimitReader(zr, int64(want)+1))
	if err != nil {
		return nil, err
	}
	return decode(t, n, data)
}

// readPlain checks the data file size against the metadata before mapping
// and decoding it.
func readPlain(path string, t types.ElementType, n int) (types.Elements, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if want := int64(n * t.Width()); info.Size() != want {
		return nil, fmt.Errorf("data file has %d bytes, metadata promises %d", info.Size(), want)
	}

	var elems types.Elements
	err = readMapped(path, func(data []byte) error {
		var derr error
		elems, derr = decode(t, n, data)
		return derr
	})
	return elems, err
}

func parseBufferExtra(extra map[string]any) (types.ElementType, int, bool, error) {
	name, _ := extra[extraType].(string)
	t, err := types.ParseElementType(name)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
	}
	n, ok := extraInt(extra[extraNumElements])
	if !ok || n > maxElements(t) {
		return 0, 0, false, fmt.Errorf("bad %s: %v", extraNumElements, extra[extraNumElements])
	}
	compressed, ok := extra[extraCompressed].(bool)
	if !ok {
		return 0, 0, false, fmt.Errorf("bad %s: %v", extraCompressed, extra[extraCompressed])
	}
	return t, n, compressed, nil
}

// extraInt accepts the integer shapes extra values take in memory and after
// a JSON round trip.
func extraInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int64:
		return int(n), n >= 0
	case float64:
		if n < 0 || n != math.Trunc(n) || n > float64(math.MaxInt) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil && i >= 0
	}
	return 0, false
}

// Remove deletes the buffer stored under label.
func (c *BufferDiskCache) Remove(label string) (bool, error) {
	if c.files == nil {
		return true, nil
	}
	return c.files.Remove(label)
}

// Clear deletes every stored buffer. Queued writes are not cancelled.
func (c *BufferDiskCache) Clear() error {
	if c.files == nil {
		return nil
	}
	return c.files.Clear()
}

// Size returns the bytes used on disk.
func (c *BufferDiskCache) Size() int64 {
	if c.files == nil {
		return 0
	}
	return c.files.Size()
}

// MaxSize returns the configured capacity, zero when disabled.
func (c *BufferDiskCache) MaxSize() int64 {
	if c.files == nil {
		return 0
	}
	return c.files.MaxSize()
}

// InsureCapacity evicts stored buffers until requested more bytes fit.
func (c *BufferDiskCache) InsureCapacity(requested int64) bool {
	if c.files == nil {
		return false
	}
	return c.files.InsureCapacity(requested)
}

// Entries describes the stored buffers, most recently accessed first.
func (c *BufferDiskCache) Entries() []types.EntryInfo {
	if c.files == nil {
		return nil
	}
	return c.files.Entries()
}

// Stats returns cache statistics
func (c *BufferDiskCache) Stats() types.CacheStats {
	if c.files == nil {
		return types.CacheStats{}
	}
	return c.files.Stats()
}

// Pending returns the number of buffers waiting to be written.
func (c *BufferDiskCache) Pending() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Pending()
}

// QueueStats reports write-behind activity.
func (c *BufferDiskCache) QueueStats() buffer.WriteBehindStats {
	if c.queue == nil {
		return buffer.WriteBehindStats{}
	}
	return c.queue.Stats()
}

// Flush waits until every buffer queued so far has been written.
func (c *BufferDiskCache) Flush(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}
	return c.queue.Flush(ctx)
}

// Close stops accepting writes, drains the write-behind queue and stops its
// consumer. Close is idempotent.
func (c *BufferDiskCache) Close() error {
	c.closed.Store(true)
	if c.queue == nil {
		return nil
	}
	err := c.queue.Close()
	c.metrics.SetQueueDepth(0)
	if stats := c.queue.Stats(); stats.Failed > 0 {
		c.logger.Warn("write-behind finished with failures", "failed", stats.Failed, "flushed", stats.Flushed)
	}
	return err
}

var _ types.BufferStore = (*BufferDiskCache)(nil)
