package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeClock advances one millisecond on every reading so access order is
// always visible in the timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// writeSource creates a file of size bytes in a fresh source directory.
func writeSource(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	return path
}

func newTestFileCache(t *testing.T, dir string, maxSize int64, clock *fakeClock) *FileCache {
	t.Helper()
	c, err := NewFileCache(FileCacheConfig{Directory: dir, MaxSize: maxSize}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewFileCache() error = %v", err)
	}
	return c
}
