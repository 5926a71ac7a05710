package cache

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geomcache/geomcache/pkg/types"
)

// stubStore is an in-memory BufferStore that counts calls.
type stubStore struct {
	mu      sync.Mutex
	data    map[string]types.TypedBuffer
	gets    atomic.Int64
	puts    atomic.Int64
	getErr  error
	getGate chan struct{}
}

func newStubStore() *stubStore {
	return &stubStore{data: make(map[string]types.TypedBuffer)}
}

func (s *stubStore) Put(b types.TypedBuffer) error {
	s.puts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[b.Label] = b
	return nil
}

func (s *stubStore) Get(label string) (types.TypedBuffer, bool, error) {
	s.gets.Add(1)
	if s.getGate != nil {
		<-s.getGate
	}
	if s.getErr != nil {
		return types.TypedBuffer{}, false, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[label]
	return b, ok, nil
}

func newTestMemoryCache(t *testing.T, config MemoryConfig, backing types.BufferStore, clock *fakeClock) *MemoryCache {
	t.Helper()
	if config.JanitorInterval == 0 {
		config.JanitorInterval = time.Hour
	}
	c := NewMemoryCache(config, backing, WithClock(clock.Now))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_PutGet(t *testing.T) {
	store := newStubStore()
	c := newTestMemoryCache(t, MemoryConfig{TTL: time.Hour}, store, newFakeClock())

	buf := types.NewFloatBuffer("sphere", []float32{1, 2, 3})
	if err := c.Put(buf); err != nil {
		t.Fatal(err)
	}
	if store.puts.Load() != 1 {
		t.Errorf("expected write-through to backing store, got %d puts", store.puts.Load())
	}

	got, ok := c.Get("sphere")
	if !ok || !got.Equal(buf) {
		t.Fatalf("Get() = %v, %v", got, ok)
	}
	if store.gets.Load() != 0 {
		t.Error("memory hit should not consult the backing store")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Entries != 1 || stats.Size != 12 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMemoryCache_LoadOnMiss(t *testing.T) {
	store := newStubStore()
	buf := types.NewIntBuffer("disk-only", []int32{4, 5, 6})
	store.data[buf.Label] = buf

	c := newTestMemoryCache(t, MemoryConfig{TTL: time.Hour}, store, newFakeClock())

	got, ok := c.Get("disk-only")
	if !ok || !got.Equal(buf) {
		t.Fatalf("Get() = %v, %v", got, ok)
	}
	if store.puts.Load() != 0 {
		t.Error("a loaded value must not be written back")
	}

	// second read is served from memory
	if _, ok := c.Get("disk-only"); !ok {
		t.Fatal("expected hit")
	}
	if store.gets.Load() != 1 {
		t.Errorf("expected one backing read, got %d", store.gets.Load())
	}

	stats := c.Stats()
	if stats.Loads != 1 || stats.Misses != 1 || stats.Hits != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMemoryCache_MissEverywhere(t *testing.T) {
	tests := []struct {
		name    string
		backing *stubStore
	}{
		{name: "no backing store"},
		{name: "backing miss", backing: newStubStore()},
		{name: "backing error", backing: &stubStore{data: map[string]types.TypedBuffer{}, getErr: errors.New("corrupt")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c *MemoryCache
			if tt.backing == nil {
				c = newTestMemoryCache(t, MemoryConfig{}, nil, newFakeClock())
			} else {
				c = newTestMemoryCache(t, MemoryConfig{}, tt.backing, newFakeClock())
			}

			if _, ok := c.Get("nothing"); ok {
				t.Error("expected miss")
			}
			if c.Len() != 0 {
				t.Error("a miss must not create an entry")
			}
		})
	}
}

func TestMemoryCache_SingleflightLoads(t *testing.T) {
	store := newStubStore()
	store.data["shared"] = types.NewDoubleBuffer("shared", []float64{1})
	store.getGate = make(chan struct{})

	c := newTestMemoryCache(t, MemoryConfig{}, store, newFakeClock())

	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = c.Get("shared")
		}(i)
	}

	// wait until the first loader is blocked on the store
	for store.gets.Load() == 0 {
		runtime.Gosched()
	}
	time.Sleep(20 * time.Millisecond)
	close(store.getGate)
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Errorf("caller %d missed", i)
		}
	}
	if n := store.gets.Load(); n > 2 {
		t.Errorf("expected concurrent misses to share a load, got %d backing reads", n)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestMemoryCache(t, MemoryConfig{TTL: time.Minute}, nil, clock)

	if err := c.Put(types.NewByteBuffer("k", []byte{1})); err != nil {
		t.Fatal(err)
	}

	clock.Advance(30 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before TTL")
	}

	// access refreshes the deadline
	clock.Advance(50 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit, last access was under a minute ago")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to expire")
	}
	if c.Stats().Evictions != 1 || c.StrongBytes() != 0 {
		t.Errorf("unexpected stats after expiry %+v", c.Stats())
	}
}

func TestMemoryCache_SweepDemotesAndExpires(t *testing.T) {
	clock := newFakeClock()
	c := newTestMemoryCache(t, MemoryConfig{TTL: time.Hour, SoftAfter: 10 * time.Minute}, nil, clock)

	for _, k := range []string{"old", "idle", "fresh"} {
		if err := c.Put(types.NewIntBuffer(k, []int32{1, 2})); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(61 * time.Minute)
	c.Get("idle") // expired already, dropped on access
	if err := c.Put(types.NewIntBuffer("idle", []int32{1, 2})); err != nil {
		t.Fatal(err)
	}
	clock.Advance(11 * time.Minute)
	if err := c.Put(types.NewIntBuffer("fresh", []int32{1, 2})); err != nil {
		t.Fatal(err)
	}

	c.sweep()

	if c.Len() != 2 {
		t.Errorf("expected old to be expired, %d entries left", c.Len())
	}
	if c.Demotions() != 1 {
		t.Errorf("expected idle to be demoted, got %d demotions", c.Demotions())
	}
	if c.StrongBytes() != 8 {
		t.Errorf("expected only fresh to be strongly held, got %d bytes", c.StrongBytes())
	}
}

func TestMemoryCache_MemoryBudget(t *testing.T) {
	c := newTestMemoryCache(t, MemoryConfig{TTL: time.Hour, MaxMemory: 100}, nil, newFakeClock())

	for i := 0; i < 5; i++ {
		if err := c.Put(types.NewByteBuffer(fmt.Sprintf("b%d", i), make([]byte, 40))); err != nil {
			t.Fatal(err)
		}
		if c.StrongBytes() > 100 {
			t.Fatalf("strong bytes %d exceed the budget", c.StrongBytes())
		}
	}

	if c.StrongBytes() != 80 {
		t.Errorf("expected the two newest buffers to stay strong, got %d bytes", c.StrongBytes())
	}
	if c.Demotions() != 3 {
		t.Errorf("expected 3 demotions, got %d", c.Demotions())
	}
}

func TestMemoryCache_WeakValuesAreReclaimable(t *testing.T) {
	store := newStubStore()
	clock := newFakeClock()
	c := newTestMemoryCache(t, MemoryConfig{TTL: time.Hour, SoftAfter: time.Minute}, store, clock)

	want := types.NewFloatBuffer("weak", []float32{1, 2, 3})
	if err := c.Put(want); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	c.sweep()
	if c.StrongBytes() != 0 {
		t.Fatal("expected value to be demoted")
	}

	runtime.GC()
	runtime.GC()

	// whether the collector took it or not, the answer must be right
	got, ok := c.Get("weak")
	if !ok || !got.Equal(want) {
		t.Fatalf("Get() = %v, %v", got, ok)
	}
}

func TestMemoryCache_RemoveIsMemoryOnly(t *testing.T) {
	store := newStubStore()
	c := newTestMemoryCache(t, MemoryConfig{}, store, newFakeClock())

	buf := types.NewShortBuffer("k", []int16{7})
	if err := c.Put(buf); err != nil {
		t.Fatal(err)
	}
	c.Remove("k")

	if c.Len() != 0 || c.StrongBytes() != 0 {
		t.Error("expected entry to be gone from memory")
	}
	if _, ok, _ := store.Get("k"); !ok {
		t.Error("Remove must not touch the backing store")
	}
	if got, ok := c.Get("k"); !ok || !got.Equal(buf) {
		t.Error("expected reload from the backing store")
	}
}

func TestMemoryCache_PutReplaces(t *testing.T) {
	c := newTestMemoryCache(t, MemoryConfig{}, nil, newFakeClock())

	if err := c.Put(types.NewByteBuffer("k", make([]byte, 10))); err != nil {
		t.Fatal(err)
	}
	second := types.NewByteBuffer("k", make([]byte, 30))
	if err := c.Put(second); err != nil {
		t.Fatal(err)
	}

	got, _ := c.Get("k")
	if !got.Equal(second) {
		t.Error("expected latest value")
	}
	if c.StrongBytes() != 30 {
		t.Errorf("expected 30 strong bytes, got %d", c.StrongBytes())
	}

	if err := c.Put(types.TypedBuffer{Label: "empty"}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Put(empty) error = %v", err)
	}
}

func TestMemoryCache_RecentMisses(t *testing.T) {
	tests := []struct {
		name    string
		history int
		misses  []string
		want    []string
	}{
		{name: "disabled", history: 0, misses: []string{"a"}, want: []string{}},
		{name: "partial", history: 3, misses: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "wrapped", history: 3, misses: []string{"a", "b", "c", "d", "e"}, want: []string{"c", "d", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestMemoryCache(t, MemoryConfig{MissHistory: tt.history}, nil, newFakeClock())
			for _, k := range tt.misses {
				c.Get(k)
			}
			got := c.RecentMisses()
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("RecentMisses() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	store := newStubStore()
	c := newTestMemoryCache(t, MemoryConfig{TTL: time.Hour, SoftAfter: time.Minute, MaxMemory: 400, Shards: 4}, store, newFakeClock())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				label := fmt.Sprintf("k%d", i%20)
				want := types.NewIntBuffer(label, []int32{int32(i % 20)})
				switch i % 4 {
				case 0:
					_ = c.Put(want)
				case 3:
					c.sweep()
				default:
					if got, ok := c.Get(label); ok && !got.Equal(want) {
						t.Errorf("Get(%s) returned a value for another key", label)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	if c.StrongBytes() < 0 {
		t.Errorf("strong byte accounting went negative: %d", c.StrongBytes())
	}
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{JanitorInterval: time.Millisecond}, nil)
	time.Sleep(5 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
