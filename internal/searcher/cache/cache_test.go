package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/OpenModelDB/model-search/internal/searcher"
	"github.com/OpenModelDB/model-search/internal/searcher/parser"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	fail error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	v, ok := m.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[key] = value
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			n++
		}
	}
	return n, nil
}

func request(q string, tags ...string) searcher.Request {
	return searcher.Request{Plan: parser.Parse(q, tags), Limit: 10}
}

func TestKeyDependsOnVersionAndRequest(t *testing.T) {
	base := Key("v1", request("anime esrgan"))
	if base != Key("v1", request("ESRGAN  anime")) {
		t.Error("equivalent queries produced different keys")
	}
	others := []string{
		Key("v2", request("anime esrgan")),
		Key("v1", request("anime esrgan", "arch:esrgan")),
		Key("v1", searcher.Request{Plan: parser.Parse("anime esrgan", nil), Limit: 10, Offset: 10}),
		Key("v1", searcher.Request{Plan: parser.Parse("anime esrgan", nil), Limit: 10, All: true}),
	}
	for i, k := range others {
		if k == base {
			t.Errorf("variant %d collides with the base key", i)
		}
	}
	if Key("v1", request("", "anime,photo")) == Key("v1", request("", "anime", "photo")) {
		t.Error("a tag containing a comma shares a key with two tags")
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	ctx := context.Background()
	var calls int
	compute := func() (*searcher.SearchResult, error) {
		calls++
		return &searcher.SearchResult{Query: "anime", Version: "v1", TotalHits: 3}, nil
	}

	first, hit, err := c.GetOrCompute(ctx, "v1", request("anime"), compute)
	if err != nil || hit || first.TotalHits != 3 {
		t.Fatalf("first call: %+v hit=%v err=%v", first, hit, err)
	}
	second, hit, err := c.GetOrCompute(ctx, "v1", request("anime"), compute)
	if err != nil || !hit || second.TotalHits != 3 {
		t.Fatalf("second call: %+v hit=%v err=%v", second, hit, err)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
	st := c.Stats(ctx)
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 || st.HitRate != 0.5 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestGetOrComputeStoresUnderResultVersion(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	ctx := context.Background()
	compute := func() (*searcher.SearchResult, error) {
		return &searcher.SearchResult{Version: "v2"}, nil
	}
	if _, _, err := c.GetOrCompute(ctx, "v1", request("x"), compute); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, Key("v1", request("x"))); ok {
		t.Error("result computed against v2 was cached under v1")
	}
	if _, ok := c.Get(ctx, Key("v2", request("x"))); !ok {
		t.Error("result missing under its own version")
	}
}

func TestGetOrComputePropagatesErrors(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "v1", request("x"), func() (*searcher.SearchResult, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if n, _ := c.store.CountByPattern(context.Background(), keyPrefix+"*"); n != 0 {
		t.Error("a failed computation was cached")
	}
}

func TestStoreFailuresDegradeToCompute(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	c := New(store, time.Minute, nil)
	var calls atomic.Int32
	for i := 0; i < 8; i++ {
		res, hit, err := c.GetOrCompute(context.Background(), "v1", request("x"), func() (*searcher.SearchResult, error) {
			calls.Add(1)
			return &searcher.SearchResult{Version: "v1"}, nil
		})
		if err != nil || hit || res == nil {
			t.Fatalf("iteration %d: res=%v hit=%v err=%v", i, res, hit, err)
		}
	}
	if calls.Load() != 8 {
		t.Errorf("compute called %d times, want 8", calls.Load())
	}
	if st := c.Stats(context.Background()); st.Circuit != "open" || st.Errors == 0 {
		t.Errorf("stats after repeated failures: %+v", st)
	}
}

func TestInvalidateClosesOpenCircuit(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	c := New(store, time.Minute, nil)
	ctx := context.Background()
	compute := func() (*searcher.SearchResult, error) { return &searcher.SearchResult{Version: "v1"}, nil }
	for i := 0; i < 5; i++ {
		if _, _, err := c.GetOrCompute(ctx, "v1", request("x"), compute); err != nil {
			t.Fatal(err)
		}
	}
	if st := c.Stats(ctx); st.Circuit != "open" {
		t.Fatalf("circuit = %s, want open", st.Circuit)
	}

	store.fail = nil
	if _, err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if st := c.Stats(ctx); st.Circuit != "closed" {
		t.Errorf("circuit after invalidate = %s, want closed", st.Circuit)
	}
	if _, _, err := c.GetOrCompute(ctx, "v1", request("x"), compute); err != nil {
		t.Fatal(err)
	}
	if _, hit, _ := c.GetOrCompute(ctx, "v1", request("x"), compute); !hit {
		t.Error("cache not used again after the circuit closed")
	}
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	store.data["unrelated"] = []byte("keep")
	c := New(store, time.Minute, nil)
	ctx := context.Background()
	c.Set(ctx, Key("v1", request("a")), &searcher.SearchResult{Version: "v1"})
	c.Set(ctx, Key("v1", request("b")), &searcher.SearchResult{Version: "v1"})

	n, err := c.Invalidate(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Invalidate = %d, %v; want 2", n, err)
	}
	if _, ok := store.data["unrelated"]; !ok {
		t.Error("Invalidate removed a key outside the cache prefix")
	}
}
