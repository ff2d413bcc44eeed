package memory

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hivemind-dev/hivemind/internal/state"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := NewStore()
	defer s.Close()

	pre, err := s.Put("knowledge/app", "facts", []byte("v1"), "agent-1")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	post, err := s.Put("knowledge/app", "facts", []byte("v2"), "agent-1")
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := s.Get("knowledge/app", "facts")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Value) != "v2" {
		t.Errorf("expected v2, got %s", got.Value)
	}

	// The post-write clock must dominate the pre-write clock.
	if !post.Clock.Dominates(pre.Clock) {
		t.Errorf("expected %v to dominate %v", post.Clock, pre.Clock)
	}
	if pre.Clock.Compare(post.Clock) != OrderBefore {
		t.Errorf("expected pre-write clock strictly before post-write clock")
	}
}

func TestGetNotFound(t *testing.T) {
	s := NewStore()
	defer s.Close()

	_, err := s.Get("ns", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheServesRepeatReads(t *testing.T) {
	s := NewStore(WithCacheCapacity(2))
	defer s.Close()

	if _, err := s.Put("ns", "k", []byte("v"), "w"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// First read populates the cache, second is served from it.
	for i := 0; i < 2; i++ {
		got, err := s.Get("ns", "k")
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		if string(got.Value) != "v" {
			t.Errorf("Get %d: expected v, got %s", i, got.Value)
		}
	}

	// A write to the key must invalidate the cached version.
	if _, err := s.Put("ns", "k", []byte("v2"), "w"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get("ns", "k")
	if err != nil {
		t.Fatalf("Get after write failed: %v", err)
	}
	if string(got.Value) != "v2" {
		t.Errorf("expected v2 after invalidation, got %s", got.Value)
	}
}

func TestLRUEviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", Entry{Key: "a"})
	c.put("b", Entry{Key: "b"})

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected a in cache")
	}

	c.put("c", Entry{Key: "c"})
	if _, ok := c.get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("expected a to survive")
	}
	if c.len() != 2 {
		t.Errorf("expected cache size 2, got %d", c.len())
	}
}

func TestApplyConcurrentWriteUsesLastWriterWins(t *testing.T) {
	s := NewStore()
	defer s.Close()

	earlier := time.Now().Add(-time.Minute)
	later := time.Now()

	if err := s.Apply(Entry{
		Namespace: "ns", Key: "k", Value: []byte("old"),
		Clock: VectorClock{"w1": 1}, LastWriter: "w1", WrittenAt: earlier,
	}); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	// Concurrent clock: w2's write does not know about w1's.
	if err := s.Apply(Entry{
		Namespace: "ns", Key: "k", Value: []byte("new"),
		Clock: VectorClock{"w2": 1}, LastWriter: "w2", WrittenAt: later,
	}); err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}

	got, err := s.Get("ns", "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Value) != "new" {
		t.Errorf("expected later write to win, got %s", got.Value)
	}
	// The surviving clock covers both histories.
	if got.Clock["w1"] != 1 || got.Clock["w2"] != 1 {
		t.Errorf("expected merged clock, got %v", got.Clock)
	}
	if s.Conflicts() != 1 {
		t.Errorf("expected 1 recorded conflict, got %d", s.Conflicts())
	}
}

func TestApplyDominatedWriteIgnored(t *testing.T) {
	s := NewStore()
	defer s.Close()

	if err := s.Apply(Entry{
		Namespace: "ns", Key: "k", Value: []byte("current"),
		Clock: VectorClock{"w1": 2}, LastWriter: "w1", WrittenAt: time.Now(),
	}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// A stale replicated write must not clobber the newer version.
	if err := s.Apply(Entry{
		Namespace: "ns", Key: "k", Value: []byte("stale"),
		Clock: VectorClock{"w1": 1}, LastWriter: "w1", WrittenAt: time.Now(),
	}); err != nil {
		t.Fatalf("stale Apply failed: %v", err)
	}

	got, err := s.Get("ns", "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Value) != "current" {
		t.Errorf("expected current to survive, got %s", got.Value)
	}
	if s.Conflicts() != 0 {
		t.Errorf("expected no conflicts, got %d", s.Conflicts())
	}
}

func TestUnionResolverMergesSets(t *testing.T) {
	s := NewStore(WithResolver("knowledge/app", UnionResolver))
	defer s.Close()

	now := time.Now()
	if err := s.Apply(Entry{
		Namespace: "knowledge/app", Key: "facts", Value: []byte(`["a","b"]`),
		Clock: VectorClock{"w1": 1}, LastWriter: "w1", WrittenAt: now,
	}); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	if err := s.Apply(Entry{
		Namespace: "knowledge/app", Key: "facts", Value: []byte(`["b","c"]`),
		Clock: VectorClock{"w2": 1}, LastWriter: "w2", WrittenAt: now,
	}); err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}

	got, err := s.Get("knowledge/app", "facts")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var merged []string
	if err := json.Unmarshal(got.Value, &merged); err != nil {
		t.Fatalf("unmarshal merged value: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(merged) != len(want) {
		t.Fatalf("expected %v, got %v", want, merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, merged)
		}
	}
}

func TestMergeHookFailureSurfaced(t *testing.T) {
	s := NewStore(WithResolver("ns", UnionResolver))
	defer s.Close()

	now := time.Now()
	if err := s.Apply(Entry{
		Namespace: "ns", Key: "k", Value: []byte("not json"),
		Clock: VectorClock{"w1": 1}, LastWriter: "w1", WrittenAt: now,
	}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	err := s.Apply(Entry{
		Namespace: "ns", Key: "k", Value: []byte("also not json"),
		Clock: VectorClock{"w2": 1}, LastWriter: "w2", WrittenAt: now,
	})
	if err == nil {
		t.Fatal("expected merge hook failure to surface")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := NewStore()
	defer s.Close()

	if _, err := s.Put("ns", "ephemeral", []byte("v"), "w", WithTTL(-time.Second)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := s.Get("ns", "ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired entry to read as not found, got %v", err)
	}

	if removed := s.Sweep(time.Now()); removed != 1 {
		t.Errorf("expected sweep to remove 1 entry, removed %d", removed)
	}
}

func TestDurableWriteThroughAndLoad(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatalf("state.Open failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	s := NewStore(WithDurable(db))
	if _, err := s.Put("coordination/obj-1", "task/t1", []byte(`{"status":"running"}`), "coordinator"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	s.Close()

	// A fresh store over the same durable layer sees the write.
	restored := NewStore(WithDurable(db))
	defer restored.Close()
	if err := restored.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got, err := restored.Get("coordination/obj-1", "task/t1")
	if err != nil {
		t.Fatalf("Get after Load failed: %v", err)
	}
	if string(got.Value) != `{"status":"running"}` {
		t.Errorf("unexpected restored value: %s", got.Value)
	}
	if got.Clock["coordinator"] != 1 {
		t.Errorf("expected restored clock, got %v", got.Clock)
	}
}

func TestReplication(t *testing.T) {
	primary := NewStore()
	replica := NewStore()
	defer primary.Close()
	defer replica.Close()

	primary.ReplicateTo(1, replica)

	if _, err := primary.Put("ns", "k", []byte("v"), "w"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := replica.Get("ns", "k")
	if err != nil {
		t.Fatalf("replica Get failed: %v", err)
	}
	if string(got.Value) != "v" {
		t.Errorf("expected replicated value, got %s", got.Value)
	}
}
