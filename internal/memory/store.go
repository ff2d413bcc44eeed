// Package memory provides the partitioned, versioned key/value store shared
// by all coordination components. Every value carries a vector clock so
// concurrent writes are detected and resolved by policy instead of silently
// lost.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hivemind-dev/hivemind/internal/state"
)

// ErrNotFound indicates the requested entry does not exist.
var ErrNotFound = errors.New("memory entry not found")

// Well-known namespace prefixes for coordination state.
const (
	// NamespaceCoordination holds task/agent snapshots per objective.
	NamespaceCoordination = "coordination"
	// NamespaceConsensus holds proposals and their votes.
	NamespaceConsensus = "consensus"
	// NamespaceKnowledge holds general shared knowledge.
	NamespaceKnowledge = "knowledge"
)

// Entry is a single versioned value in the store.
type Entry struct {
	// Namespace partitions the key space.
	Namespace string `json:"namespace"`
	// Key is the entry key, unique within its namespace.
	Key string `json:"key"`
	// Value is the entry payload.
	Value []byte `json:"value"`
	// Clock is the vector clock of this version.
	Clock VectorClock `json:"clock"`
	// LastWriter is the writer that produced this version.
	LastWriter string `json:"last_writer"`
	// WrittenAt is the wall-clock write time, used for last-writer-wins.
	WrittenAt time.Time `json:"written_at"`
	// ExpiresAt is the TTL expiry, if any.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired returns true if the entry's TTL has passed.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Durable is the write-through persistence layer under the store.
// *state.DB satisfies it.
type Durable interface {
	PutRecord(state.Record) error
	ListNamespace(namespace string) ([]state.Record, error)
	Namespaces() ([]string, error)
	DeleteRecord(namespace, key string) error
	DeleteExpired(now time.Time) (int64, error)
}

// namespace holds the entries and read cache for one partition.
type namespace struct {
	mu      sync.RWMutex
	entries map[string]Entry

	cacheMu sync.Mutex
	cache   *lruCache

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// keyLock returns the per-key write mutex, creating it on first use.
// Writes to the same key are serialized; writes to different keys proceed
// concurrently.
func (n *namespace) keyLock(key string) *sync.Mutex {
	n.locksMu.Lock()
	defer n.locksMu.Unlock()
	l, ok := n.locks[key]
	if !ok {
		l = &sync.Mutex{}
		n.locks[key] = l
	}
	return l
}

// Store is the shared memory store.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace

	resolversMu     sync.RWMutex
	resolvers       map[string]Resolver
	defaultResolver Resolver

	durable  Durable
	cacheCap int

	conflicts atomic.Uint64

	replicasMu sync.RWMutex
	replicas   []*Store
	factor     int

	logf func(format string, args ...any)

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithDurable sets the write-through durable backend.
func WithDurable(d Durable) Option {
	return func(s *Store) { s.durable = d }
}

// WithCacheCapacity overrides the per-namespace LRU capacity (default 1000).
func WithCacheCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cacheCap = n
		}
	}
}

// WithSweepInterval sets the TTL sweep interval. Zero disables the sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// WithResolver installs a merge policy for one namespace, overriding the
// default last-writer-wins for concurrent writes there.
func WithResolver(ns string, r Resolver) Option {
	return func(s *Store) { s.resolvers[ns] = r }
}

// WithDefaultResolver replaces the store-wide conflict policy.
func WithDefaultResolver(r Resolver) Option {
	return func(s *Store) { s.defaultResolver = r }
}

// WithLogf sets the diagnostic log function.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(s *Store) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// NewStore creates a memory store and starts its TTL sweeper if configured.
func NewStore(opts ...Option) *Store {
	s := &Store{
		namespaces:      make(map[string]*namespace),
		resolvers:       make(map[string]Resolver),
		defaultResolver: LastWriterWins,
		cacheCap:        1000,
		logf:            func(string, ...any) {},
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		go s.sweeper()
	}
	return s
}

// Close stops the background sweeper.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// ReplicateTo registers peer stores. Each write is forwarded to up to
// factor peers before it is acknowledged.
func (s *Store) ReplicateTo(factor int, peers ...*Store) {
	s.replicasMu.Lock()
	defer s.replicasMu.Unlock()
	s.replicas = append(s.replicas, peers...)
	s.factor = factor
}

// ns returns the namespace bucket, creating it on first use.
func (s *Store) ns(name string) *namespace {
	s.mu.RLock()
	n, ok := s.namespaces[name]
	s.mu.RUnlock()
	if ok {
		return n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok = s.namespaces[name]; ok {
		return n
	}
	n = &namespace{
		entries: make(map[string]Entry),
		cache:   newLRUCache(s.cacheCap),
		locks:   make(map[string]*sync.Mutex),
	}
	s.namespaces[name] = n
	return n
}

// PutOption modifies a single write.
type PutOption func(*Entry)

// WithTTL sets a time-to-live for the entry.
func WithTTL(d time.Duration) PutOption {
	return func(e *Entry) {
		expires := e.WrittenAt.Add(d)
		e.ExpiresAt = &expires
	}
}

// Put writes a value, advancing the writer's component of the key's vector
// clock. The write is persisted durably and replicated before it is
// acknowledged. Returns the stored entry, whose clock dominates any version
// read before the write.
func (s *Store) Put(nsName, key string, value []byte, writerID string, opts ...PutOption) (Entry, error) {
	n := s.ns(nsName)
	lock := n.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	n.mu.RLock()
	existing, ok := n.entries[key]
	n.mu.RUnlock()

	clock := NewClock()
	if ok {
		clock = existing.Clock.Clone()
	}
	clock.Increment(writerID)

	entry := Entry{
		Namespace:  nsName,
		Key:        key,
		Value:      value,
		Clock:      clock,
		LastWriter: writerID,
		WrittenAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(&entry)
	}

	if err := s.persist(entry); err != nil {
		return Entry{}, err
	}

	n.mu.Lock()
	n.entries[key] = entry
	n.mu.Unlock()

	n.cacheMu.Lock()
	n.cache.invalidate(key)
	n.cacheMu.Unlock()

	if err := s.replicate(entry); err != nil {
		return Entry{}, err
	}

	return entry, nil
}

// PutJSON marshals v and writes it under the given key.
func (s *Store) PutJSON(nsName, key string, v any, writerID string, opts ...PutOption) (Entry, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal %s/%s: %w", nsName, key, err)
	}
	return s.Put(nsName, key, data, writerID, opts...)
}

// Get returns the entry for a key. Reads are served from the LRU cache when
// possible; a cache miss falls through to the entry map and repopulates the
// cache. Expired entries read as not found.
func (s *Store) Get(nsName, key string) (Entry, error) {
	n := s.ns(nsName)
	now := time.Now()

	n.cacheMu.Lock()
	if entry, ok := n.cache.get(key); ok && !entry.Expired(now) {
		n.cacheMu.Unlock()
		return entry, nil
	}
	n.cacheMu.Unlock()

	n.mu.RLock()
	entry, ok := n.entries[key]
	n.mu.RUnlock()
	if !ok || entry.Expired(now) {
		return Entry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, nsName, key)
	}

	n.cacheMu.Lock()
	n.cache.put(key, entry)
	n.cacheMu.Unlock()

	return entry, nil
}

// GetJSON reads a key and unmarshals its value into v.
func (s *Store) GetJSON(nsName, key string, v any) error {
	entry, err := s.Get(nsName, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(entry.Value, v); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", nsName, key, err)
	}
	return nil
}

// List returns all live entries in a namespace.
func (s *Store) List(nsName string) []Entry {
	n := s.ns(nsName)
	now := time.Now()

	n.mu.RLock()
	defer n.mu.RUnlock()

	entries := make([]Entry, 0, len(n.entries))
	for _, e := range n.entries {
		if !e.Expired(now) {
			entries = append(entries, e)
		}
	}
	return entries
}

// Delete removes an entry from the store and the durable layer.
func (s *Store) Delete(nsName, key string) error {
	n := s.ns(nsName)
	lock := n.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if s.durable != nil {
		if err := s.durable.DeleteRecord(nsName, key); err != nil {
			return err
		}
	}

	n.mu.Lock()
	delete(n.entries, key)
	n.mu.Unlock()

	n.cacheMu.Lock()
	n.cache.invalidate(key)
	n.cacheMu.Unlock()
	return nil
}

// Apply merges an externally produced entry (a replicated write or a
// recovered record) into the store. If the incoming entry conflicts with the
// local version, the namespace's resolution policy picks the survivor; the
// conflict is counted and logged, never surfaced as a hard error unless the
// merge hook itself fails.
func (s *Store) Apply(entry Entry) error {
	n := s.ns(entry.Namespace)
	lock := n.keyLock(entry.Key)
	lock.Lock()
	defer lock.Unlock()

	n.mu.RLock()
	existing, ok := n.entries[entry.Key]
	n.mu.RUnlock()

	final := entry
	if ok {
		switch existing.Clock.Compare(entry.Clock) {
		case OrderAfter, OrderEqual:
			// Local version already covers the incoming write.
			return nil
		case OrderBefore:
			// Incoming strictly newer.
		case OrderConcurrent:
			s.conflicts.Add(1)
			resolved, err := s.resolve(entry.Namespace, existing, entry)
			if err != nil {
				return fmt.Errorf("merge hook for %s/%s: %w", entry.Namespace, entry.Key, err)
			}
			final = resolved
			s.logf("[memory] resolved concurrent write on %s/%s (writers %s, %s)",
				entry.Namespace, entry.Key, existing.LastWriter, entry.LastWriter)
		}
		// The surviving entry's clock covers both histories.
		final.Clock = final.Clock.Clone().Merge(existing.Clock).Merge(entry.Clock)
	}

	if err := s.persist(final); err != nil {
		return err
	}

	n.mu.Lock()
	n.entries[entry.Key] = final
	n.mu.Unlock()

	n.cacheMu.Lock()
	n.cache.invalidate(entry.Key)
	n.cacheMu.Unlock()
	return nil
}

// resolve applies the namespace policy for a concurrent write.
func (s *Store) resolve(nsName string, existing, incoming Entry) (Entry, error) {
	s.resolversMu.RLock()
	r, ok := s.resolvers[nsName]
	s.resolversMu.RUnlock()
	if !ok {
		r = s.defaultResolver
	}
	return r(existing, incoming)
}

// Conflicts returns the number of concurrent-write conflicts resolved.
func (s *Store) Conflicts() uint64 {
	return s.conflicts.Load()
}

// replicate forwards a write to up to factor registered peers.
func (s *Store) replicate(entry Entry) error {
	s.replicasMu.RLock()
	peers := s.replicas
	factor := s.factor
	s.replicasMu.RUnlock()

	if factor <= 0 || len(peers) == 0 {
		return nil
	}
	if factor > len(peers) {
		factor = len(peers)
	}

	for _, peer := range peers[:factor] {
		if err := peer.Apply(entry); err != nil {
			return fmt.Errorf("replicate %s/%s: %w", entry.Namespace, entry.Key, err)
		}
	}
	return nil
}

// persist writes the entry through to the durable layer, if configured.
// Durability precedes acknowledgement.
func (s *Store) persist(entry Entry) error {
	if s.durable == nil {
		return nil
	}

	clock, err := json.Marshal(entry.Clock)
	if err != nil {
		return fmt.Errorf("marshal clock for %s/%s: %w", entry.Namespace, entry.Key, err)
	}

	return s.durable.PutRecord(state.Record{
		Namespace:  entry.Namespace,
		Key:        entry.Key,
		Value:      entry.Value,
		Clock:      string(clock),
		LastWriter: entry.LastWriter,
		WrittenAt:  entry.WrittenAt,
		ExpiresAt:  entry.ExpiresAt,
	})
}

// Load replays all durable records into the in-memory maps. Called once at
// startup before the store is shared.
func (s *Store) Load() error {
	if s.durable == nil {
		return nil
	}

	names, err := s.durable.Namespaces()
	if err != nil {
		return fmt.Errorf("load namespaces: %w", err)
	}

	for _, nsName := range names {
		records, err := s.durable.ListNamespace(nsName)
		if err != nil {
			return fmt.Errorf("load namespace %s: %w", nsName, err)
		}

		n := s.ns(nsName)
		n.mu.Lock()
		for _, r := range records {
			clock := NewClock()
			if r.Clock != "" {
				if err := json.Unmarshal([]byte(r.Clock), &clock); err != nil {
					n.mu.Unlock()
					return fmt.Errorf("parse clock for %s/%s: %w", r.Namespace, r.Key, err)
				}
			}
			n.entries[r.Key] = Entry{
				Namespace:  r.Namespace,
				Key:        r.Key,
				Value:      r.Value,
				Clock:      clock,
				LastWriter: r.LastWriter,
				WrittenAt:  r.WrittenAt,
				ExpiresAt:  r.ExpiresAt,
			}
		}
		n.mu.Unlock()
	}
	return nil
}

// Sweep removes expired entries from memory and the durable layer.
// Returns the number of in-memory entries removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.RLock()
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	s.mu.RUnlock()

	removed := 0
	for _, name := range names {
		n := s.ns(name)
		n.mu.Lock()
		for key, e := range n.entries {
			if e.Expired(now) {
				delete(n.entries, key)
				n.cacheMu.Lock()
				n.cache.invalidate(key)
				n.cacheMu.Unlock()
				removed++
			}
		}
		n.mu.Unlock()
	}

	if s.durable != nil {
		if _, err := s.durable.DeleteExpired(now); err != nil {
			s.logf("[memory] durable sweep failed: %v", err)
		}
	}
	return removed
}

// sweeper runs the periodic TTL sweep until Close.
func (s *Store) sweeper() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.Sweep(now)
		case <-s.stop:
			return
		}
	}
}
