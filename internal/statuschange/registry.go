// Package statuschange implements the process-local registry that backs
// long-poll status tracking for async requests: a sharded-map-under-mutex
// pattern generalized to carry an arbitrary result/error pair instead of a
// reconcile phase.
package statuschange

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"prevant/internal/domain"
)

// State is the lifecycle of one status change entry.
type State string

const (
	Pending State = "pending"
	Ready   State = "ready"
	Failed  State = "failed"
)

// Entry is one registered status change.
type Entry struct {
	ID        string
	AppName   domain.AppName
	State     State
	Result    []domain.Service
	Err       error
	CreatedAt time.Time
	ReadyAt   time.Time
}

const shardCount = 16

// Registry is a sharded map keyed by StatusChangeId, with TTL expiry after
// the entry transitions to Ready/Failed or is retrieved once.
type Registry struct {
	ttl    time.Duration
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New builds a Registry whose Ready/Failed entries expire ttl after
// transition. A ttl <= 0 disables timed expiry; such entries are then
// removed only when Get retrieves them.
func New(ttl time.Duration) *Registry {
	r := &Registry{ttl: ttl}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]*Entry)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv32(id)
	return &r.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// Begin registers a new Pending entry and returns its id.
func (r *Registry) Begin(app domain.AppName) string {
	id := uuid.NewString()
	sh := r.shardFor(id)
	sh.mu.Lock()
	sh.entries[id] = &Entry{ID: id, AppName: app, State: Pending, CreatedAt: time.Now()}
	sh.mu.Unlock()
	return id
}

// Resolve transitions an entry to Ready.
func (r *Registry) Resolve(id string, result []domain.Service) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok {
		return
	}
	e.State = Ready
	e.Result = result
	e.ReadyAt = time.Now()
	r.scheduleExpiry(sh, id)
}

// Fail transitions an entry to Failed.
func (r *Registry) Fail(id string, err error) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok {
		return
	}
	e.State = Failed
	e.Err = err
	e.ReadyAt = time.Now()
	r.scheduleExpiry(sh, id)
}

// scheduleExpiry must be called with sh.mu held.
func (r *Registry) scheduleExpiry(sh *shard, id string) {
	if r.ttl <= 0 {
		return
	}
	time.AfterFunc(r.ttl, func() {
		sh.mu.Lock()
		delete(sh.entries, id)
		sh.mu.Unlock()
	})
}

// Get retrieves an entry by id. The second return is false if the id is
// unknown or has expired. A successful retrieval of a Ready/Failed entry
// also expires it immediately: retrieving a terminal entry consumes it.
func (r *Registry) Get(id string) (Entry, bool) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok {
		return Entry{}, false
	}
	snapshot := *e
	if e.State != Pending {
		delete(sh.entries, id)
	}
	return snapshot, true
}
