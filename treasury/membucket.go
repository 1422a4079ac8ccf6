package treasury

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// MemBucket is an in-memory Bucket with JetStream KV create/update revision
// semantics. It backs unit tests and single-process experiments; real
// deployments use KV buckets from NewStore.
type MemBucket struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	rev     uint64
}

// NewMemBucket returns an empty in-memory bucket.
func NewMemBucket() *MemBucket {
	return &MemBucket{entries: make(map[string]*memEntry)}
}

type memEntry struct {
	key      string
	value    []byte
	revision uint64
	created  time.Time
}

func (e *memEntry) Bucket() string                  { return "mem" }
func (e *memEntry) Key() string                     { return e.key }
func (e *memEntry) Value() []byte                   { return e.value }
func (e *memEntry) Revision() uint64                { return e.revision }
func (e *memEntry) Created() time.Time              { return e.created }
func (e *memEntry) Delta() uint64                   { return 0 }
func (e *memEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

// Get returns the entry for key, or jetstream.ErrKeyNotFound.
func (b *MemBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	cp := *entry
	cp.value = append([]byte(nil), entry.value...)
	return &cp, nil
}

// Create stores a new key, failing with jetstream.ErrKeyExists if present.
func (b *MemBucket) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	b.rev++
	b.entries[key] = &memEntry{
		key:      key,
		value:    append([]byte(nil), value...),
		revision: b.rev,
		created:  time.Now(),
	}
	return b.rev, nil
}

// Update replaces the value only if revision matches the stored entry.
func (b *MemBucket) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok || entry.revision != revision {
		return 0, &jetstream.APIError{
			ErrorCode:   jetstream.JSErrCodeStreamWrongLastSequence,
			Description: "wrong last sequence",
		}
	}
	b.rev++
	b.entries[key] = &memEntry{
		key:      key,
		value:    append([]byte(nil), value...),
		revision: b.rev,
		created:  entry.created,
	}
	return b.rev, nil
}
