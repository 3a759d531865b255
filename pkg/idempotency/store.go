// Package idempotency records successful results of idempotent stages so a retried call
// with the same key collapses onto the first success instead of creating a duplicate.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates no success has been recorded for the key.
	ErrNotFound = errors.New("idempotency record not found")

	// ErrLocked indicates another caller currently holds the key.
	ErrLocked = errors.New("idempotency key is locked by another call")
)

// Record is a remembered success.
type Record struct {
	Key        string         `json:"key"`
	RunID      string         `json:"run_id"`
	StageID    string         `json:"stage_id"`
	Data       map[string]any `json:"data"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Unlock releases a key lock.
type Unlock func(ctx context.Context) error

// Store remembers idempotent successes and serializes concurrent calls per key.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	// Put stores rec unless a record already exists, in which case the existing one is returned.
	Put(ctx context.Context, rec Record) (*Record, error)
	// Lock takes an exclusive lease on key for at most ttl.
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
	Close() error
}

var keyNamespace = uuid.MustParse("6f1c3c9e-2f4e-4a9b-9d0f-6e1f0b7c2a51")

// Key derives the stable idempotency key of a stage within one flow of a run. When the
// remote side issued a SKU earlier in the flow, the SKU anchors the key instead.
func Key(flow, stageID, sku string) string {
	anchor := "run:" + flow
	if sku != "" {
		anchor = "sku:" + sku
	}

	return uuid.NewSHA1(keyNamespace, []byte(anchor+"/"+stageID)).String()
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	locks   map[string]memoryLease
	now     func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		locks:   make(map[string]memoryLease),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}

	rec.Data = models.CloneMap(rec.Data)

	return &rec, nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Key]; ok {
		existing.Data = models.CloneMap(existing.Data)

		return &existing, nil
	}

	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}

	rec.Data = models.CloneMap(rec.Data)
	s.records[rec.Key] = rec

	out := rec
	out.Data = models.CloneMap(rec.Data)

	return &out, nil
}

func (s *MemoryStore) Lock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if lease, held := s.locks[key]; held && now.Before(lease.expires) {
		return nil, ErrLocked
	}

	token := uuid.NewString()
	s.locks[key] = memoryLease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if lease, held := s.locks[key]; held && lease.token == token {
			delete(s.locks, key)
		}

		return nil
	}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
