package state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
)

// UpdatedAtKey is stamped on every Set with an RFC3339 UTC timestamp.
const UpdatedAtKey = "updated_at"

type Config struct {
	MaxLeads int           `envconfig:"MAX_LEADS" default:"10000"`
	TTL      time.Duration `envconfig:"TTL" default:"24h"`
}

// ContextStore keeps one shared context per lead. All operations for a lead id
// run under that id's lock, so concurrent runs on the same lead never lose writes.
type ContextStore struct {
	cache   *expirable.LRU[string, map[string]any]
	backend Backend
	locks   *keyedMutex
	now     func() time.Time
}

var _ contractx.ContextStore = (*ContextStore)(nil)

type ContextStoreOption func(*ContextStore)

// WithBackend adds a durable backend: load on cache miss, write-through on Set, delete on Clear.
func WithBackend(b Backend) ContextStoreOption {
	return func(s *ContextStore) {
		s.backend = b
	}
}

func WithClock(now func() time.Time) ContextStoreOption {
	return func(s *ContextStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewContextStore(cfg Config, opts ...ContextStoreOption) *ContextStore {
	size := cfg.MaxLeads
	if size < 0 {
		size = 0
	}
	s := &ContextStore{
		cache: expirable.NewLRU[string, map[string]any](size, nil, cfg.TTL),
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns a shallow copy of the lead's context; never nil.
func (s *ContextStore) Get(ctx context.Context, leadID string) map[string]any {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return map[string]any{}
	}
	unlock := s.locks.Lock(leadID)
	defer unlock()

	return copyMap(s.current(ctx, leadID))
}

// Set shallow-merges partial into the lead's context; last write wins per key.
func (s *ContextStore) Set(ctx context.Context, leadID string, partial map[string]any) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return
	}
	unlock := s.locks.Lock(leadID)
	defer unlock()

	merged := copyMap(s.current(ctx, leadID))
	for k, v := range partial {
		merged[k] = v
	}
	merged[UpdatedAtKey] = s.now().UTC().Format(time.RFC3339Nano)
	s.cache.Add(leadID, merged)

	if s.backend != nil {
		if err := s.backend.Save(ctx, leadID, merged); err != nil {
			logx.FromContext(ctx).Warn().Err(err).Str("lead_id", leadID).Msg("context backend save failed")
		}
	}
}

func (s *ContextStore) Clear(ctx context.Context, leadID string) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return
	}
	unlock := s.locks.Lock(leadID)
	defer unlock()

	s.cache.Remove(leadID)
	if s.backend != nil {
		if err := s.backend.Delete(ctx, leadID); err != nil {
			logx.FromContext(ctx).Warn().Err(err).Str("lead_id", leadID).Msg("context backend delete failed")
		}
	}
}

// Len reports how many lead contexts are cached.
func (s *ContextStore) Len() int {
	return s.cache.Len()
}

// current must be called with the lead's lock held.
func (s *ContextStore) current(ctx context.Context, leadID string) map[string]any {
	if data, ok := s.cache.Get(leadID); ok {
		return data
	}
	if s.backend == nil {
		return nil
	}

	data, err := s.backend.Load(ctx, leadID)
	if err != nil {
		if !errors.Is(err, ErrContextNotFound) {
			logx.FromContext(ctx).Warn().Err(err).Str("lead_id", leadID).Msg("context backend load failed")
		}
		return nil
	}
	s.cache.Add(leadID, data)
	return data
}

func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release func. Idle keys are dropped.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
