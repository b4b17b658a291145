package session

import (
	"context"
	"sync"
	"time"

	"github.com/rotiride/orderd/internal/config"
	"github.com/rotiride/orderd/internal/observability"
)

// Store is the two-tier session store: a mutex-guarded in-process map in
// front of a durable Backend. The cache is an availability optimization;
// the backend is the source of truth. Durable I/O always happens outside
// the cache lock.
type Store struct {
	mu    sync.RWMutex
	cache map[string]Record

	backend Backend
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store's logger.
func WithStoreLogger(logger observability.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreMetrics sets the store's metrics.
func WithStoreMetrics(m *Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock overrides the store's time source. Used by tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a session store over the given durable backend.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		cache:   make(map[string]Record),
		backend: backend,
		logger:  observability.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put writes the record to the durable backend and, on success, to the
// cache. A durable write failure leaves the cache untouched so the store
// never claims a session the backend does not hold.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if err := s.backend.Upsert(ctx, rec); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[rec.Token] = rec
	size := len(s.cache)
	s.mu.Unlock()

	s.metrics.SetCached(size)
	return nil
}

// Get returns the record for the token. Cache hits are served locally;
// misses fall through to the backend and repopulate the cache. Returns
// ErrNotFound when neither layer holds the token.
func (s *Store) Get(ctx context.Context, token string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.cache[token]
	s.mu.RUnlock()

	if ok {
		s.metrics.CacheHit()
		return rec, nil
	}
	s.metrics.CacheMiss()

	rec, err := s.backend.Fetch(ctx, token)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	s.cache[token] = rec
	size := len(s.cache)
	s.mu.Unlock()

	s.metrics.SetCached(size)
	return rec, nil
}

// Touch updates the record's last-activity timestamp in both layers. The
// cache is updated first so request handling stays responsive; a backend
// failure is returned but does not roll the cache back.
func (s *Store) Touch(ctx context.Context, token string) error {
	at := s.now()

	s.mu.Lock()
	if rec, ok := s.cache[token]; ok {
		rec.LastActivityAt = at
		s.cache[token] = rec
	}
	s.mu.Unlock()

	return s.backend.UpdateActivity(ctx, token, at)
}

// Remove deletes the record from both layers. Removing an absent token is
// not an error.
func (s *Store) Remove(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.cache, token)
	size := len(s.cache)
	s.mu.Unlock()

	s.metrics.SetCached(size)
	return s.backend.Delete(ctx, token)
}

// Sweep purges expired sessions from both layers and returns how many the
// backend removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.now()

	swept, err := s.backend.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for token, rec := range s.cache {
		if rec.IsExpired(now) {
			delete(s.cache, token)
		}
	}
	size := len(s.cache)
	s.mu.Unlock()

	s.metrics.SetCached(size)
	s.metrics.Swept(swept)
	return swept, nil
}

// CachedCount returns the number of sessions currently cached.
func (s *Store) CachedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// StartSweeper runs Sweep on the configured interval until the context is
// cancelled. Sweep failures are logged and the loop keeps running.
func (s *Store) StartSweeper(ctx context.Context, cfg *config.SessionConfig) {
	interval := cfg.SweepInterval.Duration()
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				swept, err := s.Sweep(ctx)
				if err != nil {
					s.logger.Error("session sweep failed",
						observability.Error(err))
					continue
				}
				if swept > 0 {
					s.logger.Info("expired sessions swept",
						observability.Int("count", swept))
				}
			}
		}
	}()
}
