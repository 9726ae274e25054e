package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/clawbridge/internal/observability"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

const lockRetryDelay = 25 * time.Millisecond

// Store is the durable key to SessionEntry mapping backed by one JSON file.
// Reads inside CacheTTL are served from memory and may be stale by up to one TTL.
type Store struct {
	cfg  StoreConfig
	lock *flock.Flock
	now  func() time.Time

	mu       sync.Mutex
	cache    map[string]SessionEntry
	loadedAt time.Time
}

func NewStore(cfg StoreConfig) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sessions: store path required")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultStoreConfig(path).LockTimeout
	}
	cfg.Path = path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sessions: create store dir: %w", err)
	}
	return &Store{
		cfg:  cfg,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}, nil
}

func (s *Store) Path() string {
	return s.cfg.Path
}

// Load returns a copy of the current mapping.
func (s *Store) Load() (map[string]SessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	return copyEntries(store), nil
}

// Get returns the entry for key, if any.
func (s *Store) Get(key string) (SessionEntry, bool, error) {
	store, err := s.Load()
	if err != nil {
		return SessionEntry{}, false, err
	}
	entry, ok := store[strings.TrimSpace(key)]
	return entry, ok, nil
}

// Invalidate drops the cached mirror so the next read touches disk.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.loadedAt = time.Time{}
}

// Save replaces the whole mapping.
func (s *Store) Save(store map[string]SessionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(copyEntries(store))
}

// Update applies transform to the current mapping and persists the result.
func (s *Store) Update(transform func(map[string]SessionEntry) error) error {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked()
	if err != nil {
		observability.RecordStoreOp("update", time.Since(started), false)
		return err
	}
	next := copyEntries(current)
	if err := transform(next); err != nil {
		observability.RecordStoreOp("update", time.Since(started), false)
		return err
	}
	err = s.saveLocked(next)
	observability.RecordStoreOp("update", time.Since(started), err == nil)
	return err
}

// UpdateEntry upserts the replacement transform returns for key.
// A nil replacement leaves the mapping untouched.
func (s *Store) UpdateEntry(key string, transform func(existing *SessionEntry) (*SessionEntry, error)) (SessionEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return SessionEntry{}, ErrEmptyKey
	}

	var result SessionEntry
	err := s.Update(func(store map[string]SessionEntry) error {
		var existing *SessionEntry
		if cur, ok := store[key]; ok {
			existing = &cur
		}
		next, err := transform(existing)
		if err != nil {
			return err
		}
		if next == nil {
			if existing != nil {
				result = *existing
			}
			return nil
		}
		if existing != nil && next.UpdatedAt < existing.UpdatedAt {
			next.UpdatedAt = existing.UpdatedAt
		}
		store[key] = *next
		result = *next
		return nil
	})
	return result, err
}

// RecordInboundMeta upserts key with the inbound message id and its delivery route.
func (s *Store) RecordInboundMeta(key, messageID string, ctx DeliveryContext) (SessionEntry, error) {
	now := s.nowMillis()
	return s.UpdateEntry(key, func(existing *SessionEntry) (*SessionEntry, error) {
		var next SessionEntry
		if existing != nil {
			next = *existing
		} else {
			next = SessionEntry{SessionID: NewSessionID()}
		}
		next = next.withRoute(ctx)
		next.UpdatedAt = now
		next.WebhookMessageID = messageID
		next.WebhookSessionID = strings.TrimSpace(key)
		return &next, nil
	})
}

// UpdateLastRoute touches only the route fields set in ctx.
func (s *Store) UpdateLastRoute(key string, ctx DeliveryContext) (SessionEntry, error) {
	now := s.nowMillis()
	return s.UpdateEntry(key, func(existing *SessionEntry) (*SessionEntry, error) {
		var next SessionEntry
		if existing != nil {
			next = *existing
		} else {
			next = SessionEntry{SessionID: NewSessionID()}
		}
		var route DeliveryContext
		if next.DeliveryContext != nil {
			route = *next.DeliveryContext
		}
		if ctx.Channel != "" {
			route.Channel = ctx.Channel
			next.LastChannel = ctx.Channel
		}
		if ctx.To != "" {
			route.To = ctx.To
			next.LastTo = ctx.To
		}
		if ctx.AccountID != "" {
			route.AccountID = ctx.AccountID
			next.LastAccountID = ctx.AccountID
		}
		if ctx.ThreadID != "" {
			route.ThreadID = ctx.ThreadID
			next.LastThreadID = ctx.ThreadID
		}
		next.DeliveryContext = &route
		next.UpdatedAt = now
		return &next, nil
	})
}

// Reset replaces the entry for key with a fresh session id and no route history.
func (s *Store) Reset(key string) (SessionEntry, error) {
	now := s.nowMillis()
	return s.UpdateEntry(key, func(existing *SessionEntry) (*SessionEntry, error) {
		return &SessionEntry{
			SessionID: NewSessionID(),
			UpdatedAt: now,
		}, nil
	})
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrEmptyKey
	}
	existed := false
	err := s.Update(func(store map[string]SessionEntry) error {
		_, existed = store[key]
		delete(store, key)
		return nil
	})
	return existed, err
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *Store) cacheFresh() bool {
	return s.cache != nil && s.cfg.CacheTTL > 0 && s.now().Sub(s.loadedAt) < s.cfg.CacheTTL
}

func (s *Store) loadLocked() (map[string]SessionEntry, error) {
	if s.cacheFresh() {
		return s.cache, nil
	}

	started := time.Now()
	store, err := s.readShared()
	observability.RecordStoreOp("load", time.Since(started), err == nil)
	if err != nil {
		return nil, err
	}
	s.setCache(store)
	return store, nil
}

func (s *Store) readShared() (map[string]SessionEntry, error) {
	if err := s.acquire(true); err != nil {
		return nil, err
	}
	defer s.release()

	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]SessionEntry{}, nil
		}
		return nil, fmt.Errorf("sessions: read store (%s): %w", s.cfg.Path, err)
	}
	return decodeStore(s.cfg.Path, data), nil
}

func decodeStore(path string, data []byte) map[string]SessionEntry {
	store := map[string]SessionEntry{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return store
	}
	if err := json.Unmarshal(data, &store); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("sessions.Store.load unparsable store, treating as empty")
		return map[string]SessionEntry{}
	}
	for key := range store {
		if strings.TrimSpace(key) == "" {
			delete(store, key)
		}
	}
	return store
}

func (s *Store) saveLocked(store map[string]SessionEntry) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("sessions: encode store: %w", err)
	}

	if err := s.acquire(false); err != nil {
		return err
	}
	defer s.release()

	tmp := s.cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("sessions: write store (%s): %w", tmp, err)
	}
	if err := os.Rename(tmp, s.cfg.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("sessions: replace store (%s): %w", s.cfg.Path, err)
	}
	s.setCache(store)
	log.Debug().Str("path", s.cfg.Path).Int("sessions", len(store)).Msg("sessions.Store.save")
	return nil
}

func (s *Store) setCache(store map[string]SessionEntry) {
	if s.cfg.CacheTTL <= 0 {
		s.cache = nil
		return
	}
	s.cache = store
	s.loadedAt = s.now()
}

func (s *Store) acquire(shared bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LockTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, s.lock.Path())
		}
		return fmt.Errorf("sessions: lock %s: %w", s.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, s.lock.Path())
	}
	return nil
}

func (s *Store) release() {
	if err := s.lock.Unlock(); err != nil {
		log.Warn().Str("path", s.lock.Path()).Err(err).Msg("sessions.Store.release unlock failed")
	}
}
