// Package session owns the live design sessions: it loads them from the
// store, serializes turns on each one and persists them afterwards.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ashureev/roa-designer/internal/domain"
	"github.com/ashureev/roa-designer/internal/metrics"
	"github.com/ashureev/roa-designer/internal/store"
)

// entry guards one session. lock is a one-slot semaphore so that waiting for
// a busy session can be abandoned when the request goes away. refs counts the
// callers holding or waiting for lock and is guarded by Manager.mu.
type entry struct {
	lock chan struct{}
	sess *domain.Session
	refs int
}

// Handle is exclusive access to one session. Release must be called exactly once.
type Handle struct {
	Session *domain.Session
	m       *Manager
	key     string
	e       *entry
	once    sync.Once
}

// Release gives up the session lock.
func (h *Handle) Release() {
	h.once.Do(func() {
		<-h.e.lock
		h.m.release(h.key, h.e)
	})
}

// Manager is the in-memory registry of sessions backed by the repository.
// Idle entries live in a TTL cache; entries with a holder or waiter are
// pinned in inUse so expiry can never hand out a second lock for a session.
type Manager struct {
	repo   store.Repository
	cache  *cache.Cache
	mu     sync.Mutex // guards inUse and entry.refs
	inUse  map[string]*entry
	logger *slog.Logger
}

// NewManager creates a manager whose registry entries expire after ttl of
// inactivity.
func NewManager(repo store.Repository, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		repo:   repo,
		cache:  cache.New(ttl, cleanupInterval(ttl)),
		inUse:  make(map[string]*entry),
		logger: logger,
	}
	m.cache.OnEvicted(func(key string, _ interface{}) {
		m.updateGauge()
		logger.Debug("Session evicted from memory", "session_key", key)
	})
	return m
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 10 * time.Minute
	}
	if iv := ttl / 4; iv < 10*time.Minute {
		return iv
	}
	return 10 * time.Minute
}

// Acquire locks the session for userID/sessionID, loading it from the store
// or creating a fresh one on first use. It blocks while another turn holds
// the session and gives up when ctx is done.
func (m *Manager) Acquire(ctx context.Context, userID, sessionID string) (*Handle, error) {
	key := domain.SessionKey(userID, sessionID)
	e := m.entry(key)

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, fmt.Errorf("wait for session: %w", ctx.Err())
	}
	h := &Handle{m: m, key: key, e: e}

	if e.sess == nil {
		sess, err := m.load(ctx, userID, sessionID)
		if err != nil {
			h.Release()
			return nil, err
		}
		e.sess = sess
	}
	h.Session = e.sess
	return h, nil
}

// entry returns the registry entry for key with one reference taken. The
// caller must pair it with release.
func (m *Manager) entry(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.inUse[key]
	if !ok {
		if v, found := m.cache.Get(key); found {
			e = v.(*entry)
		} else {
			e = &entry{lock: make(chan struct{}, 1)}
		}
		m.inUse[key] = e
	}
	e.refs++
	m.cache.SetDefault(key, e)
	m.updateGauge()
	return e
}

// release drops one reference. The last one unpins the entry and restarts
// its idle expiry.
func (m *Manager) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs > 0 {
		return
	}
	delete(m.inUse, key)
	m.cache.SetDefault(key, e)
	m.updateGauge()
}

func (m *Manager) updateGauge() {
	metrics.ActiveSessions.Set(float64(m.cache.ItemCount()))
}

func (m *Manager) load(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	rec, err := m.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if rec == nil {
		m.logger.Info("Starting new design session", "user_id", userID, "session_id", sessionID)
		return domain.NewSession(userID, sessionID), nil
	}

	sess, err := domain.SessionFromRecord(rec)
	if err != nil {
		m.logger.Warn("Discarding unreadable session", "user_id", userID, "session_id", sessionID, "error", err)
		return domain.NewSession(userID, sessionID), nil
	}
	return sess, nil
}

// Save persists the session. The caller must hold its handle.
func (m *Manager) Save(ctx context.Context, sess *domain.Session) error {
	rec, err := sess.Record()
	if err != nil {
		return err
	}
	if err := m.repo.UpsertSession(ctx, rec); err != nil {
		return fmt.Errorf("save session %s: %w", sess.Key(), err)
	}
	return nil
}

// Reset replaces the session with a fresh one and deletes the stored copy.
// It waits for any running turn on the session to finish.
func (m *Manager) Reset(ctx context.Context, userID, sessionID string) error {
	key := domain.SessionKey(userID, sessionID)
	e := m.entry(key)
	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return fmt.Errorf("wait for session: %w", ctx.Err())
	}
	defer func() {
		<-e.lock
		m.release(key, e)
	}()

	if err := m.repo.DeleteSession(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	e.sess = domain.NewSession(userID, sessionID)
	m.logger.Info("Design session reset", "user_id", userID, "session_id", sessionID)
	return nil
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	return m.cache.ItemCount()
}
