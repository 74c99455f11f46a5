package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is the session persistence boundary.
type Store interface {
	Load(sessionID string) (*Session, error)
	Save(s *Session) error
	Delete(sessionID string) error
	ListIDs() ([]string, error)
	Close() error
}

// MemoryStore keeps sessions in an expiring in-process cache. Saving a
// session re-arms its TTL, so active sessions never expire mid-conversation.
type MemoryStore struct {
	sessions *cache.Cache
}

// NewMemoryStore creates a store whose sessions expire after ttl of
// inactivity. A ttl below one minute is raised to one minute.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &MemoryStore{
		sessions: cache.New(ttl, ttl/2),
	}
}

func (m *MemoryStore) Load(sessionID string) (*Session, error) {
	v, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Session), nil
}

func (m *MemoryStore) Save(s *Session) error {
	m.sessions.SetDefault(s.ID, s)
	return nil
}

func (m *MemoryStore) Delete(sessionID string) error {
	m.sessions.Delete(sessionID)
	return nil
}

func (m *MemoryStore) ListIDs() ([]string, error) {
	items := m.sessions.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) Close() error {
	m.sessions.Flush()
	return nil
}

// Manager owns session lifecycle and serializes turns per session: two
// queries for the same session ID never interleave, while different
// sessions proceed concurrently.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	store  Store
	logger *zap.Logger
}

// NewManager wraps a Store with per-session mutual exclusion.
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		locks:  make(map[string]*sync.Mutex),
		store:  store,
		logger: logger,
	}
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// Do runs fn with exclusive access to the session, creating it when the ID
// is unknown or empty. The session is saved back after fn returns, even on
// error, so an aborted turn marker is never left dangling in the store.
func (m *Manager) Do(sessionID string, fn func(*Session) error) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Load(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		sess = New(sessionID)
		err = nil
	}
	if err != nil {
		return sessionID, err
	}

	fnErr := fn(sess)

	if saveErr := m.store.Save(sess); saveErr != nil {
		m.logger.Error("failed to save session",
			zap.Error(saveErr),
			zap.String("session_id", sessionID))
		if fnErr == nil {
			fnErr = saveErr
		}
	}
	return sessionID, fnErr
}

// Get returns the stored session, or ErrSessionNotFound.
func (m *Manager) Get(sessionID string) (*Session, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.store.Load(sessionID)
}

// Clear removes a session and its lock.
func (m *Manager) Clear(sessionID string) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Delete(sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()
	return nil
}

// ListIDs returns the IDs of all live sessions.
func (m *Manager) ListIDs() ([]string, error) {
	return m.store.ListIDs()
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
