// internal/store/memory.go
//
// In-memory implementation of the Store interface.
// Holds rounds that have been shown to a player but not answered yet.
//
// Characteristics:
//   - Stores *Session objects keyed by ID in a map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Take removes a session, so every round can be answered once.
//   - Optional TTL: a reaper goroutine drops sessions nobody answered.
//   - State is lost when the process restarts.

package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robalobadob/mists/internal/puzzle"
	"github.com/robalobadob/mists/internal/stats"
)

// ErrNotFound is returned for unknown, answered or expired sessions.
var ErrNotFound = errors.New("not found")

// Session is one round in flight.
type Session struct {
	ID         string
	Owner      string
	Difficulty stats.Difficulty
	Round      *puzzle.Round
	Items      []puzzle.Token // display order sent to the player
	Daily      string         // date key for daily rounds, empty otherwise
	StartedAt  time.Time
}

// Store defines the persistence interface for round sessions.
// Implementations may be backed by memory (this package), Redis, SQL, etc.
type Store interface {
	// Save persists or replaces a session.
	Save(ctx context.Context, s *Session) error

	// Get retrieves a session by ID without consuming it.
	Get(ctx context.Context, id string) (*Session, error)

	// Take retrieves and removes a session.
	Take(ctx context.Context, id string) (*Session, error)

	// Len reports how many sessions are held.
	Len() int

	// Close stops background work.
	Close() error
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu       sync.RWMutex        // guards sessions
	sessions map[string]*Session // keyed by Session.ID

	ttl  time.Duration
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewMemoryStore constructs a new in-memory Store. With ttl > 0 sessions
// older than ttl are reaped in the background until Close.
func NewMemoryStore(ttl time.Duration) Store {
	m := &memory{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		m.wg.Add(1)
		go m.reaperLoop()
	}
	return m
}

// Save adds or updates the session in the map.
func (m *memory) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// Get looks up a session by ID.
func (m *memory) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

// Take looks up a session by ID and deletes it.
func (m *memory) Take(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, id)
	return s, nil
}

func (m *memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the reaper and waits for it to exit.
func (m *memory) Close() error {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

// reaperLoop periodically removes sessions older than ttl.
func (m *memory) reaperLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.reap(now.Add(-m.ttl))
		}
	}
}

func (m *memory) reap(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.StartedAt.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}
