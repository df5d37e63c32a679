// Package session keeps short-lived per-session conversation and notes in memory.
package session

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/warden/internal/clock"
	"github.com/harunnryd/warden/internal/concurrency"
)

const (
	DefaultTTL         = 60 * time.Minute
	DefaultMaxSessions = 128
)

type Options struct {
	TTL         time.Duration
	MaxSessions int
	Clock       clock.Clock
}

type entry struct {
	id         string
	memory     Memory
	lastAccess time.Time
	elem       *list.Element
}

// Store evicts a session after TTL without access, and the least recently used one
// when MaxSessions is reached. Reads never return expired notes.
type Store struct {
	mu          sync.Mutex
	ttl         time.Duration
	maxSessions int
	clock       clock.Clock
	sessions    map[string]*entry
	lru         *list.List
	locks       *concurrency.KeyedMutex
}

func NewStore(opts Options) *Store {
	s := &Store{
		ttl:         opts.TTL,
		maxSessions: opts.MaxSessions,
		clock:       clock.OrSystem(opts.Clock),
		sessions:    make(map[string]*entry),
		lru:         list.New(),
		locks:       concurrency.NewKeyedMutex(),
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxSessions <= 0 {
		s.maxSessions = DefaultMaxSessions
	}
	return s
}

// WithSession runs fn while holding the session's lock. Requests on one session are serialized through it.
func (s *Store) WithSession(sessionID string, fn func() error) error {
	return s.locks.With(sessionID, fn)
}

// Get returns a copy of the session, creating it on first access.
func (s *Store) Get(sessionID string) Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.touchLocked(sessionID)
	s.dropExpiredNotesLocked(e)
	return e.memory.clone()
}

func (s *Store) AppendMessage(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.touchLocked(sessionID)
	e.memory.Conversation = append(e.memory.Conversation, Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: s.clock.Now().UTC(),
	})
}

// AddNote stores value under key; expiresIn <= 0 keeps it for the life of the session.
func (s *Store) AddNote(sessionID, key string, value any, expiresIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.touchLocked(sessionID)
	note := Note{Value: value}
	if expiresIn > 0 {
		at := s.clock.Now().Add(expiresIn).UTC()
		note.ExpiresAt = &at
	}
	e.memory.Notes[key] = note
}

// Notes returns the unexpired note values.
func (s *Store) Notes(sessionID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.touchLocked(sessionID)
	s.dropExpiredNotesLocked(e)
	out := make(map[string]any, len(e.memory.Notes))
	for k, n := range e.memory.Notes {
		out[k] = n.Value
	}
	return out
}

func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[sessionID]; ok {
		s.removeLocked(e)
	}
}

// Sweep evicts idle sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	removed := 0
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if now.Sub(e.lastAccess) > s.ttl {
			s.removeLocked(e)
			removed++
		}
		elem = prev
	}
	if removed > 0 {
		slog.Debug("Session sweep", "removed", removed)
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) touchLocked(sessionID string) *entry {
	now := s.clock.Now()
	if e, ok := s.sessions[sessionID]; ok {
		if now.Sub(e.lastAccess) <= s.ttl {
			e.lastAccess = now
			s.lru.MoveToFront(e.elem)
			return e
		}
		s.removeLocked(e)
	}

	for len(s.sessions) >= s.maxSessions {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest.Value.(*entry))
	}

	e := &entry{
		id: sessionID,
		memory: Memory{
			Notes:     make(map[string]Note),
			CreatedAt: now.UTC(),
		},
		lastAccess: now,
	}
	e.elem = s.lru.PushFront(e)
	s.sessions[sessionID] = e
	return e
}

func (s *Store) removeLocked(e *entry) {
	s.lru.Remove(e.elem)
	delete(s.sessions, e.id)
}

func (s *Store) dropExpiredNotesLocked(e *entry) {
	now := s.clock.Now()
	for k, n := range e.memory.Notes {
		if n.expired(now) {
			delete(e.memory.Notes, k)
		}
	}
}

func (m Memory) clone() Memory {
	out := Memory{
		Conversation: make([]Message, len(m.Conversation)),
		Notes:        make(map[string]Note, len(m.Notes)),
		CreatedAt:    m.CreatedAt,
	}
	copy(out.Conversation, m.Conversation)
	for k, v := range m.Notes {
		out.Notes[k] = v
	}
	return out
}
