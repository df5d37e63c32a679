package idempotency

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/harunnryd/warden/internal/clock"
	"github.com/natefinch/atomic"
)

type ProcessedKeys struct {
	Keys map[string]int64 `json:"keys"` // Key -> Expiry (Unix Timestamp)
}

// Store remembers keys until they expire. Used as the nonce cache for signed envelopes.
// An empty path keeps the state in memory only.
type Store struct {
	path  string
	clock clock.Clock
	state ProcessedKeys
	mu    sync.RWMutex
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = clock.OrSystem(c)
	}
}

func NewStore(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:  path,
		clock: clock.System(),
		state: ProcessedKeys{
			Keys: make(map[string]int64),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemoryStore returns a store that never touches disk.
func NewMemoryStore(opts ...Option) *Store {
	s, _ := NewStore("", opts...)
	return s
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.save()
	}

	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, &s.state)
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// CheckAndMark reports whether key was already seen and unexpired; otherwise it records key for ttl.
func (s *Store) CheckAndMark(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().Unix()

	if expiry, exists := s.state.Keys[key]; exists {
		if expiry > now {
			return true
		}
		delete(s.state.Keys, key)
	}

	s.state.Keys[key] = now + int64(ttl.Seconds())
	return false
}

func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().Unix()
	count := 0
	for k, expiry := range s.state.Keys {
		if expiry < now {
			delete(s.state.Keys, k)
			count++
		}
	}
	return count
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Keys)
}
