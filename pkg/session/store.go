package session

import (
	"errors"
	"sync"
	"time"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/rs/zerolog/log"
)

// ErrEmptyCallID is returned when state is written without a call ID.
var ErrEmptyCallID = errors.New("call id is required")

type callState struct {
	values    map[string]interface{}
	updatedAt time.Time
}

// Store holds session values per call ID.
type Store struct {
	mu    sync.RWMutex
	calls map[string]*callState

	now func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	observability.EnsureRegistered()

	return &Store{
		calls: make(map[string]*callState),
		now:   time.Now,
	}
}

// Set stores value under key for callID.
func (s *Store) Set(callID, key string, value interface{}) error {
	if callID == "" {
		return ErrEmptyCallID
	}

	s.mu.Lock()
	cs, ok := s.calls[callID]
	if !ok {
		cs = &callState{values: make(map[string]interface{})}
		s.calls[callID] = cs
	}
	cs.values[key] = value
	cs.updatedAt = s.now()
	calls := len(s.calls)
	s.mu.Unlock()

	if !ok {
		observability.SetSessionCount(calls)
	}
	return nil
}

// Get returns the value stored under key for callID.
func (s *Store) Get(callID, key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.calls[callID]
	if !ok {
		return nil, false
	}
	v, ok := cs.values[key]
	return v, ok
}

// Snapshot copies every value stored for callID. Unknown calls give an
// empty, non-nil map.
func (s *Store) Snapshot(callID string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]interface{})
	if cs, ok := s.calls[callID]; ok {
		for k, v := range cs.values {
			out[k] = v
		}
	}
	return out
}

// Len returns the number of calls holding state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// EvictStale drops the state of calls not written for longer than maxAge and
// returns how many calls were dropped.
func (s *Store) EvictStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	s.mu.Lock()
	cutoff := s.now().Add(-maxAge)
	var evicted []string
	for callID, cs := range s.calls {
		if cs.updatedAt.Before(cutoff) {
			evicted = append(evicted, callID)
			delete(s.calls, callID)
		}
	}
	calls := len(s.calls)
	s.mu.Unlock()

	if len(evicted) > 0 {
		log.Info().
			Strs("callIds", evicted).
			Dur("maxAge", maxAge).
			Msg("Evicted stale call sessions")
		observability.RecordSessionEviction(len(evicted), calls)
	}
	return len(evicted)
}
