package app

import (
	"sync"

	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session domain.Session
	Timer   clockwork.Timer
}

// Store keeps per-owner sessions and the reverse index by external id.
// Both maps are always mutated under the same lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[domain.OwnerID]*sessionEntry
	byExt    map[domain.ExternalSessionID]domain.OwnerID

	// pending holds a token per owner while its room is being provisioned.
	pending   map[domain.OwnerID]uint64
	nextToken uint64
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[domain.OwnerID]*sessionEntry),
		byExt:    make(map[domain.ExternalSessionID]domain.OwnerID),
		pending:  make(map[domain.OwnerID]uint64),
	}
}

// BeginPending marks a provisioning call in flight for owner.
func (s *Store) BeginPending(owner domain.OwnerID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToken++
	s.pending[owner] = s.nextToken
	return s.nextToken
}

// CancelPending makes a later Commit for owner fail.
func (s *Store) CancelPending(owner domain.OwnerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, owner)
}

// AbortPending drops the token after a failed provisioning call.
func (s *Store) AbortPending(owner domain.OwnerID, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[owner] == token {
		delete(s.pending, owner)
	}
}

// Commit inserts sess only if the pending token is still current, so a
// session ended mid-provisioning is never resurrected. It is the only way
// in; a replaced entry is returned so the caller can stop its timer.
func (s *Store) Commit(sess domain.Session, timer clockwork.Timer, token uint64) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[sess.OwnerID] != token {
		return nil, false
	}
	delete(s.pending, sess.OwnerID)
	prev := s.sessions[sess.OwnerID]
	if prev != nil {
		delete(s.byExt, prev.Session.ExternalSessionID)
	}
	s.sessions[sess.OwnerID] = &sessionEntry{Session: sess, Timer: timer}
	s.byExt[sess.ExternalSessionID] = sess.OwnerID
	log.Info().Str("module", "app.store").Str("owner", string(sess.OwnerID)).Str("session_id", string(sess.ExternalSessionID)).Msg("session stored")
	return prev, true
}

func (s *Store) Get(owner domain.OwnerID) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.sessions[owner]; ok {
		return e.Session, true
	}
	return domain.Session{}, false
}

// Remove deletes the owner's session and its reverse index entry.
func (s *Store) Remove(owner domain.OwnerID) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[owner]
	if !ok {
		return nil, false
	}
	delete(s.sessions, owner)
	delete(s.byExt, e.Session.ExternalSessionID)
	log.Info().Str("module", "app.store").Str("owner", string(owner)).Msg("session removed")
	return e, true
}

// RemoveIf removes the owner's session only if it is still the given one.
// Expiry timers use it so a late timer never kills a replacement session.
func (s *Store) RemoveIf(owner domain.OwnerID, sid domain.ExternalSessionID) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[owner]
	if !ok || e.Session.ExternalSessionID != sid {
		return nil, false
	}
	delete(s.sessions, owner)
	delete(s.byExt, sid)
	log.Info().Str("module", "app.store").Str("owner", string(owner)).Msg("session removed")
	return e, true
}

func (s *Store) OwnerOf(sid domain.ExternalSessionID) (domain.OwnerID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byExt[sid]
	return o, ok
}

func (s *Store) SetMuted(owner domain.OwnerID, muted bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[owner]
	if !ok {
		return false
	}
	e.Session.Muted = muted
	log.Info().Str("module", "app.store").Str("owner", string(owner)).Bool("muted", muted).Msg("updated mute")
	return true
}

func (s *Store) IsMuted(owner domain.OwnerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.sessions[owner]; ok {
		return e.Session.Muted
	}
	return false
}

// CancelAllPending makes every in-flight provisioning call discard its result
// and returns the owners that had one.
func (s *Store) CancelAllPending() []domain.OwnerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OwnerID, 0, len(s.pending))
	for o := range s.pending {
		out = append(out, o)
	}
	clear(s.pending)
	return out
}

func (s *Store) Owners() []domain.OwnerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OwnerID, 0, len(s.sessions))
	for o := range s.sessions {
		out = append(out, o)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
