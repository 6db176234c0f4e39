package service

import (
	"sync"
	"sync/atomic"

	"github.com/Wyydra/parley/internal/core/domain"
)

// CallSession is the per-call state shared by the call collaborators.
type CallSession struct {
	MyLanguage string
	Voice      string
	Log        *domain.ConversationLog

	mu           sync.RWMutex
	role         domain.Role
	callID       domain.CallID
	peerLanguage string

	started   atomic.Bool
	recording atomic.Bool
}

func NewCallSession(myLanguage, voice string) *CallSession {
	return &CallSession{
		MyLanguage: myLanguage,
		Voice:      voice,
		Log:        domain.NewConversationLog(),
	}
}

func (s *CallSession) bind(role domain.Role, id domain.CallID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
	s.callID = id
}

func (s *CallSession) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *CallSession) CallID() domain.CallID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callID
}

func (s *CallSession) PeerLanguage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerLanguage
}

func (s *CallSession) SetPeerLanguage(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerLanguage = lang
}

// TryStart flips the started guard. Only the first caller gets true.
func (s *CallSession) TryStart() bool {
	return s.started.CompareAndSwap(false, true)
}

func (s *CallSession) Started() bool {
	return s.started.Load()
}

func (s *CallSession) SetRecording(active bool) {
	s.recording.Store(active)
}

func (s *CallSession) Recording() bool {
	return s.recording.Load()
}

// Reset drops everything learned about the call.
func (s *CallSession) Reset() {
	s.mu.Lock()
	s.role = ""
	s.callID = ""
	s.peerLanguage = ""
	s.mu.Unlock()

	s.started.Store(false)
	s.recording.Store(false)
	s.Log.Reset()
}
