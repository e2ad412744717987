// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package gatekeeper

import (
	"sync"

	"github.com/rs/xid"
)

// Sessions contains the live connection sessions known to the gateway, keyed
// on connection id.
type Sessions struct {
	sync.RWMutex
	internal map[string]*Session
}

// NewSessions returns an instance of Sessions for tracking live connections.
func NewSessions() *Sessions {
	return &Sessions{
		internal: map[string]*Session{},
	}
}

// Add adds a new session for a connection id, or returns the existing one.
// If no connection id is provided, one is generated.
func (s *Sessions) Add(id string) *Session {
	s.Lock()
	defer s.Unlock()

	if id == "" {
		id = xid.New().String()
	}

	if existing, ok := s.internal[id]; ok {
		return existing
	}

	session := &Session{ID: id}
	s.internal[id] = session
	return session
}

// Get returns the session for a connection id, if it exists.
func (s *Sessions) Get(id string) (*Session, bool) {
	s.RLock()
	defer s.RUnlock()
	session, ok := s.internal[id]
	return session, ok
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.internal)
}

// Delete removes the session for a connection id.
func (s *Sessions) Delete(id string) {
	s.Lock()
	defer s.Unlock()
	delete(s.internal, id)
}

// Session is the live binding between one transport connection and, once
// authentication has succeeded, an identity. The bound key is the only
// authorization state carried per connection; the identity record itself is
// re-fetched from the store on every authorization call.
type Session struct {
	sync.RWMutex
	ID          string // the connection id assigned by the transport
	identityKey string
	bound       bool
}

// Bind associates the session with a resolved identity key. A session has at
// most one bound identity; rebinding replaces the previous key atomically.
func (s *Session) Bind(key string) {
	s.Lock()
	defer s.Unlock()
	s.identityKey = key
	s.bound = true
}

// Unbind clears the identity binding, returning the session to the
// unauthenticated state.
func (s *Session) Unbind() {
	s.Lock()
	defer s.Unlock()
	s.identityKey = ""
	s.bound = false
}

// IdentityKey returns the currently bound identity key. The second return
// value is false if authentication has not yet succeeded on this session.
func (s *Session) IdentityKey() (string, bool) {
	s.RLock()
	defer s.RUnlock()
	return s.identityKey, s.bound
}
