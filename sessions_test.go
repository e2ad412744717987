// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package gatekeeper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionsAdd(t *testing.T) {
	s := NewSessions()

	session := s.Add("cl1")
	require.NotNil(t, session)
	require.Equal(t, "cl1", session.ID)
	require.Equal(t, 1, s.Len())

	// Re-adding the same connection returns the existing session.
	again := s.Add("cl1")
	require.Same(t, session, again)
	require.Equal(t, 1, s.Len())
}

func TestSessionsAddGeneratesID(t *testing.T) {
	s := NewSessions()
	session := s.Add("")
	require.NotEmpty(t, session.ID)
}

func TestSessionsGetDelete(t *testing.T) {
	s := NewSessions()
	s.Add("cl1")

	session, ok := s.Get("cl1")
	require.True(t, ok)
	require.Equal(t, "cl1", session.ID)

	s.Delete("cl1")
	_, ok = s.Get("cl1")
	require.False(t, ok)
	require.Equal(t, 0, s.Len())
}

func TestSessionBindUnbind(t *testing.T) {
	session := &Session{ID: "cl1"}

	_, bound := session.IdentityKey()
	require.False(t, bound)

	session.Bind("owner-1")
	key, bound := session.IdentityKey()
	require.True(t, bound)
	require.Equal(t, "owner-1", key)

	// Rebinding replaces the previous identity.
	session.Bind("owner-2")
	key, bound = session.IdentityKey()
	require.True(t, bound)
	require.Equal(t, "owner-2", key)

	session.Unbind()
	key, bound = session.IdentityKey()
	require.False(t, bound)
	require.Empty(t, key)
}
