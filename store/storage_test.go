// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityPermitsTopic(t *testing.T) {
	d := Identity{
		Topics: []string{"sensors/temp", "door/log"},
	}

	require.True(t, d.PermitsTopic("sensors/temp"))
	require.True(t, d.PermitsTopic("door/log"))
	require.False(t, d.PermitsTopic("sensors/humidity"))
	require.False(t, d.PermitsTopic(""))
}

func TestIdentityPermitsTopicNoWildcards(t *testing.T) {
	// Permission entries are literal strings; wildcard characters match
	// only themselves.
	d := Identity{
		Topics: []string{"sensors/#", "sensors/+/reading"},
	}

	require.True(t, d.PermitsTopic("sensors/#"))
	require.False(t, d.PermitsTopic("sensors/temp"))
	require.True(t, d.PermitsTopic("sensors/+/reading"))
	require.False(t, d.PermitsTopic("sensors/temp/reading"))
}

func TestIdentityPermitsTopicEmptySet(t *testing.T) {
	require.False(t, Identity{}.PermitsTopic("sensors/temp"))
	require.False(t, Identity{Topics: []string{}}.PermitsTopic("sensors/temp"))
}

func TestIdentityMarshalBinary(t *testing.T) {
	d := Identity{
		Key:          "owner-1",
		Username:     "demo",
		Secret:       "demo123",
		AuditSubject: "Front Door",
		Topics:       []string{"sensors/temp"},
		History:      []string{"sensors/temp"},
	}

	data, err := d.MarshalBinary()
	require.NoError(t, err)

	d2 := Identity{}
	require.NoError(t, d2.UnmarshalBinary(data))
	require.Equal(t, d, d2)

	require.NoError(t, d2.UnmarshalBinary(nil)) // ignore empty bytes
}

func TestAuditRecordMarshalBinary(t *testing.T) {
	r := AuditRecord{
		ID:      "rec1",
		Kind:    KindDoorOpen,
		Subject: "Front Door",
		Topic:   "door/log",
		Payload: "Key A",
		Created: 100,
	}

	data, err := r.MarshalBinary()
	require.NoError(t, err)

	r2 := AuditRecord{}
	require.NoError(t, r2.UnmarshalBinary(data))
	require.Equal(t, r, r2)
}
