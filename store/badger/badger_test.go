// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brokerauth/gatekeeper/store"
)

func newStore(t *testing.T) *Store {
	s, err := New(&Options{
		Path: filepath.Join(t.TempDir(), "test.badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seed(t *testing.T, s *Store) {
	err := s.UpsertIdentity(context.Background(), store.Identity{
		Key:          "owner-1",
		Username:     "demo",
		Secret:       "demo123",
		AuditSubject: "Front Door",
		Topics:       []string{"sensors/temp", "door/log"},
	})
	require.NoError(t, err)
}

func TestNewDefaults(t *testing.T) {
	s := newStore(t)
	require.NotNil(t, s.db)
	require.Equal(t, float64(defaultGcDiscardRatio), s.config.GcDiscardRatio)
	require.Equal(t, int64(defaultGcInterval), s.config.GcInterval)
}

func TestIdentityRoundTrip(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	d, err := s.Identity(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, "demo", d.Username)
	require.True(t, d.PermitsTopic("sensors/temp"))

	_, err = s.Identity(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestIdentityByUsername(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	d, err := s.IdentityByUsername(context.Background(), "demo")
	require.NoError(t, err)
	require.Equal(t, "owner-1", d.Key)

	_, err = s.IdentityByUsername(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAppendHistory(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	require.NoError(t, s.AppendHistory(context.Background(), "owner-1", "sensors/temp"))
	require.NoError(t, s.AppendHistory(context.Background(), "owner-1", "door/log"))
	require.ErrorIs(t, s.AppendHistory(context.Background(), "ghost", "a"), store.ErrNotFound)

	d, err := s.Identity(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, []string{"sensors/temp", "door/log"}, d.History)
}

func TestAuditRecords(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.AppendAudit(context.Background(), store.AuditRecord{
		Kind:    store.KindDoorOpen,
		Subject: "Front Door",
		Topic:   "door/log",
		Payload: "Key A",
	}))
	require.NoError(t, s.AppendAudit(context.Background(), store.AuditRecord{
		Kind:  store.KindMessage,
		Topic: "door/log",
	}))

	records, err := s.AuditRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, store.KindDoorOpen, records[0].Kind)
	require.Equal(t, store.KindMessage, records[1].Kind)
}

func TestClosedStore(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())

	_, err := s.Identity(context.Background(), "owner-1")
	require.ErrorIs(t, err, store.ErrDBFileNotOpen)
	require.NoError(t, s.Close())
}
