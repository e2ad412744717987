// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brokerauth/gatekeeper/store"
)

const ledgerYaml = `
identities:
  - key: owner-1
    username: demo
    secret: demo123
    audit_subject: Front Door
    topics:
      - sensors/temp
      - door/log
  - key: owner-2
    username: second
    secret: second123
    topics: []
`

const ledgerJson = `{
  "identities": [
    {"key": "owner-1", "username": "demo", "secret": "demo123", "topics": ["sensors/temp"]}
  ]
}`

func TestNewFromYamlLedger(t *testing.T) {
	s, err := New(&Options{Data: []byte(ledgerYaml)})
	require.NoError(t, err)

	d, err := s.IdentityByUsername(context.Background(), "demo")
	require.NoError(t, err)
	require.Equal(t, "owner-1", d.Key)
	require.Equal(t, "Front Door", d.AuditSubject)
	require.True(t, d.PermitsTopic("door/log"))

	d, err = s.Identity(context.Background(), "owner-2")
	require.NoError(t, err)
	require.Equal(t, "second", d.Username)
	require.Empty(t, d.Topics)
}

func TestNewFromJsonLedger(t *testing.T) {
	s, err := New(&Options{Data: []byte(ledgerJson)})
	require.NoError(t, err)

	d, err := s.Identity(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, "demo", d.Username)
}

func TestNewBadLedger(t *testing.T) {
	_, err := New(&Options{Data: []byte("{not json")})
	require.Error(t, err)
}

func TestIdentityNotFound(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	_, err = s.Identity(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.IdentityByUsername(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestIdentityReturnsDetachedCopy(t *testing.T) {
	s, err := New(&Options{Data: []byte(ledgerYaml)})
	require.NoError(t, err)

	d, err := s.Identity(context.Background(), "owner-1")
	require.NoError(t, err)
	d.Topics[0] = "hijacked/topic"

	again, err := s.Identity(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, "sensors/temp", again.Topics[0])
}

func TestUpsertIdentity(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	err = s.UpsertIdentity(context.Background(), store.Identity{
		Key:      "owner-1",
		Username: "demo",
		Secret:   "demo123",
		Topics:   []string{"a/b"},
	})
	require.NoError(t, err)

	// Replacing the record also rewrites the username index.
	err = s.UpsertIdentity(context.Background(), store.Identity{
		Key:      "owner-1",
		Username: "renamed",
		Secret:   "demo123",
	})
	require.NoError(t, err)

	_, err = s.IdentityByUsername(context.Background(), "demo")
	require.ErrorIs(t, err, store.ErrNotFound)

	d, err := s.IdentityByUsername(context.Background(), "renamed")
	require.NoError(t, err)
	require.Equal(t, "owner-1", d.Key)
}

func TestUpsertIdentityRequiresKey(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)
	require.Error(t, s.UpsertIdentity(context.Background(), store.Identity{Username: "demo"}))
}

func TestAppendHistory(t *testing.T) {
	s, err := New(&Options{Data: []byte(ledgerYaml)})
	require.NoError(t, err)

	require.NoError(t, s.AppendHistory(context.Background(), "owner-1", "sensors/temp"))
	require.NoError(t, s.AppendHistory(context.Background(), "owner-1", "door/log"))
	require.ErrorIs(t, s.AppendHistory(context.Background(), "ghost", "sensors/temp"), store.ErrNotFound)

	d, err := s.Identity(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, []string{"sensors/temp", "door/log"}, d.History)
}

func TestAppendHistoryConcurrent(t *testing.T) {
	s, err := New(&Options{Data: []byte(ledgerYaml)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.AppendHistory(context.Background(), "owner-1", "sensors/temp"))
		}()
	}
	wg.Wait()

	d, err := s.Identity(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, d.History, 50)
}

func TestAppendAudit(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, s.AppendAudit(context.Background(), store.AuditRecord{
		Kind:  store.KindDoorOpen,
		Topic: "door/log",
	}))
	require.NoError(t, s.AppendAudit(context.Background(), store.AuditRecord{
		Kind:  store.KindMessage,
		Topic: "door/log",
	}))

	records, err := s.AuditRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, store.KindDoorOpen, records[0].Kind)
	require.NotEmpty(t, records[0].ID)
	require.Equal(t, store.AuditKey, records[0].T)
}

func TestCancelledContext(t *testing.T) {
	s, err := New(&Options{Data: []byte(ledgerYaml)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Identity(ctx, "owner-1")
	require.Error(t, err)
	require.Error(t, s.AppendHistory(ctx, "owner-1", "a"))
	require.Error(t, s.AppendAudit(ctx, store.AuditRecord{}))
}

func TestCloseMemory(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
