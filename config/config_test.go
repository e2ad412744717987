// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brokerauth/gatekeeper/store"
)

const yamlConfig = `
options:
  lookup: connection-key
  sensitive_topic: door/log
  store_timeout: 2
store:
  memory:
    identities:
      - key: owner-1
        username: demo
        secret: demo123
        topics:
          - sensors/temp
hooks:
  debug:
    show_payloads: true
`

const jsonConfig = `{
  "options": {
    "lookup": "username"
  },
  "store": {
    "memory": {
      "identities": [
        {"key": "owner-1", "username": "demo", "secret": "demo123", "topics": []}
      ]
    }
  }
}`

func TestFromBytesYaml(t *testing.T) {
	o, err := FromBytes([]byte(yamlConfig))
	require.NoError(t, err)
	require.NotNil(t, o)
	require.Equal(t, store.LookupConnectionKey, o.Lookup)
	require.Equal(t, "door/log", o.SensitiveTopic)
	require.Equal(t, int64(2), o.StoreTimeout)
	require.Len(t, o.Hooks, 1)
	require.NotNil(t, o.Store)

	d, err := o.Store.Identity(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, "demo", d.Username)
}

func TestFromBytesJson(t *testing.T) {
	o, err := FromBytes([]byte(jsonConfig))
	require.NoError(t, err)
	require.NotNil(t, o)
	require.Equal(t, store.LookupUsername, o.Lookup)
	require.Empty(t, o.Hooks)

	d, err := o.Store.IdentityByUsername(context.Background(), "demo")
	require.NoError(t, err)
	require.Equal(t, "owner-1", d.Key)
}

func TestFromBytesEmpty(t *testing.T) {
	o, err := FromBytes(nil)
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestFromBytesBadYaml(t *testing.T) {
	_, err := FromBytes([]byte("  broken: [yaml"))
	require.Error(t, err)
}

func TestFromBytesBadJson(t *testing.T) {
	_, err := FromBytes([]byte("{broken json"))
	require.Error(t, err)
}

func TestFromBytesDefaultStore(t *testing.T) {
	o, err := FromBytes([]byte("options:\n  lookup: username\n"))
	require.NoError(t, err)
	require.NotNil(t, o.Store)

	_, err = o.Store.Identity(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}
