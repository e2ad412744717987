// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

// Package memory is an in-process credential and audit store, suitable for
// tests and the simplest single-node deployments. Identities can be loaded
// from a JSON or YAML ledger document.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/rs/xid"
	"gopkg.in/yaml.v3"

	"github.com/brokerauth/gatekeeper/store"
)

// Ledger is the document form of the provisioned identities, as loaded from
// a JSON or YAML config source.
type Ledger struct {
	Identities []store.Identity `json:"identities" yaml:"identities"`
}

// Unmarshal decodes a JSON or YAML ledger document into the struct.
func (l *Ledger) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if data[0] == '{' {
		return json.Unmarshal(data, l)
	}

	return yaml.Unmarshal(data, l)
}

// Options contains configuration settings for the memory store instance.
type Options struct {
	Data       []byte           `yaml:"-" json:"-"`
	Identities []store.Identity `yaml:"identities" json:"identities"`
}

// entry wraps one identity record with a mutex guarding read-modify-write
// access, since concurrent publishes from the same identity race to append
// to its topic history.
type entry struct {
	sync.Mutex
	identity store.Identity
}

// Store is an in-memory credential and audit store.
type Store struct {
	sync.RWMutex
	identities map[string]*entry // identity records keyed on identity key
	usernames  map[string]string // index of identity key by username
	audit      []store.AuditRecord
}

// New returns a new memory store, provisioned with any identities supplied
// in the options directly or as a ledger document.
func New(opts *Options) (*Store, error) {
	if opts == nil {
		opts = new(Options)
	}

	s := &Store{
		identities: map[string]*entry{},
		usernames:  map[string]string{},
		audit:      []store.AuditRecord{},
	}

	identities := opts.Identities
	if len(opts.Data) > 0 {
		l := new(Ledger)
		if err := l.Unmarshal(opts.Data); err != nil {
			return nil, fmt.Errorf("failed unmarshaling ledger: %w", err)
		}
		identities = append(identities, l.Identities...)
	}

	for _, d := range identities {
		if err := s.UpsertIdentity(context.Background(), d); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Identity returns the identity record for a stable identity key. The
// returned value is a detached deep copy; mutating it has no effect on the
// stored record.
func (s *Store) Identity(ctx context.Context, key string) (store.Identity, error) {
	if err := ctx.Err(); err != nil {
		return store.Identity{}, err
	}

	s.RLock()
	e, ok := s.identities[key]
	s.RUnlock()
	if !ok {
		return store.Identity{}, store.ErrNotFound
	}

	e.Lock()
	defer e.Unlock()
	return detach(e.identity)
}

// IdentityByUsername returns the identity record for a login name.
func (s *Store) IdentityByUsername(ctx context.Context, username string) (store.Identity, error) {
	s.RLock()
	key, ok := s.usernames[username]
	s.RUnlock()
	if !ok {
		return store.Identity{}, store.ErrNotFound
	}

	return s.Identity(ctx, key)
}

// UpsertIdentity creates or replaces an identity record.
func (s *Store) UpsertIdentity(ctx context.Context, d store.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d.Key == "" {
		return fmt.Errorf("identity requires a key")
	}
	d.T = store.IdentityKey

	s.Lock()
	defer s.Unlock()

	if e, ok := s.identities[d.Key]; ok {
		e.Lock()
		delete(s.usernames, e.identity.Username)
		e.identity = d
		e.Unlock()
	} else {
		s.identities[d.Key] = &entry{identity: d}
	}
	s.usernames[d.Username] = d.Key

	return nil
}

// AppendHistory appends a topic to an identity's publish history. Appends
// for the same identity are serialized on the entry's mutex.
func (s *Store) AppendHistory(ctx context.Context, key string, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.RLock()
	e, ok := s.identities[key]
	s.RUnlock()
	if !ok {
		return store.ErrNotFound
	}

	e.Lock()
	e.identity.History = append(e.identity.History, topic)
	e.Unlock()
	return nil
}

// AppendAudit appends an audit record. An id and data type are assigned if
// absent.
func (s *Store) AppendAudit(ctx context.Context, r store.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.ID == "" {
		r.ID = xid.New().String()
	}
	r.T = store.AuditKey

	s.Lock()
	defer s.Unlock()
	s.audit = append(s.audit, r)
	return nil
}

// AuditRecords returns a copy of all audit records in append order.
func (s *Store) AuditRecords(ctx context.Context) ([]store.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.RLock()
	defer s.RUnlock()

	v := make([]store.AuditRecord, len(s.audit))
	copy(v, s.audit)
	return v, nil
}

// Close releases the store. It exists to satisfy store.Store.
func (s *Store) Close() error {
	return nil
}

// detach returns a deep copy of an identity so callers cannot reach the
// store's shared slices.
func detach(d store.Identity) (store.Identity, error) {
	var out store.Identity
	err := copier.CopyWithOption(&out, &d, copier.Option{DeepCopy: true})
	if err != nil {
		return store.Identity{}, err
	}
	return out, nil
}
